// Package tabular turns engine stdout into rows of typed cells.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var ErrParseFailed = errors.New("failed to parse engine output")

// Parse splits text into rows. The delimiter is a tab when the first line
// holds one, a comma otherwise. Cells are typed dynamically: integers,
// floats and booleans become numbers and bools, empty cells become nil and
// everything else stays a string. Blank lines are skipped.
func Parse(text string) ([][]any, error) {
	rows := [][]any{}
	if strings.TrimSpace(text) == "" {
		return rows, nil
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = detectDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = Cell(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func detectDelimiter(text string) rune {
	first := text
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		first = text[:i]
	}
	if strings.ContainsRune(first, '\t') {
		return '\t'
	}
	return ','
}

// Cell applies dynamic typing to one field.
func Cell(s string) any {
	switch s {
	case "":
		return nil
	case "true", "TRUE", "True":
		return true
	case "false", "FALSE", "False":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !strings.ContainsAny(s, "xXnN") {
		return f
	}
	return s
}
