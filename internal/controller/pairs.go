package controller

import (
	"sort"
	"strings"
	"unicode"

	"github.com/AnishMulay/sandsampler/internal/communication"
)

var fastqPairPatterns = []struct{ r1, r2 string }{
	{"R1", "R2"},
	{"_1", "_2"},
}

// PairFastq groups paired-end reads after a natural sort of the names:
// a_R1.fq is paired with a_R2.fq, a_1.fq with a_2.fq. Everything else is a
// group of one.
func PairFastq(files []communication.FileRef) [][]communication.FileRef {
	sorted := append([]communication.FileRef(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return NaturalLess(sorted[i].Name, sorted[j].Name)
	})

	var groups [][]communication.FileRef
	for i := 0; i < len(sorted); i++ {
		f := sorted[i]
		if i+1 < len(sorted) && isMate(f.Name, sorted[i+1].Name) {
			groups = append(groups, []communication.FileRef{f, sorted[i+1]})
			i++
			continue
		}
		groups = append(groups, []communication.FileRef{f})
	}
	return groups
}

func isMate(first, second string) bool {
	for _, p := range fastqPairPatterns {
		if strings.Contains(first, p.r1) && strings.Replace(first, p.r1, p.r2, 1) == second {
			return true
		}
	}
	return false
}

// NaturalLess compares case-insensitively with digit runs ordered by value.
func NaturalLess(a, b string) bool {
	ar, br := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if unicode.IsDigit(ar[i]) && unicode.IsDigit(br[j]) {
			si := i
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			sj := j
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na := strings.TrimLeft(string(ar[si:i]), "0")
			nb := strings.TrimLeft(string(br[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}

		ca, cb := unicode.ToLower(ar[i]), unicode.ToLower(br[j])
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(ar)-i < len(br)-j
}
