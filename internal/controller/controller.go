// Package controller drives a worker through the bridge: it mounts reads,
// samples windows from them and runs the engine on each window.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/AnishMulay/sandsampler/internal/boundary"
	"github.com/AnishMulay/sandsampler/internal/bridge"
	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/log_service"
)

const DefaultMaxSamples = 20

type Options struct {
	// Command is the entry point and literal flags; the window is appended
	// as a chunk argument.
	Command    []string
	Predicate  string
	MaxSamples int
}

func (o Options) withDefaults() Options {
	if o.Predicate == "" {
		o.Predicate = boundary.FASTQ
	}
	if o.MaxSamples <= 0 {
		o.MaxSamples = DefaultMaxSamples
	}
	return o
}

type WindowResult struct {
	Start int64   `json:"start"`
	End   int64   `json:"end"`
	Rows  [][]any `json:"rows,omitempty"`
	Error string  `json:"error,omitempty"`
}

type Report struct {
	File      string         `json:"file"`
	Windows   []WindowResult `json:"windows"`
	Samples   int            `json:"samples"`
	Unaligned int            `json:"unaligned"`
	Done      bool           `json:"done"`
	Coverage  float64        `json:"coverage"`
}

type Controller struct {
	b  *bridge.Bridge
	ls log_service.LogService
}

func New(b *bridge.Bridge, ls log_service.LogService) *Controller {
	return &Controller{b: b, ls: ls}
}

// QC pairs the files, mounts each group in one slot and samples every file.
// With the FASTQ predicate every name must carry a FASTQ suffix; gzip files
// are sampled as growing prefixes by the worker.
func (c *Controller) QC(ctx context.Context, files []communication.FileRef, opts Options) ([]Report, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	opts = opts.withDefaults()
	if opts.Predicate == boundary.FASTQ {
		for _, f := range files {
			if !boundary.IsFASTQName(f.Name) {
				return nil, fmt.Errorf("%w: <%s>", ErrNotFASTQ, f.Name)
			}
		}
	}

	var reports []Report
	for _, group := range PairFastq(files) {
		if _, err := c.b.Mount(ctx, communication.MountConfig{Files: group}); err != nil {
			return reports, err
		}
		for _, f := range group {
			r, err := c.SampleAndRun(ctx, f.Name, opts)
			reports = append(reports, r)
			if err != nil {
				return reports, err
			}
		}
	}
	return reports, nil
}

// SampleAndRun samples an already mounted file until its sampler is done or
// MaxSamples windows were requested. Windows without a record boundary and
// failed engine runs are logged and skipped; transport failures abort.
func (c *Controller) SampleAndRun(ctx context.Context, name string, opts Options) (Report, error) {
	opts = opts.withDefaults()
	if len(opts.Command) == 0 || opts.Command[0] == "" {
		return Report{}, ErrNoCommand
	}

	report := Report{File: name}
	for report.Samples < opts.MaxSamples {
		report.Samples++

		win, err := c.b.Sample(ctx, name, opts.Predicate)
		if err != nil {
			if bridge.IsCode(err, communication.CodeNoBoundary) {
				report.Unaligned++
				c.ls.Warn(log_service.LogEvent{
					Message:  "Window without record boundary",
					Metadata: map[string]any{"file": name, "error": err.Error()},
				})
				continue
			}
			return report, err
		}

		report.Coverage = win.Coverage
		if win.Done {
			report.Done = true
			break
		}
		if win.End <= win.Start {
			continue
		}

		result := WindowResult{Start: win.Start, End: win.End}
		rows, err := c.b.Exec(ctx, execArgs(opts.Command, name, win)...)
		if err != nil {
			if !isRemote(err) {
				return report, err
			}
			c.ls.Warn(log_service.LogEvent{
				Message:  "Engine run failed on window",
				Metadata: map[string]any{"file": name, "start": win.Start, "end": win.End, "error": err.Error()},
			})
			result.Error = err.Error()
		}
		result.Rows = rows
		report.Windows = append(report.Windows, result)
	}

	c.ls.Info(log_service.LogEvent{
		Message: "Sampling finished",
		Metadata: map[string]any{
			"file":      name,
			"windows":   len(report.Windows),
			"unaligned": report.Unaligned,
			"done":      report.Done,
			"coverage":  fmt.Sprintf("%.4f", report.Coverage),
		},
	})
	return report, nil
}

func execArgs(command []string, name string, win communication.SampleResult) []communication.ExecArg {
	args := make([]communication.ExecArg, 0, len(command)+1)
	for _, c := range command {
		args = append(args, communication.Literal(c))
	}
	return append(args, communication.FileChunk(name, win.Start, win.End))
}

func isRemote(err error) bool {
	var re *bridge.RemoteError
	return errors.As(err, &re)
}
