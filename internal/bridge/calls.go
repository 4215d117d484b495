package bridge

import (
	"context"

	"github.com/AnishMulay/sandsampler/internal/communication"
)

func (b *Bridge) do(ctx context.Context, action communication.Action, config any, out any) error {
	f, err := b.Call(ctx, action, config)
	if err != nil {
		return err
	}
	return f.Decode(ctx, out)
}

func (b *Bridge) Init(ctx context.Context, cfg communication.InitConfig) error {
	return b.do(ctx, communication.ActionInit, cfg, nil)
}

func (b *Bridge) Mount(ctx context.Context, cfg communication.MountConfig) (communication.MountResult, error) {
	var res communication.MountResult
	err := b.do(ctx, communication.ActionMount, cfg, &res)
	return res, err
}

// Exec runs the engine and returns its output rows.
func (b *Bridge) Exec(ctx context.Context, args ...communication.ExecArg) ([][]any, error) {
	var rows [][]any
	err := b.do(ctx, communication.ActionExec, communication.ExecArgs(args), &rows)
	return rows, err
}

func (b *Bridge) Sample(ctx context.Context, file string, predicate string) (communication.SampleResult, error) {
	var res communication.SampleResult
	err := b.do(ctx, communication.ActionSample, communication.SampleConfig{
		File:         communication.FileRef{Name: file},
		IsValidChunk: predicate,
	}, &res)
	return res, err
}
