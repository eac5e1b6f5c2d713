package pipeline

import (
	"context"
	"errors"
	"io"
)

// Source produces decoded commands. Next returns io.EOF once the source is
// closed; any other error means the source failed.
type Source interface {
	Next(ctx context.Context) (Command, error)
}

// Sink accepts commands. *Pipeline is a Sink.
type Sink interface {
	Submit(ctx context.Context, cmd Command) error
}

// Pump forwards commands from src to sink until src is exhausted, fails, or
// ctx ends. A closed source is not an error.
func Pump(ctx context.Context, src Source, sink Sink) error {
	for {
		cmd, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := sink.Submit(ctx, cmd); err != nil {
			return err
		}
	}
}

// ChanSource adapts a channel to a Source. Closing the channel closes the
// source.
type ChanSource <-chan Command

func (c ChanSource) Next(ctx context.Context) (Command, error) {
	select {
	case cmd, ok := <-c:
		if !ok {
			return nil, io.EOF
		}
		return cmd, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
