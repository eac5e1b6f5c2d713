package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/nadir_viewer/internal/transport"
)

type sendOptions struct {
	timeout time.Duration
}

func newSendCommand() *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send <url> [envelope...]",
		Short: "Send envelopes to a listening viewer",
		Long: `Send envelopes to a viewer started with --listen.

Each envelope is one JSON document. With no envelope arguments, envelopes
are read from stdin, one per line. Every envelope is checked before anything
is sent.

Example:
  nadir send ws://localhost:6969 '{"PutGroup": {"meta": {"id": "ci", "title": "CI"}}}'
  nadir send ws://localhost:6969 < events.jsonl`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			envelopes := args[1:]
			if len(envelopes) == 0 {
				var err error
				if envelopes, err = readEnvelopes(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			if err := sendEnvelopes(ctx, args[0], envelopes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d envelope(s)\n", len(envelopes))
			return nil
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}

// readEnvelopes returns the non-blank lines of r.
func readEnvelopes(r io.Reader) ([]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), transport.ReadLimit)
	var out []string
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read envelopes: %w", err)
	}
	return out, nil
}

// sendEnvelopes validates every envelope, then sends them unchanged so the
// viewer applies its own capacity defaults.
func sendEnvelopes(ctx context.Context, url string, envelopes []string) error {
	if len(envelopes) == 0 {
		return fmt.Errorf("no envelopes to send")
	}
	frames := make([][]byte, len(envelopes))
	for i, e := range envelopes {
		if _, err := transport.Decode([]byte(e), transport.Defaults{}); err != nil {
			return fmt.Errorf("envelope %d: %w", i+1, err)
		}
		frames[i] = []byte(e)
	}
	if err := transport.SendFrames(ctx, url, frames...); err != nil {
		return fmt.Errorf("send to %s: %w", url, err)
	}
	return nil
}
