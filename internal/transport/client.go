package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

// Client connects out to a websocket endpoint that pushes envelopes, and
// reconnects with backoff whenever the connection drops.
type Client struct {
	reader
	url     string
	backoff Backoff
}

// NewClient returns a client for url submitting decoded frames to sink.
func NewClient(url string, sink pipeline.Sink, defaults Defaults, log zerolog.Logger) *Client {
	return &Client{
		reader: reader{
			sink:     sink,
			defaults: defaults,
			log:      log.With().Str("component", "transport").Str("url", url).Logger(),
		},
		url: url,
		backoff: Backoff{
			Min:    DefaultMinBackoff,
			Max:    DefaultMaxBackoff,
			Jitter: rand.Int64N,
		},
	}
}

// SetBackoff replaces the reconnect policy.
func (c *Client) SetBackoff(b Backoff) { c.backoff = b }

// Run keeps a connection open until ctx ends or the sink closes.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		connected, err := c.once(ctx)
		if ctx.Err() != nil || errors.Is(err, pipeline.ErrClosed) {
			return nil
		}
		if connected {
			attempt = 0
		}
		wait := c.backoff.Delay(attempt)
		attempt++
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("connection lost")

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

func (c *Client) once(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	log := c.log.With().Str("conn", uuid.NewString()).Logger()
	log.Info().Msg("connected")
	if err := c.consume(ctx, conn, log); err != nil {
		return true, err
	}
	return true, errors.New("closed by peer")
}
