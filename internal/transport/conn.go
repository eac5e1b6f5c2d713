package transport

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

// ReadLimit bounds the size of a single frame.
const ReadLimit = 1 << 20

// reader pumps decoded frames from one connection into a sink.
type reader struct {
	sink     pipeline.Sink
	defaults Defaults
	log      zerolog.Logger
}

// consume reads until the connection closes or the sink refuses a command.
// A normal close by the peer is reported as nil.
func (r *reader) consume(ctx context.Context, conn *websocket.Conn, log zerolog.Logger) error {
	conn.SetReadLimit(ReadLimit)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			log.Debug().Int("bytes", len(data)).Msg("ignoring binary frame")
			continue
		}
		cmd, err := Decode(data, r.defaults)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("frame rejected")
			continue
		}
		if err := r.sink.Submit(ctx, cmd); err != nil {
			if errors.Is(err, pipeline.ErrClosed) {
				conn.Close(websocket.StatusGoingAway, "shutting down")
			}
			return err
		}
	}
}

// Send dials url and writes each command as one frame, then closes the
// connection normally.
func Send(ctx context.Context, url string, cmds ...pipeline.Command) error {
	frames := make([][]byte, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := Encode(cmd)
		if err != nil {
			return err
		}
		frames = append(frames, data)
	}
	return SendFrames(ctx, url, frames...)
}

// SendFrames is Send for envelopes that are already encoded.
func SendFrames(ctx context.Context, url string, frames ...[]byte) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	for _, data := range frames {
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return err
		}
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

// Backoff computes reconnect delays: doubling from Min up to Max, with up
// to half of each delay randomised.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	// Jitter returns a value in [0, n). Nil disables jitter.
	Jitter func(n int64) int64
}

const (
	DefaultMinBackoff = 250 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

// Delay returns the wait before reconnect attempt n, counting from 0.
func (b Backoff) Delay(n int) time.Duration {
	lo, hi := b.Min, b.Max
	if lo <= 0 {
		lo = DefaultMinBackoff
	}
	if hi <= 0 {
		hi = DefaultMaxBackoff
	}
	hi = max(hi, lo)
	d := lo
	for i := 0; i < n && d < hi; i++ {
		d *= 2
	}
	d = min(d, hi)
	if b.Jitter != nil && d > 1 {
		half := int64(d / 2)
		d = time.Duration(half + b.Jitter(half))
	}
	return d
}
