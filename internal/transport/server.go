package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

// Server accepts websocket connections and feeds their frames to a sink.
// Each connection is an independent source.
type Server struct {
	reader

	// OriginPatterns are passed to websocket.Accept. Empty means same
	// origin only, which still admits non-browser clients.
	OriginPatterns []string
}

// NewServer returns a handler submitting decoded frames to sink.
func NewServer(sink pipeline.Sink, defaults Defaults, log zerolog.Logger) *Server {
	return &Server{reader: reader{
		sink:     sink,
		defaults: defaults,
		log:      log.With().Str("component", "transport").Logger(),
	}}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.OriginPatterns})
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	log := s.log.With().Str("conn", uuid.NewString()).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("source connected")

	err = s.consume(r.Context(), conn, log)
	switch {
	case err == nil:
		log.Info().Msg("source disconnected")
	case errors.Is(err, context.Canceled), errors.Is(err, pipeline.ErrClosed):
		log.Debug().Err(err).Msg("source closed on shutdown")
	default:
		log.Warn().Err(err).Msg("source failed")
	}
}

// ListenAndServe serves s on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves s on ln until ctx ends. Open connections see ctx cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
