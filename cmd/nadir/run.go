package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/daviddao/nadir_viewer/internal/config"
	"github.com/daviddao/nadir_viewer/internal/datasource"
	"github.com/daviddao/nadir_viewer/internal/logging"
	"github.com/daviddao/nadir_viewer/internal/pipeline"
	"github.com/daviddao/nadir_viewer/internal/registry"
	"github.com/daviddao/nadir_viewer/internal/snapshot"
	"github.com/daviddao/nadir_viewer/internal/transport"
)

// task is one long-running producer feeding the pipeline.
type task struct {
	name string
	run  func(ctx context.Context) error
}

func run(ctx context.Context, s config.Settings, headless bool) error {
	logFile := s.Log.File
	if !headless && logFile == "" {
		// The TUI owns the terminal.
		logFile = config.DefaultLogFileName
	}
	log, logCloser, err := logging.New(logging.Options{
		Level:   s.Log.Level,
		File:    logFile,
		Console: headless,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.NewGuard()
	changed := make(chan struct{}, 1)
	opts := s.PipelineOptions()
	opts.OnFlush = func(st pipeline.FlushStats) {
		ev := log.Debug()
		if headless {
			ev = log.Info()
		}
		ev.Int("commands", st.Commands).
			Int("applied", st.Applied).
			Int("dropped", st.Dropped).
			Bool("reordered", st.Reordered).
			Dur("took", st.Took).
			Msg("flush")
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	p := pipeline.New(reg, log, opts)

	tasks, closers, err := openSources(s, p, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if len(tasks) == 0 {
		log.Warn().Msg("no sources configured; use --listen, --connect, --clockmail, --maildir or --demo")
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- p.Run(ctx) }()
	for _, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := t.run(ctx)
			switch {
			case err == nil:
				log.Info().Str("source", t.name).Msg("source closed")
			case errors.Is(err, context.Canceled), errors.Is(err, pipeline.ErrClosed):
			default:
				log.Error().Err(err).Str("source", t.name).Msg("source stopped")
			}
		}()
	}

	if headless {
		log.Info().Int("sources", len(tasks)).Msg("running headless")
		<-ctx.Done()
	} else {
		m := newModel(reg, snapshot.NewBuilder(), s.Refresh)
		prog := tea.NewProgram(m, tea.WithAltScreen())

		// Feed flushes into the TUI.
		go func() {
			for {
				select {
				case <-changed:
					prog.Send(dataChangedMsg{})
				case <-ctx.Done():
					return
				}
			}
		}()

		if _, err := prog.Run(); err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("tui: %w", err)
		}
	}

	cancel()
	wg.Wait()
	if err := <-pipelineDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openSources builds a task for every configured source.
func openSources(s config.Settings, sink pipeline.Sink, log zerolog.Logger) ([]task, []io.Closer, error) {
	var (
		tasks   []task
		closers []io.Closer
	)
	fail := func(err error) ([]task, []io.Closer, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, nil, err
	}
	defaults := transport.Defaults{Capacity: s.Capacity, PinnedCapacity: s.PinnedCapacity}

	if s.Listen != "" {
		srv := transport.NewServer(sink, defaults, log)
		tasks = append(tasks, task{
			name: "listen " + s.Listen,
			run:  func(ctx context.Context) error { return srv.ListenAndServe(ctx, s.Listen) },
		})
	}
	for _, url := range s.Connect {
		c := transport.NewClient(url, sink, defaults, log)
		tasks = append(tasks, task{name: "connect " + url, run: c.Run})
	}
	if s.Clockmail.Enabled {
		cm, err := datasource.NewClockmail(datasource.ClockmailOptions{
			DB:             s.Clockmail.DB,
			EventLimit:     s.Clockmail.EventLimit,
			Capacity:       s.Capacity,
			PinnedCapacity: s.PinnedCapacity,
		}, log)
		if err != nil {
			return fail(fmt.Errorf("clockmail: %w", err))
		}
		closers = append(closers, cm)
		tasks = append(tasks, pumpTask("clockmail", cm, sink))
	}
	if s.Maildir.Path != "" {
		md, err := datasource.NewMaildir(datasource.MaildirOptions{
			Path:           s.Maildir.Path,
			Group:          s.Maildir.Group,
			Title:          s.Maildir.Title,
			Importance:     s.Maildir.Importance,
			Capacity:       s.Capacity,
			PinnedCapacity: s.PinnedCapacity,
		}, log)
		if err != nil {
			return fail(fmt.Errorf("maildir: %w", err))
		}
		closers = append(closers, md)
		tasks = append(tasks, pumpTask("maildir", md, sink))
	}
	if s.Demo.Enabled {
		d := datasource.NewDemo(datasource.DemoOptions{Groups: s.Demo.Groups, Rate: s.Demo.Rate})
		tasks = append(tasks, pumpTask("demo", d, sink))
	}
	return tasks, closers, nil
}

func pumpTask(name string, src pipeline.Source, sink pipeline.Sink) task {
	return task{
		name: name,
		run:  func(ctx context.Context) error { return pipeline.Pump(ctx, src, sink) },
	}
}
