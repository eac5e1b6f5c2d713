// Package config loads the viewer configuration from YAML or JSON.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/daviddao/nadir_viewer/internal/group"
	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

// DefaultPath is read when no config file is named and it exists.
const DefaultPath = "nadir.yaml"

// Defaults for fields the pipeline does not own.
const (
	DefaultRefresh     = time.Second
	DefaultEventLimit  = 200
	DefaultDemoRate    = 5.0
	DefaultDemoGroups  = 3
	DefaultLogLevel    = "info"
	DefaultLogFileName = "nadir.log"
)

// Config mirrors the file. All durations are Go duration strings
// (e.g. "10ms", "1s").
//
// Capacity fields are pointers so that an omitted value takes the default
// while an explicit 0 is rejected.
type Config struct {
	Capacity       *uint32 `json:"capacity,omitempty"`
	PinnedCapacity *uint32 `json:"pinned_capacity,omitempty"`
	HardMax        int     `json:"hard_max,omitempty"`

	BatchWindow string `json:"batch_window,omitempty"`
	MaxBatch    int    `json:"max_batch,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`

	// Listen is a host:port accepting websocket sources.
	Listen string `json:"listen,omitempty"`

	// Connect lists websocket URLs to pull envelopes from.
	Connect []string `json:"connect,omitempty"`

	// Refresh is how often the screen is redrawn without new data, so that
	// relative times stay current.
	Refresh string `json:"refresh,omitempty"`

	Log       LogConfig       `json:"log"`
	Clockmail ClockmailConfig `json:"clockmail"`
	Maildir   MaildirConfig   `json:"maildir"`
	Demo      DemoConfig      `json:"demo"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"`

	// File receives logs while the TUI owns the terminal.
	File string `json:"file,omitempty"`
}

// ClockmailConfig mirrors a clockmail database as groups.
type ClockmailConfig struct {
	Enabled bool `json:"enabled"`

	// DB is the database path. Empty means discover it like clockmail does.
	DB string `json:"db,omitempty"`

	// EventLimit bounds how many events are read per change.
	EventLimit int `json:"event_limit,omitempty"`
}

// MaildirConfig shows the unread mail of a local maildir as one group.
type MaildirConfig struct {
	// Path is the maildir root. Empty disables the source.
	Path string `json:"path,omitempty"`

	Group      string `json:"group,omitempty"`
	Title      string `json:"title,omitempty"`
	Importance int32  `json:"importance,omitempty"`
}

// DemoConfig drives the built-in message generator.
type DemoConfig struct {
	Enabled bool    `json:"enabled"`
	Groups  int     `json:"groups,omitempty"`
	Rate    float64 `json:"rate,omitempty"`
}

// Settings is a validated Config with defaults applied.
type Settings struct {
	Capacity       uint32
	PinnedCapacity uint32
	HardMax        int

	BatchWindow time.Duration
	MaxBatch    int
	QueueSize   int

	Listen  string
	Connect []string
	Refresh time.Duration

	Log       LogConfig
	Clockmail ClockmailConfig
	Maildir   MaildirConfig
	Demo      DemoConfig
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// LoadDefault reads DefaultPath if it exists and returns an empty Config
// otherwise.
func LoadDefault() (*Config, error) {
	cfg, err := Load(DefaultPath)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

// Parse decodes data, choosing YAML or JSON by the extension of path.
// Unknown fields are rejected.
func Parse(path string, data []byte) (*Config, error) {
	format := "json"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = "yaml"
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file.
			return &cfg, nil
		}
		return nil, fmt.Errorf("%s (%s): %w", path, format, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s: trailing data", path)
		}
		return nil, err
	}
	return &cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON. The top level must be a
// mapping; an empty document yields no bytes.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if len(doc) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		// Nested mappings with non-string keys.
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return out, nil
}

// duration reads a non-negative duration field; empty or zero means def.
func duration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", field, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must be >= 0", field)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// Resolve applies defaults and validates the result.
func (c *Config) Resolve() (Settings, error) {
	s := Settings{
		Capacity:       model.DefaultCapacity,
		PinnedCapacity: model.DefaultPinnedCapacity,
		HardMax:        group.DefaultHardMax,
		MaxBatch:       pipeline.DefaultMaxBatch,
		QueueSize:      pipeline.DefaultQueueSize,
		Listen:         c.Listen,
		Connect:        c.Connect,
		Log:            c.Log,
		Clockmail:      c.Clockmail,
		Maildir:        c.Maildir,
		Demo:           c.Demo,
	}

	if c.Capacity != nil {
		if *c.Capacity == 0 {
			return Settings{}, errors.New("capacity: must be > 0")
		}
		s.Capacity = *c.Capacity
	}
	if c.PinnedCapacity != nil {
		if *c.PinnedCapacity == 0 {
			return Settings{}, errors.New("pinned_capacity: must be > 0")
		}
		s.PinnedCapacity = *c.PinnedCapacity
	}
	switch {
	case c.HardMax < 0:
		return Settings{}, errors.New("hard_max: must be >= 1")
	case c.HardMax > 0:
		s.HardMax = c.HardMax
	}
	if c.MaxBatch < 0 {
		return Settings{}, errors.New("max_batch: must be >= 1")
	} else if c.MaxBatch > 0 {
		s.MaxBatch = c.MaxBatch
	}
	if c.QueueSize < 0 {
		return Settings{}, errors.New("queue_size: must be >= 1")
	} else if c.QueueSize > 0 {
		s.QueueSize = c.QueueSize
	}

	var err error
	if s.BatchWindow, err = duration("batch_window", c.BatchWindow, pipeline.DefaultWindow); err != nil {
		return Settings{}, err
	}
	if s.Refresh, err = duration("refresh", c.Refresh, DefaultRefresh); err != nil {
		return Settings{}, err
	}

	if s.Log.Level == "" {
		s.Log.Level = DefaultLogLevel
	}
	if s.Clockmail.EventLimit < 0 {
		return Settings{}, errors.New("clockmail.event_limit: must be >= 0")
	} else if s.Clockmail.EventLimit == 0 {
		s.Clockmail.EventLimit = DefaultEventLimit
	}
	if s.Demo.Rate < 0 {
		return Settings{}, errors.New("demo.rate: must be >= 0")
	} else if s.Demo.Rate == 0 {
		s.Demo.Rate = DefaultDemoRate
	}
	if s.Demo.Groups < 0 {
		return Settings{}, errors.New("demo.groups: must be >= 0")
	} else if s.Demo.Groups == 0 {
		s.Demo.Groups = DefaultDemoGroups
	}
	return s, nil
}

// PipelineOptions converts the batching settings.
func (s Settings) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Window:    s.BatchWindow,
		MaxBatch:  s.MaxBatch,
		QueueSize: s.QueueSize,
		HardMax:   s.HardMax,
	}
}
