// Package transport carries commands over websocket connections.
//
// Every text frame holds one envelope: a JSON object with a single key naming
// the variant, e.g.
//
//	{"Add": {"group": "mail", "items": [{"id": "a@b", "body": "hi"}]}}
//	{"PutGroup": {"meta": {"id": "mail", "title": "Mail", "importance": 2}}}
//
// The bare string "Config" is a known variant that is not supported yet.
// Frames that fail to decode are logged and skipped; they never reach the
// pipeline.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/daviddao/nadir_viewer/internal/model"
	"github.com/daviddao/nadir_viewer/internal/pipeline"
)

var (
	// ErrMalformed marks a frame that is not a valid envelope.
	ErrMalformed = errors.New("malformed envelope")

	// ErrUnsupported marks a well-formed envelope whose variant is not handled.
	ErrUnsupported = errors.New("unsupported envelope")
)

// Variant names on the wire.
const (
	tagAdd         = "Add"
	tagRemove      = "Remove"
	tagPutGroup    = "PutGroup"
	tagUpdateGroup = "UpdateGroup"
	tagRemoveGroup = "RemoveGroup"
	tagSetCounter  = "SetGroupCounter"
	tagIncCounter  = "IncGroupCounter"
	tagConfig      = "Config"
)

// Defaults fill in group capacities that a frame leaves out. Zero fields
// select the model defaults.
type Defaults struct {
	Capacity       uint32
	PinnedCapacity uint32
}

func (d Defaults) orModel() Defaults {
	if d.Capacity == 0 {
		d.Capacity = model.DefaultCapacity
	}
	if d.PinnedCapacity == 0 {
		d.PinnedCapacity = model.DefaultPinnedCapacity
	}
	return d
}

type addMsg struct {
	Group  string          `json:"group"`
	Items  []model.Message `json:"items"`
	Pinned bool            `json:"pinned,omitempty"`
}

type removeMsg struct {
	Group  string   `json:"group"`
	IDs    []string `json:"ids"`
	Pinned bool     `json:"pinned,omitempty"`
}

// wireMeta distinguishes an omitted capacity from an explicit zero.
type wireMeta struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Importance     int32   `json:"importance"`
	Capacity       *uint32 `json:"capacity,omitempty"`
	PinnedCapacity *uint32 `json:"pinned_capacity,omitempty"`
}

func (w wireMeta) meta(d Defaults) model.GroupMeta {
	m := model.GroupMeta{
		ID:             w.ID,
		Title:          w.Title,
		Importance:     w.Importance,
		Capacity:       d.Capacity,
		PinnedCapacity: d.PinnedCapacity,
	}
	if w.Capacity != nil {
		m.Capacity = *w.Capacity
	}
	if w.PinnedCapacity != nil {
		m.PinnedCapacity = *w.PinnedCapacity
	}
	return m
}

func toWireMeta(m model.GroupMeta) wireMeta {
	return wireMeta{
		ID:             m.ID,
		Title:          m.Title,
		Importance:     m.Importance,
		Capacity:       &m.Capacity,
		PinnedCapacity: &m.PinnedCapacity,
	}
}

type putGroupMsg struct {
	Meta    wireMeta `json:"meta"`
	InitCnt uint64   `json:"init_cnt,omitempty"`
}

type updateGroupMsg struct {
	Meta wireMeta `json:"meta"`
}

type removeGroupMsg struct {
	Group string `json:"group"`
}

type setCounterMsg struct {
	Group   string `json:"group"`
	Counter uint64 `json:"counter"`
}

type incCounterMsg struct {
	Group string `json:"group"`
	Delta int64  `json:"delta"`
}

// Decode parses one envelope into a pipeline command.
func Decode(data []byte, d Defaults) (pipeline.Command, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)

	// Unit variants are encoded as bare strings.
	if root.Type == gjson.String {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, root.Str)
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrMalformed, root.Type)
	}

	var (
		tag  string
		body gjson.Result
		keys int
	)
	root.ForEach(func(k, v gjson.Result) bool {
		tag, body = k.Str, v
		keys++
		return true
	})
	if keys != 1 {
		return nil, fmt.Errorf("%w: expected one variant, got %d keys", ErrMalformed, keys)
	}

	d = d.orModel()
	raw := []byte(body.Raw)
	switch tag {
	case tagAdd:
		var m addMsg
		if err := unmarshal(tag, raw, &m); err != nil {
			return nil, err
		}
		if err := requireGroup(tag, m.Group); err != nil {
			return nil, err
		}
		for i, item := range m.Items {
			if item.ID == "" {
				return nil, fmt.Errorf("%w: %s: item %d has no id", ErrMalformed, tag, i)
			}
		}
		return pipeline.Add{Group: m.Group, Items: m.Items, Pinned: m.Pinned}, nil

	case tagRemove:
		var m removeMsg
		if err := unmarshal(tag, raw, &m); err != nil {
			return nil, err
		}
		if err := requireGroup(tag, m.Group); err != nil {
			return nil, err
		}
		return pipeline.Remove{Group: m.Group, IDs: m.IDs, Pinned: m.Pinned}, nil

	case tagPutGroup:
		var m putGroupMsg
		if err := unmarshal(tag, raw, &m); err != nil {
			return nil, err
		}
		if err := requireGroup(tag, m.Meta.ID); err != nil {
			return nil, err
		}
		return pipeline.PutGroup{Meta: m.Meta.meta(d), InitCount: m.InitCnt}, nil

	case tagUpdateGroup:
		var m updateGroupMsg
		if err := unmarshal(tag, raw, &m); err != nil {
			return nil, err
		}
		if err := requireGroup(tag, m.Meta.ID); err != nil {
			return nil, err
		}
		return pipeline.UpdateGroup{Meta: m.Meta.meta(d)}, nil

	case tagRemoveGroup:
		var m removeGroupMsg
		if err := unmarshal(tag, raw, &m); err != nil {
			return nil, err
		}
		if err := requireGroup(tag, m.Group); err != nil {
			return nil, err
		}
		return pipeline.RemoveGroup{Group: m.Group}, nil

	case tagSetCounter:
		var m setCounterMsg
		if err := unmarshal(tag, raw, &m); err != nil {
			return nil, err
		}
		if err := requireGroup(tag, m.Group); err != nil {
			return nil, err
		}
		return pipeline.SetCounter{Group: m.Group, Counter: m.Counter}, nil

	case tagIncCounter:
		var m incCounterMsg
		if err := unmarshal(tag, raw, &m); err != nil {
			return nil, err
		}
		if err := requireGroup(tag, m.Group); err != nil {
			return nil, err
		}
		return pipeline.IncCounter{Group: m.Group, Delta: m.Delta}, nil

	case tagConfig:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, tag)
	}
	return nil, fmt.Errorf("%w: unknown variant %q", ErrUnsupported, tag)
}

func unmarshal(tag string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
	}
	return nil
}

func requireGroup(tag, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s: missing group id", ErrMalformed, tag)
	}
	return nil
}

// Encode renders cmd as an envelope. Capacities are always written out.
func Encode(cmd pipeline.Command) ([]byte, error) {
	var (
		tag  string
		body any
	)
	switch c := cmd.(type) {
	case pipeline.Add:
		tag, body = tagAdd, addMsg{Group: c.Group, Items: c.Items, Pinned: c.Pinned}
	case pipeline.Remove:
		tag, body = tagRemove, removeMsg{Group: c.Group, IDs: c.IDs, Pinned: c.Pinned}
	case pipeline.PutGroup:
		tag, body = tagPutGroup, putGroupMsg{Meta: toWireMeta(c.Meta), InitCnt: c.InitCount}
	case pipeline.UpdateGroup:
		tag, body = tagUpdateGroup, updateGroupMsg{Meta: toWireMeta(c.Meta)}
	case pipeline.RemoveGroup:
		tag, body = tagRemoveGroup, removeGroupMsg{Group: c.Group}
	case pipeline.SetCounter:
		tag, body = tagSetCounter, setCounterMsg{Group: c.Group, Counter: c.Counter}
	case pipeline.IncCounter:
		tag, body = tagIncCounter, incCounterMsg{Group: c.Group, Delta: c.Delta}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupported, cmd)
	}
	return sjson.SetBytes([]byte(`{}`), tag, body)
}
