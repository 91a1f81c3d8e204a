package pipeline

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// Codec serializes messages for queues that cross a process boundary.
// Items of stages that use process workers must survive a round trip
// through the codec.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct {
	api sonic.API
}

func (c jsonCodec) Marshal(v any) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c jsonCodec) Unmarshal(data []byte, v any) error {
	return c.api.Unmarshal(data, v)
}

// JSONCodec is the default codec. It encodes with sonic using the
// settings of `encoding/json`.
var JSONCodec Codec = jsonCodec{api: sonic.ConfigStd}

var errUnknownKind = errors.New("message has an unknown kind")

const (
	kindItem = "item"
	kindStop = "stop"
)

// envelope is the encoded form of a `Message`. `Kind` says which of
// the two it is, so that a nil item still decodes as an item.
type envelope[T any] struct {
	Kind string `json:"kind"`
	Item *T     `json:"item,omitempty"`
}

func encodeMessage[T any](c Codec, m Message[T]) ([]byte, error) {
	e := envelope[T]{Kind: kindItem, Item: &m.Item}
	if m.IsStop() {
		e = envelope[T]{Kind: kindStop}
	}
	data, err := c.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return data, nil
}

func decodeMessage[T any](c Codec, data []byte) (Message[T], error) {
	var e envelope[T]
	if err := c.Unmarshal(data, &e); err != nil {
		return Message[T]{}, fmt.Errorf("decoding message: %w", err)
	}
	switch e.Kind {
	case kindStop:
		return StopMessage[T](), nil
	case kindItem:
		var v T
		if e.Item != nil {
			v = *e.Item
		}
		return Item(v), nil
	default:
		return Message[T]{}, fmt.Errorf("%w: %q", errUnknownKind, e.Kind)
	}
}

// isStopFrame reports whether `data` encodes the stop signal, without
// decoding the item.
func isStopFrame(c Codec, data []byte) bool {
	var probe struct {
		Kind string `json:"kind"`
	}
	return c.Unmarshal(data, &probe) == nil && probe.Kind == kindStop
}
