package eventsourcing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// Codec converts an aggregate's event union to and from stored bytes.
type Codec[E Event] interface {
	Encode(event E) ([]byte, error)
	Decode(eventType string, data []byte) (E, error)
}

// JSONCodec encodes events as JSON and decodes them back into the concrete
// variant registered for their event type.
type JSONCodec[E Event] struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewJSONCodec creates a codec for the given variants. Each sample is only
// used for its EventType and concrete Go type.
func NewJSONCodec[E Event](samples ...E) *JSONCodec[E] {
	c := &JSONCodec[E]{types: make(map[string]reflect.Type, len(samples))}
	c.Register(samples...)
	return c
}

// Register adds variants to the codec. A later registration for the same
// event type replaces the earlier one.
func (c *JSONCodec[E]) Register(samples ...E) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range samples {
		c.types[s.EventType()] = reflect.TypeOf(s)
	}
}

// EventTypes returns the number of registered variants.
func (c *JSONCodec[E]) EventTypes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types)
}

// Encode implements Codec.
func (c *JSONCodec[E]) Encode(event E) ([]byte, error) {
	c.mu.RLock()
	_, ok := c.types[event.EventType()]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event.EventType())
	}
	return json.Marshal(event)
}

// Decode implements Codec.
func (c *JSONCodec[E]) Decode(eventType string, data []byte) (E, error) {
	var zero E

	c.mu.RLock()
	rt, ok := c.types[eventType]
	c.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}

	// Pointer variants decode into a fresh value of the pointed-to type.
	isPtr := rt.Kind() == reflect.Pointer
	target := rt
	if isPtr {
		target = rt.Elem()
	}
	v := reflect.New(target)
	if err := json.Unmarshal(data, v.Interface()); err != nil {
		return zero, fmt.Errorf("decode %s: %w", eventType, err)
	}
	if !isPtr {
		v = v.Elem()
	}

	event, ok := v.Interface().(E)
	if !ok {
		return zero, fmt.Errorf("%w: %s decodes to %s", ErrUnknownEvent, eventType, rt)
	}
	return event, nil
}
