// Package store defines the session document store contract: a
// document-per-session key-value store with field-level merge updates and
// live per-document change notification. Backends live in subpackages.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Document is one session document as a JSON-compatible field map. Values are
// what encoding/json produces when unmarshalling into any: bool, float64,
// string, []any, map[string]any, nil.
type Document map[string]any

// Clone deep-copies a document so callbacks can hold it past the next write.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single JSON-compatible value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Encode converts an arbitrary struct into a Document through its JSON form.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode converts a Document back into a typed value through its JSON form.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// OnChange receives every server-visible state of a subscribed document,
// starting with its state at subscription time. A nil document means the
// document does not exist (never created, or deleted).
type OnChange func(doc Document)

// Unsubscribe tears down a subscription. It is safe to call more than once;
// after the first call returns, the callback is never invoked again.
type Unsubscribe func()

// Store is the session document store.
//
// Update merges at field level, so concurrent writers touching disjoint
// fields never clobber each other. Writers touching the same field race with
// last-write-wins semantics. Within a single writer, updates apply in
// submission order.
type Store interface {
	// Create writes the document, overwriting any existing document with
	// the same ID (last-writer-wins).
	Create(ctx context.Context, id string, doc Document) error

	// CreateIfAbsent writes the document only when no document with the
	// given ID exists. Returns true when this call created it.
	CreateIfAbsent(ctx context.Context, id string, doc Document) (bool, error)

	// Update merges the given fields into an existing document. Fails with
	// a WriteError wrapping ErrNotFound when the document does not exist.
	Update(ctx context.Context, id string, fields Document) error

	// Increment atomically adds delta to an integer field, creating the
	// field at delta when absent.
	Increment(ctx context.Context, id string, field string, delta int64) (int64, error)

	// Append appends a value to an array field, creating the array when
	// absent. Appends from one writer are observed in submission order.
	Append(ctx context.Context, id string, field string, value any) error

	// Get reads the current document, or nil with ErrNotFound when absent.
	Get(ctx context.Context, id string) (Document, error)

	// Delete removes the document. Deleting a missing document is not an
	// error.
	Delete(ctx context.Context, id string) error

	// Subscribe registers a live listener for one document. The callback
	// fires once immediately with the current state (nil when absent) and
	// then on every subsequent change, in order, from a single goroutine.
	Subscribe(ctx context.Context, id string, fn OnChange) (Unsubscribe, error)

	// Close releases backend resources. Active subscriptions stop.
	Close(ctx context.Context) error
}
