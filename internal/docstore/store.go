// Package docstore defines the remote document store contract: point reads,
// point writes with upsert semantics, and change subscriptions on a single
// document.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRemoteRead reports a failed read or subscription.
	ErrRemoteRead = errors.New("remote read failed")
	// ErrRemoteWrite reports a failed write.
	ErrRemoteWrite = errors.New("remote write failed")
	// ErrSubscriptionClosed is passed to a ChangeFunc when the store ended
	// the subscription on its own, e.g. a dropped connection. No further
	// calls follow it.
	ErrSubscriptionClosed = errors.New("subscription closed")
	// ErrNotFound is returned by repositories when a document does not exist.
	ErrNotFound = errors.New("document not found")
)

// Fields maps field names to JSON-compatible values.
type Fields map[string]any

// Snapshot is the state of one document observed at a single point in time.
type Snapshot struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Exists     bool      `json:"exists"`
	Fields     Fields    `json:"fields,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// ChangeFunc receives every observed state of a subscribed document. err is
// non-nil when the subscription failed to read the document; snap is then zero.
type ChangeFunc func(snap Snapshot, err error)

// Subscription is a live change subscription. Close stops delivery; it is
// safe to call more than once.
type Subscription interface {
	Close() error
}

// Store is a key-value document database keyed by collection and id.
type Store interface {
	// Get returns the current snapshot. A missing document is reported as
	// a snapshot with Exists == false, not as an error.
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	// Set replaces the document's fields, creating it if absent.
	Set(ctx context.Context, collection, id string, fields Fields) error
	// Subscribe delivers the current snapshot and then one snapshot per change
	// until the subscription is closed or ctx is done.
	Subscribe(ctx context.Context, collection, id string, fn ChangeFunc) (Subscription, error)
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func() error

// Close calls f.
func (f SubscriptionFunc) Close() error { return f() }
