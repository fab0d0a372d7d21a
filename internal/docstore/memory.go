package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"
)

type docKey struct {
	collection string
	id         string
}

type memoryDoc struct {
	fields    []byte
	updatedAt time.Time
}

// Memory is an in-process Store. Fields are stored JSON-encoded so readers
// never share maps with writers, and values round-trip the same way they do
// through the HTTP and Postgres stores.
//
// Deliveries for one document are serialized: every subscriber sees changes
// in the order they were applied, and its initial snapshot before any later
// change. Callbacks must not call Set or Subscribe for the document they
// observe.
type Memory struct {
	mu      sync.Mutex
	docs    map[docKey]memoryDoc
	subs    map[docKey]map[int]ChangeFunc
	deliver map[docKey]*sync.Mutex
	nextID  int
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:    make(map[docKey]memoryDoc),
		subs:    make(map[docKey]map[int]ChangeFunc),
		deliver: make(map[docKey]*sync.Mutex),
		now:     time.Now,
	}
}

// Get returns the current snapshot of collection/id.
func (m *Memory) Get(_ context.Context, collection, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(docKey{collection, id})
}

// Set replaces collection/id with fields and notifies subscribers
// synchronously, in subscription order.
func (m *Memory) Set(_ context.Context, collection, id string, fields Fields) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	key := docKey{collection, id}
	delivery := m.deliveryLock(key)
	delivery.Lock()
	defer delivery.Unlock()

	m.mu.Lock()
	m.docs[key] = memoryDoc{fields: data, updatedAt: m.now().UTC()}
	snap, err := m.snapshotLocked(key)
	fns := m.subscribersLocked(key)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(snap, err)
	}
	return nil
}

// Subscribe registers fn and delivers the current snapshot before returning.
func (m *Memory) Subscribe(ctx context.Context, collection, id string, fn ChangeFunc) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := docKey{collection, id}
	delivery := m.deliveryLock(key)
	delivery.Lock()

	m.mu.Lock()
	subID := m.nextID
	m.nextID++
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]ChangeFunc)
	}
	m.subs[key][subID] = fn
	snap, err := m.snapshotLocked(key)
	m.mu.Unlock()

	fn(snap, err)
	delivery.Unlock()

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[key], subID)
			if len(m.subs[key]) == 0 {
				delete(m.subs, key)
			}
		})
		return nil
	}), nil
}

// Subscribers reports how many live subscriptions collection/id has.
func (m *Memory) Subscribers(collection, id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[docKey{collection, id}])
}

// deliveryLock returns the mutex that orders deliveries for key.
func (m *Memory) deliveryLock(key docKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.deliver[key]
	if !ok {
		l = &sync.Mutex{}
		m.deliver[key] = l
	}
	return l
}

func (m *Memory) snapshotLocked(key docKey) (Snapshot, error) {
	snap := Snapshot{Collection: key.collection, ID: key.id}
	doc, ok := m.docs[key]
	if !ok {
		return snap, nil
	}
	var fields Fields
	if err := json.Unmarshal(doc.fields, &fields); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode fields: %w", ErrRemoteRead, err)
	}
	snap.Exists = true
	snap.Fields = fields
	snap.UpdatedAt = doc.updatedAt
	return snap, nil
}

func (m *Memory) subscribersLocked(key docKey) []ChangeFunc {
	ids := make([]int, 0, len(m.subs[key]))
	for id := range m.subs[key] {
		ids = append(ids, id)
	}
	// map order is random; keep delivery in subscription order
	slices.Sort(ids)
	fns := make([]ChangeFunc, len(ids))
	for i, id := range ids {
		fns[i] = m.subs[key][id]
	}
	return fns
}
