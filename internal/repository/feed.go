package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/atinyakov/shoplist/internal/db"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Listener is the part of *pq.Listener the change feed uses.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NewPQListener opens a reconnecting LISTEN connection to dsn.
func NewPQListener(dsn string, log *zap.Logger) *pq.Listener {
	return pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			log.Info("change listener connected")
		case pq.ListenerEventDisconnected:
			log.Warn("change listener disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			log.Info("change listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			log.Warn("change listener connection attempt failed", zap.Error(err))
		}
	})
}

type feedKey struct {
	collection string
	id         string
}

// ChangeFeed fans document change notifications out to watchers.
type ChangeFeed struct {
	listener Listener
	log      *zap.Logger

	mu       sync.Mutex
	watchers map[feedKey]map[int]func()
	next     int
}

// NewChangeFeed returns a feed reading from l. Call Run to start delivery.
func NewChangeFeed(l Listener, log *zap.Logger) *ChangeFeed {
	return &ChangeFeed{
		listener: l,
		log:      log,
		watchers: make(map[feedKey]map[int]func()),
	}
}

// Watch calls fn after every change of collection/id until cancel is called.
// After a listener reconnect every watcher is called once, since changes
// may have been missed.
func (f *ChangeFeed) Watch(collection, id string, fn func()) (cancel func()) {
	key := feedKey{collection, id}
	f.mu.Lock()
	n := f.next
	f.next++
	if f.watchers[key] == nil {
		f.watchers[key] = make(map[int]func())
	}
	f.watchers[key][n] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.watchers[key], n)
			if len(f.watchers[key]) == 0 {
				delete(f.watchers, key)
			}
		})
	}
}

// Run listens on db.ChangeChannel and dispatches notifications until ctx is
// done or the listener's channel closes. It closes the listener on return.
func (f *ChangeFeed) Run(ctx context.Context) error {
	if err := f.listener.Listen(db.ChangeChannel); err != nil {
		return fmt.Errorf("listen %s: %w", db.ChangeChannel, err)
	}
	defer f.listener.Close()

	notifications := f.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			f.dispatch(n)
		}
	}
}

func (f *ChangeFeed) dispatch(n *pq.Notification) {
	// pq sends nil after re-establishing a lost connection
	if n == nil {
		f.log.Info("resyncing all watchers after reconnect")
		for _, fn := range f.snapshot(nil) {
			fn()
		}
		return
	}

	var notice changeNotice
	if err := json.Unmarshal([]byte(n.Extra), &notice); err != nil {
		f.log.Warn("malformed change notice", zap.String("payload", n.Extra), zap.Error(err))
		return
	}
	key := feedKey{notice.Collection, notice.ID}
	for _, fn := range f.snapshot(&key) {
		fn()
	}
}

// snapshot copies the watchers of key, or of every key when key is nil.
func (f *ChangeFeed) snapshot(key *feedKey) []func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	var fns []func()
	for k, ws := range f.watchers {
		if key != nil && k != *key {
			continue
		}
		for _, fn := range ws {
			fns = append(fns, fn)
		}
	}
	return fns
}
