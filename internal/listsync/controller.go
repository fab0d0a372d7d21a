// Package listsync keeps a user's shopping list in memory and reconciles it
// with the user's remote document.
//
// Remote change notifications replace the local list wholesale. AddItem and
// DeleteItem only touch local state; Save is the only remote write. Between
// a local edit and the next Save the two may differ, and whichever of a
// remote notification or a local edit is applied last wins.
package listsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/atinyakov/shoplist/internal/docstore"
	"github.com/atinyakov/shoplist/internal/models"
	"go.uber.org/zap"
)

var (
	// ErrEmptyItem is returned by AddItem for empty or whitespace-only text.
	ErrEmptyItem = errors.New("item text is empty")
	// ErrIndexOutOfRange is returned by DeleteItem for an index outside the list.
	ErrIndexOutOfRange = errors.New("item index out of range")
	// ErrNotAttached is returned by Save when no user is attached.
	ErrNotAttached = errors.New("no user attached")
	// ErrNoUser is returned by Attach for an empty user identifier.
	ErrNoUser = errors.New("empty user identifier")
)

// Store is the subset of the document store the controller needs.
type Store interface {
	Set(ctx context.Context, collection, id string, fields docstore.Fields) error
	Subscribe(ctx context.Context, collection, id string, fn docstore.ChangeFunc) (docstore.Subscription, error)
}

// Controller owns the local shopping list of one attached user.
// It is safe for concurrent use.
type Controller struct {
	store    Store
	log      *zap.Logger
	observer Observer

	// notifyMu orders observer calls; it is taken before mu.
	notifyMu sync.Mutex

	mu     sync.Mutex
	userID string
	items  models.ShoppingList
	input  string
	sub    docstore.Subscription
	// gen identifies the current subscription; callbacks carrying an older
	// value arrived after Detach and are dropped.
	gen uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// WithObserver registers the collaborator notified after every state change.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// New returns an unattached controller backed by store.
func New(store Store, opts ...Option) *Controller {
	c := &Controller{
		store: store,
		log:   zap.NewNop(),
		items: models.ShoppingList{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach subscribes to userID's document. Every notification replaces the
// local list with the document's list, or an empty list if the document does
// not exist. A previous attachment is released first.
func (c *Controller) Attach(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}
	c.Detach()

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.userID = userID
	c.items = models.ShoppingList{}
	c.mu.Unlock()

	sub, err := c.store.Subscribe(ctx, models.UsersCollection, userID, func(snap docstore.Snapshot, err error) {
		c.handleChange(gen, snap, err)
	})
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.gen++
			c.userID = ""
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: subscribe %s: %w", docstore.ErrRemoteRead, userID, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		// detached, or the subscription already ended, while subscribing
		c.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	c.log.Debug("attached", zap.String("user", userID))
	return nil
}

// Detach releases the subscription. Notifications delivered after Detach
// returns do not change state. Calling Detach when unattached is a no-op.
func (c *Controller) Detach() {
	c.mu.Lock()
	if c.userID == "" && c.sub == nil {
		c.mu.Unlock()
		return
	}
	userID := c.userID
	sub := c.sub
	c.gen++
	c.sub = nil
	c.userID = ""
	items := c.items.Clone()
	c.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			c.log.Warn("close subscription", zap.String("user", userID), zap.Error(err))
		}
	}
	c.log.Debug("detached", zap.String("user", userID))
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notify(Event{Cause: CauseDetached, Items: items})
}

// AddItem appends text to the list and clears the input buffer.
// Empty or whitespace-only text is rejected with ErrEmptyItem and leaves both
// the list and the input buffer untouched. Text is stored verbatim.
func (c *Controller) AddItem(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyItem
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	c.items = append(c.items.Clone(), text)
	c.input = ""
	items := c.items.Clone()
	c.mu.Unlock()

	c.notify(Event{Cause: CauseLocalEdit, Items: items})
	return nil
}

// DeleteItem removes the item at index.
func (c *Controller) DeleteItem(index int) error {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.mu.Lock()
	if index < 0 || index >= len(c.items) {
		n := len(c.items)
		c.mu.Unlock()
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, n)
	}
	next := make(models.ShoppingList, 0, len(c.items)-1)
	next = append(next, c.items[:index]...)
	next = append(next, c.items[index+1:]...)
	c.items = next
	items := c.items.Clone()
	c.mu.Unlock()

	c.notify(Event{Cause: CauseLocalEdit, Items: items})
	return nil
}

// Save writes a snapshot of the local list to the attached user's document,
// replacing whatever it held. Edits made after the snapshot is taken are not
// part of this save. A failed save leaves local state as it is.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	userID := c.userID
	items := c.items.Clone()
	c.mu.Unlock()

	if userID == "" {
		return ErrNotAttached
	}
	if err := c.store.Set(ctx, models.UsersCollection, userID, items.Fields()); err != nil {
		return fmt.Errorf("%w: save %s: %w", docstore.ErrRemoteWrite, userID, err)
	}
	c.log.Info("list saved", zap.String("user", userID), zap.Int("items", len(items)))
	return nil
}

// SetInput replaces the pending input buffer.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
}

// Input returns the pending input buffer.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Submit adds the pending input as a new item.
func (c *Controller) Submit() error {
	return c.AddItem(c.Input())
}

// Items returns a copy of the local list.
func (c *Controller) Items() models.ShoppingList {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Clone()
}

// UserID returns the attached user, or "" when unattached.
func (c *Controller) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Attached reports whether a user is attached.
func (c *Controller) Attached() bool {
	return c.UserID() != ""
}

// Live reports whether remote changes are still being received. It turns
// false when the store ends the subscription on its own; Attach again to
// resume. Save keeps working meanwhile.
func (c *Controller) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub != nil
}

func (c *Controller) handleChange(gen uint64, snap docstore.Snapshot, err error) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if gen != c.gen || c.userID == "" {
		c.mu.Unlock()
		c.log.Debug("dropped stale notification", zap.String("id", snap.ID))
		return
	}
	if err != nil {
		userID := c.userID
		if errors.Is(err, docstore.ErrSubscriptionClosed) {
			// the store will not call again; later Attach starts over
			c.gen++
			c.sub = nil
		}
		items := c.items.Clone()
		c.mu.Unlock()
		c.log.Warn("remote notification failed", zap.String("user", userID), zap.Error(err))
		c.notify(Event{Cause: CauseRemoteError, Items: items, Err: fmt.Errorf("%w: %w", docstore.ErrRemoteRead, err)})
		return
	}
	if snap.Exists {
		c.items = models.ShoppingListFromFields(snap.Fields)
	} else {
		c.items = models.ShoppingList{}
	}
	items := c.items.Clone()
	c.mu.Unlock()

	c.notify(Event{Cause: CauseRemoteSync, Items: items})
}

func (c *Controller) notify(ev Event) {
	if c.observer != nil {
		c.observer.ListChanged(ev)
	}
}
