package listsync

import "github.com/atinyakov/shoplist/internal/models"

// Cause tells an observer why the list changed.
type Cause int

const (
	// CauseRemoteSync means a remote notification replaced the list.
	CauseRemoteSync Cause = iota
	// CauseLocalEdit means AddItem or DeleteItem changed the list.
	CauseLocalEdit
	// CauseRemoteError means the subscription reported a read failure.
	// The list is unchanged. If Err wraps docstore.ErrSubscriptionClosed
	// the subscription is gone and Live reports false.
	CauseRemoteError
	// CauseDetached means the controller released its subscription.
	CauseDetached
)

func (c Cause) String() string {
	switch c {
	case CauseRemoteSync:
		return "remote-sync"
	case CauseLocalEdit:
		return "local-edit"
	case CauseRemoteError:
		return "remote-error"
	case CauseDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Event describes one state change.
type Event struct {
	Cause Cause
	// Items is the list after the change.
	Items models.ShoppingList
	// Err is set for CauseRemoteError.
	Err error
}

// Observer is notified after every state change, outside the controller's
// state lock. Calls may come from the store's goroutines but never overlap,
// and they arrive in the order the changes were applied: nothing follows
// CauseDetached until the next Attach. An observer must not call AddItem,
// DeleteItem, Detach or Attach.
type Observer interface {
	ListChanged(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// ListChanged calls f(ev).
func (f ObserverFunc) ListChanged(ev Event) { f(ev) }
