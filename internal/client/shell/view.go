package shell

import (
	"errors"
	"fmt"
	"io"

	"github.com/atinyakov/shoplist/internal/docstore"
	"github.com/atinyakov/shoplist/internal/listsync"
	"github.com/atinyakov/shoplist/internal/models"
)

// listView renders the list whenever the controller reports a change.
type listView struct {
	out io.Writer
}

func (v *listView) ListChanged(ev listsync.Event) {
	switch ev.Cause {
	case listsync.CauseRemoteSync, listsync.CauseLocalEdit:
		printList(v.out, ev.Items)
	case listsync.CauseRemoteError:
		fmt.Fprintf(v.out, "Sync error: %v\n", ev.Err)
		if errors.Is(ev.Err, docstore.ErrSubscriptionClosed) {
			fmt.Fprintln(v.out, reloadHint)
		}
	}
}

func printList(out io.Writer, items models.ShoppingList) {
	if len(items) == 0 {
		fmt.Fprintln(out, "Your shopping list is empty.")
		return
	}
	fmt.Fprintln(out, "Shopping list:")
	for i, item := range items {
		fmt.Fprintf(out, "%3d. %s\n", i+1, item)
	}
}
