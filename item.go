package workspaces

import (
	"fmt"

	"github.com/hazyhaar/workspaces/contract"
)

// Node is anything that can be the parent of an Item: a *Workspace or a
// *Box.
type Node interface {
	ID() string
	Type() contract.ItemType
}

// Item is a node below the workspace: a *Box or a *Window.
type Item interface {
	Node
	isItem()
}

func (*Box) isItem()    {}
func (*Window) isItem() {}

// The helpers below run under pd.mu. Predicates supplied by callers are
// applied after the lock is released, since they usually call getters.

func collectWindows(items []Item) []*Window {
	var out []*Window
	walkItems(items, func(it Item) {
		if w, ok := it.(*Window); ok {
			out = append(out, w)
		}
	})
	return out
}

func collectBoxes(items []Item) []*Box {
	var out []*Box
	walkItems(items, func(it Item) {
		if b, ok := it.(*Box); ok {
			out = append(out, b)
		}
	})
	return out
}

func first[T any](list []T, pred func(T) bool) T {
	var zero T
	for _, v := range list {
		if pred(v) {
			return v
		}
	}
	return zero
}

// find returns the first element matching pred. A nil pred is a
// ProgrammingError; no match is ErrNotFound.
func find[T any](what string, list []T, pred func(T) bool) (T, error) {
	var zero T
	if pred == nil {
		return zero, contract.Programming("get %s: nil predicate", what)
	}
	for _, v := range list {
		if pred(v) {
			return v, nil
		}
	}
	return zero, fmt.Errorf("workspaces: %s: %w", what, ErrNotFound)
}

func filter[T any](list []T, pred func(T) bool) []T {
	var out []T
	for _, v := range list {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

func isKind(kind contract.ItemType) func(*Box) bool {
	return func(b *Box) bool { return b.Type() == kind }
}

// kindOf reads the item type without locking.
func kindOf(it Item) contract.ItemType {
	if b, ok := it.(*Box); ok {
		return b.d.kind
	}
	return contract.TypeWindow
}
