package ordering

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPosition 表示目标编号超出 [1,N]。
	ErrInvalidPosition = errors.New("page position is out of range")
	// ErrNotReorderable 表示封面封底不参与编号序列。
	ErrNotReorderable = errors.New("cover pages cannot be reordered")
	// ErrItemNotFound 表示条目不在当前序列中。
	ErrItemNotFound = errors.New("page is not part of the sequence")
)

// Kind distinguishes persisted pages from pending pages that only exist
// inside the editing session.
type Kind int

const (
	// KindPersisted 表示已落库的页。
	KindPersisted Kind = iota
	// KindPending 表示仅存在于编辑会话、尚未提交的页。
	KindPending
)

// Item is one slot of the content sequence. Persisted items carry a database
// id, pending items carry a client-local id; ordering treats both uniformly.
type Item struct {
	Kind    Kind
	ID      uint
	LocalID string
	Number  int
}

// Key returns a stable identity usable across persisted and pending items.
func (it Item) Key() string {
	if it.Kind == KindPending {
		return "local:" + it.LocalID
	}
	return fmt.Sprintf("page:%d", it.ID)
}

// PersistedKey builds the lookup key for a persisted page id.
func PersistedKey(id uint) string {
	return Item{Kind: KindPersisted, ID: id}.Key()
}

// PendingKey builds the lookup key for a pending local id.
func PendingKey(localID string) string {
	return Item{Kind: KindPending, LocalID: localID}.Key()
}

// Renumber relabels the sequence 1..N in slice order.
func Renumber(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	for i := range out {
		out[i].Number = i + 1
	}
	return out
}

// Append adds an item at the end of the sequence and renumbers.
func Append(items []Item, item Item) []Item {
	out := make([]Item, 0, len(items)+1)
	out = append(out, items...)
	out = append(out, item)
	return Renumber(out)
}

// Move takes the item out of the sequence and reinserts it at toIndex
// (0-based), preserving the relative order of everything else, then
// relabels 1..N. Moving to the current index is a no-op.
func Move(items []Item, key string, toIndex int) ([]Item, error) {
	from := indexOf(items, key)
	if from < 0 {
		return nil, ErrItemNotFound
	}
	if toIndex < 0 || toIndex >= len(items) {
		return nil, ErrInvalidPosition
	}
	if toIndex == from {
		return Renumber(items), nil
	}

	out := make([]Item, 0, len(items))
	out = append(out, items[:from]...)
	out = append(out, items[from+1:]...)

	tail := make([]Item, len(out[toIndex:]))
	copy(tail, out[toIndex:])
	out = append(out[:toIndex], items[from])
	out = append(out, tail...)

	return Renumber(out), nil
}

// SetPosition moves the item so that its page number becomes number.
// A number equal to the current one is a no-op.
func SetPosition(items []Item, key string, number int) ([]Item, error) {
	if number < 1 || number > len(items) {
		return nil, ErrInvalidPosition
	}
	return Move(items, key, number-1)
}

// Swap exchanges the numbers of two items without touching the rest.
// Used for single-step up/down moves where a full renumber is wasteful.
func Swap(items []Item, keyA, keyB string) ([]Item, error) {
	ia := indexOf(items, keyA)
	ib := indexOf(items, keyB)
	if ia < 0 || ib < 0 {
		return nil, ErrItemNotFound
	}

	out := make([]Item, len(items))
	copy(out, items)
	out[ia], out[ib] = out[ib], out[ia]
	out[ia].Number, out[ib].Number = items[ia].Number, items[ib].Number
	return out, nil
}

// Delete removes the item and closes the gap: every number above the removed
// one is decremented by exactly one.
func Delete(items []Item, key string) ([]Item, error) {
	at := indexOf(items, key)
	if at < 0 {
		return nil, ErrItemNotFound
	}

	out := make([]Item, 0, len(items)-1)
	out = append(out, items[:at]...)
	out = append(out, items[at+1:]...)
	return Renumber(out), nil
}

// Diff returns the items of after whose number differs from their number in
// before. The result keeps after's order, so callers can replay it as a
// sequence of independent point updates.
func Diff(before, after []Item) []Item {
	prev := make(map[string]int, len(before))
	for _, it := range before {
		prev[it.Key()] = it.Number
	}

	var changed []Item
	for _, it := range after {
		old, ok := prev[it.Key()]
		if !ok || old != it.Number {
			changed = append(changed, it)
		}
	}
	return changed
}

func indexOf(items []Item, key string) int {
	for i, it := range items {
		if it.Key() == key {
			return i
		}
	}
	return -1
}
