package enforcement

import (
	"sync"
	"sync/atomic"
)

// Whitelist holds user IDs and client addresses that bypass every check.
type Whitelist struct {
	users     sync.Map
	addresses sync.Map

	userCount    atomic.Int64
	addressCount atomic.Int64
}

// NewWhitelist creates an empty Whitelist.
func NewWhitelist() *Whitelist {
	return &Whitelist{}
}

// Add whitelists value under kind. Adding an existing value is a no-op.
func (w *Whitelist) Add(kind Kind, value string) error {
	set, count, err := w.set(kind)
	if err != nil {
		return err
	}
	if _, loaded := set.LoadOrStore(value, struct{}{}); !loaded {
		count.Add(1)
	}
	return nil
}

// Remove removes value from kind. Removing an absent value is a no-op.
func (w *Whitelist) Remove(kind Kind, value string) error {
	set, count, err := w.set(kind)
	if err != nil {
		return err
	}
	if _, loaded := set.LoadAndDelete(value); loaded {
		count.Add(-1)
	}
	return nil
}

// Contains reports whether value is whitelisted under kind.
func (w *Whitelist) Contains(kind Kind, value string) bool {
	if value == "" {
		return false
	}
	set, _, err := w.set(kind)
	if err != nil {
		return false
	}
	_, ok := set.Load(value)
	return ok
}

// Allows reports whether either the user or the address is whitelisted.
func (w *Whitelist) Allows(userID, address string) bool {
	return w.Contains(KindUser, userID) || w.Contains(KindAddress, address)
}

// Replace swaps the contents of kind for values. Used when configuration
// seeds are reloaded.
func (w *Whitelist) Replace(kind Kind, values []string) error {
	set, count, err := w.set(kind)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(values))
	for _, v := range values {
		keep[v] = struct{}{}
		if _, loaded := set.LoadOrStore(v, struct{}{}); !loaded {
			count.Add(1)
		}
	}
	set.Range(func(k, _ any) bool {
		if _, ok := keep[k.(string)]; !ok {
			if _, loaded := set.LoadAndDelete(k); loaded {
				count.Add(-1)
			}
		}
		return true
	})
	return nil
}

// Counts returns the number of whitelisted users and addresses.
func (w *Whitelist) Counts() (users, addresses int) {
	return int(w.userCount.Load()), int(w.addressCount.Load())
}

func (w *Whitelist) set(kind Kind) (*sync.Map, *atomic.Int64, error) {
	switch kind {
	case KindUser:
		return &w.users, &w.userCount, nil
	case KindAddress:
		return &w.addresses, &w.addressCount, nil
	default:
		return nil, nil, &KindError{Value: string(kind)}
	}
}
