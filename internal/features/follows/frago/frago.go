// Package frago splits one keyed map into numbered fragments so it fits a
// store with a per-item size limit, and puts the fragments back together.
//
// Fragments are stored under "<subkey>/<n>". An index records which
// fragment holds each id so single entries can be rewritten without
// touching the rest.
package frago

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrQuotaExceeded is returned by a SaveFunc when a fragment is too large
var ErrQuotaExceeded = errors.New("fragment exceeds quota")

// QuotaError reports a fragment that cannot be made small enough
type QuotaError struct {
	Key  string
	Size int
	Err  error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("fragment %s still exceeds quota with %d entries: %v", e.Key, e.Size, e.Err)
}

func (e *QuotaError) Unwrap() error {
	return e.Err
}

// Set is the reassembled view of a fragmented map
type Set[T any] struct {
	Items map[string]T
	Index map[string]int
	// Extra holds every stored key that is not a fragment of the subkey
	Extra map[string]json.RawMessage
}

// NewSet returns an empty set
func NewSet[T any]() *Set[T] {
	return &Set[T]{
		Items: map[string]T{},
		Index: map[string]int{},
		Extra: map[string]json.RawMessage{},
	}
}

// SaveFunc persists one fragment
type SaveFunc[T any] func(key string, fragment map[string]T) error

// Key returns the storage key of fragment n
func Key(subkey string, n int) string {
	return subkey + "/" + strconv.Itoa(n)
}

// ParseKey splits a storage key into its subkey and fragment number
func ParseKey(key string) (subkey string, n int, ok bool) {
	subkey, num, found := strings.Cut(key, "/")
	if !found {
		return key, 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return key, 0, false
	}
	return subkey, n, true
}

// MaxIndex returns the highest fragment number in index
func MaxIndex(index map[string]int) int {
	max := 0
	for _, n := range index {
		if n > max {
			max = n
		}
	}
	return max
}

// Merge unions every fragment of subkey found in raw. Fragments are read
// in ascending order and the first occurrence of an id wins, so a
// duplicate in a higher-numbered fragment is dropped. Undecodable
// fragments are skipped and reported in the returned error; the set is
// always usable.
func Merge[T any](raw map[string]json.RawMessage, subkey string) (*Set[T], error) {
	set := NewSet[T]()

	type frag struct {
		key string
		n   int
	}
	var frags []frag
	for k, v := range raw {
		sk, n, ok := ParseKey(k)
		if ok && sk == subkey {
			frags = append(frags, frag{k, n})
			continue
		}
		set.Extra[k] = v
	}
	sort.Slice(frags, func(i, j int) bool { return frags[i].n < frags[j].n })

	var errs []error
	for _, f := range frags {
		var entries map[string]T
		if err := json.Unmarshal(raw[f.key], &entries); err != nil {
			errs = append(errs, fmt.Errorf("decode %s: %w", f.key, err))
			continue
		}
		for id, entry := range entries {
			if _, seen := set.Index[id]; seen {
				continue
			}
			set.Items[id] = entry
			set.Index[id] = f.n
		}
	}

	return set, errors.Join(errs...)
}

// Separate writes the fragments holding ids, or every fragment when ids is
// nil. Entries missing from the index go to fragment 0.
//
// When save answers ErrQuotaExceeded, the last entry of that fragment (by
// id order) moves to the next fragment, a new one being allocated past the
// end if needed, and the shrunken fragment is saved again before moving
// on. The index is updated in place. A fragment that overflows with one
// entry left yields a *QuotaError. Any other save error stops at once.
func Separate[T any](set *Set[T], subkey string, ids []string, save SaveFunc[T]) error {
	var force map[string]bool
	if ids != nil {
		force = make(map[string]bool, len(ids))
		for _, id := range ids {
			force[id] = true
		}
	}

	for id := range set.Index {
		if _, ok := set.Items[id]; !ok {
			delete(set.Index, id)
		}
	}

	frags := map[int]map[string]T{}
	touched := map[int]bool{}
	maxIndex := 0
	for id, entry := range set.Items {
		n, ok := set.Index[id]
		if !ok {
			n = 0
			set.Index[id] = 0
		}
		if n > maxIndex {
			maxIndex = n
		}
		if frags[n] == nil {
			frags[n] = map[string]T{}
		}
		frags[n][id] = entry
		if force == nil || force[id] {
			touched[n] = true
		}
	}

	for i := 0; i <= maxIndex; i++ {
		if !touched[i] {
			continue
		}
		key := Key(subkey, i)
		frag := frags[i]
		if frag == nil {
			frag = map[string]T{}
		}

		err := save(key, frag)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrQuotaExceeded) {
			return fmt.Errorf("save %s: %w", key, err)
		}
		if len(frag) <= 1 {
			return &QuotaError{Key: key, Size: len(frag), Err: err}
		}

		evict := lastID(frag)
		delete(frag, evict)

		next := i + 1
		if i == maxIndex {
			maxIndex++
		}
		if frags[next] == nil {
			frags[next] = map[string]T{}
		}
		frags[next][evict] = set.Items[evict]
		set.Index[evict] = next
		touched[next] = true

		// retry the smaller fragment before the next one
		i--
	}

	return nil
}

func lastID[T any](frag map[string]T) string {
	last := ""
	first := true
	for id := range frag {
		if first || id > last {
			last = id
			first = false
		}
	}
	return last
}
