package frago

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

type entry struct {
	URL string `json:"url"`
}

// quotaStore keeps encoded fragments and rejects any over the quota
type quotaStore struct {
	quota int
	saved map[string]json.RawMessage
	calls []string
}

func newQuotaStore(quota int) *quotaStore {
	return &quotaStore{quota: quota, saved: map[string]json.RawMessage{}}
}

func (s *quotaStore) save(key string, frag map[string]entry) error {
	s.calls = append(s.calls, key)
	raw, err := json.Marshal(frag)
	if err != nil {
		return err
	}
	if len(key)+len(raw) > s.quota {
		return ErrQuotaExceeded
	}
	s.saved[key] = raw
	return nil
}

func makeSet(n int) *Set[entry] {
	set := NewSet[entry]()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("id-%03d", i)
		set.Items[id] = entry{URL: "https://example.com/" + strings.Repeat("x", 40) + id}
	}
	return set
}

func TestMergeBuildsIndex(t *testing.T) {
	raw := map[string]json.RawMessage{
		"follows/0": json.RawMessage(`{"A":{"url":"a"},"B":{"url":"b"}}`),
		"follows/1": json.RawMessage(`{"C":{"url":"c"}}`),
		"settings":  json.RawMessage(`{"mode-updates":"updatedAt"}`),
	}

	set, err := Merge[entry](raw, "follows")
	if err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}

	wantIndex := map[string]int{"A": 0, "B": 0, "C": 1}
	if !reflect.DeepEqual(set.Index, wantIndex) {
		t.Errorf("Expected index %v, got %v", wantIndex, set.Index)
	}
	if len(set.Items) != 3 || set.Items["C"].URL != "c" {
		t.Errorf("Unexpected items %v", set.Items)
	}
	if _, ok := set.Extra["settings"]; !ok {
		t.Error("Expected non-fragment key to pass through")
	}
}

func TestMergeDuplicateLowestFragmentWins(t *testing.T) {
	raw := map[string]json.RawMessage{
		"follows/2": json.RawMessage(`{"A":{"url":"from-2"}}`),
		"follows/0": json.RawMessage(`{"A":{"url":"from-0"}}`),
		"follows/1": json.RawMessage(`{"A":{"url":"from-1"}}`),
	}

	set, err := Merge[entry](raw, "follows")
	if err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}
	if set.Items["A"].URL != "from-0" || set.Index["A"] != 0 {
		t.Errorf("Expected fragment 0 to win, got %v at %d", set.Items["A"], set.Index["A"])
	}
}

func TestMergeSkipsCorruptFragment(t *testing.T) {
	raw := map[string]json.RawMessage{
		"follows/0": json.RawMessage(`not json`),
		"follows/1": json.RawMessage(`{"B":{"url":"b"}}`),
	}

	set, err := Merge[entry](raw, "follows")
	if err == nil {
		t.Error("Expected an error for the corrupt fragment")
	}
	if set.Items["B"].URL != "b" {
		t.Error("Expected intact fragment to still be merged")
	}
}

func TestSeparateRoundTrip(t *testing.T) {
	set := makeSet(30)
	want := make(map[string]entry, len(set.Items))
	for k, v := range set.Items {
		want[k] = v
	}

	store := newQuotaStore(512)
	if err := Separate(set, "follows", nil, store.save); err != nil {
		t.Fatalf("Failed to separate: %v", err)
	}

	if len(store.saved) < 2 {
		t.Fatalf("Expected the set to overflow into several fragments, got %d", len(store.saved))
	}
	for key, raw := range store.saved {
		if len(key)+len(raw) > store.quota {
			t.Errorf("Fragment %s is %d bytes, over quota", key, len(key)+len(raw))
		}
	}

	merged, err := Merge[entry](store.saved, "follows")
	if err != nil {
		t.Fatalf("Failed to merge: %v", err)
	}
	if !reflect.DeepEqual(merged.Items, want) {
		t.Error("Expected merge of separated fragments to reproduce the items")
	}
	if !reflect.DeepEqual(merged.Index, set.Index) {
		t.Errorf("Expected merged index to match the updated index")
	}

	// merging the merge again is idempotent
	if err := Separate(merged, "follows", nil, store.save); err != nil {
		t.Fatalf("Failed to separate again: %v", err)
	}
	again, _ := Merge[entry](store.saved, "follows")
	if !reflect.DeepEqual(again.Items, want) {
		t.Error("Expected second round trip to reproduce the items")
	}
}

func TestSeparateOnlyTouchesForcedFragments(t *testing.T) {
	set := NewSet[entry]()
	set.Items["A"] = entry{URL: "a"}
	set.Items["B"] = entry{URL: "b"}
	set.Index["A"] = 0
	set.Index["B"] = 1

	store := newQuotaStore(1024)
	if err := Separate(set, "follows", []string{"B"}, store.save); err != nil {
		t.Fatalf("Failed to separate: %v", err)
	}
	if !reflect.DeepEqual(store.calls, []string{"follows/1"}) {
		t.Errorf("Expected only follows/1 to be saved, got %v", store.calls)
	}
}

func TestSeparateNewIDsDefaultToFragmentZero(t *testing.T) {
	set := NewSet[entry]()
	set.Items["new"] = entry{URL: "n"}

	store := newQuotaStore(1024)
	if err := Separate(set, "follows", []string{"new"}, store.save); err != nil {
		t.Fatalf("Failed to separate: %v", err)
	}
	if n, ok := set.Index["new"]; !ok || n != 0 {
		t.Errorf("Expected new id in fragment 0, got %d (%v)", n, ok)
	}
}

func TestSeparateEvictsLastEntryAndRetries(t *testing.T) {
	set := makeSet(3)
	// room for two entries per fragment
	one, _ := json.Marshal(map[string]entry{"id-000": set.Items["id-000"]})
	store := newQuotaStore(len("follows/0") + 2*len(one))

	if err := Separate(set, "follows", nil, store.save); err != nil {
		t.Fatalf("Failed to separate: %v", err)
	}

	if set.Index["id-002"] != 1 {
		t.Errorf("Expected last id to move to fragment 1, got %d", set.Index["id-002"])
	}
	if set.Index["id-000"] != 0 || set.Index["id-001"] != 0 {
		t.Errorf("Expected first ids to stay in fragment 0, got %v", set.Index)
	}
	want := []string{"follows/0", "follows/0", "follows/1"}
	if !reflect.DeepEqual(store.calls, want) {
		t.Errorf("Expected save order %v, got %v", want, store.calls)
	}
}

func TestSeparateUnrecoverableQuota(t *testing.T) {
	set := makeSet(2)
	store := newQuotaStore(20)

	err := Separate(set, "follows", nil, store.save)
	var qerr *QuotaError
	if !errors.As(err, &qerr) {
		t.Fatalf("Expected a QuotaError, got %v", err)
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Error("Expected QuotaError to wrap ErrQuotaExceeded")
	}
}

func TestSeparateStopsOnOtherErrors(t *testing.T) {
	set := makeSet(2)
	boom := errors.New("disk on fire")
	calls := 0
	err := Separate(set, "follows", nil, func(string, map[string]entry) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected save error to propagate, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single save attempt, got %d", calls)
	}
}

func TestParseKey(t *testing.T) {
	if sk, n, ok := ParseKey("follows/12"); !ok || sk != "follows" || n != 12 {
		t.Errorf("Unexpected parse result %s %d %v", sk, n, ok)
	}
	if _, _, ok := ParseKey("follows/x"); ok {
		t.Error("Expected malformed fragment number to be rejected")
	}
	if _, _, ok := ParseKey("settings"); ok {
		t.Error("Expected plain key to be rejected")
	}
}
