package roster

import (
	"strings"
	"testing"

	"github.com/DoyleJ11/coop-session-server/internal/types"
)

func TestAllReady(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
		want    bool
	}{
		{name: "empty roster is never ready", entries: nil, want: false},
		{name: "single ready host", entries: []Entry{{ClientID: 1, PlayerName: "Host", IsReady: true}}, want: true},
		{
			name: "one unready blocks start",
			entries: []Entry{
				{ClientID: 1, IsReady: true},
				{ClientID: 2, IsReady: false},
				{ClientID: 3, IsReady: true},
			},
			want: false,
		},
		{
			name: "everyone ready",
			entries: []Entry{
				{ClientID: 1, IsReady: true},
				{ClientID: 2, IsReady: true},
			},
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			for _, e := range tc.entries {
				r.Submit(e.ClientID, e.PlayerName, e.IsReady, e.CharacterIndex)
			}
			if got := r.AllReady(); got != tc.want {
				t.Fatalf("AllReady: got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAllReady_ToggleOffAfterAllReady(t *testing.T) {
	r := New()
	r.Submit(1, "a", true, 0)
	r.Submit(2, "b", true, 0)
	if !r.AllReady() {
		t.Fatalf("expected all ready")
	}
	if !r.SetReady(2, false) {
		t.Fatalf("SetReady on present client should report true")
	}
	if r.AllReady() {
		t.Fatalf("expected not all ready after toggling client 2 off")
	}
}

func TestSubmit_UpsertsInPlace(t *testing.T) {
	r := New()
	r.Submit(1, "first", false, 0)
	r.Submit(2, "second", false, 1)
	r.Submit(1, "renamed", true, 3)

	if r.Len() != 2 {
		t.Fatalf("want 2 entries, got %d", r.Len())
	}
	got := r.Entries()
	if got[0].ClientID != 1 || got[0].PlayerName != "renamed" || !got[0].IsReady || got[0].CharacterIndex != 3 {
		t.Fatalf("resubmission should overwrite slot 0 in place, got %+v", got[0])
	}
	if got[1].ClientID != 2 {
		t.Fatalf("order changed: %+v", got)
	}
}

func TestSetReady_AbsentClientIsNoop(t *testing.T) {
	r := New()
	r.Submit(1, "a", false, 0)
	if r.SetReady(99, true) {
		t.Fatalf("SetReady for absent client should report false")
	}
	if r.Len() != 1 {
		t.Fatalf("SetReady must not insert, len=%d", r.Len())
	}
}

func TestRemove_KeepsOrderOfOthers(t *testing.T) {
	r := New()
	for id := types.ClientID(1); id <= 4; id++ {
		r.Submit(id, "p", true, 0)
	}
	if !r.Remove(2) {
		t.Fatalf("remove existing should report true")
	}
	if r.Remove(2) {
		t.Fatalf("second remove should report false")
	}
	var ids []types.ClientID
	for _, e := range r.Entries() {
		ids = append(ids, e.ClientID)
	}
	want := []types.ClientID{1, 3, 4}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}

func TestSnapshot_IsDetachedFromLiveRoster(t *testing.T) {
	r := New()
	r.Submit(1, "Host", true, 0)
	snap := r.Snapshot()

	r.Clear()
	r.Submit(2, "late", true, 0)

	if snap.Len() != 1 || snap.At(0).ClientID != 1 {
		t.Fatalf("snapshot changed with live roster: %+v", snap.Entries())
	}
	if snap.IndexOf(2) != -1 {
		t.Fatalf("snapshot should not contain client 2")
	}
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "trims whitespace", in: "  Solaire  ", want: "Solaire"},
		{name: "composes accents", in: "Cafe\u0301", want: "Caf\u00e9"},
		{name: "truncates ascii", in: strings.Repeat("a", 80), want: strings.Repeat("a", MaxNameBytes)},
		{name: "never splits a rune", in: strings.Repeat("a", 63) + "é", want: strings.Repeat("a", 63)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeName(tc.in); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
