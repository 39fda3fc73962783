package conntrack

import (
	"errors"
	"reflect"
	"testing"
)

// TestClientSetMembers parses first hops out of a circuit status listing
// and serves the cached set until invalidated.
func TestClientSetMembers(t *testing.T) {
	client := newFakeClient()
	client.infos["circuit-status"] = "" +
		"1 BUILT guard1,middle,exit PURPOSE=GENERAL\n" +
		"2 BUILT $AAAA1111,middle2,exit2 PURPOSE=GENERAL\n" +
		"3 LAUNCHED\n" // too short, skipped

	cs := NewClientSet(client)
	want := []string{"guard1", "$AAAA1111"}
	if got := cs.Members(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Members = %v, want %v", got, want)
	}

	// The cached set is served even after the listing changes.
	client.infos["circuit-status"] = "9 BUILT other,relay PURPOSE=GENERAL"
	if got := cs.Members(); !reflect.DeepEqual(got, want) {
		t.Fatalf("cached Members = %v, want %v", got, want)
	}

	cs.Invalidate()
	want = []string{"other"}
	if got := cs.Members(); !reflect.DeepEqual(got, want) {
		t.Fatalf("recomputed Members = %v, want %v", got, want)
	}
}

// TestClientSetQueryFailure degrades to an empty set on a failed listing.
func TestClientSetQueryFailure(t *testing.T) {
	client := newFakeClient()
	client.infoErrs["circuit-status"] = errors.New("unavailable")

	cs := NewClientSet(client)
	if got := cs.Members(); len(got) != 0 {
		t.Fatalf("Members = %v, want empty", got)
	}
	// The empty set is cached; no retry until invalidation.
	calls := client.infoCalls["circuit-status"]
	cs.Members()
	if client.infoCalls["circuit-status"] != calls {
		t.Fatal("failed listing re-queried without invalidation")
	}
}

// TestClientSetMatches covers matching by nickname and by $fingerprint.
func TestClientSetMatches(t *testing.T) {
	client := newFakeClient()
	client.infos["circuit-status"] = "" +
		"1 BUILT guard1,middle PURPOSE=GENERAL\n" +
		"2 BUILT $AAAA1111,middle PURPOSE=GENERAL"
	cs := NewClientSet(client)

	tests := []struct {
		fingerprint string
		nickname    string
		want        bool
	}{
		{"BBBB2222", "guard1", true},
		{"AAAA1111", "whatever", true},
		{"CCCC3333", "middle", false},
		{"AAAA1111", "guard1", true},
		{Unknown, Unknown, false},
	}
	for _, tc := range tests {
		if got := cs.Matches(tc.fingerprint, tc.nickname); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v",
				tc.fingerprint, tc.nickname, got, tc.want)
		}
	}
}
