package conntrack

import (
	"testing"

	"relaywatch/internal/relay"
)

// TestIndexRebuild ensures a rebuild replaces prior contents wholesale
// and groups entries sharing an address.
func TestIndexRebuild(t *testing.T) {
	ix := NewIndex()
	ix.Rebuild([]relay.ConsensusEntry{
		entry("old", "OLD1", "9.9.9.9", 9001),
	})
	ix.Rebuild([]relay.ConsensusEntry{
		entry("a", "AAAA", "1.2.3.4", 9001),
		entry("b", "BBBB", "5.6.7.8", 443),
		entry("c", "CCCC", "5.6.7.8", 9030),
	})

	if got := ix.Lookup("9.9.9.9"); got != nil {
		t.Fatalf("stale entry survived rebuild: %v", got)
	}
	if got := ix.Lookup("1.2.3.4"); len(got) != 1 || got[0].Fingerprint != "AAAA" {
		t.Fatalf("unexpected lookup result: %v", got)
	}
	if got := ix.Lookup("5.6.7.8"); len(got) != 2 {
		t.Fatalf("expected 2 candidates for shared address, got %v", got)
	}
}

// TestIndexInsertReplacesSamePort ensures an insert replaces the triple
// with a matching OR port at the same address rather than duplicating it.
func TestIndexInsertReplacesSamePort(t *testing.T) {
	ix := NewIndex()
	ix.Rebuild([]relay.ConsensusEntry{
		entry("a", "AAAA", "1.2.3.4", 9001),
		entry("b", "BBBB", "1.2.3.4", 9030),
	})

	ix.Insert(entry("a2", "A2A2", "1.2.3.4", 9001))

	got := ix.Lookup("1.2.3.4")
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after replacing insert, got %v", got)
	}
	var found bool
	for _, ep := range got {
		if ep.Port == 9001 {
			found = true
			if ep.Fingerprint != "A2A2" || ep.Nickname != "a2" {
				t.Fatalf("port 9001 triple not replaced: %+v", ep)
			}
		}
	}
	if !found {
		t.Fatal("port 9001 triple missing after insert")
	}
}

// TestIndexRemoveFingerprint ensures removal purges the fingerprint from
// every address and drops emptied addresses entirely.
func TestIndexRemoveFingerprint(t *testing.T) {
	ix := NewIndex()
	ix.Rebuild([]relay.ConsensusEntry{
		entry("a", "AAAA", "1.2.3.4", 9001),
		entry("a-alt", "AAAA", "5.6.7.8", 443),
		entry("b", "BBBB", "5.6.7.8", 9030),
	})

	ix.RemoveFingerprint("AAAA")

	if got := ix.Lookup("1.2.3.4"); got != nil {
		t.Fatalf("emptied address still listed: %v", got)
	}
	got := ix.Lookup("5.6.7.8")
	if len(got) != 1 || got[0].Fingerprint != "BBBB" {
		t.Fatalf("unexpected survivors: %v", got)
	}
}
