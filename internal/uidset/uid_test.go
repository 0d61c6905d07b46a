package uidset

import "testing"

func TestProvisionalUIDIsStableForTheSameKey(t *testing.T) {
	a := ProvisionalUID("1700000000.M123P456.host,S=1234:2,S")
	b := ProvisionalUID("1700000000.M123P456.host,S=1234:2,S")
	if a != b {
		t.Errorf("ProvisionalUID not stable: %d != %d", a, b)
	}
}

func TestProvisionalUIDDiffersAcrossKeys(t *testing.T) {
	a := ProvisionalUID("key-one")
	b := ProvisionalUID("key-two")
	if a == b {
		t.Error("ProvisionalUID collided across distinct keys")
	}
}

func TestProvisionalUIDNeverCollidesWithARealIMAPUID(t *testing.T) {
	p := ProvisionalUID("some-maildir-key")
	if !p.IsProvisional() {
		t.Error("IsProvisional() = false for a value ProvisionalUID produced")
	}

	const maxRealUID UID = 1<<32 - 1
	if maxRealUID.IsProvisional() {
		t.Error("IsProvisional() = true for the largest possible real IMAP UID")
	}
}

func TestIsProvisionalFalseForOrdinaryUIDs(t *testing.T) {
	for _, u := range []UID{0, 1, 42, 1 << 32} {
		if u.IsProvisional() {
			t.Errorf("IsProvisional(%d) = true, want false", u)
		}
	}
}
