package remote

import (
	"testing"

	imapPkg "github.com/emersion/go-imap/v2"
	"github.com/hkdb/mailsync/internal/uidset"
)

func TestFlagConversionRoundTrip(t *testing.T) {
	in := []imapPkg.Flag{imapPkg.FlagSeen, imapPkg.FlagFlagged}
	set := toFlagSet(in)
	if !set.Has(uidset.FlagSeen) || !set.Has(uidset.FlagFlagged) {
		t.Fatalf("toFlagSet missing expected flags: %v", set)
	}

	back := toIMAPFlags(set)
	if len(back) != 2 {
		t.Fatalf("toIMAPFlags: got %d flags, want 2", len(back))
	}
}

func TestFromIMAPFlagUnknownIgnored(t *testing.T) {
	_, ok := fromIMAPFlag(imapPkg.Flag("$CustomLabel"))
	if ok {
		t.Error("an unrecognized IMAP flag must not map to a tracked uidset.Flag")
	}
}
