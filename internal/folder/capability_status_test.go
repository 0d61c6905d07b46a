package folder_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/hkdb/mailsync/internal/folder"
	"github.com/hkdb/mailsync/internal/repository/status"
	"github.com/hkdb/mailsync/internal/uidset"
)

// fakeLocal and fakeRemote are minimal folder.Capability fakes used only to
// exercise SyncMessagesTo against a *real* status.Folder: status's Append
// never reassigns a UID, which is exactly the
// condition the dest-rekey regression below depends on.
type fakeLocal struct {
	bodies map[uidset.UID][]byte
	flags  uidset.MessageList
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{bodies: map[uidset.UID][]byte{}, flags: uidset.MessageList{}}
}

func (f *fakeLocal) VisibleName() string { return "INBOX" }
func (f *fakeLocal) Separator() byte     { return '/' }

func (f *fakeLocal) CacheMessageList(ctx context.Context) error { return nil }
func (f *fakeLocal) MessageList() uidset.MessageList            { return f.flags }

func (f *fakeLocal) UIDValidity() (uint64, bool)                      { return 0, false }
func (f *fakeLocal) SaveUIDValidity(ctx context.Context, v uint64) error { return nil }
func (f *fakeLocal) IsUIDValidityOK(other folder.Capability) bool     { return true }

func (f *fakeLocal) IsNewFolder() bool                            { return false }
func (f *fakeLocal) DeleteMessageList(ctx context.Context) error { return nil }

func (f *fakeLocal) Fetch(ctx context.Context, uid uidset.UID) ([]byte, uidset.FlagSet, error) {
	body, ok := f.bodies[uid]
	if !ok {
		return nil, nil, fmt.Errorf("fakeLocal: no such uid %d", uid)
	}
	return body, f.flags[uid].Clone(), nil
}

func (f *fakeLocal) Append(ctx context.Context, uid uidset.UID, flags uidset.FlagSet, body []byte) (uidset.UID, error) {
	f.bodies[uid] = body
	f.flags[uid] = flags.Clone()
	return uid, nil
}

func (f *fakeLocal) Delete(ctx context.Context, uids []uidset.UID) error {
	for _, uid := range uids {
		delete(f.bodies, uid)
		delete(f.flags, uid)
	}
	return nil
}

func (f *fakeLocal) SetFlags(ctx context.Context, uid uidset.UID, added, removed uidset.FlagSet) error {
	return nil
}

func (f *fakeLocal) Rekey(ctx context.Context, oldUID, newUID uidset.UID) error {
	if oldUID == newUID {
		return nil
	}
	if body, ok := f.bodies[oldUID]; ok {
		f.bodies[newUID] = body
		delete(f.bodies, oldUID)
	}
	if flags, ok := f.flags[oldUID]; ok {
		f.flags[newUID] = flags
		delete(f.flags, oldUID)
	}
	return nil
}

func (f *fakeLocal) Save(ctx context.Context) error { return nil }

// fakeRemote assigns a fresh real UID to any provisional UID it is handed,
// the way the live IMAP server does on APPEND.
type fakeRemote struct {
	flags   uidset.MessageList
	nextUID uidset.UID
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{flags: uidset.MessageList{}, nextUID: 1}
}

func (f *fakeRemote) VisibleName() string { return "INBOX" }
func (f *fakeRemote) Separator() byte     { return '/' }

func (f *fakeRemote) CacheMessageList(ctx context.Context) error { return nil }
func (f *fakeRemote) MessageList() uidset.MessageList            { return f.flags }

func (f *fakeRemote) UIDValidity() (uint64, bool)                      { return 0, false }
func (f *fakeRemote) SaveUIDValidity(ctx context.Context, v uint64) error { return nil }
func (f *fakeRemote) IsUIDValidityOK(other folder.Capability) bool     { return true }

func (f *fakeRemote) IsNewFolder() bool                            { return false }
func (f *fakeRemote) DeleteMessageList(ctx context.Context) error { return nil }

func (f *fakeRemote) Fetch(ctx context.Context, uid uidset.UID) ([]byte, uidset.FlagSet, error) {
	return nil, nil, fmt.Errorf("fakeRemote: fetch not supported")
}

func (f *fakeRemote) Append(ctx context.Context, uid uidset.UID, flags uidset.FlagSet, body []byte) (uidset.UID, error) {
	assigned := uid
	if uid.IsProvisional() {
		assigned = f.nextUID
		f.nextUID++
	} else if uid >= f.nextUID {
		f.nextUID = uid + 1
	}
	f.flags[assigned] = flags.Clone()
	return assigned, nil
}

func (f *fakeRemote) Delete(ctx context.Context, uids []uidset.UID) error {
	for _, uid := range uids {
		delete(f.flags, uid)
	}
	return nil
}

func (f *fakeRemote) SetFlags(ctx context.Context, uid uidset.UID, added, removed uidset.FlagSet) error {
	return nil
}

func (f *fakeRemote) Rekey(ctx context.Context, oldUID, newUID uidset.UID) error { return nil }
func (f *fakeRemote) Save(ctx context.Context) error                            { return nil }

// TestSyncMessagesToRekeysStatusAfterRemoteAssignsRealUID reproduces
// reconcile.go step 7's exact call shape: self=local, dest=status,
// alsoUpdate=[remote, status]. Status's own Append always echoes the UID
// it is given, so it is never recorded as needing a rekey by its own
// return value alone; it only needs one because a later Append in the
// same chain (remote) reassigns the UID. If status is left holding both
// the stale provisional entry and the new real-UID entry, §8 invariant 1
// (status/local/remote message lists agree) breaks.
func TestSyncMessagesToRekeysStatusAfterRemoteAssignsRealUID(t *testing.T) {
	ctx := context.Background()

	local := newFakeLocal()
	remote := newFakeRemote()
	statusRepo := status.NewRepository(t.TempDir(), '/')
	statusFolder := statusRepo.Folder("INBOX")
	if err := statusFolder.CacheMessageList(ctx); err != nil {
		t.Fatalf("CacheMessageList: %v", err)
	}

	provisional := uidset.ProvisionalUID("1700000000.M1P1.host,S=10")
	local.bodies[provisional] = []byte("hello")
	local.flags[provisional] = uidset.NewFlagSet(uidset.FlagSeen)

	if err := folder.SyncMessagesTo(ctx, local, statusFolder, remote, statusFolder); err != nil {
		t.Fatalf("SyncMessagesTo: %v", err)
	}

	statusList := statusFolder.MessageList()
	if len(statusList) != 1 {
		t.Fatalf("status message list = %d entries, want exactly 1 (got %v)", len(statusList), statusList)
	}
	for uid := range statusList {
		if uid.IsProvisional() {
			t.Errorf("status still holds the stale provisional UID %d", uid)
		}
		if uid == provisional {
			t.Errorf("status was not rekeyed off the provisional UID")
		}
	}
}
