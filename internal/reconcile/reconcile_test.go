package reconcile

import (
	"context"
	"fmt"
	"testing"

	"github.com/hkdb/mailsync/internal/folder"
	"github.com/hkdb/mailsync/internal/mbnames"
	"github.com/hkdb/mailsync/internal/uidset"
)

// fakeFolder is a minimal in-memory folder.Capability, scoped to this
// package so reconcile's own tests don't reach into internal/folder's
// unexported test fakes.
type fakeFolder struct {
	name        string
	sep         byte
	validity    uint64
	hasValidity bool
	isNew       bool
	bodies      map[uidset.UID][]byte
	flags       uidset.MessageList
	nextUID     uidset.UID
}

func newFakeFolder(name string, sep byte) *fakeFolder {
	return &fakeFolder{name: name, sep: sep, bodies: map[uidset.UID][]byte{}, flags: uidset.MessageList{}, nextUID: 1}
}

func (f *fakeFolder) VisibleName() string                      { return f.name }
func (f *fakeFolder) Separator() byte                           { return f.sep }
func (f *fakeFolder) CacheMessageList(ctx context.Context) error { return nil }
func (f *fakeFolder) MessageList() uidset.MessageList           { return f.flags }
func (f *fakeFolder) UIDValidity() (uint64, bool)               { return f.validity, f.hasValidity }
func (f *fakeFolder) SaveUIDValidity(ctx context.Context, v uint64) error {
	f.validity, f.hasValidity = v, true
	return nil
}
func (f *fakeFolder) IsUIDValidityOK(other folder.Capability) bool {
	if !f.hasValidity {
		return true
	}
	v, ok := other.UIDValidity()
	return ok && v == f.validity
}
func (f *fakeFolder) IsNewFolder() bool { return f.isNew }
func (f *fakeFolder) DeleteMessageList(ctx context.Context) error {
	f.flags = uidset.MessageList{}
	f.bodies = map[uidset.UID][]byte{}
	return nil
}
func (f *fakeFolder) Fetch(ctx context.Context, uid uidset.UID) ([]byte, uidset.FlagSet, error) {
	body, ok := f.bodies[uid]
	if !ok {
		return nil, nil, fmt.Errorf("fakeFolder %s: no such uid %d", f.name, uid)
	}
	return body, f.flags[uid].Clone(), nil
}
func (f *fakeFolder) Append(ctx context.Context, uid uidset.UID, flags uidset.FlagSet, body []byte) (uidset.UID, error) {
	assigned := uid
	if uid.IsProvisional() {
		assigned = f.nextUID
		f.nextUID++
	} else if uid >= f.nextUID {
		f.nextUID = uid + 1
	}
	f.bodies[assigned] = body
	f.flags[assigned] = flags.Clone()
	return assigned, nil
}
func (f *fakeFolder) Delete(ctx context.Context, uids []uidset.UID) error {
	for _, uid := range uids {
		delete(f.bodies, uid)
		delete(f.flags, uid)
	}
	return nil
}
func (f *fakeFolder) SetFlags(ctx context.Context, uid uidset.UID, added, removed uidset.FlagSet) error {
	cur, ok := f.flags[uid]
	if !ok {
		cur = uidset.FlagSet{}
	}
	cur = cur.Clone()
	for fl := range added {
		cur.Add(fl)
	}
	for fl := range removed {
		cur.Remove(fl)
	}
	f.flags[uid] = cur
	return nil
}
func (f *fakeFolder) Rekey(ctx context.Context, oldUID, newUID uidset.UID) error {
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
func (f *fakeFolder) Save(ctx context.Context) error { return nil }

// noopSink discards every UI event; reconcile tests only assert on the
// resulting folder state.
type noopSink struct{}

func (noopSink) Account(string)                              {}
func (noopSink) SyncingFolders(string)                        {}
func (noopSink) SyncingFolder(string, string)                 {}
func (noopSink) LoadMessageList(string, string, string)       {}
func (noopSink) MessageListLoaded(string, string, string, int) {}
func (noopSink) SyncingMessages(string, string, string, string) {}
func (noopSink) ValidityProblem(string, string)               {}
func (noopSink) Exception(string, string, error)               {}
func (noopSink) Terminate(string)                              {}
func (noopSink) GetPass(context.Context, string) (string, error) { return "", nil }
func (noopSink) Sleep(context.Context, int) int                { return 0 }

type fakeLocalRepo struct{ folders map[string]*fakeFolder }

func (r *fakeLocalRepo) Folder(name string) (folder.Capability, error) {
	f, ok := r.folders[name]
	if !ok {
		return nil, fmt.Errorf("fakeLocalRepo: no folder %s", name)
	}
	return f, nil
}

type fakeStatusRepo struct{ folders map[string]*fakeFolder }

func (r *fakeStatusRepo) Folder(name string) folder.Capability {
	f, ok := r.folders[name]
	if !ok {
		f = newFakeFolder(name, '.')
		f.isNew = true
		r.folders[name] = f
	}
	return f
}

func TestFolderReconcilesNewMessageBothWays(t *testing.T) {
	ctx := context.Background()

	remote := newFakeFolder("INBOX", '/')
	remote.hasValidity, remote.validity = true, 100

	local := newFakeFolder("INBOX", '/')
	// A status folder that already exists (e.g. from a prior sync of
	// other messages in this folder) so step 7's local->remote upload
	// pass runs; a brand-new status folder would defer the upload to a
	// later run, per the "only if a statusfolder is present" rule.
	statusRepo := &fakeStatusRepo{folders: map[string]*fakeFolder{"INBOX": newFakeFolder("INBOX", '.')}}

	// A message delivered locally before any sync has run.
	localUID := uidset.ProvisionalUID("1700000000.M1P1.host,S=10")
	local.bodies[localUID] = []byte("hello")
	local.flags[localUID] = uidset.NewFlagSet(uidset.FlagSeen)

	localRepo := &fakeLocalRepo{folders: map[string]*fakeFolder{"INBOX": local}}

	err := Folder(ctx, Params{
		Account:   "acct",
		Remote:    remote,
		LocalRepo: localRepo,
		StatusRepo: statusRepo,
		Sink:      noopSink{},
		Mailboxes: mbnames.NewCollector(),
		LocalSep:  '/',
		StatusSep: '.',
	})
	if err != nil {
		t.Fatalf("Folder: %v", err)
	}

	if len(remote.MessageList()) != 1 {
		t.Fatalf("expected the locally delivered message to reach remote, got %d messages", len(remote.MessageList()))
	}
	status := statusRepo.folders["INBOX"]
	if len(status.MessageList()) != 1 {
		t.Errorf("expected status to record 1 message, got %d", len(status.MessageList()))
	}
	if _, ok := local.MessageList()[localUID]; ok {
		t.Errorf("local must have rekeyed its provisional UID to the remote-assigned one")
	}
}

func TestFolderSkipsOnValidityMismatch(t *testing.T) {
	ctx := context.Background()

	remote := newFakeFolder("INBOX", '/')
	remote.hasValidity, remote.validity = true, 200

	local := newFakeFolder("INBOX", '/')
	local.hasValidity, local.validity = true, 111
	local.bodies[1] = []byte("x")
	local.flags[1] = uidset.NewFlagSet(uidset.FlagSeen)

	localRepo := &fakeLocalRepo{folders: map[string]*fakeFolder{"INBOX": local}}
	statusRepo := &fakeStatusRepo{folders: map[string]*fakeFolder{}}

	err := Folder(ctx, Params{
		Account:    "acct",
		Remote:     remote,
		LocalRepo:  localRepo,
		StatusRepo: statusRepo,
		Sink:       noopSink{},
		LocalSep:   '/',
		StatusSep:  '.',
	})
	if err == nil {
		t.Fatal("expected a ValidityProblem error")
	}
	var vp *ValidityProblem
	if !asValidityProblem(err, &vp) {
		t.Fatalf("expected *ValidityProblem, got %T: %v", err, err)
	}
}

func asValidityProblem(err error, out **ValidityProblem) bool {
	vp, ok := err.(*ValidityProblem)
	if ok {
		*out = vp
	}
	return ok
}

func TestFolderNewStatusFolderSkipsReverseDeletionPass(t *testing.T) {
	ctx := context.Background()

	remote := newFakeFolder("INBOX", '/')
	remote.hasValidity, remote.validity = true, 1

	local := newFakeFolder("INBOX", '/')
	// A message present locally and absent from remote: if the reverse
	// deletion pass ran against a brand-new status folder it would have
	// nothing to compare against; since the status folder starts new,
	// step 7 must be skipped and this message must survive untouched.
	local.bodies[1] = []byte("local only")
	local.flags[1] = uidset.NewFlagSet(uidset.FlagSeen)

	localRepo := &fakeLocalRepo{folders: map[string]*fakeFolder{"INBOX": local}}
	statusRepo := &fakeStatusRepo{folders: map[string]*fakeFolder{}}

	if err := Folder(ctx, Params{
		Account:    "acct",
		Remote:     remote,
		LocalRepo:  localRepo,
		StatusRepo: statusRepo,
		Sink:       noopSink{},
		LocalSep:   '/',
		StatusSep:  '.',
	}); err != nil {
		t.Fatalf("Folder: %v", err)
	}

	if _, ok := local.MessageList()[1]; !ok {
		t.Errorf("local-only message must survive when the status folder is new")
	}
}
