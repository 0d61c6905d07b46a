package account

import (
	"github.com/hkdb/mailsync/internal/folder"
	"github.com/hkdb/mailsync/internal/repository/local"
	"github.com/hkdb/mailsync/internal/repository/status"
)

// localRepo adapts *local.Repository's concretely-typed Folder method to
// the structural interface internal/reconcile.Params.LocalRepo expects.
// Go's interface satisfaction is exact on return types, so a method
// returning *local.Folder does not automatically satisfy one declared to
// return folder.Capability — this thin wrapper is the whole reason it
// exists.
type localRepo struct {
	repo *local.Repository
}

func (r localRepo) Folder(name string) (folder.Capability, error) {
	return r.repo.Folder(name)
}

// statusRepo adapts *status.Repository the same way.
type statusRepo struct {
	repo *status.Repository
}

func (r statusRepo) Folder(name string) folder.Capability {
	return r.repo.Folder(name)
}
