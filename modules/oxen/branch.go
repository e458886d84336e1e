// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import "github.com/oxen-ai/oxen-go/modules/ekind"

// CreateBranch creates name pointing at HEAD's current commit. A pure
// ref write.
func (r *Repository) CreateBranch(name string) error {
	if exists, err := r.Refs.Exists(name); err != nil {
		return err
	} else if exists {
		return ekind.New(ekind.AlreadyExists, "branch %q already exists", name)
	}
	head, err := r.Refs.ReadHEAD()
	if err != nil {
		return err
	}
	if head.CommitID == "" {
		return ekind.New(ekind.InvalidArgument, "cannot branch before the first commit")
	}
	return r.Refs.Set(name, head.CommitID)
}

// DeleteBranch refuses to remove the currently checked-out branch
// unless force is set.
func (r *Repository) DeleteBranch(name string, force bool) error {
	current, err := r.Refs.CurrentBranch()
	if err != nil {
		return err
	}
	if current == name && !force {
		return ekind.New(ekind.InvalidArgument, "cannot delete the currently checked-out branch %q without --force", name)
	}
	if exists, err := r.Refs.Exists(name); err != nil {
		return err
	} else if !exists {
		return ekind.New(ekind.NotFound, "branch %q", name)
	}
	return r.Refs.Delete(name)
}

// RenameBranch moves a branch ref.
func (r *Repository) RenameBranch(oldName, newName string) error {
	if exists, err := r.Refs.Exists(newName); err != nil {
		return err
	} else if exists {
		return ekind.New(ekind.AlreadyExists, "branch %q already exists", newName)
	}
	current, err := r.Refs.CurrentBranch()
	if err != nil {
		return err
	}
	if err := r.Refs.Rename(oldName, newName); err != nil {
		return err
	}
	if current == oldName {
		return r.Refs.SetHEADBranch(newName)
	}
	return nil
}

// ListBranches returns every local branch, name-ordered.
func (r *Repository) ListBranches() ([]Branch, error) {
	return r.Refs.List()
}

// ShowCurrent returns the checked-out branch name, or "" when detached.
func (r *Repository) ShowCurrent() (string, error) {
	return r.Refs.CurrentBranch()
}
