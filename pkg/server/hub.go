// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
)

// Hub maps (namespace, name) onto bare repositories under a root
// directory. A repository is created lazily on the first mutating
// request, which is what makes pushing into a brand-new remote work
// without a separate create call.
type Hub struct {
	root string
}

func NewHub(root string) *Hub {
	return &Hub{root: root}
}

// RepoHandle is one opened repository bound to a request.
type RepoHandle struct {
	*oxen.Repository
	Namespace string
	Name      string
}

// Release is a seam for future per-request resource cleanup; the
// repository value itself holds no open file handles between calls.
func (h *RepoHandle) Release() {}

func validSegment(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\") && s != "." && s != ".."
}

// Open resolves namespace/name, initializing the repository on first
// mutating access when it does not exist yet.
func (h *Hub) Open(namespace, name string, createIfMissing bool) (*RepoHandle, error) {
	if !validSegment(namespace) || !validSegment(name) {
		return nil, ekind.New(ekind.InvalidArgument, "invalid repository path %q/%q", namespace, name)
	}
	dir := filepath.Join(h.root, namespace, name)
	repo, err := oxen.Open(dir)
	if err != nil {
		if !ekind.Is(err, ekind.NotFound) {
			return nil, err
		}
		if !createIfMissing {
			return nil, ekind.New(ekind.RemoteRepoNotFound, "repository %s/%s", namespace, name)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ekind.Wrap(ekind.Io, err, "create repository dir %s", dir)
		}
		repo, err = oxen.Init(dir, name)
		if err != nil {
			return nil, err
		}
		log.WithField("repo", namespace+"/"+name).Info("created repository on first push")
	}
	return &RepoHandle{Repository: repo, Namespace: namespace, Name: name}, nil
}
