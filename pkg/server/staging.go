// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/remotestage"
)

// stagerFor binds the request's (branch, user) staging area. The user
// identifier in the URL must match the authenticated caller — one
// user cannot read or commit another's staging area.
func (s *Server) stagerFor(r *Request) (*remotestage.Stager, error) {
	urlUser := r.Var("user")
	if urlUser != r.User {
		return nil, ekind.New(ekind.AuthFailed, "token subject does not match staging identifier %q", urlUser)
	}
	branch := r.Var("branch")
	if branch == "" {
		return nil, ekind.New(ekind.InvalidArgument, "branch is required")
	}
	return remotestage.New(r.Repo.Repository, branch, r.User), nil
}

func (s *Server) StagingStatus(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	data, err := stager.Status(q.Get("dir"), page, size)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, data)
}

// StageFile accepts one or more multipart file uploads into the
// per-user staging directory; add_file and add_files are the same
// handler, the client just attaches more parts.
func (s *Server) StageFile(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	dir := r.Var("dir")
	mr, err := r.MultipartReader()
	if err != nil {
		renderError(w, ekind.Wrap(ekind.InvalidArgument, err, "parse multipart body"))
		return
	}
	var staged []*remotestage.StagedFile
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			renderError(w, ekind.Wrap(ekind.InvalidArgument, err, "read multipart part"))
			return
		}
		if part.FileName() == "" {
			continue
		}
		sf, err := stager.AddFile(dir, part.FileName(), part)
		part.Close()
		if err != nil {
			renderError(w, err)
			return
		}
		staged = append(staged, sf)
	}
	if len(staged) == 0 {
		renderError(w, ekind.New(ekind.InvalidArgument, "no file parts in upload"))
		return
	}
	renderJSON(w, http.StatusOK, staged)
}

func (s *Server) RmStagedFile(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	if err := stager.RmStagedFile(r.Var("path")); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"removed": r.Var("path")})
}

// StageModification appends one row to a tracked tabular file. The
// body is the row payload; Content-Type selects the parser; the row's
// schema must equal the file's schema or the call fails with
// schema_mismatch.
func (s *Server) StageModification(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		renderError(w, ekind.Wrap(ekind.Io, err, "read row payload"))
		return
	}
	modType := remotestage.ModType(r.URL.Query().Get("mod_type"))
	mod, err := stager.StageModification(r.Context(), r.Var("path"), data, r.Header.Get("Content-Type"), modType)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, mod)
}

// DiffStagedFile returns the appended rows for a path as a table.
func (s *Server) DiffStagedFile(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	t, err := stager.DiffStaged(r.Context(), r.Var("path"))
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, t)
}

func (s *Server) DeleteStagedModification(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	id := r.URL.Query().Get("uuid")
	if id == "" {
		renderError(w, ekind.New(ekind.InvalidArgument, "uuid query parameter is required"))
		return
	}
	if err := stager.DeleteMod(r.Var("path"), id); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

// RestoreDF drops every appended row for a path.
func (s *Server) RestoreDF(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	if err := stager.RestoreDF(r.Var("path")); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]string{"restored": r.Var("path")})
}

// CommitStaged atomically merges the caller's staging area into the
// branch and returns the new commit.
func (s *Server) CommitStaged(w http.ResponseWriter, r *Request) {
	stager, err := s.stagerFor(r)
	if err != nil {
		renderError(w, err)
		return
	}
	var body remotestage.CommitBody
	if err := decodeJSON(r.Request, &body); err != nil {
		renderError(w, err)
		return
	}
	commit, err := stager.CommitStaged(r.Context(), &body)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, commit)
}
