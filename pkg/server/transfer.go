// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
	"github.com/oxen-ai/oxen-go/modules/transfer"
)

// ListBranches serves `ls remote`.
func (s *Server) ListBranches(w http.ResponseWriter, r *Request) {
	branches, err := r.Repo.ListBranches()
	if err != nil {
		renderError(w, err)
		return
	}
	out := make([]transfer.BranchInfo, 0, len(branches))
	for _, b := range branches {
		out = append(out, transfer.BranchInfo{Name: b.Name, CommitID: b.CommitID})
	}
	renderJSON(w, http.StatusOK, out)
}

func (s *Server) GetBranch(w http.ResponseWriter, r *Request) {
	name := r.Var("branch")
	commitID, err := r.Repo.Refs.Get(name)
	if err != nil {
		if ekind.Is(err, ekind.NotFound) {
			renderError(w, ekind.New(ekind.RemoteBranchNotFound, "branch %q", name))
			return
		}
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, &transfer.BranchInfo{Name: name, CommitID: commitID})
}

// UpdateBranch advances the remote branch tip — the final step of a
// push. It refuses to point a branch at a commit whose entry database
// has not landed, preserving the invariant that a remote branch never
// references unresolvable content.
func (s *Server) UpdateBranch(w http.ResponseWriter, r *Request) {
	var req transfer.UpdateBranchRequest
	if err := decodeJSON(r.Request, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.Branch == "" || req.CommitID == "" {
		renderError(w, ekind.New(ekind.InvalidArgument, "branch and commit_id are required"))
		return
	}
	if _, err := os.Stat(r.Repo.Log.HistoryDBPath(req.CommitID)); err != nil {
		renderError(w, ekind.New(ekind.RefConflict, "commit %s has no entry database on this remote", req.CommitID))
		return
	}
	if err := r.Repo.Refs.Set(req.Branch, req.CommitID); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, &transfer.BranchInfo{Name: req.Branch, CommitID: req.CommitID})
}

// Negotiate reports, per candidate commit, whether this remote has its
// entry database and which entries' blobs are still missing — the
// entry-granularity resume contract the client's push consumes.
func (s *Server) Negotiate(w http.ResponseWriter, r *Request) {
	var req transfer.NegotiateRequest
	if err := decodeJSON(r.Request, &req); err != nil {
		renderError(w, err)
		return
	}
	resp := transfer.NegotiateResponse{Statuses: make([]transfer.CommitSyncStatus, 0, len(req.CandidateCommits))}
	for _, id := range req.CandidateCommits {
		st, err := s.commitSyncStatus(r, id)
		if err != nil {
			renderError(w, err)
			return
		}
		resp.Statuses = append(resp.Statuses, *st)
	}
	renderJSON(w, http.StatusOK, &resp)
}

// commitSyncStatus derives sync state from disk rather than a stored
// flag: the index exists iff its database file does, and a commit is
// synced iff every entry's blob is present. Crash-consistent for free.
func (s *Server) commitSyncStatus(r *Request, commitID string) (*transfer.CommitSyncStatus, error) {
	st := &transfer.CommitSyncStatus{CommitID: commitID}
	if _, err := os.Stat(r.Repo.Log.HistoryDBPath(commitID)); err != nil {
		return st, nil
	}
	st.HasIndex = true
	idx, err := r.Repo.Log.OpenIndex(commitID, true)
	if err != nil {
		return nil, err
	}
	defer idx.Close()
	entries, err := idx.ListAll()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		h, err := e.HashValue()
		if err != nil {
			return nil, ekind.Wrap(ekind.Corrupt, err, "entry hash for %s", e.Path)
		}
		exists, err := r.Repo.Objects.Exists(r.Context(), h)
		if err != nil {
			return nil, err
		}
		if !exists {
			st.MissingPaths = append(st.MissingPaths, e.Path)
		}
	}
	st.Synced = len(st.MissingPaths) == 0
	return st, nil
}

func (s *Server) GetCommit(w http.ResponseWriter, r *Request) {
	c, err := r.Repo.Log.Get(r.Var("id"))
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, c)
}

// UploadCommitIndex receives a commit's entry database as a gzip
// tarball and unpacks it under history/<id>/.
func (s *Server) UploadCommitIndex(w http.ResponseWriter, r *Request) {
	commitID := r.Var("id")
	if err := transfer.UntarGzipTo(r.Body, r.Repo.HistoryDir(commitID)); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, &transfer.UploadIndexResponse{CommitID: commitID, Synced: true})
}

// PostCommit records a pushed commit's metadata; re-posting a known
// commit is an ack no-op since commit records are immutable.
func (s *Server) PostCommit(w http.ResponseWriter, r *Request) {
	var c oxen.Commit
	if err := decodeJSON(r.Request, &c); err != nil {
		renderError(w, err)
		return
	}
	if c.ID == "" {
		renderError(w, ekind.New(ekind.InvalidArgument, "commit id is required"))
		return
	}
	if err := r.Repo.Log.Append(&c); err != nil && !ekind.Is(err, ekind.AlreadyExists) {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, &c)
}

func (s *Server) DownloadCommitIndex(w http.ResponseWriter, r *Request) {
	commitID := r.Var("id")
	if _, err := os.Stat(r.Repo.Log.HistoryDBPath(commitID)); err != nil {
		renderError(w, ekind.New(ekind.NotFound, "commit %s has no entry database", commitID))
		return
	}
	data, err := transfer.TarGzipDir(r.Repo.HistoryDir(commitID))
	if err != nil {
		renderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) BlobExists(w http.ResponseWriter, r *Request) {
	h, err := oxhash.Parse(r.Var("hash"))
	if err != nil {
		renderError(w, ekind.Wrap(ekind.InvalidArgument, err, "parse hash"))
		return
	}
	exists, err := r.Repo.Objects.Exists(r.Context(), h)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// GetEntry returns the resource metadata for a blob: its size and the
// preserved extension clients dispatch on before downloading.
func (s *Server) GetEntry(w http.ResponseWriter, r *Request) {
	h, err := oxhash.Parse(r.Var("hash"))
	if err != nil {
		renderError(w, ekind.Wrap(ekind.InvalidArgument, err, "parse hash"))
		return
	}
	size, err := r.Repo.Objects.Size(r.Context(), h, "")
	if err != nil {
		renderError(w, err)
		return
	}
	ext, err := r.Repo.Objects.Ext(r.Context(), h, "")
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, &transfer.EntryResource{Hash: h.String(), Size: size, DataType: ext})
}

type chunkParams struct {
	hash      oxhash.Hash
	index     int
	numChunks int
	ext       string
	commitID  string
}

func parseChunkParams(r *Request) (*chunkParams, error) {
	q := r.URL.Query()
	h, err := oxhash.Parse(q.Get("hash"))
	if err != nil {
		return nil, ekind.Wrap(ekind.InvalidArgument, err, "parse chunk hash")
	}
	index, err := strconv.Atoi(q.Get("index"))
	if err != nil || index < 0 {
		return nil, ekind.New(ekind.InvalidArgument, "chunk index %q", q.Get("index"))
	}
	numChunks, err := strconv.Atoi(q.Get("num_chunks"))
	if err != nil || numChunks < 1 || index >= numChunks {
		return nil, ekind.New(ekind.InvalidArgument, "chunk count %q", q.Get("num_chunks"))
	}
	return &chunkParams{
		hash:      h,
		index:     index,
		numChunks: numChunks,
		ext:       q.Get("ext"),
		commitID:  q.Get("commit_id"),
	}, nil
}

func (s *Server) chunkDir(r *Request, h oxhash.Hash) string {
	return filepath.Join(r.Repo.Control, "cache", "chunks", h.String())
}

// PutChunk lands one chunk of a blob upload in the chunk spool. Once
// every sibling is present the blob is assembled, verified against
// its declared hash, and finalized into the Object Store; the spool is
// then discarded. Re-uploading an already-finalized chunk is an ack
// no-op, which is what makes interrupted pushes resume cheaply.
func (s *Server) PutChunk(w http.ResponseWriter, r *Request) {
	p, err := parseChunkParams(r)
	if err != nil {
		renderError(w, err)
		return
	}
	if exists, err := r.Repo.Objects.Exists(r.Context(), p.hash); err != nil {
		renderError(w, err)
		return
	} else if exists {
		io.Copy(io.Discard, r.Body)
		renderJSON(w, http.StatusOK, &transfer.ChunkAck{Hash: p.hash.String(), ChunkIndex: p.index, Acked: true})
		return
	}

	dir := s.chunkDir(r, p.hash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		renderError(w, ekind.Wrap(ekind.Io, err, "create chunk dir"))
		return
	}
	dst := filepath.Join(dir, fmt.Sprintf("%06d.part", p.index))
	f, err := os.Create(dst)
	if err != nil {
		renderError(w, ekind.Wrap(ekind.Io, err, "create chunk file"))
		return
	}
	if _, err := io.Copy(f, r.Body); err != nil {
		f.Close()
		os.Remove(dst)
		renderError(w, ekind.Wrap(ekind.Io, err, "write chunk"))
		return
	}
	if err := f.Close(); err != nil {
		renderError(w, ekind.Wrap(ekind.Io, err, "close chunk"))
		return
	}

	if err := s.maybeAssemble(r, p); err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, &transfer.ChunkAck{Hash: p.hash.String(), ChunkIndex: p.index, Acked: true})
}

// maybeAssemble finalizes the blob when all chunks have landed.
func (s *Server) maybeAssemble(r *Request, p *chunkParams) error {
	dir := s.chunkDir(r, p.hash)
	parts, err := os.ReadDir(dir)
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "list chunk dir")
	}
	if len(parts) < p.numChunks {
		return nil
	}
	names := make([]string, 0, len(parts))
	for _, e := range parts {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	readers := make([]io.Reader, 0, len(names))
	files := make([]*os.File, 0, len(names))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return ekind.Wrap(ekind.Io, err, "open chunk %s", name)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	spool, err := os.CreateTemp(filepath.Dir(dir), ".assemble-*")
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "create assembly spool")
	}
	defer os.Remove(spool.Name())
	defer spool.Close()
	if _, err := io.Copy(spool, io.MultiReader(readers...)); err != nil {
		return ekind.Wrap(ekind.Io, err, "assemble blob %s", p.hash)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return ekind.Wrap(ekind.Io, err, "rewind assembly spool")
	}
	got, err := oxhash.Reader(spool)
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "hash assembled blob")
	}
	if got != p.hash {
		_ = os.RemoveAll(dir)
		return ekind.New(ekind.Corrupt, "assembled blob hashes to %s, client declared %s", got, p.hash)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return ekind.Wrap(ekind.Io, err, "rewind assembly spool")
	}
	if err := r.Repo.Objects.WriteKnownHash(r.Context(), p.hash, p.commitID, p.ext, spool); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// GetChunk serves one ~4 MiB slice of a stored blob.
func (s *Server) GetChunk(w http.ResponseWriter, r *Request) {
	p, err := parseChunkParams(r)
	if err != nil {
		renderError(w, err)
		return
	}
	rc, err := r.Repo.Objects.Open(r.Context(), p.hash, p.commitID)
	if err != nil {
		renderError(w, err)
		return
	}
	defer rc.Close()
	offset := int64(p.index) * transfer.AvgChunkSize
	if _, err := io.CopyN(io.Discard, rc, offset); err != nil && err != io.EOF {
		renderError(w, ekind.Wrap(ekind.Io, err, "seek chunk %d of %s", p.index, p.hash))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.CopyN(w, rc, transfer.AvgChunkSize); err != nil && err != io.EOF {
		log.WithField("hash", p.hash.String()).Warn("chunk download interrupted")
	}
}
