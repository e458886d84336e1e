// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package server is the HTTP face of a repository hub: the transfer
// endpoints (branches, commits, chunks, entries) the Transfer Engine
// speaks, plus the per-user remote staging surface. Routing is glue —
// every handler body delegates straight into modules/oxen,
// modules/transfer server helpers, or modules/remotestage.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "oxen.server")

// Config carries everything the server needs; Root is the directory
// holding <namespace>/<name> bare repositories.
type Config struct {
	Listen       string
	Root         string
	SigningKey   string // HS256 key for bearer tokens; empty disables auth
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	cfg Config
	hub *Hub
	r   *mux.Router
	srv *http.Server
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Root == "" {
		return nil, ekind.New(ekind.InvalidArgument, "server root directory is required")
	}
	s := &Server{
		cfg: cfg,
		hub: NewHub(cfg.Root),
		srv: &http.Server{
			Addr:         cfg.Listen,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
	s.initialize()
	return s, nil
}

func (s *Server) initialize() {
	r := mux.NewRouter().UseEncodedPath()
	repos := r.PathPrefix("/repositories/{namespace}/{repo}").Subrouter()

	// Transfer Engine surface.
	repos.HandleFunc("/branches", s.onRepo(s.ListBranches)).Methods("GET")
	repos.HandleFunc("/branches", s.onRepo(s.UpdateBranch)).Methods("POST")
	repos.HandleFunc("/branches/{branch}", s.onRepo(s.GetBranch)).Methods("GET")
	repos.HandleFunc("/commits", s.onRepo(s.PostCommit)).Methods("POST")
	repos.HandleFunc("/commits/negotiate", s.onRepo(s.Negotiate)).Methods("POST")
	repos.HandleFunc("/commits/{id}", s.onRepo(s.GetCommit)).Methods("GET")
	repos.HandleFunc("/commits/{id}/index/tarball", s.onRepo(s.UploadCommitIndex)).Methods("PUT")
	repos.HandleFunc("/commits/{id}/index/tarball", s.onRepo(s.DownloadCommitIndex)).Methods("GET")
	repos.HandleFunc("/blobs/{hash}", s.onRepo(s.BlobExists)).Methods("GET")
	repos.HandleFunc("/chunk", s.onRepo(s.PutChunk)).Methods("PUT")
	repos.HandleFunc("/chunk", s.onRepo(s.GetChunk)).Methods("GET")
	repos.HandleFunc("/entries/{hash}", s.onRepo(s.GetEntry)).Methods("GET")

	// Remote Stager surface, keyed by (branch, user identifier).
	staging := repos.PathPrefix("/staging/{user}").Subrouter()
	staging.HandleFunc("/status/{branch}", s.onRepo(s.StagingStatus)).Methods("GET")
	staging.HandleFunc("/file/{branch}/{dir:.*}", s.onRepo(s.StageFile)).Methods("POST")
	staging.HandleFunc("/file/{branch}/{path:.*}", s.onRepo(s.RmStagedFile)).Methods("DELETE")
	staging.HandleFunc("/df/{branch}/{path:.*}", s.onRepo(s.StageModification)).Methods("POST")
	staging.HandleFunc("/diff/{branch}/{path:.*}", s.onRepo(s.DiffStagedFile)).Methods("GET")
	staging.HandleFunc("/modifications/{branch}/{path:.*}", s.onRepo(s.DeleteStagedModification)).Methods("DELETE")
	staging.HandleFunc("/restore_df/{branch}/{path:.*}", s.onRepo(s.RestoreDF)).Methods("POST")
	staging.HandleFunc("/commit/{branch}", s.onRepo(s.CommitStaged)).Methods("POST")

	s.r = r
	s.srv.Handler = r
}

// ListenAndServe runs until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
	log.WithField("listen", s.cfg.Listen).Info("oxen server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler exposes the router, used by httptest-based tests.
func (s *Server) Handler() http.Handler { return s.r }

// Request bundles the mux vars, the resolved repository and the
// authenticated user for one request.
type Request struct {
	*http.Request
	Repo *RepoHandle
	User string
}

func (r *Request) Var(name string) string {
	return mux.Vars(r.Request)[name]
}

type handlerFunc func(http.ResponseWriter, *Request)

// onRepo authenticates the caller, refuses a {user} segment that is
// not the caller's identifier, resolves {namespace}/{repo} to a
// repository handle, and hands off.
func (s *Server) onRepo(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(r)
		if err != nil {
			renderError(w, err)
			return
		}
		vars := mux.Vars(r)
		if urlUser, ok := vars["user"]; ok && urlUser != user {
			renderError(w, ekind.New(ekind.AuthFailed, "token subject does not match staging identifier %q", urlUser))
			return
		}
		handle, err := s.hub.Open(vars["namespace"], vars["repo"], r.Method != http.MethodGet)
		if err != nil {
			renderError(w, err)
			return
		}
		defer handle.Release()
		fn(w, &Request{Request: r, Repo: handle, User: user})
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func renderError(w http.ResponseWriter, err error) {
	kind := ekind.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case ekind.NotFound, ekind.RemoteRepoNotFound, ekind.RemoteBranchNotFound:
		status = http.StatusNotFound
	case ekind.AlreadyExists:
		status = http.StatusConflict
	case ekind.InvalidArgument, ekind.SchemaMismatch:
		status = http.StatusBadRequest
	case ekind.AuthFailed:
		status = http.StatusUnauthorized
	case ekind.MergeConflict, ekind.RefConflict:
		status = http.StatusConflict
	}
	log.WithFields(logrus.Fields{"kind": kind.String(), "status": status}).Warn(err.Error())
	renderJSON(w, status, &errorBody{Error: kind.String(), Message: err.Error()})
}

func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return ekind.Wrap(ekind.InvalidArgument, err, "decode request body")
	}
	return nil
}
