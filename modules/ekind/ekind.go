// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package ekind classifies every error the core surfaces into a small,
// stable set of kinds so the command layer can map failures to exit
// codes without string-matching messages.
package ekind

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classifications used across the
// object store, commit index, stager, merger, transfer engine and
// remote stager.
type Kind int

const (
	Unknown Kind = iota
	Io
	Corrupt
	NotFound
	AlreadyExists
	InvalidArgument
	SchemaMismatch
	MergeConflict
	RefConflict
	AuthFailed
	Network
	RemoteRepoNotFound
	RemoteBranchNotFound
	RemoteNotSet
	NotOnBranch
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case Corrupt:
		return "corrupt"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case InvalidArgument:
		return "invalid_argument"
	case SchemaMismatch:
		return "schema_mismatch"
	case MergeConflict:
		return "merge_conflict"
	case RefConflict:
		return "ref_conflict"
	case AuthFailed:
		return "auth_failed"
	case Network:
		return "network"
	case RemoteRepoNotFound:
		return "remote_repo_not_found"
	case RemoteBranchNotFound:
		return "remote_branch_not_found"
	case RemoteNotSet:
		return "remote_not_set"
	case NotOnBranch:
		return "not_on_branch"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a typed wrapper carrying a Kind alongside the usual message
// and cause chain. Composite operations (commit, push, merge) wrap
// their first concrete failure in an Error so the command layer can
// recover the Kind via errors.As.
type Error struct {
	K       Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.K, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.K, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no underlying cause.
func New(k Kind, format string, a ...any) error {
	return &Error{K: k, Message: fmt.Sprintf(format, a...)}
}

// Wrap attaches a Kind to an existing error, preserving it as the cause.
func Wrap(k Kind, cause error, format string, a ...any) error {
	if cause == nil {
		return New(k, format, a...)
	}
	return &Error{K: k, Message: fmt.Sprintf(format, a...), Cause: cause}
}

// Is reports whether err (or anything in its chain) carries kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.K == k
	}
	return false
}

// KindOf extracts the Kind from err, or Unknown if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.K
	}
	return Unknown
}
