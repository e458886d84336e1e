// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import (
	"os"
	"path/filepath"

	"github.com/oxen-ai/oxen-go/modules/ekind"
)

// lockFile is the advisory single-writer lock that serializes all
// local mutating operations on a single repository. It is an
// exclusive-create file, the same idiom git uses for loose-ref and
// packed-refs locks.
type lockFile struct {
	path string
	fd   *os.File
}

func newLockFile(path string) *lockFile {
	return &lockFile{path: path}
}

// Acquire takes the lock, failing immediately (no blocking/retry) if
// another process already holds it — a held lock means a concurrent
// mutating operation is in flight, which is a programmer/usage error
// to retry automatically.
func (l *lockFile) Acquire() error {
	_ = os.MkdirAll(filepath.Dir(l.path), 0o755)
	fd, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ekind.New(ekind.Io, "repository is locked by another operation (%s)", l.path)
		}
		return ekind.Wrap(ekind.Io, err, "create lock %s", l.path)
	}
	l.fd = fd
	return nil
}

func (l *lockFile) Release() error {
	if l.fd == nil {
		return nil
	}
	_ = l.fd.Close()
	err := os.Remove(l.path)
	l.fd = nil
	if err != nil && !os.IsNotExist(err) {
		return ekind.Wrap(ekind.Io, err, "remove lock %s", l.path)
	}
	return nil
}
