// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package oxen

import "os"

// statMtime extracts (seconds, nanoseconds) from a FileInfo with
// nanosecond fidelity where the platform exposes it. The per-OS
// implementations live in mtime_unix.go / mtime_bsd.go /
// mtime_windows.go.
var statMtime = func(fi os.FileInfo) (sec int64, nsec int32) {
	t := fi.ModTime()
	return t.Unix(), int32(t.Nanosecond())
}

// Mtime returns path's on-disk modification time as (seconds,
// nanoseconds). Platforms lacking nanosecond mtime report 0 and pay a
// re-hash on every fast-path miss.
func Mtime(path string) (sec int64, nsec int32, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	sec, nsec = statMtime(fi)
	return sec, nsec, nil
}
