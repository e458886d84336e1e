// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || freebsd || netbsd

package oxen

import (
	"os"
	"syscall"
)

func init() {
	statMtime = func(fi os.FileInfo) (int64, int32) {
		if st, ok := fi.Sys().(*syscall.Stat_t); ok {
			sec, nsec := mtimespec(st)
			return sec, int32(nsec)
		}
		t := fi.ModTime()
		return t.Unix(), int32(t.Nanosecond())
	}
}
