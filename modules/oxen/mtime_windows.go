// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package oxen

import (
	"os"
	"syscall"
)

func init() {
	statMtime = func(fi os.FileInfo) (int64, int32) {
		if st, ok := fi.Sys().(*syscall.Win32FileAttributeData); ok {
			ns := st.LastWriteTime.Nanoseconds()
			sec := ns / 1e9
			nsec := ns - sec*1e9
			return sec, int32(nsec)
		}
		t := fi.ModTime()
		return t.Unix(), int32(t.Nanosecond())
	}
}
