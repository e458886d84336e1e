// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || freebsd || netbsd

package oxen

import "syscall"

func mtimespec(st *syscall.Stat_t) (sec, nsec int64) {
	return st.Mtimespec.Sec, st.Mtimespec.Nsec
}
