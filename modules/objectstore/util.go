// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"bytes"
	"io"
	"os"
)

func openFile(path string) (*os.File, error) {
	return os.Open(path)
}

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}
