// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"io"
	"os"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
)

// spoolToTemp copies r to a temp file so UploadBlob can chunk it by
// seeking, and returns a cleanup func removing the temp file.
func spoolToTemp(r io.Reader) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "oxen-blob-*")
	if err != nil {
		return "", nil, ekind.Wrap(ekind.Io, err, "create temp spool file")
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, ekind.Wrap(ekind.Io, err, "spool blob to temp file")
	}
	name := f.Name()
	f.Close()
	return name, func() { os.Remove(name) }, nil
}

func trimDot(ext string) string { return strings.TrimPrefix(ext, ".") }
