// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/oxen-ai/oxen-go/modules/ekind"
)

// TarGzipDir streams dir into a gzip-compressed tar archive, the
// framing used to upload/download a commit's entry database as a
// single request. klauspost/compress's gzip is a drop-in faster
// encoder/decoder than the standard library's.
func TarGzipDir(dir string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "tar %s", dir)
	}
	if err := tw.Close(); err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "close tar writer")
	}
	if err := gw.Close(); err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "close gzip writer")
	}
	return buf.Bytes(), nil
}

// UntarGzipTo extracts a gzip-tar stream into dir, used by pull (and
// the server's index upload) to materialize a commit's entry database.
func UntarGzipTo(r io.Reader, dir string) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return ekind.Wrap(ekind.Corrupt, err, "open gzip stream")
	}
	defer gr.Close()
	tr := tar.NewReader(gr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ekind.Wrap(ekind.Io, err, "create %s", dir)
	}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ekind.Wrap(ekind.Corrupt, err, "read tar entry")
		}
		dst := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return ekind.Wrap(ekind.Io, err, "create parent for %s", hdr.Name)
		}
		f, err := os.Create(dst)
		if err != nil {
			return ekind.Wrap(ekind.Io, err, "create %s", dst)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return ekind.Wrap(ekind.Io, err, "write %s", dst)
		}
		f.Close()
	}
}
