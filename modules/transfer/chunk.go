// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"golang.org/x/sync/errgroup"
)

// Progress receives byte counts as a blob transfer makes headway; the
// CLI layer plugs an mpb bar in here (pkg/command), the core stays
// agnostic of how progress is displayed.
type Progress interface {
	Add(n int64)
}

type noopProgress struct{}

func (noopProgress) Add(int64) {}

// NoProgress is a Progress that discards updates.
var NoProgress Progress = noopProgress{}

// UploadBlob splits path into ~AvgChunkSize chunks and uploads each
// concurrently (bounded by host core count), acking independently so a
// failing chunk retries without restarting its siblings. Small files
// below one chunk are sent directly.
func (c *Client) UploadBlob(ctx context.Context, hash, commitID, ext, path string, prog Progress) error {
	fi, err := os.Stat(path)
	if err != nil {
		return ekind.Wrap(ekind.Io, err, "stat %s", path)
	}
	numChunks := int((fi.Size() + AvgChunkSize - 1) / AvgChunkSize)
	if numChunks <= 1 {
		data, err := os.ReadFile(path)
		if err != nil {
			return ekind.Wrap(ekind.Io, err, "read %s", path)
		}
		if err := c.uploadChunk(ctx, hash, commitID, ext, 0, 1, data); err != nil {
			return err
		}
		prog.Add(int64(len(data)))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < numChunks; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			f, err := os.Open(path)
			if err != nil {
				return ekind.Wrap(ekind.Io, err, "open %s", path)
			}
			defer f.Close()
			if _, err := f.Seek(int64(i)*AvgChunkSize, io.SeekStart); err != nil {
				return ekind.Wrap(ekind.Io, err, "seek chunk %d of %s", i, path)
			}
			buf := make([]byte, AvgChunkSize)
			n, err := io.ReadFull(f, buf)
			if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
				return ekind.Wrap(ekind.Io, err, "read chunk %d of %s", i, path)
			}
			if err := c.uploadChunk(gctx, hash, commitID, ext, i, numChunks, buf[:n]); err != nil {
				return err
			}
			prog.Add(int64(n))
			return nil
		})
	}
	return g.Wait()
}

func (c *Client) uploadChunk(ctx context.Context, hash, commitID, ext string, index, numChunks int, data []byte) error {
	subPath := fmt.Sprintf("chunk?hash=%s&index=%d&num_chunks=%d&ext=%s&commit_id=%s", hash, index, numChunks, ext, commitID)
	rc, err := c.doRaw(ctx, "PUT", subPath, "application/octet-stream", nil, data)
	if err != nil {
		return err
	}
	defer rc.Close()
	io.Copy(io.Discard, rc)
	return nil
}

// DownloadBlob is the inverse of UploadBlob: it requests numChunks
// chunks (discovered via a HEAD-equivalent metadata call embedded in
// the remote's /entries response) concurrently and writes each at its
// own offset in dst.
func (c *Client) DownloadBlob(ctx context.Context, hash, ext string, size int64, dst io.WriterAt, prog Progress) error {
	numChunks := int((size + AvgChunkSize - 1) / AvgChunkSize)
	if numChunks < 1 {
		numChunks = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < numChunks; i++ {
		i := i
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			subPath := fmt.Sprintf("chunk?hash=%s&index=%d&num_chunks=%d&ext=%s", hash, i, numChunks, ext)
			rc, err := c.doRaw(gctx, "GET", subPath, "", nil, nil)
			if err != nil {
				return err
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return ekind.Wrap(ekind.Network, err, "read chunk %d of %s", i, hash)
			}
			if _, err := dst.WriteAt(data, int64(i)*AvgChunkSize); err != nil {
				return ekind.Wrap(ekind.Io, err, "write chunk %d of %s", i, hash)
			}
			prog.Add(int64(len(data)))
			return nil
		})
	}
	return g.Wait()
}
