// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxhash"
)

// S3Backend stores blobs in an S3-compatible bucket instead of the
// local filesystem, selected by the [backend] table in config.toml
// (type = "s3" plus bucket/prefix/region). It implements the same
// Backend contract as FSBackend — the Object Store's hashing pipeline
// and dedup logic are unaware which one is in play.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend builds a backend from the ambient AWS credential chain
// (environment, shared config, or instance role); credentials resolve
// lazily on first use rather than being required at startup.
func NewS3Backend(ctx context.Context, bucket, prefix, region string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "load aws config")
	}
	return &S3Backend{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (b *S3Backend) key(h oxhash.Hash, commitID, ext string) string {
	name := commitID
	if ext != "" {
		name = commitID + "." + strings.TrimPrefix(ext, ".")
	}
	parts := []string{h.Prefix(), h.Rest(), name}
	if b.prefix != "" {
		parts = append([]string{b.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// objectPrefix is the key prefix shared by every version of a hash,
// regardless of which commit wrote it — used by Exists, which must
// answer "has any version of this hash been stored" without knowing
// which commit_id produced it.
func (b *S3Backend) objectPrefix(h oxhash.Hash) string {
	parts := []string{h.Prefix(), h.Rest()}
	if b.prefix != "" {
		parts = append([]string{b.prefix}, parts...)
	}
	return strings.Join(parts, "/") + "/"
}

func (b *S3Backend) Exists(ctx context.Context, h oxhash.Hash) (bool, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.bucket),
		Prefix:  aws.String(b.objectPrefix(h)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, ekind.Wrap(ekind.Network, err, "list s3 objects for %s", h)
	}
	return len(out.Contents) > 0, nil
}

func (b *S3Backend) Write(ctx context.Context, h oxhash.Hash, commitID, ext string, r io.Reader) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(h, commitID, ext)),
		Body:   r,
	})
	if err != nil {
		return ekind.Wrap(ekind.Network, err, "put s3 object for %s", h)
	}
	return nil
}

func (b *S3Backend) Open(ctx context.Context, h oxhash.Hash, commitID string) (io.ReadCloser, error) {
	key, err := b.resolveKey(ctx, h, commitID)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ekind.New(ekind.NotFound, "blob %s", h)
		}
		return nil, ekind.Wrap(ekind.Network, err, "get s3 object %s", key)
	}
	return out.Body, nil
}

func (b *S3Backend) Size(ctx context.Context, h oxhash.Hash, commitID string) (int64, error) {
	key, err := b.resolveKey(ctx, h, commitID)
	if err != nil {
		return 0, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, ekind.New(ekind.NotFound, "blob %s", h)
		}
		return 0, ekind.Wrap(ekind.Network, err, "head s3 object %s", key)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// resolveKey finds the exact stored key for hash, preferring commitID
// when it matches, else falling back to any sibling object under the
// hash prefix — identical content is shared across commit_ids.
func (b *S3Backend) resolveKey(ctx context.Context, h oxhash.Hash, commitID string) (string, error) {
	prefix := b.objectPrefix(h)
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return "", ekind.Wrap(ekind.Network, err, "list s3 objects for %s", h)
	}
	if len(out.Contents) == 0 {
		return "", ekind.New(ekind.NotFound, "blob %s", h)
	}
	if commitID != "" {
		want := prefix + commitID
		for _, obj := range out.Contents {
			if strings.HasPrefix(aws.ToString(obj.Key), want) {
				return aws.ToString(obj.Key), nil
			}
		}
	}
	return aws.ToString(out.Contents[0].Key), nil
}

// Ext recovers the preserved extension from the resolved object key.
func (b *S3Backend) Ext(ctx context.Context, h oxhash.Hash, commitID string) (string, error) {
	key, err := b.resolveKey(ctx, h, commitID)
	if err != nil {
		return "", err
	}
	base := key[strings.LastIndexByte(key, '/')+1:]
	if dot := strings.LastIndexByte(base, '.'); dot >= 0 {
		return base[dot+1:], nil
	}
	return "", nil
}

// isNotFound adapts the SDK's typed API errors to ekind.NotFound,
// mirroring how FSBackend maps os.IsNotExist.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (b *S3Backend) String() string { return fmt.Sprintf("s3-backend(%s/%s)", b.bucket, b.prefix) }
