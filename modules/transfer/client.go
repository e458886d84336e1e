// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "oxen.transfer")

// Client is the HTTP client for one remote repository, scoped under
// /repositories/<namespace>/<name>/.
type Client struct {
	BaseURL string // e.g. https://hub.example.com/repositories/acme/cats-vs-dogs
	Token   string
	HTTP    *http.Client
}

// NewClient builds a Client with the default per-call timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) url(subPath string) string {
	return c.BaseURL + "/" + strings.TrimLeft(subPath, "/")
}

// doJSON sends a JSON request body (if non-nil) and decodes a JSON
// response into out (if non-nil), retrying the whole round trip up to
// NumHTTPRetries times with exponential backoff.
func (c *Client) doJSON(ctx context.Context, method, subPath string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return ekind.Wrap(ekind.InvalidArgument, err, "encode request body")
		}
		payload = b
	}
	return c.retry(ctx, func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.url(subPath), reader)
		if err != nil {
			return ekind.Wrap(ekind.InvalidArgument, err, "build request")
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		c.authorize(req)
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return ekind.Wrap(ekind.Network, err, "%s %s", method, subPath)
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return ekind.Wrap(ekind.Corrupt, err, "decode response from %s", subPath)
		}
		return nil
	})
}

// doRaw sends body as a raw byte stream, used for blob chunks and
// gzip-tarballs.
func (c *Client) doRaw(ctx context.Context, method, subPath string, contentType string, body io.Reader, bodyBytes []byte) (io.ReadCloser, error) {
	var result io.ReadCloser
	err := c.retry(ctx, func() error {
		var reader io.Reader = body
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.url(subPath), reader)
		if err != nil {
			return ekind.Wrap(ekind.InvalidArgument, err, "build request")
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		c.authorize(req)
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return ekind.Wrap(ekind.Network, err, "%s %s", method, subPath)
		}
		if err := checkStatus(resp); err != nil {
			resp.Body.Close()
			return err
		}
		result = resp.Body
		return nil
	})
	return result, err
}

// ListBranches fetches the remote's branch table, the call behind
// `ls remote`.
func (c *Client) ListBranches(ctx context.Context) ([]BranchInfo, error) {
	var out []BranchInfo
	if err := c.doJSON(ctx, "GET", "/branches", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBranch fetches one remote branch's tip.
func (c *Client) GetBranch(ctx context.Context, name string) (*BranchInfo, error) {
	var out BranchInfo
	if err := c.doJSON(ctx, "GET", "/branches/"+name, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ekind.New(ekind.AuthFailed, "remote returned %d", resp.StatusCode)
	case http.StatusNotFound:
		return ekind.New(ekind.RemoteRepoNotFound, "remote returned 404")
	}
	return ekind.New(ekind.Network, "remote returned status %d", resp.StatusCode)
}

// retry runs fn up to NumHTTPRetries times with exponential backoff,
// skipping retry for error kinds that will never succeed by retrying
// (AuthFailed, RemoteRepoNotFound). Each chunk upload/download gets its
// own independent retry budget.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < NumHTTPRetries; attempt++ {
		if ctx.Err() != nil {
			return ekind.Wrap(ekind.Cancelled, ctx.Err(), "transfer cancelled")
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ekind.Is(err, ekind.AuthFailed) || ekind.Is(err, ekind.RemoteRepoNotFound) {
			return err
		}
		if attempt == NumHTTPRetries-1 {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
		log.WithFields(logrus.Fields{"attempt": attempt + 1, "backoff": backoff}).Warn("retrying after transfer error")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ekind.Wrap(ekind.Cancelled, ctx.Err(), "transfer cancelled during backoff")
		}
	}
	return fmt.Errorf("oxen: exhausted %d retries: %w", NumHTTPRetries, lastErr)
}
