// Package objectstore provides the HTTP client for the remote recording
// archive. It is a thin boundary: opaque keys in, byte streams out.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"cardiolink/internal/config"
	"cardiolink/internal/logging"
)

// ErrNotFound indicates the remote store has no object under the key.
var ErrNotFound = errors.New("object not found")

// ErrDisabled indicates the remote store is not configured.
var ErrDisabled = errors.New("remote object store disabled")

// ObjectInfo describes a stored object without fetching its bytes.
type ObjectInfo struct {
	Key  string
	Size int64
}

// Client reads and writes recording artifacts in the remote object store.
type Client struct {
	http   *resty.Client
	bucket string
	logger *slog.Logger
}

// New builds a Client from the remote configuration section. Returns
// ErrDisabled when the section is not enabled.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if !cfg.Remote.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	timeout := time.Duration(cfg.Remote.RequestTimeout) * time.Second
	httpClient := resty.New().
		SetBaseURL(cfg.Remote.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetAuthToken(cfg.Remote.APIToken).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		http:   httpClient,
		bucket: cfg.Remote.Bucket,
		logger: logging.NewComponentLogger(logger, "objectstore"),
	}, nil
}

func (c *Client) objectPath(key string) string {
	return "/" + path.Join("v1", "objects", c.bucket, key)
}

// Get fetches an object's bytes. Missing keys return ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(c.objectPath(key))
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}

	body := resp.RawBody()
	switch resp.StatusCode() {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		_ = body.Close()
		return nil, fmt.Errorf("get object %s: %w", key, ErrNotFound)
	default:
		_ = body.Close()
		return nil, fmt.Errorf("get object %s: unexpected status %d", key, resp.StatusCode())
	}
}

// Put uploads an object and returns the key it is stored under.
func (c *Client) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	// resty needs a replayable body for its retry pass.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object body: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(bytes.NewReader(data)).
		Put(c.objectPath(key))
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("put object %s: unexpected status %d", key, resp.StatusCode())
	}

	c.logger.Debug("object stored",
		logging.String("key", key),
		logging.Int("bytes", len(data)))
	return key, nil
}

// Stat checks an object's existence and size without fetching it.
func (c *Client) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Head(c.objectPath(key))
	if err != nil {
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		size, _ := strconv.ParseInt(resp.Header().Get("Content-Length"), 10, 64)
		return &ObjectInfo{Key: key, Size: size}, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("stat object %s: %w", key, ErrNotFound)
	default:
		return nil, fmt.Errorf("stat object %s: unexpected status %d", key, resp.StatusCode())
	}
}
