// Package cache implements a local disk-backed read-through cache in front
// of a remote blob store, so that repeated materialization of the same
// digest across actions (or across a retried build) doesn't re-fetch bytes
// that are already sitting on this machine.
package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"

	"github.com/please-build/rexec/src/cli/logging"
)

var log = logging.Log

// Reader is the subset of remote.BlobStore the cache needs to fall back to
// on a miss. It is declared locally, rather than importing the remote
// package, to keep this package usable without a dependency cycle (the
// remote package may itself choose to wrap a Client with this cache).
type Reader interface {
	ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error)
}

// Client is a read-through cache: a digest is served from dir if present,
// otherwise fetched from the wrapped Reader and written back for next time.
type Client struct {
	dir    string
	client Reader
}

// New returns a cache rooted at dir, backed by client for misses.
func New(client Reader, dir string) *Client {
	return &Client{dir: dir, client: client}
}

// ReadBlob implements Reader (and, transitively, remote.BlobStore's read
// method), checking the local cache before falling back to the wrapped
// store.
func (c *Client) ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error) {
	// A zero-size digest is the content hash of the empty string; there is
	// nothing to cache or fetch.
	if d.Size == 0 {
		return nil, nil
	}

	if bs := c.read(d); bs != nil {
		return bs, nil
	}

	bs, err := c.client.ReadBlob(ctx, d)
	if err != nil {
		return nil, err
	}
	if err := c.store(d, bs); err != nil {
		log.Warning("failed to store blob in local CAS cache: %v", err)
	}
	return bs, nil
}

func (c *Client) read(d digest.Digest) []byte {
	path := c.pathForDigest(d)
	if _, err := os.Lstat(path); err != nil {
		return nil
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return bs
}

func (c *Client) store(d digest.Digest, bs []byte) error {
	path := c.pathForDigest(d)
	if err := os.MkdirAll(filepath.Dir(path), os.ModeDir|0775); err != nil {
		return err
	}
	return os.WriteFile(path, bs, 0644)
}

func (c *Client) pathForDigest(d digest.Digest) string {
	return filepath.Join(c.dir, d.Hash[:2], d.Hash)
}
