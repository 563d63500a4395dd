package remote

import (
	"context"
	"io"
	"os"
	"sync/atomic"

	"github.com/bazelbuild/remote-apis-sdks/go/pkg/client"
	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"

	"github.com/please-build/rexec/src/fs"
	"github.com/please-build/rexec/src/remote/cache"
)

// BlobStore is the abstract byte store the core depends on. It is
// implemented for real traffic by *remoteStore, which wraps the REAPI SDK
// client, and for tests by *memStore, an in-memory map.
//
// BlobStore only reads into memory: writing a fetched digest to disk is the
// downloader's job (see writeBlobToFile), so that a digest shared by many
// target paths is read from the store exactly once and then written out
// once per path, instead of re-fetched per path.
type BlobStore interface {
	// ReadBlob fetches the full contents of a digest into memory.
	ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error)
	// Stats returns the running count of successful and failed fetches,
	// so tests can observe the shared-digest coalescing guarantee.
	Stats() (fetched, failed int64)
}

// remoteStore is the production BlobStore, backed by the REAPI SDK's client.
type remoteStore struct {
	client *client.Client

	fetched, failed int64
}

func newRemoteStore(c *client.Client) *remoteStore {
	return &remoteStore{client: c}
}

func (s *remoteStore) ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error) {
	if d.Size == 0 {
		atomic.AddInt64(&s.fetched, 1)
		return nil, nil
	}
	bs, _, err := s.client.ReadBlob(ctx, d)
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		return nil, err
	}
	atomic.AddInt64(&s.fetched, 1)
	return bs, nil
}

func (s *remoteStore) Stats() (fetched, failed int64) {
	return atomic.LoadInt64(&s.fetched), atomic.LoadInt64(&s.failed)
}

// byteReader lets us drive fs.WriteFile (which wants an io.Reader) from
// bytes already held in memory, without pulling in bytes.Reader's extra
// surface area for what is a one-line adapter.
type byteReader struct{ b []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

// writeBlobToFile writes already-fetched bytes to path, applying the
// executable bit, via fs.WriteFile's temp-then-rename. Called once per
// target path even when several paths share the same digest's bytes.
func writeBlobToFile(bs []byte, path string, executable bool) error {
	mode := os.FileMode(0664)
	if executable {
		mode = 0775
	}
	return fs.WriteFile(&byteReader{bs}, path, mode)
}

// cachingStore wraps a BlobStore with a local disk read-through cache for
// whole-blob reads; Stats still goes straight to the wrapped store.
type cachingStore struct {
	BlobStore
	cache *cache.Client
}

func newCachingStore(store BlobStore, dir string) *cachingStore {
	return &cachingStore{BlobStore: store, cache: cache.New(store, dir)}
}

func (s *cachingStore) ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error) {
	return s.cache.ReadBlob(ctx, d)
}

// memStore is an in-memory BlobStore used by tests.
type memStore struct {
	blobs map[digest.Digest][]byte
	// fails maps a digest to the error to return for it, for simulating
	// per-blob failures including shared-instance failures across digests.
	fails map[digest.Digest]error

	fetched, failed int64
}

func newMemStore() *memStore {
	return &memStore{
		blobs: map[digest.Digest][]byte{},
		fails: map[digest.Digest]error{},
	}
}

func (s *memStore) put(d digest.Digest, data []byte) {
	s.blobs[d] = data
}

func (s *memStore) failWith(d digest.Digest, err error) {
	s.fails[d] = err
}

func (s *memStore) ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Size == 0 {
		atomic.AddInt64(&s.fetched, 1)
		return nil, nil
	}
	if err, ok := s.fails[d]; ok {
		atomic.AddInt64(&s.failed, 1)
		return nil, err
	}
	bs, ok := s.blobs[d]
	if !ok {
		atomic.AddInt64(&s.failed, 1)
		return nil, &blobNotFoundError{Digest: d}
	}
	atomic.AddInt64(&s.fetched, 1)
	return bs, nil
}

func (s *memStore) Stats() (fetched, failed int64) {
	return atomic.LoadInt64(&s.fetched), atomic.LoadInt64(&s.failed)
}

// blobNotFoundError is returned by memStore when a digest it was never
// given matching bytes for is requested.
type blobNotFoundError struct {
	Digest digest.Digest
}

func (e *blobNotFoundError) Error() string {
	return "blob not found: " + e.Digest.String()
}
