package remote

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"google.golang.org/protobuf/proto"

	"github.com/please-build/rexec/src/fs"
)

// InMemoryOutput is the bytes of the spawn's designated inline output,
// returned to the caller in addition to the output's download or metadata
// injection.
type InMemoryOutput struct {
	WirePath string
	Data     []byte
}

// downloader is the Download Orchestrator (component E): it executes a
// DownloadPlan against a BlobStore, coalescing repeated fetches of the same
// digest through a singleflight.Group and a record of settled fetches so
// that a digest shared across many outputs is only ever fetched once per
// action, and every waiter on that fetch observes the identical error value
// if it fails.
type downloader struct {
	store BlobStore
	group singleflight.Group
	// done maps a digest's string form to a func returning its settled
	// fetch result, so a request arriving after the first fetch finished
	// does not read the store again.
	done sync.Map
}

func newDownloader(store BlobStore) *downloader {
	return &downloader{store: store}
}

// fetchBlob reads a digest's bytes exactly once per action, regardless of
// how many outputs reference it concurrently.
func (d *downloader) fetchBlob(ctx context.Context, dg digest.Digest) ([]byte, error) {
	key := dg.String()
	v, err, _ := d.group.Do(key, func() (interface{}, error) {
		if settled, ok := d.done.Load(key); ok {
			return settled.(func() ([]byte, error))()
		}
		bs, err := d.store.ReadBlob(ctx, dg)
		d.done.Store(key, func() ([]byte, error) { return bs, err })
		return bs, err
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// fetchToFile writes a digest's bytes to path. The digest itself is
// coalesced through fetchBlob, so two target paths sharing a digest cause
// exactly one store fetch between them; each path still gets its own
// fs.WriteFile so that a failure writing one copy doesn't affect the other.
func (d *downloader) fetchToFile(ctx context.Context, dg digest.Digest, path string, executable bool) error {
	bs, err := d.fetchBlob(ctx, dg)
	if err != nil {
		return err
	}
	return writeBlobToFile(bs, path, executable)
}

// execute runs plan to completion, returning the inline output (if any
// was both requested and present) on success. On any failure, no lock is
// acquired and successfully-downloaded regular files are rolled back;
// directories created for tree outputs (including empty ones) are kept,
// since a follow-up build may want the surviving partial tree for
// diagnosis.
func (d *downloader) execute(ctx context.Context, plan *DownloadPlan, spawnCtx SpawnContext) (*InMemoryOutput, error) {
	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	var succeededFiles []string
	var inline *InMemoryOutput

	stdoutW, stderrW := spawnCtx.OutErr()

	recordErr := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	recordSuccess := func(path string) {
		mu.Lock()
		succeededFiles = append(succeededFiles, path)
		mu.Unlock()
	}

	for _, f := range plan.FileDownloads {
		f := f
		g.Go(func() error {
			if err := d.fetchToFile(ctx, f.Digest, f.LocalPath, f.Executable); err != nil {
				recordErr(err)
				return nil
			}
			recordSuccess(f.LocalPath)
			return nil
		})
	}

	for _, t := range plan.TreeDownloads {
		t := t
		g.Go(func() error {
			d.downloadTree(ctx, t, recordErr, recordSuccess)
			return nil
		})
	}

	for _, s := range plan.Symlinks {
		s := s
		g.Go(func() error {
			if err := fs.EnsureDir(s.LocalPath); err != nil {
				recordErr(err)
				return nil
			}
			_ = os.Remove(s.LocalPath)
			if err := os.Symlink(s.Target, s.LocalPath); err != nil {
				recordErr(err)
			}
			return nil
		})
	}

	if plan.Stdout != nil {
		sink := plan.Stdout
		g.Go(func() error {
			d.fetchStream(ctx, sink, stdoutW, recordErr, recordSuccess)
			return nil
		})
	}
	if plan.Stderr != nil {
		sink := plan.Stderr
		g.Go(func() error {
			d.fetchStream(ctx, sink, stderrW, recordErr, recordSuccess)
			return nil
		})
	}

	if plan.InlineOutput != nil {
		req := plan.InlineOutput
		g.Go(func() error {
			bs, err := d.fetchBlob(ctx, req.Digest)
			if err != nil {
				recordErr(err)
				return nil
			}
			mu.Lock()
			inline = &InMemoryOutput{WirePath: req.WirePath, Data: bs}
			mu.Unlock()
			return nil
		})
	}

	// Join phase: every launched fetch, including those belonging to trees
	// whose manifest already failed, is awaited here before we proceed.
	_ = g.Wait()

	if len(errs) > 0 {
		for _, path := range succeededFiles {
			_ = os.Remove(path)
		}
		return nil, d.aggregate(errs)
	}

	if err := spawnCtx.LockOutputFiles(); err != nil {
		return nil, err
	}
	return inline, nil
}

// fetchStream fetches a stdout/stderr digest, writes it to its designated
// path, and copies the same bytes into the spawn context's stream writer so
// surrounding reporting can still emit them even if nothing else reads the
// file back. w may be nil, in which case only the file is written.
func (d *downloader) fetchStream(ctx context.Context, sink *StreamSink, w io.Writer, recordErr func(error), recordSuccess func(string)) {
	bs, err := d.fetchBlob(ctx, sink.Digest)
	if err != nil {
		recordErr(err)
		return
	}
	if err := writeBlobToFile(bs, sink.Path, false); err != nil {
		recordErr(err)
		return
	}
	recordSuccess(sink.Path)
	if w != nil {
		if _, err := w.Write(bs); err != nil {
			log.Warning("failed writing stream output to caller-provided writer: %s", err)
		}
	}
}

// downloadTree fetches a tree output's manifest, creates its root
// directory unconditionally (even if everything inside subsequently
// fails), expands it, and launches a fetch for every file entry.
func (d *downloader) downloadTree(ctx context.Context, t TreeDownload, recordErr func(error), recordSuccess func(string)) {
	if err := os.MkdirAll(t.LocalPath, fs.DirPermissions); err != nil {
		recordErr(err)
		return
	}

	bs, err := d.fetchBlob(ctx, t.TreeDigest)
	if err != nil {
		recordErr(err)
		return
	}
	tree := &pb.Tree{}
	if err := proto.Unmarshal(bs, tree); err != nil {
		recordErr(err)
		return
	}
	entries, err := expandTree(tree)
	if err != nil {
		recordErr(err)
		return
	}

	var wg sync.WaitGroup
	for _, e := range entries {
		e := e
		local := filepath.Join(t.LocalPath, e.Path)
		switch {
		case e.IsDir:
			if err := os.MkdirAll(local, fs.DirPermissions); err != nil {
				recordErr(err)
			}
		case e.IsSymlink:
			if err := fs.EnsureDir(local); err != nil {
				recordErr(err)
				continue
			}
			if err := os.Symlink(e.Target, local); err != nil {
				recordErr(err)
			}
		default:
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := d.fetchToFile(ctx, e.Digest, local, e.IsExecutable); err != nil {
					recordErr(err)
					return
				}
				recordSuccess(local)
			}()
		}
	}
	wg.Wait()
}

// aggregate turns the raw set of per-fetch failures into either an
// InterruptedError (if the build was cancelled) or a BulkTransferError.
// Interruption takes precedence: once the caller has stopped waiting,
// individual blob-not-found/transport failures downstream of that
// cancellation aren't interesting.
func (d *downloader) aggregate(errs []error) error {
	var interrupted []error
	var other []error
	for _, err := range errs {
		if isInterrupted(err) {
			interrupted = append(interrupted, err)
		} else {
			other = append(other, err)
		}
	}
	if len(interrupted) > 0 {
		bulk := newBulkTransferError(interrupted).(*BulkTransferError)
		return &InterruptedError{Cause: bulk.Primary}
	}
	return newBulkTransferError(other)
}
