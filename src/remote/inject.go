package remote

import (
	"context"
	"fmt"

	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"
)

// MetadataRecord is what gets registered with the build graph in lieu of an
// actual file on disk: enough to let a later consumer fetch the bytes for
// itself, and enough to tie the record back to the action that produced it.
type MetadataRecord struct {
	Digest         digest.Digest
	LocatorVersion int
	ActionID       string
}

// TreeValue is the injected form of a directory output: every file in the
// expanded tree, keyed by its path relative to the tree root, decorated
// with a MetadataRecord.
type TreeValue struct {
	Root  string
	Files map[string]MetadataRecord
}

// MetadataInjector is the build-graph collaborator that records remote
// outputs that were never written to disk. Implementations must be safe to
// call without external synchronisation once all downloads for an action
// have settled: the facade calls these strictly after the orchestrator
// returns, one action at a time.
type MetadataInjector interface {
	InjectFile(artifact string, record MetadataRecord) error
	InjectTree(artifact string, tree TreeValue) error
}

// injectOutputs registers every non-downloaded output from plan with
// injector. Tree outputs require fetching and expanding their manifest
// even though none of their file bytes are written to disk, since the
// injected TreeValue still needs one record per file.
func injectOutputs(ctx context.Context, store BlobStore, action *RemoteAction, injector MetadataInjector, plan *DownloadPlan) error {
	for _, f := range plan.InjectFiles {
		record := MetadataRecord{Digest: f.Digest, LocatorVersion: 1, ActionID: action.ActionID}
		if err := injector.InjectFile(f.WirePath, record); err != nil {
			return fmt.Errorf("injecting metadata for %s: %w", f.WirePath, err)
		}
	}

	for _, t := range plan.InjectTrees {
		bs, err := store.ReadBlob(ctx, t.TreeDigest)
		if err != nil {
			return fmt.Errorf("fetching tree manifest for %s: %w", t.WirePath, err)
		}
		tree := &pb.Tree{}
		if err := proto.Unmarshal(bs, tree); err != nil {
			return fmt.Errorf("parsing tree manifest for %s: %w", t.WirePath, err)
		}
		entries, err := expandTree(tree)
		if err != nil {
			return fmt.Errorf("expanding tree manifest for %s: %w", t.WirePath, err)
		}
		value := TreeValue{Root: t.WirePath, Files: map[string]MetadataRecord{}}
		for _, e := range entries {
			if e.IsDir || e.IsSymlink {
				continue
			}
			value.Files[e.Path] = MetadataRecord{Digest: e.Digest, LocatorVersion: 1, ActionID: action.ActionID}
		}
		if err := injector.InjectTree(t.WirePath, value); err != nil {
			return fmt.Errorf("injecting tree metadata for %s: %w", t.WirePath, err)
		}
	}
	return nil
}
