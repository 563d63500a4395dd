package remote

import (
	"path/filepath"

	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

// TreeEntry is a single materialized path produced by expanding a Tree
// manifest: either a regular file, a directory that must exist even if
// empty, or a symlink.
type TreeEntry struct {
	// Path is relative to the tree's local root.
	Path         string
	IsDir        bool
	IsSymlink    bool
	Digest       digest.Digest
	IsExecutable bool
	Target       string
}

// expandTree turns a Tree manifest into a flat list of entries to
// materialize, breadth-first from the root. Sibling Directory nodes that
// reference the same digest are expanded independently, once per path:
// content addressing makes the tree acyclic, so there is no need to guard
// against revisiting a digest, only against a digest the manifest never
// supplied.
func expandTree(tree *pb.Tree) ([]TreeEntry, error) {
	children := make(map[digest.Digest]*pb.Directory, len(tree.Children))
	for _, child := range tree.Children {
		dg, err := digest.NewFromMessage(child)
		if err != nil {
			return nil, err
		}
		// Multiple children may legally share a digest; they are
		// byte-identical by the content-addressing invariant, so keeping
		// whichever arrived last is fine.
		children[dg] = child
	}

	type pending struct {
		path string
		dir  *pb.Directory
	}
	queue := []pending{{path: "", dir: tree.Root}}
	var entries []TreeEntry
	// The tree's own root must exist even when empty.
	entries = append(entries, TreeEntry{Path: "", IsDir: true})

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, f := range cur.dir.Files {
			entries = append(entries, TreeEntry{
				Path:         filepath.Join(cur.path, f.Name),
				Digest:       digest.NewFromProtoUnvalidated(f.Digest),
				IsExecutable: f.IsExecutable,
			})
		}
		for _, l := range cur.dir.Symlinks {
			entries = append(entries, TreeEntry{
				Path:      filepath.Join(cur.path, l.Name),
				IsSymlink: true,
				Target:    l.Target,
			})
		}
		for _, d := range cur.dir.Directories {
			childPath := filepath.Join(cur.path, d.Name)
			entries = append(entries, TreeEntry{Path: childPath, IsDir: true})
			dg := digest.NewFromProtoUnvalidated(d.Digest)
			child, ok := children[dg]
			if !ok {
				return nil, &MalformedTreeError{Digest: dg.String()}
			}
			queue = append(queue, pending{path: childPath, dir: child})
		}
	}
	return entries, nil
}
