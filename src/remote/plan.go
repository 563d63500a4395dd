package remote

import (
	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/hashicorp/go-multierror"
)

// MaterializationMode governs which outputs of a spawn are written to disk
// versus left as metadata-only records.
type MaterializationMode int

const (
	// ModeAll downloads every output.
	ModeAll MaterializationMode = iota
	// ModeTopLevel downloads only outputs declared top-level by the build;
	// everything else is injected as metadata.
	ModeTopLevel
	// ModeMinimal injects metadata for everything, downloading nothing but
	// stdout/stderr.
	ModeMinimal
)

// InlineOutputsKey is the spawn execution-info key naming the single output
// path whose bytes should additionally be returned in-memory to the caller.
const InlineOutputsKey = "REMOTE_EXECUTION_INLINE_OUTPUTS"

// FileDownload is a single regular file to fetch to disk.
type FileDownload struct {
	LocalPath  string
	Digest     digest.Digest
	Executable bool
}

// SymlinkEntry is a symlink to create on disk; its target has already been
// validated as non-absolute.
type SymlinkEntry struct {
	LocalPath string
	Target    string
}

// TreeDownload is an output directory whose Tree manifest must be fetched
// and expanded before its contents can be scheduled.
type TreeDownload struct {
	LocalPath  string
	TreeDigest digest.Digest
}

// StreamSink names where a stdout/stderr digest should land.
type StreamSink struct {
	Digest digest.Digest
	Path   string
}

// InjectFileEntry is a file output whose bytes must not be written to disk,
// only registered as metadata.
type InjectFileEntry struct {
	WirePath string
	Digest   digest.Digest
}

// InjectTreeEntry is a tree output handled the same way as InjectFileEntry.
type InjectTreeEntry struct {
	WirePath   string
	TreeDigest digest.Digest
}

// InlineRequest names the one output, if any, that should be fetched into
// memory and handed back to the caller in addition to the download or
// metadata injection that the mode decides for it.
type InlineRequest struct {
	WirePath string
	Digest   digest.Digest
}

// DownloadPlan is the Output Planner's product: a fully-resolved schedule
// of filesystem mutations and fetches, ready for the Download Orchestrator
// to execute without any further policy decisions.
type DownloadPlan struct {
	FileDownloads []FileDownload
	Symlinks      []SymlinkEntry
	TreeDownloads []TreeDownload
	Stdout        *StreamSink
	Stderr        *StreamSink
	InjectFiles   []InjectFileEntry
	InjectTrees   []InjectTreeEntry
	InlineOutput  *InlineRequest
}

// planOutputs walks an ActionResult under the given materialization mode
// and spawn declarations, producing a DownloadPlan. Validation errors
// (absolute symlink targets, paths that escape the execution root) are
// aggregated and returned before any fetch is scheduled.
func planOutputs(result *pb.ActionResult, spawn *Spawn, mode MaterializationMode, resolver *PathResolver) (*DownloadPlan, error) {
	var verr *multierror.Error

	resolve := func(wirePath string) string {
		local, err := resolver.Resolve(wirePath)
		if err != nil {
			verr = multierror.Append(verr, err)
			return ""
		}
		return local
	}

	checkSymlink := func(wirePath, target string) bool {
		if isAbsoluteSymlinkTarget(target) {
			verr = multierror.Append(verr, &AbsoluteSymlinkTargetError{WirePath: wirePath, Target: target})
			return false
		}
		return true
	}

	for _, s := range result.OutputFileSymlinks {
		checkSymlink(s.Path, s.Target)
	}
	for _, s := range result.OutputDirectorySymlinks {
		checkSymlink(s.Path, s.Target)
	}
	if verr.ErrorOrNil() != nil {
		return nil, verr.ErrorOrNil()
	}

	inlinePath := spawn.ExecutionInfo[InlineOutputsKey]

	plan := &DownloadPlan{}

	download := mode == ModeAll

	for _, f := range result.OutputFiles {
		local := resolve(f.Path)
		topLevel := mode == ModeTopLevel && spawn.isTopLevelOutput(f.Path)

		// The inline path, if it matches, is fetched into memory *in
		// addition to* whatever the mode otherwise decides for it — it is
		// never a substitute for downloading or injecting.
		if f.Path == inlinePath {
			plan.InlineOutput = &InlineRequest{WirePath: f.Path, Digest: digest.NewFromProtoUnvalidated(f.Digest)}
		}

		if download || topLevel {
			plan.FileDownloads = append(plan.FileDownloads, FileDownload{
				LocalPath:  local,
				Digest:     digest.NewFromProtoUnvalidated(f.Digest),
				Executable: f.IsExecutable,
			})
		} else {
			plan.InjectFiles = append(plan.InjectFiles, InjectFileEntry{
				WirePath: f.Path,
				Digest:   digest.NewFromProtoUnvalidated(f.Digest),
			})
		}
	}

	for _, s := range result.OutputFileSymlinks {
		plan.Symlinks = append(plan.Symlinks, SymlinkEntry{LocalPath: resolve(s.Path), Target: s.Target})
	}
	for _, s := range result.OutputDirectorySymlinks {
		plan.Symlinks = append(plan.Symlinks, SymlinkEntry{LocalPath: resolve(s.Path), Target: s.Target})
	}

	for _, d := range result.OutputDirectories {
		local := resolve(d.Path)
		topLevel := mode == ModeTopLevel && spawn.isTopLevelOutput(d.Path)
		td := digest.NewFromProtoUnvalidated(d.TreeDigest)
		if download || topLevel {
			plan.TreeDownloads = append(plan.TreeDownloads, TreeDownload{LocalPath: local, TreeDigest: td})
		} else {
			plan.InjectTrees = append(plan.InjectTrees, InjectTreeEntry{WirePath: d.Path, TreeDigest: td})
		}
	}

	if result.StdoutDigest != nil && result.StdoutDigest.SizeBytes > 0 {
		plan.Stdout = &StreamSink{Digest: digest.NewFromProtoUnvalidated(result.StdoutDigest), Path: spawn.StdoutPath}
	}
	if result.StderrDigest != nil && result.StderrDigest.SizeBytes > 0 {
		plan.Stderr = &StreamSink{Digest: digest.NewFromProtoUnvalidated(result.StderrDigest), Path: spawn.StderrPath}
	}

	return plan, verr.ErrorOrNil()
}
