package remote

import (
	"context"
	"io"
	"os"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"github.com/please-build/rexec/src/fs"
)

// Spawn is the minimal view of a build action's declared outputs that the
// materialization engine needs: the core does not otherwise know anything
// about how a spawn was constructed or executed.
type Spawn struct {
	// OutputFiles and OutputDirectories are the wire paths the spawn
	// declared as outputs, used as the universe TopLevelOutputs is a
	// subset of.
	OutputFiles       []string
	OutputDirectories []string
	// TopLevelOutputs holds the paths treated as "top-level" for the
	// TOPLEVEL materialization mode; consulted only in that mode.
	TopLevelOutputs map[string]bool
	// ExecutionInfo carries string key/value pairs from the spawn, of
	// which only InlineOutputsKey is recognized by this package.
	ExecutionInfo map[string]string
	// StdoutPath and StderrPath are where stdout/stderr digests, if
	// present, should be written.
	StdoutPath, StderrPath string
}

func (s *Spawn) isTopLevelOutput(wirePath string) bool {
	return s.TopLevelOutputs != nil && s.TopLevelOutputs[wirePath]
}

// RemoteAction binds a Spawn to the identity of the action that produced
// (or will produce) its ActionResult. It is created once at submission
// time and never mutated afterwards.
type RemoteAction struct {
	ActionID string
	Spawn    *Spawn
	ExecRoot string
}

// SpawnContext is the collaborator that owns a spawn's stdout/stderr
// streams and the advisory output-tree lock.
type SpawnContext interface {
	// OutErr returns the writers outputs' stdout/stderr should be copied
	// into once they've been fetched.
	OutErr() (stdout, stderr io.Writer)
	// ClearOutErr resets any previously-written stdout/stderr content;
	// DownloadOutputs calls it before planning or fetching anything.
	ClearOutErr()
	// LockOutputFiles asserts the output-tree lock; called only once all
	// downloads for the action have settled successfully.
	LockOutputFiles() error
}

// BuildRemoteAction is a pure wrapper binding a spawn to an action
// identity; it performs no I/O.
func BuildRemoteAction(actionID string, spawn *Spawn, execRoot string) *RemoteAction {
	return &RemoteAction{ActionID: actionID, Spawn: spawn, ExecRoot: execRoot}
}

// DownloadOutputs is the Remote Execution Service facade's orchestration
// entry point: it composes the Output Planner, Download Orchestrator and
// Metadata Injector Adapter to materialize action's outputs as described by
// result, under the given materialization mode.
func (c *Client) DownloadOutputs(ctx context.Context, action *RemoteAction, result *pb.ActionResult, mode MaterializationMode, resolver *PathResolver, spawnCtx SpawnContext, injector MetadataInjector) (*InMemoryOutput, error) {
	spawnCtx.ClearOutErr()

	plan, err := planOutputs(result, action.Spawn, mode, resolver)
	if err != nil {
		return nil, err
	}

	d := newDownloader(c.store)
	inline, err := d.execute(ctx, plan, spawnCtx)
	if err != nil {
		c.downloadErrorCounterInc()
		return nil, err
	}

	if err := injectOutputs(ctx, c.store, action, injector, plan); err != nil {
		return nil, err
	}
	assertInjectedOutputsEmpty(resolver, plan)

	return inline, nil
}

// assertInjectedOutputsEmpty walks the local path of every metadata-only
// output and logs if anything unexpectedly exists there; a tree that was
// never downloaded must leave no trace on disk.
func assertInjectedOutputsEmpty(resolver *PathResolver, plan *DownloadPlan) {
	check := func(wirePath string) {
		local, err := resolver.Resolve(wirePath)
		if err != nil {
			return
		}
		if _, err := os.Lstat(local); err == nil {
			count := 0
			_ = fs.Walk(local, func(name string, isDir bool) error {
				count++
				return nil
			})
			if count > 0 {
				log.Warning("injected output %s unexpectedly has local content under %s", wirePath, local)
			}
		}
	}
	for _, f := range plan.InjectFiles {
		check(f.WirePath)
	}
	for _, t := range plan.InjectTrees {
		check(t.WirePath)
	}
}
