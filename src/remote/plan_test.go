package remote

import (
	"testing"

	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) *PathResolver {
	t.Helper()
	return &PathResolver{ExecRoot: t.TempDir()}
}

func TestPlanOutputsRejectsAbsoluteSymlinkTargetBeforeAnyIO(t *testing.T) {
	result := &pb.ActionResult{
		OutputFileSymlinks: []*pb.OutputSymlink{
			{Path: "outputs/link", Target: "/etc/passwd"},
		},
	}
	spawn := &Spawn{}
	_, err := planOutputs(result, spawn, ModeAll, newResolver(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outputs/link")
	assert.Contains(t, err.Error(), "/etc/passwd")
}

func TestPlanOutputsAllModeDownloadsEverything(t *testing.T) {
	result := &pb.ActionResult{
		OutputFiles: []*pb.OutputFile{
			{Path: "outputs/foo", Digest: digest.NewFromBlob([]byte("foo-contents")).ToProto()},
		},
	}
	plan, err := planOutputs(result, &Spawn{}, ModeAll, newResolver(t))
	require.NoError(t, err)
	require.Len(t, plan.FileDownloads, 1)
	assert.Empty(t, plan.InjectFiles)
}

func TestPlanOutputsMinimalModeInjectsEverything(t *testing.T) {
	result := &pb.ActionResult{
		OutputFiles: []*pb.OutputFile{
			{Path: "outputs/foo", Digest: digest.NewFromBlob([]byte("foo-contents")).ToProto()},
		},
	}
	plan, err := planOutputs(result, &Spawn{}, ModeMinimal, newResolver(t))
	require.NoError(t, err)
	assert.Empty(t, plan.FileDownloads)
	require.Len(t, plan.InjectFiles, 1)
	assert.Equal(t, "outputs/foo", plan.InjectFiles[0].WirePath)
}

func TestPlanOutputsTopLevelModeHonorsDeclaredSet(t *testing.T) {
	result := &pb.ActionResult{
		OutputFiles: []*pb.OutputFile{
			{Path: "outputs/foo", Digest: digest.NewFromBlob([]byte("foo")).ToProto()},
			{Path: "outputs/bar", Digest: digest.NewFromBlob([]byte("bar")).ToProto()},
		},
	}
	spawn := &Spawn{TopLevelOutputs: map[string]bool{"outputs/foo": true}}
	plan, err := planOutputs(result, spawn, ModeTopLevel, newResolver(t))
	require.NoError(t, err)
	require.Len(t, plan.FileDownloads, 1)
	assert.Equal(t, "outputs/bar", plan.InjectFiles[0].WirePath)
}

func TestPlanOutputsInlineOverride(t *testing.T) {
	result := &pb.ActionResult{
		OutputFiles: []*pb.OutputFile{
			{Path: "outputs/file1", Digest: digest.NewFromBlob([]byte("content1")).ToProto()},
			{Path: "outputs/file2", Digest: digest.NewFromBlob([]byte("content2")).ToProto()},
		},
	}
	spawn := &Spawn{ExecutionInfo: map[string]string{InlineOutputsKey: "outputs/file1"}}
	plan, err := planOutputs(result, spawn, ModeMinimal, newResolver(t))
	require.NoError(t, err)
	require.NotNil(t, plan.InlineOutput)
	assert.Equal(t, "outputs/file1", plan.InlineOutput.WirePath)

	// MINIMAL mode still injects every output, including the one also
	// designated inline: the in-memory return is additive, not a substitute.
	require.Len(t, plan.InjectFiles, 2)
	var wirePaths []string
	for _, f := range plan.InjectFiles {
		wirePaths = append(wirePaths, f.WirePath)
	}
	assert.ElementsMatch(t, []string{"outputs/file1", "outputs/file2"}, wirePaths)
}

func TestPlanOutputsInlineAbsentFromResultIsNotRequested(t *testing.T) {
	result := &pb.ActionResult{
		OutputFiles: []*pb.OutputFile{
			{Path: "outputs/file2", Digest: digest.NewFromBlob([]byte("content2")).ToProto()},
		},
	}
	spawn := &Spawn{ExecutionInfo: map[string]string{InlineOutputsKey: "outputs/file1"}}
	plan, err := planOutputs(result, spawn, ModeMinimal, newResolver(t))
	require.NoError(t, err)
	assert.Nil(t, plan.InlineOutput)
	require.Len(t, plan.InjectFiles, 1)
	assert.Equal(t, "outputs/file2", plan.InjectFiles[0].WirePath)
}

func TestPlanOutputsSchedulesEmptyTreeDownload(t *testing.T) {
	tree := &pb.Tree{Root: &pb.Directory{}}
	td, err := digest.NewFromMessage(tree)
	require.NoError(t, err)
	result := &pb.ActionResult{
		OutputDirectories: []*pb.OutputDirectory{
			{Path: "outputs/outputdir", TreeDigest: td.ToProto()},
		},
	}
	plan, err := planOutputs(result, &Spawn{}, ModeAll, newResolver(t))
	require.NoError(t, err)
	require.Len(t, plan.TreeDownloads, 1)
	assert.Equal(t, td, plan.TreeDownloads[0].TreeDigest)
}
