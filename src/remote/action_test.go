package remote

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/bazelbuild/remote-apis-sdks/go/pkg/digest"
	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(store BlobStore) *Client {
	c := &Client{store: store}
	c.metrics = newRemoteMetrics()
	return c
}

// TestDownloadOutputsInlineScenario verifies that, under MINIMAL mode, an
// inline-designated output is both returned in memory and still
// metadata-injected like every other output, and that nothing lands on
// disk under the output base.
func TestDownloadOutputsInlineScenario(t *testing.T) {
	store := newMemStore()
	d1 := digest.NewFromBlob([]byte("content1"))
	d2 := digest.NewFromBlob([]byte("content2"))
	store.put(d1, []byte("content1"))
	store.put(d2, []byte("content2"))

	result := &pb.ActionResult{
		OutputFiles: []*pb.OutputFile{
			{Path: "outputs/file1", Digest: d1.ToProto()},
			{Path: "outputs/file2", Digest: d2.ToProto()},
		},
	}
	spawn := &Spawn{ExecutionInfo: map[string]string{InlineOutputsKey: "outputs/file1"}}
	action := BuildRemoteAction("action-1", spawn, t.TempDir())
	resolver := &PathResolver{ExecRoot: action.ExecRoot}
	injector := newFakeInjector()
	spawnCtx := &fakeSpawnContext{}

	client := newTestClient(store)
	inline, err := client.DownloadOutputs(context.Background(), action, result, ModeMinimal, resolver, spawnCtx, injector)
	require.NoError(t, err)

	require.NotNil(t, inline)
	assert.Equal(t, "outputs/file1", inline.WirePath)
	assert.Equal(t, "content1", string(inline.Data))

	_, ok := injector.files["outputs/file1"]
	assert.True(t, ok, "the inline output must also be metadata-injected")
	_, ok = injector.files["outputs/file2"]
	assert.True(t, ok)

	for _, wirePath := range []string{"outputs/file1", "outputs/file2"} {
		local, err := resolver.Resolve(wirePath)
		require.NoError(t, err)
		_, statErr := os.Lstat(local)
		assert.True(t, os.IsNotExist(statErr), "%s must not exist on disk", wirePath)
	}
}

// TestDownloadOutputsFeedsStdoutStderrToSpawnContext verifies that fetched
// stdout/stderr bytes are copied into the SpawnContext's stream writers, not
// only written to their designated files.
func TestDownloadOutputsFeedsStdoutStderrToSpawnContext(t *testing.T) {
	store := newMemStore()
	outDigest := digest.NewFromBlob([]byte("stdout bytes"))
	errDigest := digest.NewFromBlob([]byte("stderr bytes"))
	store.put(outDigest, []byte("stdout bytes"))
	store.put(errDigest, []byte("stderr bytes"))

	root := t.TempDir()
	result := &pb.ActionResult{
		StdoutDigest: outDigest.ToProto(),
		StderrDigest: errDigest.ToProto(),
	}
	spawn := &Spawn{StdoutPath: root + "/stdout", StderrPath: root + "/stderr"}
	action := BuildRemoteAction("action-1", spawn, root)
	resolver := &PathResolver{ExecRoot: root}
	injector := newFakeInjector()

	var stdout, stderr bytes.Buffer
	spawnCtx := &fakeSpawnContext{stdout: &stdout, stderr: &stderr}

	client := newTestClient(store)
	_, err := client.DownloadOutputs(context.Background(), action, result, ModeAll, resolver, spawnCtx, injector)
	require.NoError(t, err)

	assert.Equal(t, "stdout bytes", stdout.String())
	assert.Equal(t, "stderr bytes", stderr.String())
}
