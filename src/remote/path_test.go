package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathResolverJoinsUnderExecRoot(t *testing.T) {
	r := &PathResolver{ExecRoot: "/tmp/execroot"}
	local, err := r.Resolve("outputs/foo")
	require := assert.New(t)
	require.NoError(err)
	require.Equal("/tmp/execroot/outputs/foo", local)
}

func TestPathResolverStripsWorkspacePrefix(t *testing.T) {
	r := &PathResolver{ExecRoot: "/tmp/execroot", WorkspaceName: "execroot"}
	local, err := r.Resolve("execroot/outputs/foo")
	assert.NoError(t, err)
	assert.Equal(t, "/tmp/execroot/outputs/foo", local)
}

func TestPathResolverRejectsEscape(t *testing.T) {
	r := &PathResolver{ExecRoot: "/tmp/execroot"}
	_, err := r.Resolve("../../etc/passwd")
	assert.Error(t, err)
}

func TestIsAbsoluteSymlinkTarget(t *testing.T) {
	assert.True(t, isAbsoluteSymlinkTarget("/etc/passwd"))
	assert.False(t, isAbsoluteSymlinkTarget("../sibling"))
	assert.False(t, isAbsoluteSymlinkTarget("relative/path"))
}
