package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))

	tool, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", tool.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "alpha"}))
	assert.Error(t, r.Register(&stubTool{name: "alpha"}))
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "zebra"}))
	require.NoError(t, r.Register(&stubTool{name: "apple"}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "zebra", list[0].Name())
	assert.Equal(t, "apple", list[1].Name())

	decls := r.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, "zebra", decls[0].Name)
	assert.Equal(t, "apple", decls[1].Name)
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubTool{name: "zebra"}))
	require.NoError(t, r.Register(&stubTool{name: "apple"}))

	assert.Equal(t, []string{"apple", "zebra"}, r.Names())
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(t.TempDir())

	for _, name := range []string{"read_file", "write_file", "edit_file", "glob", "grep", "list_dir", "tree", "diff"} {
		_, ok := r.Get(name)
		assert.True(t, ok, "missing tool %s", name)
	}
}
