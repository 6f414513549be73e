package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sandboxDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestValidate_Containment(t *testing.T) {
	dir := sandboxDir(t)
	inside := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(inside, []byte("x"), 0o644))
	v := NewPathValidator([]string{dir}, false)

	t.Run("inside allowed", func(t *testing.T) {
		resolved, err := v.Validate(inside)
		require.NoError(t, err)
		assert.Equal(t, inside, resolved)
	})

	t.Run("allowed root itself", func(t *testing.T) {
		_, err := v.Validate(dir)
		assert.NoError(t, err)
	})

	t.Run("traversal escape rejected", func(t *testing.T) {
		_, err := v.Validate(filepath.Join(dir, "..", "escape.txt"))
		assert.Error(t, err)
	})

	t.Run("sibling prefix rejected", func(t *testing.T) {
		// /tmp/x123-evil must not pass as inside /tmp/x123
		_, err := v.Validate(dir + "-evil")
		assert.Error(t, err)
	})

	t.Run("empty path rejected", func(t *testing.T) {
		_, err := v.Validate("")
		assert.Error(t, err)
	})

	t.Run("null byte rejected", func(t *testing.T) {
		_, err := v.Validate(dir + "/a\x00b")
		assert.Error(t, err)
	})
}

func TestValidate_NewFileResolvesParent(t *testing.T) {
	dir := sandboxDir(t)
	v := NewPathValidator([]string{dir}, false)

	resolved, err := v.Validate(filepath.Join(dir, "not_yet.txt"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "not_yet.txt"), resolved)
}

func TestValidate_SymlinkEscape(t *testing.T) {
	dir := sandboxDir(t)
	outside := sandboxDir(t)
	target := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	// Resolution lands outside the sandbox whether or not symlinks are
	// tolerated as path components
	for _, allowSymlinks := range []bool{false, true} {
		v := NewPathValidator([]string{dir}, allowSymlinks)
		_, err := v.Validate(link)
		assert.Error(t, err, "allowSymlinks=%v", allowSymlinks)
	}
}

func TestValidate_SymlinkInsideSandbox(t *testing.T) {
	dir := sandboxDir(t)
	target := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(dir, "alias.txt")
	require.NoError(t, os.Symlink(target, link))

	strict := NewPathValidator([]string{dir}, false)
	resolved, err := strict.Validate(link)
	// EvalSymlinks resolves the link to its in-sandbox target, so the
	// strict component check sees no symlink left
	require.NoError(t, err)
	assert.Equal(t, target, resolved)
}

func TestValidate_NoAllowedDirsMeansUnrestricted(t *testing.T) {
	dir := sandboxDir(t)
	v := NewPathValidator(nil, false)

	_, err := v.Validate(dir)
	assert.NoError(t, err)
}

func TestValidateFile_RequiresParent(t *testing.T) {
	dir := sandboxDir(t)
	v := NewPathValidator([]string{dir}, false)

	_, err := v.ValidateFile(filepath.Join(dir, "new.txt"))
	assert.NoError(t, err)

	_, err = v.ValidateFile(filepath.Join(dir, "missing", "new.txt"))
	assert.Error(t, err)
}

func TestValidateDir(t *testing.T) {
	dir := sandboxDir(t)
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	v := NewPathValidator([]string{dir}, false)

	_, err := v.ValidateDir(dir)
	assert.NoError(t, err)

	_, err = v.ValidateDir(file)
	assert.Error(t, err)

	_, err = v.ValidateDir(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}
