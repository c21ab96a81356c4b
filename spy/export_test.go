package spy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/modfile"
)

func TestOutputFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "add_spy.go", outputFilename("add.go"))
	assert.Equal(t, "add_spy.go", outputFilename(filepath.Join("src", "pkg", "add.go")))
	assert.Equal(t, "stdin_spy.go", outputFilename("stdin.go"))
	assert.Equal(t, "notes_spy.go", outputFilename("notes"))
}

func TestExportModule(t *testing.T) {
	t.Parallel()

	t.Run("writes_module", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "add")
		src := "package spy\n\nfunc add() {}\n"
		require.NoError(t, ExportModule(dir, "example.com/spy/add", "1.22", src))

		modData, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		require.NoError(t, err)
		mf, err := modfile.Parse("go.mod", modData, nil)
		require.NoError(t, err)
		assert.Equal(t, "example.com/spy/add", mf.Module.Mod.Path)
		require.NotNil(t, mf.Go)
		assert.Equal(t, "1.22", mf.Go.Version)

		data, err := os.ReadFile(filepath.Join(dir, exportSourceName))
		require.NoError(t, err)
		assert.Equal(t, src, string(data))
	})

	t.Run("invalid_go_version", func(t *testing.T) {
		err := ExportModule(t.TempDir(), "example.com/spy", "go1", "package spy\n")
		assert.Error(t, err)
	})
}
