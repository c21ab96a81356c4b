package spy

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/modfile"
)

type captureReportWriter struct {
	jsonPath, chartPath string
	report              *ReportMetrics
}

func (c *captureReportWriter) WriteReportFiles(jsonPath, chartPath string, report ReportMetrics) error {
	c.jsonPath, c.chartPath = jsonPath, chartPath
	c.report = &report
	return nil
}

const engineTestSource = "func f(x int) {\n\tif x > 0 {\n\t\tx--\n\t}\n}\n"

func newTestEngine(t *testing.T, config *Config, stdin string) (*Engine, *bytes.Buffer, *captureReportWriter, Storage) {
	t.Helper()

	var out bytes.Buffer
	reports := &captureReportWriter{}
	store := NewMemStorage()
	engine := NewEngineWithProviders(config, &SingletonStorageProvider{Store: store}, reports,
		strings.NewReader(stdin), &out)
	return engine, &out, reports, store
}

func TestEngineRun(t *testing.T) {
	t.Parallel()

	t.Run("stdin_to_output", func(t *testing.T) {
		config := NewConfig()
		config.Inputs = []string{stdinInput}
		engine, out, reports, _ := newTestEngine(t, config, engineTestSource)

		require.NoError(t, engine.Run())
		assert.Contains(t, out.String(), `fmt.Println("if statement entered")`)
		assert.NotContains(t, out.String(), "// stdin.go")
		require.NotNil(t, reports.report)
		assert.Equal(t, 1, reports.report.SucceededCount)
		assert.Empty(t, reports.jsonPath)
	})

	t.Run("multiple_inputs_labeled", func(t *testing.T) {
		dir := t.TempDir()
		config := NewConfig()
		config.Inputs = []string{writeTestFile(t, dir, "a.go", engineTestSource), stdinInput}
		engine, out, _, _ := newTestEngine(t, config, "func g() {}")

		require.NoError(t, engine.Run())
		assert.Contains(t, out.String(), "// "+config.Inputs[0]+"\n")
		assert.Contains(t, out.String(), "// stdin.go\n")
		assert.Contains(t, out.String(), "func g() {}")
	})

	t.Run("diff_only", func(t *testing.T) {
		config := NewConfig()
		config.Inputs = []string{stdinInput}
		config.ShowDiff = true
		engine, out, _, _ := newTestEngine(t, config, engineTestSource)

		require.NoError(t, engine.Run())
		assert.Contains(t, out.String(), "+++ stdin.go (instrumented)")
		assert.NotContains(t, out.String(), "\npackage spy")
	})

	t.Run("output_dir", func(t *testing.T) {
		dir := t.TempDir()
		outDir := filepath.Join(dir, "out")
		config := NewConfig()
		config.Inputs = []string{writeTestFile(t, dir, "f.go", engineTestSource)}
		config.OutputDir = outDir
		engine, out, _, _ := newTestEngine(t, config, "")

		require.NoError(t, engine.Run())
		assert.Empty(t, out.String())
		data, err := os.ReadFile(filepath.Join(outDir, "f_spy.go"))
		require.NoError(t, err)
		assert.Contains(t, string(data), "if statement entered")
	})

	t.Run("export", func(t *testing.T) {
		dir := t.TempDir()
		outDir := filepath.Join(dir, "out")
		config := NewConfig()
		config.Inputs = []string{writeTestFile(t, dir, "f.go", engineTestSource)}
		config.OutputDir = outDir
		config.Export = true
		config.ModulePath = "example.com/demo"
		engine, _, _, _ := newTestEngine(t, config, "")

		require.NoError(t, engine.Run())
		modData, err := os.ReadFile(filepath.Join(outDir, "f", "go.mod"))
		require.NoError(t, err)
		mf, err := modfile.Parse("go.mod", modData, nil)
		require.NoError(t, err)
		assert.Equal(t, "example.com/demo", mf.Module.Mod.Path)
		assert.True(t, FileExists(filepath.Join(outDir, "f", exportSourceName)))
	})

	t.Run("history", func(t *testing.T) {
		config := NewConfig()
		config.Inputs = []string{stdinInput}
		config.HistoryDir = t.TempDir()
		engine, _, _, store := newTestEngine(t, config, engineTestSource)

		require.NoError(t, engine.Run())
		records, err := NewHistory(store).List()
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "stdin.go", records[0].Name)
		assert.Equal(t, "f", records[0].FunctionName)
		assert.Equal(t, 1, records[0].Spliced)
	})

	t.Run("history_disabled", func(t *testing.T) {
		config := NewConfig()
		config.Inputs = []string{stdinInput}
		engine, _, _, store := newTestEngine(t, config, engineTestSource)

		require.NoError(t, engine.Run())
		keys, err := store.Keys("")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("failure_continues", func(t *testing.T) {
		dir := t.TempDir()
		config := NewConfig()
		config.Inputs = []string{
			writeTestFile(t, dir, "add.go", "func add(a, b int) int {\n\treturn a + b\n}\n"),
			writeTestFile(t, dir, "ok.go", engineTestSource),
		}
		config.HistoryDir = dir
		engine, out, reports, store := newTestEngine(t, config, "")

		err := engine.Run()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotCallExpression)
		assert.Contains(t, out.String(), "if statement entered")
		assert.Equal(t, 1, reports.report.FailedCount)
		assert.Equal(t, 1, reports.report.ErrorCounts[errorClassTransform])

		records, err := NewHistory(store).List()
		require.NoError(t, err)
		require.Len(t, records, 2)
	})

	t.Run("invalid_config", func(t *testing.T) {
		engine, _, reports, _ := newTestEngine(t, NewConfig(), "")

		assert.Error(t, engine.Run())
		assert.Nil(t, reports.report)
	})
}

func TestNewEngineStorageOptions(t *testing.T) {
	t.Parallel()

	config := NewConfig()
	config.HistoryDir = "hist"
	config.CacheMB = 48
	config.Debug = true

	provider, ok := NewEngine(config).StorageProvider.(*DefaultStorageProvider)
	require.True(t, ok)
	assert.Equal(t, BadgerOptions{Path: "hist", CacheMB: 48, Debug: true}, provider.Options)
}

func TestDefaultReportWriter(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "report.json")
	chartPath := filepath.Join(dir, "report.svg")
	report := BuildReport(time.Now(), sampleResults(t))

	require.NoError(t, (&DefaultReportWriter{}).WriteReportFiles(jsonPath, chartPath, report))
	assert.True(t, FileExists(jsonPath))
	assert.True(t, FileExists(chartPath))
	require.NoError(t, (&DefaultReportWriter{}).WriteReportFiles("", "", report))
}
