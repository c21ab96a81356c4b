package spy

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
	"golang.org/x/mod/module"
	"gopkg.in/yaml.v3"
)

const (
	defaultTraceFunc   = "fmt.Println"
	defaultTraceImport = "fmt"
	defaultPackageName = "spy"
	defaultGoVersion   = "1.22"
	defaultModulePath  = "example.com/spy"
)

// TraceConfig controls the code emitted into instrumented functions.
type TraceConfig struct {
	// Func is the function each trace statement calls, for example fmt.Println.
	Func string `yaml:"trace_func"`
	// Import is the import path Func requires. Empty when Func needs no import.
	Import string `yaml:"trace_import"`
	// Package names the package clause added to sources that do not declare one.
	Package string `yaml:"package"`
}

// DefaultTraceConfig traces through fmt.Println.
func DefaultTraceConfig() TraceConfig {
	return TraceConfig{
		Func:    defaultTraceFunc,
		Import:  defaultTraceImport,
		Package: defaultPackageName,
	}
}

// LoadTraceConfig reads a YAML trace configuration, keeping defaults for fields the file omits.
func LoadTraceConfig(path string) (TraceConfig, error) {
	cfg := DefaultTraceConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read trace config: %w", err)
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse trace config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the trace function is a plain or package-qualified name and the import path is well formed.
func (t TraceConfig) Validate() error {
	expr, err := parser.ParseExpr(t.Func)
	if err != nil {
		return fmt.Errorf("invalid trace function %q: %w", t.Func, err)
	}
	switch e := expr.(type) {
	case *ast.Ident:
	case *ast.SelectorExpr:
		if _, ok := e.X.(*ast.Ident); !ok {
			return fmt.Errorf("invalid trace function %q: must be name or pkg.Name", t.Func)
		}
	default:
		return fmt.Errorf("invalid trace function %q: must be name or pkg.Name", t.Func)
	}
	if t.Import != "" {
		if err := module.CheckImportPath(t.Import); err != nil {
			return fmt.Errorf("invalid trace import: %w", err)
		}
	}
	if !token.IsIdentifier(t.Package) {
		return fmt.Errorf("invalid package name %q", t.Package)
	}
	return nil
}

// Config holds settings for an Engine run.
type Config struct {
	Trace TraceConfig
	// TraceConfigFile optionally points at a YAML TraceConfig.
	TraceConfigFile string
	// Inputs are source files to instrument, "-" reads stdin.
	Inputs []string
	// OutputDir receives instrumented files, empty prints to the engine output.
	OutputDir string
	// ShowDiff prints a unified diff of each change.
	ShowDiff bool
	// Export writes each output as its own module directory with a go.mod.
	Export     bool
	ModulePath string
	GoVersion  string
	// HistoryDir enables the persistent run history.
	HistoryDir string
	CacheMB    int
	// Debug logs history store internals.
	Debug bool
	// Report outputs
	ReportJsonFile, ReportChartsFile string
	// Internal state tracking
	prepared bool
}

// NewConfig returns a Config with default trace settings.
func NewConfig() *Config {
	return &Config{
		Trace:      DefaultTraceConfig(),
		ModulePath: defaultModulePath,
		GoVersion:  defaultGoVersion,
		CacheMB:    200,
	}
}

// Prepare validates the configuration and loads the trace config file if set.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	} else if len(c.Inputs) == 0 {
		return errors.New("at least one input file is required")
	}

	if c.TraceConfigFile != "" {
		trace, err := LoadTraceConfig(c.TraceConfigFile)
		if err != nil {
			return err
		}
		c.Trace = trace
	} else if err := c.Trace.Validate(); err != nil {
		return err
	}

	var stdinCount int
	for _, in := range c.Inputs {
		if in == stdinInput {
			stdinCount++
		} else if err := validateFilePath(in); err != nil {
			return fmt.Errorf("invalid input %s: %w", in, err)
		}
	}
	if stdinCount > 1 {
		return errors.New("stdin may only be listed once")
	} else if err := c.checkOutputCollisions(); err != nil {
		return err
	}

	if c.Export {
		if c.OutputDir == "" {
			return errors.New("-export requires an output directory")
		} else if err := module.CheckPath(c.ModulePath); err != nil {
			return fmt.Errorf("invalid module path: %w", err)
		} else if !modfile.GoVersionRE.MatchString(c.GoVersion) {
			return fmt.Errorf("invalid go version %q", c.GoVersion)
		}
	}
	if c.CacheMB < 1 || c.CacheMB > 10240 { // 10GB limit
		return fmt.Errorf("cache size must be between 1 and 10240 MB, got %d", c.CacheMB)
	}

	if c.ReportJsonFile != "" {
		if err := validateOutputPath(c.ReportJsonFile); err != nil {
			return fmt.Errorf("invalid JSON report file path: %w", err)
		}
	}
	if c.ReportChartsFile != "" {
		if _, err := chartOutputType(c.ReportChartsFile); err != nil {
			return err
		} else if err := validateOutputPath(c.ReportChartsFile); err != nil {
			return fmt.Errorf("invalid charts report file path: %w", err)
		}
	}

	c.prepared = true
	return nil
}

// checkOutputCollisions rejects inputs that would write to the same file or export directory.
func (c *Config) checkOutputCollisions() error {
	if c.OutputDir == "" {
		return nil
	}
	targets := make(map[string]string, len(c.Inputs))
	for _, in := range c.Inputs {
		name := in
		if in == stdinInput {
			name = stdinName
		}
		target := outputFilename(name)
		if c.Export {
			target = exportDirname(name)
		}
		if prev, ok := targets[target]; ok {
			return fmt.Errorf("inputs %s and %s both write %s", prev, in, filepath.Join(c.OutputDir, target))
		}
		targets[target] = in
	}
	return nil
}

// validateFilePath validates that a path names an existing Go source file.
func validateFilePath(path string) error {
	if !strings.HasSuffix(path, ".go") {
		return errors.New("expected a .go source file")
	} else if !FileExists(path) {
		return errors.New("file does not exist or is a directory")
	}
	return nil
}

// validateOutputPath validates that an output file path can be written to.
func validateOutputPath(path string) error {
	dir := filepath.Dir(path)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
		}
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = file.Close()
	return os.Remove(testFile)
}
