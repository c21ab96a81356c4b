package spy

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

// StorageProvider opens the store backing the run history.
type StorageProvider interface {
	// NewStorage returns the history store, the caller closes it when done.
	NewStorage() (Storage, error)
}

// ReportWriter writes the run summary to the configured report files.
type ReportWriter interface {
	// WriteReportFiles writes report as JSON to jsonPath and as an image to chartPath.
	// An empty path skips that output.
	WriteReportFiles(jsonPath, chartPath string, report ReportMetrics) error
}

// DefaultStorageProvider opens a Badger store with Options.
type DefaultStorageProvider struct {
	Options BadgerOptions
}

func (d *DefaultStorageProvider) NewStorage() (Storage, error) {
	return NewBadgerStorage(d.Options)
}

// SingletonStorageProvider always returns Store.
type SingletonStorageProvider struct {
	Store Storage
}

func (s *SingletonStorageProvider) NewStorage() (Storage, error) {
	return s.Store, nil
}

// DefaultReportWriter writes report files to disk.
type DefaultReportWriter struct{}

func (d *DefaultReportWriter) WriteReportFiles(jsonPath, chartPath string, report ReportMetrics) error {
	if jsonPath != "" {
		if err := WriteReportJSON(jsonPath, report); err != nil {
			return err
		}
		log.Println("Report file wrote: " + jsonPath)
	}
	if chartPath != "" {
		if err := WriteReportCharts(chartPath, report); err != nil {
			return err
		}
		log.Println("Report file wrote: " + chartPath)
	}
	return nil
}

// Engine instruments the configured inputs and writes outputs, diffs, history, and reports.
type Engine struct {
	Config          *Config
	StorageProvider StorageProvider
	ReportWriter    ReportWriter
	// Stdin is read for the "-" input.
	Stdin io.Reader
	// Out receives instrumented sources when no output directory is set, and diffs.
	Out io.Writer
}

// NewEngine creates an Engine using stdin, stdout, and the default providers.
func NewEngine(config *Config) *Engine {
	return &Engine{
		Config: config,
		StorageProvider: &DefaultStorageProvider{
			Options: BadgerOptions{
				Path:    config.HistoryDir,
				CacheMB: config.CacheMB,
				Debug:   config.Debug,
			},
		},
		ReportWriter: &DefaultReportWriter{},
		Stdin:        os.Stdin,
		Out:          os.Stdout,
	}
}

// NewEngineWithProviders creates an Engine, replacing the defaults with any non-nil argument.
func NewEngineWithProviders(config *Config, storageProvider StorageProvider, reportWriter ReportWriter,
	stdin io.Reader, out io.Writer) *Engine {
	engine := NewEngine(config)
	if storageProvider != nil {
		engine.StorageProvider = storageProvider
	}
	if reportWriter != nil {
		engine.ReportWriter = reportWriter
	}
	if stdin != nil {
		engine.Stdin = stdin
	}
	if out != nil {
		engine.Out = out
	}
	return engine
}

// Run instruments every input. Failing inputs are logged and returned joined once all inputs are processed.
func (e *Engine) Run() error {
	startTime := time.Now()

	if err := e.Config.Prepare(); err != nil {
		return err
	}
	instrumenter, err := NewInstrumenter(e.Config.Trace)
	if err != nil {
		return err
	}
	inputs, err := ReadSources(e.Config.Inputs, e.Stdin)
	if err != nil {
		return err
	}

	results := instrumenter.InstrumentAll(inputs)
	var succeeded int
	for _, r := range results {
		if r.Err != nil {
			log.Printf("%s%s: %v", ErrorLogPrefix, r.Name, r.Err)
			continue
		}
		succeeded++
		if err := e.emit(r, len(results) > 1); err != nil {
			return err
		}
	}
	log.Printf("Instrumented functions: %d, failed: %d", succeeded, len(results)-succeeded)

	if e.Config.HistoryDir != "" {
		if err := e.recordHistory(results); err != nil {
			return fmt.Errorf("error recording history: %w", err)
		}
	}

	report := BuildReport(startTime, results)
	if err := e.ReportWriter.WriteReportFiles(e.Config.ReportJsonFile, e.Config.ReportChartsFile, report); err != nil {
		return fmt.Errorf("error writing report files: %w", err)
	}
	return JoinErrors(results)
}

func (e *Engine) emit(r FileResult, labelOutput bool) error {
	if e.Config.ShowDiff {
		diff, err := UnifiedDiff(r.Name, r.Source, r.Result.Output)
		if err != nil {
			return fmt.Errorf("diff %s: %w", r.Name, err)
		} else if _, err := io.WriteString(e.Out, diff); err != nil {
			return err
		}
	}

	if e.Config.OutputDir == "" {
		if e.Config.ShowDiff {
			return nil
		} else if labelOutput {
			if _, err := fmt.Fprintf(e.Out, "// %s\n", r.Name); err != nil {
				return err
			}
		}
		_, err := io.WriteString(e.Out, r.Result.Output)
		return err
	}

	if e.Config.Export {
		dir := filepath.Join(e.Config.OutputDir, exportDirname(r.Name))
		if err := ExportModule(dir, e.Config.ModulePath, e.Config.GoVersion, r.Result.Output); err != nil {
			return fmt.Errorf("export %s: %w", r.Name, err)
		}
		log.Printf("Exported module: %s", dir)
		return nil
	}

	if err := os.MkdirAll(e.Config.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(e.Config.OutputDir, outputFilename(r.Name))
	if err := os.WriteFile(path, []byte(r.Result.Output), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (e *Engine) recordHistory(results []FileResult) error {
	store, err := e.StorageProvider.NewStorage()
	if err != nil {
		return fmt.Errorf("error opening storage: %w", err)
	}
	history := NewHistory(store)

	now := time.Now()
	for _, r := range results {
		if err := history.Save(NewHistoryRecord(r.Name, r.Source, r.Result, r.Err, now)); err != nil {
			_ = history.Close()
			return err
		}
	}
	return history.Close()
}
