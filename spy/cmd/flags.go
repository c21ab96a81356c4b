package cmd

import (
	"errors"
	"flag"

	"github.com/PatchLens/go-spycode/spy"
)

const usage = "Usage: spycode [flags] <file.go>... (use - to read stdin)"

// ParseFlags builds a Config from the command line flags, remaining arguments are the inputs.
func ParseFlags() (*spy.Config, error) {
	config := spy.NewConfig()

	traceConfigFile := flag.String("config", "", "YAML file setting trace_func, trace_import, and package")
	outputDir := flag.String("out", "", "Directory to write instrumented files, prints to stdout when unset")
	showDiff := flag.Bool("diff", false, "Print a unified diff of each instrumented file")
	export := flag.Bool("export", false, "Write each output as a standalone module under -out")
	modulePath := flag.String("module", config.ModulePath, "Module path for -export go.mod files")
	goVersion := flag.String("go", config.GoVersion, "Go version for -export go.mod files")
	historyDir := flag.String("history", "", "Directory of the persistent run history, disabled when unset")
	cacheMB := flag.Int("cachemb", config.CacheMB, "History cache memory budget in MB")
	debug := flag.Bool("debug", false, "Log history store internals and cache metrics")
	reportJsonFile := flag.String("json", "", "File to output run details")
	reportChartsFile := flag.String("charts", "", "File to output run overview chart image")

	flag.Parse()

	if flag.NArg() == 0 {
		return nil, errors.New(usage)
	}

	config.Inputs = flag.Args()
	config.TraceConfigFile = *traceConfigFile
	config.OutputDir = *outputDir
	config.ShowDiff = *showDiff
	config.Export = *export
	config.ModulePath = *modulePath
	config.GoVersion = *goVersion
	config.HistoryDir = *historyDir
	config.CacheMB = *cacheMB
	config.Debug = *debug
	config.ReportJsonFile = *reportJsonFile
	config.ReportChartsFile = *reportChartsFile

	return config, nil
}
