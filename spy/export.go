package spy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

const exportSourceName = "spy.go"

// outputFilename maps an input name to the file name of its instrumented output.
func outputFilename(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, ".go") + "_spy.go"
}

// exportDirname maps an input name to the directory of its exported module.
func exportDirname(name string) string {
	return strings.TrimSuffix(filepath.Base(name), ".go")
}

// ExportModule writes instrumented source as a standalone module under dir, with a go.mod declaring
// modulePath and goVersion.
func ExportModule(dir, modulePath, goVersion, source string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	modFile := &modfile.File{}
	if err := modFile.AddModuleStmt(modulePath); err != nil {
		return fmt.Errorf("go.mod module: %w", err)
	} else if err := modFile.AddGoStmt(goVersion); err != nil {
		return fmt.Errorf("go.mod go version: %w", err)
	}
	modData, err := modFile.Format()
	if err != nil {
		return fmt.Errorf("go.mod format: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "go.mod"), modData, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, exportSourceName), []byte(source), 0644)
}
