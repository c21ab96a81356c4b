package spy

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	stdinInput = "-"
	stdinName  = "stdin.go"
)

// SourceInput is one source text to instrument.
type SourceInput struct {
	Name   string
	Source string
}

// FileResult pairs an input with the outcome of instrumenting it.
type FileResult struct {
	SourceInput
	Result *Result
	Err    error
}

// ReadSources loads each path, reading stdin for "-".
func ReadSources(paths []string, stdin io.Reader) ([]SourceInput, error) {
	inputs := make([]SourceInput, 0, len(paths))
	for _, path := range paths {
		var data []byte
		var err error
		if path == stdinInput {
			data, err = io.ReadAll(stdin)
			path = stdinName
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read source %s: %w", path, err)
		}
		inputs = append(inputs, SourceInput{Name: path, Source: string(data)})
	}
	return inputs, nil
}

// InstrumentAll instruments every input concurrently. A failing input does not stop the others,
// results keep the input order.
func (in *Instrumenter) InstrumentAll(inputs []SourceInput) []FileResult {
	results := make([]FileResult, len(inputs))
	errGroup := ErrGroupLimitCPU()
	for i, input := range inputs {
		errGroup.Go(func() error {
			result, err := in.Run(input.Name, input.Source)
			results[i] = FileResult{SourceInput: input, Result: result, Err: err}
			return nil
		})
	}
	_ = errGroup.Wait() // errors are carried per result
	return results
}

// JoinErrors combines the failures of results, nil when all succeeded.
func JoinErrors(results []FileResult) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

