package spy

import (
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const ErrorLogPrefix = "!! "

// ErrGroupLimitCPU returns an errgroup limited to NumCPU.
func ErrGroupLimitCPU() *errgroup.Group {
	errGroup := &errgroup.Group{}
	errGroup.SetLimit(runtime.NumCPU())
	return errGroup
}

// FileExists reports if filename exists and is not a directory.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
