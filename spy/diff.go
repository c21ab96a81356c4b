package spy

import (
	"github.com/pmezard/go-difflib/difflib"
)

// UnifiedDiff renders the changes from original to instrumented, empty when nothing changed.
func UnifiedDiff(name, original, instrumented string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(instrumented),
		FromFile: name,
		ToFile:   name + " (instrumented)",
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(diff)
}
