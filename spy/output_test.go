package spy

import (
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const computeSource = `func compute(n int) int {
	x := 5
	var scale float64 = 1.5
	_ = scale
	if n > x {
		n--
	}
	for i := 0; i < 2; i++ {
		n += i
	}
	return add(n, x)
}
`

const computeMainSource = `package main

import "fmt"

func add(a, b int) int {
	return a + b
}

func main() {
	fmt.Println("result", compute(7))
}
`

func TestInstrumentedOutputTypeChecks(t *testing.T) {
	t.Parallel()

	in, err := NewInstrumenter(TraceConfig{Func: "println", Package: "main"})
	require.NoError(t, err)
	out, err := in.Instrument(computeSource)
	require.NoError(t, err)

	fset := token.NewFileSet()
	outFile, err := parser.ParseFile(fset, "compute.go", out, parser.SkipObjectResolution)
	require.NoError(t, err)
	helperFile, err := parser.ParseFile(fset, "add.go",
		"package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n", parser.SkipObjectResolution)
	require.NoError(t, err)

	info := &types.Info{Types: make(map[ast.Expr]types.TypeAndValue)}
	conf := types.Config{}
	_, err = conf.Check("main", fset, []*ast.File{outFile, helperFile}, info)
	require.NoError(t, err)

	// the return closure keeps the call's result type
	var fn *ast.FuncDecl
	for _, decl := range outFile.Decls {
		if d, ok := decl.(*ast.FuncDecl); ok && d.Name.Name == "compute" {
			fn = d
		}
	}
	require.NotNil(t, fn)
	ret, ok := fn.Body.List[len(fn.Body.List)-1].(*ast.ReturnStmt)
	require.True(t, ok)
	assert.Equal(t, "int", info.TypeOf(ret.Results[0]).String())
}

func TestInstrumentedOutputRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available")
	}

	in, err := NewInstrumenter(TraceConfig{Func: defaultTraceFunc, Import: defaultTraceImport, Package: "main"})
	require.NoError(t, err)
	out, err := in.Instrument(computeSource)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, ExportModule(dir, "example.com/compute", "1.21", out))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte(computeMainSource), 0644))

	cmd := exec.Command(goBin, "run", ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GOWORK=off", "GOTOOLCHAIN=local", "GOFLAGS=-mod=mod")
	stdout, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		t.Log(string(exitErr.Stderr))
	}
	require.NoError(t, err)

	assert.Equal(t, "variable declaration: x = 5\n"+
		"variable declaration: scale = 1.5\n"+
		"if statement entered\n"+
		"for loop iteration: 1\n"+
		"for loop iteration: 2\n"+
		"for loop iteration: 1\n"+
		"for loop iteration: 2\n"+
		"return statement\n"+
		"result 12\n", string(stdout))
}
