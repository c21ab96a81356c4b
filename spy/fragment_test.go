package spy

import (
	"bytes"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderNode(t *testing.T, n ast.Node) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, format.Node(&buf, token.NewFileSet(), n))
	return buf.String()
}

func TestSpliceFragment(t *testing.T) {
	t.Parallel()

	t.Run("with_result", func(t *testing.T) {
		call, err := SpliceFragment(`fmt.Println("x =", 5)`, "5", "int")
		require.NoError(t, err)

		closure, ok := call.Fun.(*ast.FuncLit)
		require.True(t, ok)
		require.NotNil(t, closure.Type.Results)
		require.Len(t, closure.Type.Results.List, 1)
		require.Len(t, closure.Body.List, 2)
		assert.IsType(t, &ast.ExprStmt{}, closure.Body.List[0])
		ret, ok := closure.Body.List[1].(*ast.ReturnStmt)
		require.True(t, ok)
		require.Len(t, ret.Results, 1)
		assert.Empty(t, call.Args)

		src := renderNode(t, call)
		assert.Contains(t, src, `fmt.Println("x =", 5)`)
		assert.Contains(t, src, "return 5")
	})

	t.Run("without_result", func(t *testing.T) {
		call, err := SpliceFragment(`fmt.Println("entered")`, "", "")
		require.NoError(t, err)

		closure := call.Fun.(*ast.FuncLit)
		assert.Nil(t, closure.Type.Results)
		require.Len(t, closure.Body.List, 1)
		assert.NotContains(t, renderNode(t, call), "return")
	})

	t.Run("multi_result", func(t *testing.T) {
		call, err := SpliceFragment("trace()", "split(s)", "(string, error)")
		require.NoError(t, err)

		closure := call.Fun.(*ast.FuncLit)
		require.NotNil(t, closure.Type.Results)
		assert.Len(t, closure.Type.Results.List, 2)
	})

	t.Run("multi_statement_trace", func(t *testing.T) {
		call, err := SpliceFragment("for i := 1; i <= 2; i++ {\ntrace(i)\n}", "", "")
		require.NoError(t, err)

		closure := call.Fun.(*ast.FuncLit)
		require.Len(t, closure.Body.List, 1)
		assert.IsType(t, &ast.ForStmt{}, closure.Body.List[0])
	})

	t.Run("positions_cleared", func(t *testing.T) {
		call, err := SpliceFragment(`fmt.Println("a", 1)`, `"s"`, "string")
		require.NoError(t, err)

		ast.Inspect(call, func(n ast.Node) bool {
			if n != nil {
				assert.Equal(t, token.NoPos, n.Pos(), "%T", n)
			}
			return true
		})
	})

	t.Run("independent_results", func(t *testing.T) {
		first, err := SpliceFragment("trace()", "", "")
		require.NoError(t, err)
		second, err := SpliceFragment("trace()", "", "")
		require.NoError(t, err)

		assert.NotSame(t, first, second)
		assert.Equal(t, renderNode(t, first), renderNode(t, second))
	})

	t.Run("splices_into_tree", func(t *testing.T) {
		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, "a.go", "package a\n\nfunc f() {\n\tx := 1\n\t_ = x\n}\n", parser.SkipObjectResolution)
		require.NoError(t, err)
		call, err := SpliceFragment("trace()", "1", "int")
		require.NoError(t, err)

		assign := file.Decls[0].(*ast.FuncDecl).Body.List[0].(*ast.AssignStmt)
		assign.Rhs[0] = call
		var buf bytes.Buffer
		require.NoError(t, format.Node(&buf, fset, file))

		_, err = parser.ParseFile(token.NewFileSet(), "a.go", buf.String(), 0)
		assert.NoError(t, err)
	})
}

func TestSpliceFragmentErrors(t *testing.T) {
	t.Parallel()

	t.Run("result_without_type", func(t *testing.T) {
		_, err := SpliceFragment("trace()", "5", "")
		assert.Error(t, err)
	})

	t.Run("type_without_result", func(t *testing.T) {
		_, err := SpliceFragment("trace()", "", "int")
		assert.Error(t, err)
	})

	t.Run("unbalanced_trace", func(t *testing.T) {
		_, err := SpliceFragment("trace(", "", "")
		var syntaxErr *SyntaxError
		require.ErrorAs(t, err, &syntaxErr)
		assert.True(t, syntaxErr.Pos.IsValid())
		assert.NotEmpty(t, syntaxErr.Msg)
	})

	t.Run("escaping_trace", func(t *testing.T) {
		_, err := SpliceFragment("}()\n}\nfunc g() {\nfunc() {", "", "")
		var syntaxErr *SyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("bad_result_type", func(t *testing.T) {
		_, err := SpliceFragment("trace()", "5", "int int")
		var syntaxErr *SyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})
}

func TestResultListSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sig    string
		expect string
	}{
		{"func()", ""},
		{"func() int", "int"},
		{"func() (n int)", "int"},
		{"func() (int, error)", "(int, error)"},
		{"func() (a, b string, err error)", "(string, string, error)"},
		{"func() []map[string]int", "[]map[string]int"},
	}

	for _, tc := range tests {
		t.Run(tc.sig, func(t *testing.T) {
			fset := token.NewFileSet()
			expr, err := parser.ParseExprFrom(fset, "sig.go", tc.sig, 0)
			require.NoError(t, err)

			var buf bytes.Buffer
			src, err := resultListSource(&buf, fset, expr.(*ast.FuncType).Results)
			require.NoError(t, err)
			assert.Equal(t, tc.expect, src)
		})
	}
}
