package spy

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/scanner"
	"go/token"
	"reflect"
	"strings"
)

const fragmentFilename = "fragment.go"

// fragmentTemplate wraps the closure in a throwaway function so it parses as a statement.
// A call statement is valid regardless of the closure's result type.
const fragmentTemplate = `package spyfragment

func _() {
	func() %s {
		%s
		return %s
	}()
}
`

// SpliceFragment builds an immediately invoked closure that runs traceSrc and then yields resultSrc.
// resultType is the closure's result list and is required whenever resultSrc is set. With an empty
// resultSrc the closure produces nothing. The returned call has no position information so it may be
// spliced into any tree.
func SpliceFragment(traceSrc, resultSrc, resultType string) (*ast.CallExpr, error) {
	if (resultSrc == "") != (resultType == "") {
		return nil, errors.New("fragment result and result type must be provided together")
	}
	src := fmt.Sprintf(fragmentTemplate, resultType, traceSrc, resultSrc)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, fragmentFilename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, newSyntaxError(err)
	}
	wrapper, ok := file.Decls[0].(*ast.FuncDecl)
	if !ok || len(file.Decls) != 1 || len(wrapper.Body.List) != 1 {
		return nil, &SyntaxError{Msg: "fragment source escaped its template"}
	}
	stmt, ok := wrapper.Body.List[0].(*ast.ExprStmt)
	if !ok {
		return nil, &SyntaxError{Msg: "fragment source escaped its template"}
	}
	call, ok := stmt.X.(*ast.CallExpr)
	if !ok {
		return nil, &SyntaxError{Msg: "fragment source escaped its template"}
	}
	closure, ok := call.Fun.(*ast.FuncLit)
	if !ok {
		return nil, &SyntaxError{Msg: "fragment source escaped its template"}
	}
	if resultSrc == "" { // drop the bare trailing return
		body := closure.Body.List
		if n := len(body); n > 0 {
			if ret, ok := body[n-1].(*ast.ReturnStmt); ok && len(ret.Results) == 0 {
				closure.Body.List = body[:n-1]
			}
		}
	}

	clearPositions(call)
	return call, nil
}

// newSyntaxError converts a go/parser failure into a SyntaxError holding the first reported position.
func newSyntaxError(err error) *SyntaxError {
	var list scanner.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		return &SyntaxError{Pos: list[0].Pos, Msg: list[0].Msg, Err: err}
	}
	return &SyntaxError{Msg: err.Error(), Err: err}
}

var posType = reflect.TypeOf(token.NoPos)

// clearPositions zeroes every token.Pos reachable from n. Nodes must come from a parse that skipped
// object resolution, otherwise ast.Object links form cycles.
func clearPositions(n ast.Node) {
	clearValuePositions(reflect.ValueOf(n))
}

func clearValuePositions(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			clearValuePositions(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			f := v.Field(i)
			if !f.CanSet() {
				continue
			} else if f.Type() == posType {
				f.SetInt(int64(token.NoPos))
			} else {
				clearValuePositions(f)
			}
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			clearValuePositions(v.Index(i))
		}
	}
}

// nodeSource renders a node back to Go source text.
func nodeSource(buf *bytes.Buffer, fset *token.FileSet, n ast.Node) (string, error) {
	buf.Reset()
	if err := format.Node(buf, fset, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// resultListSource renders a function result list as a closure result type, dropping any names.
func resultListSource(buf *bytes.Buffer, fset *token.FileSet, results *ast.FieldList) (string, error) {
	if results == nil || len(results.List) == 0 {
		return "", nil
	}
	var types []string
	for _, field := range results.List {
		typ, err := nodeSource(buf, fset, field.Type)
		if err != nil {
			return "", err
		}
		for range max(1, len(field.Names)) {
			types = append(types, typ)
		}
	}
	if len(types) == 1 {
		return types[0], nil
	}
	return "(" + strings.Join(types, ", ") + ")", nil
}
