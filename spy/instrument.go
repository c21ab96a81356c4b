package spy

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/scanner"
	"go/token"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

const defaultSourceName = "input.go"

// Result describes a successful instrumentation.
type Result struct {
	// FunctionName is the name of the instrumented function.
	FunctionName string
	// Output is the instrumented source text.
	Output string
	// Kinds lists the kind of each top-level statement, in source order.
	Kinds []StatementKind
	// Spliced counts the fragments injected.
	Spliced int
}

// Instrumenter rewrites single-function sources so running them prints a trace.
// It holds no mutable state and is safe for concurrent use.
type Instrumenter struct {
	trace TraceConfig
}

// NewInstrumenter validates the trace config and returns an Instrumenter.
func NewInstrumenter(trace TraceConfig) (*Instrumenter, error) {
	if err := trace.Validate(); err != nil {
		return nil, err
	}
	return &Instrumenter{trace: trace}, nil
}

var defaultInstrumenter = &Instrumenter{trace: DefaultTraceConfig()}

// Instrument rewrites src using the default trace configuration (fmt.Println).
func Instrument(src string) (string, error) {
	return defaultInstrumenter.Instrument(src)
}

// Instrument rewrites src and returns the instrumented source text.
func (in *Instrumenter) Instrument(src string) (string, error) {
	result, err := in.Run(defaultSourceName, src)
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// Run instruments src, using name for reported positions.
func (in *Instrumenter) Run(name, src string) (*Result, error) {
	if name == "" {
		name = defaultSourceName
	}
	fset := token.NewFileSet()
	file, err := parseSource(fset, name, src, in.trace.Package)
	if err != nil {
		return nil, err
	}
	fn, err := singleFunction(file)
	if err != nil {
		return nil, err
	}

	ctx := newDispatchContext(fset, fn, in.trace, src)
	kinds := ClassifyStatements(fn.Body.List)
	body := make([]ast.Stmt, len(fn.Body.List))
	for i, stmt := range fn.Body.List {
		if body[i], err = ctx.dispatch(stmt); err != nil {
			return nil, err
		}
	}
	fn.Body.List = body

	if len(ctx.fragments) > 0 && in.trace.Import != "" {
		astutil.AddImport(fset, file, in.trace.Import)
	}

	var buf bytes.Buffer
	if err := format.Node(&buf, fset, file); err != nil {
		return nil, fmt.Errorf("ast format failure %s: %w", name, err)
	}
	output := buf.String()
	if len(ctx.fragments) > 0 {
		if output, err = ctx.expandFragments(output); err != nil {
			return nil, fmt.Errorf("fragment expansion failure %s: %w", name, err)
		}
	}
	return &Result{
		FunctionName: fn.Name.Name,
		Output:       output,
		Kinds:        kinds,
		Spliced:      len(ctx.fragments),
	}, nil
}

// parseSource parses src, supplying a package clause when the source is a bare function.
// A line directive keeps reported positions relative to the caller's text.
func parseSource(fset *token.FileSet, name, src, pkg string) (*ast.File, error) {
	headerAdded := !hasPackageClause(src)
	if headerAdded {
		src = "package " + pkg + "\n//line " + name + ":1:1\n" + src
	}
	file, err := parser.ParseFile(fset, name, src, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		return nil, newSyntaxError(err)
	}
	if headerAdded { // the directive must not leak into the output
		dropLineDirective(file)
	}
	return file, nil
}

func hasPackageClause(src string) bool {
	fset := token.NewFileSet()
	data := []byte(src)
	var s scanner.Scanner
	s.Init(fset.AddFile("", fset.Base(), len(data)), data, nil, 0)
	_, tok, _ := s.Scan()
	return tok == token.PACKAGE
}

// dropLineDirective removes the directive added by parseSource, always the first comment in the file.
func dropLineDirective(file *ast.File) {
	if len(file.Comments) == 0 {
		return
	}
	g := file.Comments[0]
	g.List = g.List[1:]
	if len(g.List) > 0 {
		return
	}
	file.Comments = file.Comments[1:]
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Doc == g {
				d.Doc = nil
			}
		case *ast.GenDecl:
			if d.Doc == g {
				d.Doc = nil
			}
		}
	}
}

// singleFunction returns the only top-level function declaration in file.
func singleFunction(file *ast.File) (*ast.FuncDecl, error) {
	var funcs []*ast.FuncDecl
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok {
			funcs = append(funcs, fn)
		}
	}
	if len(funcs) == 0 {
		return nil, &StructuralError{Reason: "no function declared"}
	} else if len(funcs) > 1 {
		names := make([]string, len(funcs))
		for i, fn := range funcs {
			names[i] = fn.Name.Name
		}
		return nil, &StructuralError{FuncCount: len(funcs), Reason: "declared " + strings.Join(names, ", ")}
	} else if funcs[0].Body == nil {
		return nil, &StructuralError{FuncCount: 1, Reason: funcs[0].Name.Name + " has no body", Err: ErrNoFunctionBody}
	}
	return funcs[0], nil
}
