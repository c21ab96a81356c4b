package spy

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/token"
	"math"
	"strconv"
	"strings"
)

const (
	loopTraceVar      = "iteration"
	placeholderPrefix = "_spyFragment"
)

// dispatchContext carries the per-call state shared by the statement handlers.
type dispatchContext struct {
	fset  *token.FileSet
	fn    *ast.FuncDecl
	trace TraceConfig
	buf   bytes.Buffer
	// fragments are spliced as placeholder identifiers, expanded once the file has been printed.
	fragments   []*ast.CallExpr
	placeholder string
}

func newDispatchContext(fset *token.FileSet, fn *ast.FuncDecl, trace TraceConfig, src string) *dispatchContext {
	prefix := placeholderPrefix
	for strings.Contains(src, prefix) {
		prefix += "_"
	}
	return &dispatchContext{fset: fset, fn: fn, trace: trace, placeholder: prefix}
}

// dispatch applies the handler for the statement's kind and returns the replacement statement.
func (ctx *dispatchContext) dispatch(stmt ast.Stmt) (ast.Stmt, error) {
	switch kind := ClassifyStatement(stmt); kind {
	case ForStatement:
		return ctx.handleFor(stmt.(*ast.ForStmt))
	case IfStatement:
		return ctx.handleIf(stmt.(*ast.IfStmt))
	case ReturnStatement:
		return ctx.handleReturn(stmt.(*ast.ReturnStmt))
	case VariableDeclaration:
		return ctx.handleVariableDeclaration(stmt)
	case WhileStatement, ExpressionStatement, OtherStatement:
		return stmt, nil // recognized but left unmodified
	default:
		panic(fmt.Sprintf("unhandled statement kind %d", kind))
	}
}

// traceCall renders a call of the configured trace function.
func (ctx *dispatchContext) traceCall(args ...string) string {
	return ctx.trace.Func + "(" + strings.Join(args, ", ") + ")"
}

// splice builds a fragment and returns the identifier standing in for it at pos. Fragments carry no
// positions, printing them in place would let the printer interleave the file's comments into them.
func (ctx *dispatchContext) splice(kind StatementKind, stmt ast.Stmt, pos token.Pos,
	traceSrc, resultSrc, resultType string) (*ast.Ident, error) {
	frag, err := SpliceFragment(traceSrc, resultSrc, resultType)
	if err != nil {
		return nil, newTransformError(ctx, kind, stmt, err)
	}
	ident := &ast.Ident{NamePos: pos, Name: ctx.placeholderName(len(ctx.fragments))}
	ctx.fragments = append(ctx.fragments, frag)
	return ident, nil
}

func (ctx *dispatchContext) placeholderName(i int) string {
	return ctx.placeholder + strconv.Itoa(i) + "_"
}

// expandFragments replaces each placeholder in the printed file with its fragment and reformats the result.
func (ctx *dispatchContext) expandFragments(printed string) (string, error) {
	fragmentFset := token.NewFileSet()
	pairs := make([]string, 0, 2*len(ctx.fragments))
	for i, frag := range ctx.fragments {
		src, err := nodeSource(&ctx.buf, fragmentFset, frag)
		if err != nil {
			return "", err
		}
		pairs = append(pairs, ctx.placeholderName(i), src)
	}
	out, err := format.Source([]byte(strings.NewReplacer(pairs...).Replace(printed)))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (ctx *dispatchContext) source(kind StatementKind, stmt ast.Stmt, n ast.Node) (string, error) {
	src, err := nodeSource(&ctx.buf, ctx.fset, n)
	if err != nil {
		return "", newTransformError(ctx, kind, stmt, fmt.Errorf("render failure: %w", err))
	}
	return src, nil
}

func (ctx *dispatchContext) handleVariableDeclaration(stmt ast.Stmt) (ast.Stmt, error) {
	var name *ast.Ident
	var value *ast.Expr
	var declType ast.Expr
	switch s := stmt.(type) {
	case *ast.DeclStmt:
		gen := s.Decl.(*ast.GenDecl)
		if len(gen.Specs) != 1 {
			return nil, newTransformError(ctx, VariableDeclaration, stmt, ErrMultipleBindings)
		}
		spec := gen.Specs[0].(*ast.ValueSpec)
		if len(spec.Names) != 1 {
			return nil, newTransformError(ctx, VariableDeclaration, stmt, ErrMultipleBindings)
		} else if len(spec.Values) == 0 {
			return nil, newTransformError(ctx, VariableDeclaration, stmt, ErrMissingInitializer)
		}
		name, value, declType = spec.Names[0], &spec.Values[0], spec.Type
	case *ast.AssignStmt:
		if len(s.Lhs) != 1 || len(s.Rhs) != 1 {
			return nil, newTransformError(ctx, VariableDeclaration, stmt, ErrMultipleBindings)
		}
		ident, ok := s.Lhs[0].(*ast.Ident)
		if !ok {
			return nil, newTransformError(ctx, VariableDeclaration, stmt,
				fmt.Errorf("%w: left side is not a name", ErrMultipleBindings))
		}
		name, value = ident, &s.Rhs[0]
	default:
		return nil, newTransformError(ctx, VariableDeclaration, stmt, fmt.Errorf("unexpected node %T", stmt))
	}

	resultType, ok := literalType(*value)
	if !ok {
		return nil, newTransformError(ctx, VariableDeclaration, stmt, ErrNonLiteral)
	}
	if declType != nil {
		src, err := ctx.source(VariableDeclaration, stmt, declType)
		if err != nil {
			return nil, err
		}
		resultType = src
	}
	litSrc, err := ctx.source(VariableDeclaration, stmt, *value)
	if err != nil {
		return nil, err
	}

	traceSrc := ctx.traceCall(strconv.Quote("variable declaration: "+name.Name+" ="), litSrc)
	frag, err := ctx.splice(VariableDeclaration, stmt, (*value).Pos(), traceSrc, litSrc, resultType)
	if err != nil {
		return nil, err
	}
	*value = frag
	return stmt, nil
}

func (ctx *dispatchContext) handleIf(s *ast.IfStmt) (ast.Stmt, error) {
	frag, err := ctx.splice(IfStatement, s, s.Body.Lbrace, ctx.traceCall(strconv.Quote("if statement entered")), "", "")
	if err != nil {
		return nil, err
	}
	s.Body.List = append([]ast.Stmt{&ast.ExprStmt{X: frag}}, s.Body.List...)
	return s, nil
}

func (ctx *dispatchContext) handleReturn(s *ast.ReturnStmt) (ast.Stmt, error) {
	if len(s.Results) != 1 {
		return nil, newTransformError(ctx, ReturnStatement, s, ErrNotCallExpression)
	}
	call, ok := s.Results[0].(*ast.CallExpr)
	if !ok {
		return nil, newTransformError(ctx, ReturnStatement, s, ErrNotCallExpression)
	}
	resultType, err := resultListSource(&ctx.buf, ctx.fset, ctx.fn.Type.Results)
	if err != nil {
		return nil, newTransformError(ctx, ReturnStatement, s, fmt.Errorf("render failure: %w", err))
	} else if resultType == "" {
		return nil, newTransformError(ctx, ReturnStatement, s, errors.New("enclosing function declares no results"))
	}
	callSrc, err := ctx.source(ReturnStatement, s, call)
	if err != nil {
		return nil, err
	}

	frag, err := ctx.splice(ReturnStatement, s, call.Pos(),
		ctx.traceCall(strconv.Quote("return statement")), callSrc, resultType)
	if err != nil {
		return nil, err
	}
	s.Results[0] = frag
	return s, nil
}

func (ctx *dispatchContext) handleFor(s *ast.ForStmt) (ast.Stmt, error) {
	initVal, limit, op, step, err := loopBounds(s)
	if err != nil {
		return nil, newTransformError(ctx, ForStatement, s, err)
	}
	count, err := TripCount(initVal, limit, op, step)
	if err != nil {
		var boundsErr *InvalidLoopBoundsError
		if errors.As(err, &boundsErr) {
			boundsErr.Pos = ctx.fset.Position(s.Pos())
		}
		return nil, err
	}

	// counting from zero keeps the bound reachable when count is math.MaxInt64
	traceSrc := fmt.Sprintf("for %[1]s := 0; %[1]s < %[2]d; %[1]s++ {\n%[3]s\n}",
		loopTraceVar, count, ctx.traceCall(strconv.Quote("for loop iteration:"), loopTraceVar+"+1"))
	frag, err := ctx.splice(ForStatement, s, s.Body.Lbrace, traceSrc, "", "")
	if err != nil {
		return nil, err
	}
	s.Body.List = append([]ast.Stmt{&ast.ExprStmt{X: frag}}, s.Body.List...)
	return s, nil
}

// loopBounds extracts the literal bounds of `for v := init; v <op> limit; post`.
// The returned step is the progress toward the limit per iteration.
func loopBounds(s *ast.ForStmt) (initVal, limit int64, op token.Token, step int64, err error) {
	init, ok := s.Init.(*ast.AssignStmt)
	if !ok || (init.Tok != token.DEFINE && init.Tok != token.ASSIGN) || len(init.Lhs) != 1 || len(init.Rhs) != 1 {
		err = fmt.Errorf("%w: initializer must assign a single loop variable", ErrNonLiteral)
		return
	}
	loopVar, ok := init.Lhs[0].(*ast.Ident)
	if !ok {
		err = fmt.Errorf("%w: initializer must assign a single loop variable", ErrNonLiteral)
		return
	}
	if initVal, ok = intLiteral(init.Rhs[0]); !ok {
		err = fmt.Errorf("%w: loop initializer", ErrNonLiteral)
		return
	}

	cond, ok := s.Cond.(*ast.BinaryExpr)
	if !ok || !isIdent(cond.X, loopVar.Name) {
		err = fmt.Errorf("%w: condition must compare %s", ErrUnsupportedOperator, loopVar.Name)
		return
	}
	switch cond.Op {
	case token.LSS, token.LEQ, token.GTR, token.GEQ:
		op = cond.Op
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedOperator, cond.Op)
		return
	}
	if limit, ok = intLiteral(cond.Y); !ok {
		err = fmt.Errorf("%w: loop limit", ErrNonLiteral)
		return
	}

	if s.Post == nil {
		step = 1
		return
	}
	delta, ok := loopDelta(s.Post, loopVar.Name)
	if !ok {
		err = ErrUnsupportedUpdate
		return
	}
	step = delta
	if op == token.GTR || op == token.GEQ {
		if delta == math.MinInt64 {
			err = fmt.Errorf("%w: step out of range", ErrUnsupportedUpdate)
			return
		}
		step = -delta
	}
	return
}

// loopDelta returns the signed change a post statement applies to the loop variable.
func loopDelta(post ast.Stmt, loopVar string) (int64, bool) {
	switch p := post.(type) {
	case *ast.IncDecStmt:
		if !isIdent(p.X, loopVar) {
			return 0, false
		} else if p.Tok == token.INC {
			return 1, true
		}
		return -1, true
	case *ast.AssignStmt:
		if len(p.Lhs) != 1 || len(p.Rhs) != 1 || !isIdent(p.Lhs[0], loopVar) {
			return 0, false
		}
		rhs := p.Rhs[0]
		tok := p.Tok
		if tok == token.ASSIGN { // v = v + k, v = v - k
			bin, ok := rhs.(*ast.BinaryExpr)
			if !ok || !isIdent(bin.X, loopVar) {
				return 0, false
			}
			rhs = bin.Y
			switch bin.Op {
			case token.ADD:
				tok = token.ADD_ASSIGN
			case token.SUB:
				tok = token.SUB_ASSIGN
			default:
				return 0, false
			}
		}
		v, ok := intLiteral(rhs)
		if !ok {
			return 0, false
		}
		switch tok {
		case token.ADD_ASSIGN:
			return v, true
		case token.SUB_ASSIGN:
			if v == math.MinInt64 {
				return 0, false
			}
			return -v, true
		}
	}
	return 0, false
}

func isIdent(e ast.Expr, name string) bool {
	ident, ok := e.(*ast.Ident)
	return ok && ident.Name == name
}

// intLiteral reads an integer or rune literal, optionally signed.
func intLiteral(e ast.Expr) (int64, bool) {
	sign := ""
	if u, ok := e.(*ast.UnaryExpr); ok && (u.Op == token.SUB || u.Op == token.ADD) {
		if u.Op == token.SUB {
			sign = "-"
		}
		e = u.X
	}
	lit, ok := e.(*ast.BasicLit)
	if !ok {
		return 0, false
	}
	switch lit.Kind {
	case token.INT:
		v, err := strconv.ParseInt(sign+lit.Value, 0, 64)
		return v, err == nil
	case token.CHAR:
		r, _, tail, err := strconv.UnquoteChar(lit.Value[1:len(lit.Value)-1], '\'')
		if err != nil || tail != "" {
			return 0, false
		} else if sign != "" {
			return -int64(r), true
		}
		return int64(r), true
	}
	return 0, false
}

// literalType reports the default Go type of a literal expression.
func literalType(e ast.Expr) (string, bool) {
	if u, ok := e.(*ast.UnaryExpr); ok && (u.Op == token.SUB || u.Op == token.ADD) {
		lit, ok := u.X.(*ast.BasicLit)
		if !ok || lit.Kind == token.STRING || lit.Kind == token.CHAR {
			return "", false
		}
		e = lit
	}
	switch v := e.(type) {
	case *ast.BasicLit:
		switch v.Kind {
		case token.INT:
			return "int", true
		case token.FLOAT:
			return "float64", true
		case token.IMAG:
			return "complex128", true
		case token.CHAR:
			return "rune", true
		case token.STRING:
			return "string", true
		}
	case *ast.Ident:
		if v.Name == "true" || v.Name == "false" {
			return "bool", true
		}
	}
	return "", false
}
