package spy

import (
	"errors"
	"fmt"
	"go/token"
)

var (
	// ErrNoFunctionBody indicates a function has no body (e.g., assembly-only or external).
	ErrNoFunctionBody = errors.New("function has no body (likely assembly or external implementation)")
	// ErrNonLiteral indicates a value the instrumentation must read at transform time is not a literal.
	ErrNonLiteral = errors.New("value is not a literal")
	// ErrMissingInitializer indicates a variable declaration without an initial value.
	ErrMissingInitializer = errors.New("variable declaration has no initializer")
	// ErrMultipleBindings indicates a declaration binding more than one name.
	ErrMultipleBindings = errors.New("declaration must bind exactly one name")
	// ErrNotCallExpression indicates a return statement whose result is not a single call expression.
	ErrNotCallExpression = errors.New("return value is not a single call expression")
	// ErrUnsupportedOperator indicates a loop condition not using <, <=, > or >=.
	ErrUnsupportedOperator = errors.New("unsupported loop comparison")
	// ErrUnsupportedUpdate indicates a loop post statement that does not step the loop variable by a literal.
	ErrUnsupportedUpdate = errors.New("unsupported loop update")
)

// SyntaxError reports source text that could not be parsed.
type SyntaxError struct {
	Pos token.Position
	Msg string
	Err error
}

func (e *SyntaxError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Msg)
	}
	return "syntax error: " + e.Msg
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// StructuralError reports a source that does not declare exactly one function with a body.
type StructuralError struct {
	FuncCount int
	Reason    string
	Err       error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("expected exactly one function declaration, found %d: %s", e.FuncCount, e.Reason)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// TransformError reports a statement whose shape the instrumentation can not handle.
type TransformError struct {
	Kind StatementKind
	Pos  token.Position
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s: unable to instrument %s: %v", e.Pos, e.Kind, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// InvalidLoopBoundsError reports loop bounds that can not produce a finite trip count.
type InvalidLoopBoundsError struct {
	Pos    token.Position // unset when returned directly from TripCount
	Init   int64
	Limit  int64
	Op     token.Token
	Step   int64
	Reason string
}

func (e *InvalidLoopBoundsError) Error() string {
	msg := fmt.Sprintf("invalid loop bounds (init=%d %s %d, step=%d): %s", e.Init, e.Op, e.Limit, e.Step, e.Reason)
	if e.Pos.IsValid() {
		return e.Pos.String() + ": " + msg
	}
	return msg
}

func newTransformError(ctx *dispatchContext, kind StatementKind, node interface{ Pos() token.Pos }, err error) *TransformError {
	return &TransformError{
		Kind: kind,
		Pos:  ctx.fset.Position(node.Pos()),
		Err:  err,
	}
}
