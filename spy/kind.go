package spy

import (
	"go/ast"
	"go/token"
)

// StatementKind is the closed set of statement categories the dispatcher distinguishes.
type StatementKind uint8

const (
	OtherStatement StatementKind = iota
	ForStatement
	WhileStatement
	IfStatement
	ReturnStatement
	VariableDeclaration
	ExpressionStatement
)

// AllStatementKinds lists every kind in declaration order.
var AllStatementKinds = []StatementKind{
	OtherStatement, ForStatement, WhileStatement, IfStatement,
	ReturnStatement, VariableDeclaration, ExpressionStatement,
}

func (k StatementKind) String() string {
	switch k {
	case ForStatement:
		return "ForStatement"
	case WhileStatement:
		return "WhileStatement"
	case IfStatement:
		return "IfStatement"
	case ReturnStatement:
		return "ReturnStatement"
	case VariableDeclaration:
		return "VariableDeclaration"
	case ExpressionStatement:
		return "ExpressionStatement"
	default:
		return "Other"
	}
}

// ClassifyStatement maps a statement node to its kind.
func ClassifyStatement(stmt ast.Stmt) StatementKind {
	switch s := stmt.(type) {
	case *ast.ForStmt:
		if s.Init == nil && s.Post == nil {
			return WhileStatement // `for cond {}` is Go's while loop
		}
		return ForStatement
	case *ast.IfStmt:
		return IfStatement
	case *ast.ReturnStmt:
		return ReturnStatement
	case *ast.DeclStmt:
		if gen, ok := s.Decl.(*ast.GenDecl); ok && gen.Tok == token.VAR {
			return VariableDeclaration
		}
		return OtherStatement // const and type declarations can not hold a closure call
	case *ast.AssignStmt:
		if s.Tok == token.DEFINE {
			return VariableDeclaration
		}
		return OtherStatement
	case *ast.ExprStmt:
		return ExpressionStatement
	default:
		return OtherStatement
	}
}

// ClassifyStatements returns the kind of each statement in order.
func ClassifyStatements(stmts []ast.Stmt) []StatementKind {
	kinds := make([]StatementKind, len(stmts))
	for i, s := range stmts {
		kinds[i] = ClassifyStatement(s)
	}
	return kinds
}
