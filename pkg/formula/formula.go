// Package formula compiles and evaluates the operator-supplied conversion
// formulas that map the two measured voltages v1 and v2 to a target in mm.
//
// Only arithmetic is accepted: numeric literals, the variables v1 and v2,
// binary + - * / ^ ** and unary + -. Anything else is rejected when the
// formula is compiled.
package formula

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Variables available to a formula.
const (
	VarV1 = "v1"
	VarV2 = "v2"
)

var binaryOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "^": true, "**": true,
}

// Expression is a compiled formula. It is safe for concurrent use.
type Expression struct {
	src     string
	program *vm.Program
}

// Compile parses src and checks that it only uses permitted syntax.
func Compile(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("empty formula")
	}

	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	v := &sandbox{}
	ast.Walk(&tree.Node, v)
	if v.err != nil {
		return nil, v.err
	}

	program, err := expr.Compile(src,
		expr.Env(env(0, 0)),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, err
	}
	return &Expression{src: src, program: program}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(fmt.Sprintf("formula: Compile(%q): %v", src, err))
	}
	return e
}

// String returns the formula source.
func (e *Expression) String() string { return e.src }

// Eval evaluates the formula. Non-finite results are errors.
func (e *Expression) Eval(v1, v2 float64) (float64, error) {
	out, err := expr.Run(e.program, env(v1, v2))
	if err != nil {
		return 0, err
	}

	var f float64
	switch x := out.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	default:
		return 0, fmt.Errorf("formula %q produced %T, want a number", e.src, out)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("formula %q is not finite for v1=%g v2=%g", e.src, v1, v2)
	}
	return f, nil
}

func env(v1, v2 float64) map[string]any {
	return map[string]any{VarV1: v1, VarV2: v2}
}

// sandbox rejects every node outside the arithmetic subset.
type sandbox struct {
	err error
}

func (s *sandbox) Visit(node *ast.Node) {
	if s.err != nil {
		return
	}
	switch n := (*node).(type) {
	case *ast.IntegerNode, *ast.FloatNode:
	case *ast.IdentifierNode:
		if n.Value != VarV1 && n.Value != VarV2 {
			s.err = fmt.Errorf("unknown variable %q", n.Value)
		}
	case *ast.BinaryNode:
		if !binaryOps[n.Operator] {
			s.err = fmt.Errorf("operator %q not allowed", n.Operator)
		}
	case *ast.UnaryNode:
		if n.Operator != "+" && n.Operator != "-" {
			s.err = fmt.Errorf("operator %q not allowed", n.Operator)
		}
	default:
		s.err = fmt.Errorf("%T not allowed", n)
	}
}
