package python

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MAsif786/intentc/internal/ir"
)

// exprMode selects the rendering dialect for a lowered expression.
type exprMode int

const (
	// modeFilter renders for a SQLAlchemy filter: column references are
	// Model.field, logical operators are &, |, ~.
	modeFilter exprMode = iota
	// modePython renders plain Python: and/or/not, runtime values only.
	modePython
)

// exprContext tells the renderer how each reference kind reads at the
// point in the generated function where the expression is inlined.
type exprContext struct {
	mode exprMode

	// pathParams are action inputs bound as function arguments; all other
	// inputs are fields of the request payload.
	pathParams map[string]bool
	hasPayload bool

	// bindingVars maps process binding names to local variable names.
	bindingVars map[string]string

	// subjectVar is the authenticated row variable ("current_user").
	subjectVar string
}

// renderExpr turns a resolved IR expression into Python source.
func renderExpr(e *ir.Expr, ctx *exprContext) string {
	if e == nil {
		return "True"
	}
	switch e.Kind {
	case ir.ExprLiteral:
		return renderLiteral(e.Literal)

	case ir.ExprRef:
		return renderRef(e.Ref, ctx)

	case ir.ExprCompare:
		return fmt.Sprintf("%s %s %s", renderExpr(e.Left, ctx), e.Op, renderExpr(e.Right, ctx))

	case ir.ExprLogical:
		if ctx.mode == modeFilter {
			op := "&"
			if e.Op == "or" {
				op = "|"
			}
			return fmt.Sprintf("(%s) %s (%s)", renderExpr(e.Left, ctx), op, renderExpr(e.Right, ctx))
		}
		return fmt.Sprintf("(%s) %s (%s)", renderExpr(e.Left, ctx), e.Op, renderExpr(e.Right, ctx))

	case ir.ExprNot:
		if ctx.mode == modeFilter {
			return fmt.Sprintf("~(%s)", renderExpr(e.Operand, ctx))
		}
		return fmt.Sprintf("not (%s)", renderExpr(e.Operand, ctx))

	case ir.ExprCall:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = renderExpr(a, ctx)
		}
		return fmt.Sprintf("%s(%s)", computeCallee(e.Call), strings.Join(args, ", "))
	}
	return "None"
}

func renderLiteral(lit *ir.Literal) string {
	switch lit.Kind {
	case "string":
		return pyString(lit.Str)
	case "number":
		return strconv.FormatFloat(lit.Num, 'g', -1, 64)
	case "bool":
		if lit.Bool {
			return "True"
		}
		return "False"
	case "keyword":
		if lit.Keyword == "now" {
			return "datetime.utcnow()"
		}
		return "str(uuid4())"
	}
	return "None"
}

func renderRef(r *ir.Ref, ctx *exprContext) string {
	switch r.Kind {
	case ir.RefInput:
		if ctx.pathParams[r.Name] || !ctx.hasPayload {
			return r.Name
		}
		return "payload." + r.Name

	case ir.RefBinding:
		name := r.Name
		if v, ok := ctx.bindingVars[r.Name]; ok {
			name = v
		}
		if r.Field != "" {
			return name + "." + r.Field
		}
		return name

	case ir.RefSubject:
		if r.Field != "" {
			return ctx.subjectVar + "." + r.Field
		}
		return ctx.subjectVar

	case ir.RefField:
		if ctx.mode == modeFilter {
			return "models." + r.Entity + "." + r.Field
		}
		return strings.ToLower(r.Entity) + "." + r.Field
	}
	return "None"
}

// computeCallee resolves a compute-function name to its generated home:
// hashing lives in auth.py, everything else is a service stub.
func computeCallee(fn string) string {
	switch fn {
	case "verify_hash":
		return "verify_hash"
	case "hash":
		return "hash_value"
	default:
		return "services." + fn
	}
}

// pyString renders a double-quoted Python string literal.
func pyString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
