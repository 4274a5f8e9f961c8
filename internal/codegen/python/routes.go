package python

import (
	"fmt"
	"strings"

	"github.com/MAsif786/intentc/internal/ast"
	"github.com/MAsif786/intentc/internal/codegen"
	"github.com/MAsif786/intentc/internal/ir"
)

// routeWriter translates every @api action's lowered process IR into a
// FastAPI handler. Bodies are rendered first; the import block is
// derived from what the bodies actually use.
type routeWriter struct {
	build *codegen.Build
}

func (r *routeWriter) emit() string {
	var body strings.Builder
	for _, act := range r.build.Program.Actions {
		if act.Decorator(ast.DecoratorAPI) == nil {
			continue
		}
		r.emitAction(&body, act)
	}

	var s strings.Builder
	s.WriteString(header)
	s.WriteString("\nfrom fastapi import APIRouter, Depends, HTTPException\n")
	s.WriteString("from sqlalchemy.orm import Session\n\n")

	content := body.String()
	if strings.Contains(content, "datetime.utcnow()") {
		s.WriteString("from datetime import datetime\n")
	}
	if strings.Contains(content, "uuid4()") {
		s.WriteString("from uuid import uuid4\n")
	}
	s.WriteString("\nfrom app import models, schemas\n")
	if strings.Contains(content, "services.") {
		s.WriteString("from app import services\n")
	}
	s.WriteString("from app.database import get_db\n")

	var authImports []string
	for _, name := range []string{"create_access_token", "verify_access_token", "get_current_user", "hash_value", "verify_hash"} {
		if strings.Contains(content, name) {
			authImports = append(authImports, name)
		}
	}
	if len(authImports) > 0 {
		fmt.Fprintf(&s, "from app.auth import %s\n", strings.Join(authImports, ", "))
	}
	if strings.Contains(content, "policies.") {
		s.WriteString("from app import policies\n")
	}

	s.WriteString("\nrouter = APIRouter()\n")
	s.WriteString(content)
	return s.String()
}

func (r *routeWriter) emitAction(s *strings.Builder, act *ast.Action) {
	api := act.Decorator(ast.DecoratorAPI)
	actIR := r.build.IR.Action(act.Name)
	hasAuth := act.Decorator(ast.DecoratorAuth) != nil
	// A policy check needs an authenticated subject even without @auth.
	if act.Decorator(ast.DecoratorPolicy) != nil && r.build.Program.AuthEntity() != nil {
		hasAuth = true
	}
	subjectExpr := "None"
	if hasAuth {
		subjectExpr = "current_user"
	}

	pathSet := map[string]bool{}
	for _, name := range templateParams(api.APIPath) {
		pathSet[name] = true
	}
	payload := payloadParams(act)

	ctx := &exprContext{
		mode:        modeFilter,
		pathParams:  map[string]bool{},
		hasPayload:  len(payload) > 0,
		bindingVars: map[string]string{},
		subjectVar:  "current_user",
	}
	for name := range pathSet {
		ctx.pathParams[name] = true
	}

	// Signature.
	var args []string
	for _, name := range templateParams(api.APIPath) {
		for _, p := range act.Input {
			if p.Name == name {
				args = append(args, fmt.Sprintf("%s: %s", p.Name, pyType(p.Type)))
			}
		}
	}
	if len(payload) > 0 {
		args = append(args, fmt.Sprintf("payload: schemas.%sInput", pascal(act.Name)))
	} else {
		// Non-body methods take remaining inputs as query parameters.
		for _, p := range act.Input {
			if !pathSet[p.Name] {
				args = append(args, fmt.Sprintf("%s: %s", p.Name, pyType(p.Type)))
				ctx.pathParams[p.Name] = true
			}
		}
	}
	args = append(args, "db: Session = Depends(get_db)")
	if hasAuth {
		args = append(args, "current_user=Depends(get_current_user)")
	}

	fmt.Fprintf(s, "\n\n@router.%s(%q, response_model=schemas.%sResponse)\n",
		strings.ToLower(api.APIMethod), api.APIPath, pascal(act.Name))
	fmt.Fprintf(s, "def %s(%s):\n", act.Name, strings.Join(args, ", "))

	// Policy and identity checks run before any step.
	for _, d := range act.Decorators {
		if d.Kind == ast.DecoratorPolicy {
			fmt.Fprintf(s, "    policies.enforce_%s(%s)\n", snake(d.PolicyName), subjectExpr)
		}
		if d.Kind == ast.DecoratorAuth && d.HasAuthValidate {
			field := d.AuthValidateField
			fmt.Fprintf(s, "    if str(getattr(current_user, %q, None)) != str(%s):\n", field, field)
			s.WriteString("        raise HTTPException(status_code=403, detail=\"not your resource\")\n")
		}
	}

	// entityVar tracks the freshest row variable per entity for the
	// response projection.
	entityVar := map[string]string{}
	if hasAuth {
		if auth := r.build.Program.AuthEntity(); auth != nil {
			entityVar[auth.Name] = "current_user"
		}
	}

	for _, step := range actIR.Steps {
		r.emitStep(s, step, ctx, entityVar)
	}

	r.emitReturn(s, act, actIR, ctx, entityVar)
}

func (r *routeWriter) emitStep(s *strings.Builder, step *ir.Step, ctx *exprContext, entityVar map[string]string) {
	switch step.Kind {
	case ir.StepDeriveSelect:
		ctx.bindingVars[step.Binding] = step.Binding
		fmt.Fprintf(s, "    %s = db.query(models.%s).filter(%s).first()\n",
			step.Binding, step.Entity, renderExpr(step.Where, ctx))
		fmt.Fprintf(s, "    if %s is None:\n", step.Binding)
		fmt.Fprintf(s, "        raise HTTPException(status_code=404, detail=%s)\n",
			pyString(step.Entity+" not found"))
		entityVar[step.Entity] = step.Binding

	case ir.StepDeriveCompute:
		ctx.bindingVars[step.Binding] = step.Binding
		fmt.Fprintf(s, "    %s = %s(%s)\n", step.Binding, computeCallee(step.Function), r.renderArgs(step.Args, ctx))
		if step.Function == "verify_hash" {
			fmt.Fprintf(s, "    if not %s:\n", step.Binding)
			s.WriteString("        raise HTTPException(status_code=401, detail=\"invalid credentials\")\n")
		}

	case ir.StepDeriveSystem:
		ctx.bindingVars[step.Binding] = step.Binding
		fmt.Fprintf(s, "    %s = %s(%s)\n", step.Binding, systemCallee(step.SystemPath), r.renderArgs(step.Args, ctx))

	case ir.StepMutateCreate:
		varName := "new_" + snake(step.Entity)
		fmt.Fprintf(s, "    %s = models.%s(\n", varName, step.Entity)
		for _, set := range step.Sets {
			fmt.Fprintf(s, "        %s=%s,\n", set.Field, r.renderSetValue(set, ctx))
		}
		s.WriteString("    )\n")
		fmt.Fprintf(s, "    db.add(%s)\n    db.commit()\n    db.refresh(%s)\n", varName, varName)
		entityVar[step.Entity] = varName

	case ir.StepMutateUpdate:
		var pairs []string
		for _, set := range step.Sets {
			pairs = append(pairs, fmt.Sprintf("%q: %s", set.Field, r.renderSetValue(set, ctx)))
		}
		fmt.Fprintf(s, "    db.query(models.%s).filter(%s).update({%s}, synchronize_session=\"fetch\")\n",
			step.Entity, renderExpr(step.Where, ctx), strings.Join(pairs, ", "))
		s.WriteString("    db.commit()\n")

	case ir.StepDelete:
		fmt.Fprintf(s, "    db.query(models.%s).filter(%s).delete(synchronize_session=\"fetch\")\n",
			step.Entity, renderExpr(step.Where, ctx))
		s.WriteString("    db.commit()\n")
	}
}

// renderSetValue renders a set clause's value in plain-Python mode,
// wrapping it in the recorded pipeline transform if any.
func (r *routeWriter) renderSetValue(set *ir.SetClause, ctx *exprContext) string {
	py := *ctx
	py.mode = modePython
	value := renderExpr(set.Value, &py)
	if set.Transform == "hash" {
		return "hash_value(" + value + ")"
	}
	return value
}

func (r *routeWriter) renderArgs(args []*ir.Expr, ctx *exprContext) string {
	py := *ctx
	py.mode = modePython
	var out []string
	for _, a := range args {
		out = append(out, renderExpr(a, &py))
	}
	return strings.Join(out, ", ")
}

func systemCallee(path string) string {
	switch path {
	case "jwt.create":
		return "create_access_token"
	case "jwt.verify":
		return "verify_access_token"
	case "mail.send":
		return "services.send_mail"
	}
	return "services." + strings.ReplaceAll(path, ".", "_")
}

// emitReturn builds the response DTO from the action's projections.
func (r *routeWriter) emitReturn(s *strings.Builder, act *ast.Action, actIR *ir.ActionIR, ctx *exprContext, entityVar map[string]string) {
	inputAccess := func(name string) (string, bool) {
		for _, p := range act.Input {
			if p.Name != name {
				continue
			}
			if ctx.pathParams[name] || !ctx.hasPayload {
				return name, true
			}
			return "payload." + name, true
		}
		return "", false
	}

	renderProjection := func(className string, proj *ast.Projection) string {
		var kwargs []string
		for _, field := range proj.Fields {
			if v, ok := ctx.bindingVars[field]; ok {
				kwargs = append(kwargs, fmt.Sprintf("%s=%s", field, v))
				continue
			}
			if v, ok := entityVar[proj.EntityName]; ok {
				kwargs = append(kwargs, fmt.Sprintf("%s=%s.%s", field, v, field))
				continue
			}
			if v, ok := inputAccess(field); ok {
				kwargs = append(kwargs, fmt.Sprintf("%s=%s", field, v))
				continue
			}
			kwargs = append(kwargs, field+"=None")
		}
		return fmt.Sprintf("schemas.%s(%s)", className, strings.Join(kwargs, ", "))
	}

	if len(act.Output) == 1 {
		fmt.Fprintf(s, "    return %s\n", renderProjection(pascal(act.Name)+"Response", act.Output[0]))
		return
	}
	var kwargs []string
	for _, proj := range act.Output {
		kwargs = append(kwargs, fmt.Sprintf("%s=%s",
			snake(proj.EntityName), renderProjection(pascal(act.Name)+proj.EntityName+"Projection", proj)))
	}
	fmt.Fprintf(s, "    return schemas.%sResponse(%s)\n", pascal(act.Name), strings.Join(kwargs, ", "))
}
