// Package analyzer is the semantic validator: it resolves names, checks
// types and decorators, verifies policy/auth coherence, and lowers each
// action's process block into the flat IR consumed by code generators.
//
// Unlike the parser, the analyzer never fails fast — every problem is
// appended to a cerr.CompilerErrors collection so the user sees all of
// them in one run.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/MAsif786/intentc/internal/ast"
	cerr "github.com/MAsif786/intentc/internal/errors"
	"github.com/MAsif786/intentc/internal/ir"
)

const suggestionThreshold = 0.6

// systemCapabilities is the catalog of well-known `system` capability
// paths and their result types.
var systemCapabilities = map[string]ast.FieldType{
	"jwt.create": ast.TypeString,
	"jwt.verify": ast.TypeBoolean,
	"mail.send":  ast.TypeBoolean,
}

// transformCatalog is the set of recognized @map pipeline transforms.
var transformCatalog = map[string]bool{
	"hash": true,
}

// Validate runs every semantic pass over the parsed program and lowers
// the process blocks. The IR is only meaningful when the returned
// collection has no errors; generation must be suppressed otherwise.
func Validate(prog *ast.Program, file string) (*ir.Program, *cerr.CompilerErrors) {
	v := &validator{prog: prog, errs: cerr.New(file)}

	v.collectSymbols()
	v.checkFields()
	v.resolveFieldTypes()
	v.checkPolicies()
	v.checkRules()
	v.checkActions()
	irProg := v.lowerProcesses()
	v.checkOutputs(irProg)

	return irProg, v.errs
}

type validator struct {
	prog *ast.Program
	errs *cerr.CompilerErrors

	entities map[string]int // name → declaration index
	policies map[string]*ast.Policy
	actions  map[string]int
	auth     *ast.Entity

	entityNames []string
	policyNames []string
	actionNames []string
}

// ── Pass 1: symbol tables ──

func (v *validator) collectSymbols() {
	v.entities = make(map[string]int)
	v.policies = make(map[string]*ast.Policy)
	v.actions = make(map[string]int)

	for i, ent := range v.prog.Entities {
		if _, dup := v.entities[ent.Name]; dup {
			v.errs.AddError(cerr.KindDuplicateName, "E201",
				fmt.Sprintf("duplicate entity %q", ent.Name), ent.Span.Line, ent.Span.Column)
			continue
		}
		v.entities[ent.Name] = i
		v.entityNames = append(v.entityNames, ent.Name)

		if ent.IsAuth {
			if v.auth != nil {
				v.errs.AddError(cerr.KindAuthEntityConflict, "E205",
					fmt.Sprintf("multiple auth entities: %q and %q — only one is allowed", v.auth.Name, ent.Name),
					ent.Span.Line, ent.Span.Column)
			} else {
				v.auth = ent
			}
		}
	}

	addPolicy := func(pol *ast.Policy) {
		if _, dup := v.policies[pol.Name]; dup {
			v.errs.AddError(cerr.KindDuplicateName, "E201",
				fmt.Sprintf("duplicate policy %q", pol.Name), pol.Span.Line, pol.Span.Column)
			return
		}
		v.policies[pol.Name] = pol
		v.policyNames = append(v.policyNames, pol.Name)
	}
	for _, pol := range v.prog.Policies {
		addPolicy(pol)
	}
	for _, ent := range v.prog.Entities {
		for _, pol := range ent.Policies {
			addPolicy(pol)
		}
	}

	for i, act := range v.prog.Actions {
		if _, dup := v.actions[act.Name]; dup {
			v.errs.AddError(cerr.KindDuplicateName, "E201",
				fmt.Sprintf("duplicate action %q", act.Name), act.Span.Line, act.Span.Column)
			continue
		}
		v.actions[act.Name] = i
		v.actionNames = append(v.actionNames, act.Name)
	}

	seenRules := make(map[string]bool)
	for _, rule := range v.prog.Rules {
		if seenRules[rule.Name] {
			v.errs.AddError(cerr.KindDuplicateName, "E201",
				fmt.Sprintf("duplicate rule %q", rule.Name), rule.Span.Line, rule.Span.Column)
		}
		seenRules[rule.Name] = true
	}

	v.checkAuthEntityShape()
}

// checkAuthEntityShape verifies the auth entity carries the fields the
// generated authentication stack needs: a unique email-typed field and a
// password_hash string field.
func (v *validator) checkAuthEntityShape() {
	if v.auth == nil {
		return
	}

	var emailField *ast.Field
	var passwordField *ast.Field
	for _, f := range v.auth.Fields {
		if baseOf(f.Type) == ast.TypeEmail && emailField == nil {
			emailField = f
		}
		if f.Name == "password_hash" {
			passwordField = f
		}
	}

	if emailField == nil {
		v.errs.AddError(cerr.KindAuthEntityConflict, "E205",
			fmt.Sprintf("auth entity %q needs a unique email field for authentication", v.auth.Name),
			v.auth.Span.Line, v.auth.Span.Column)
	} else if !emailField.HasDecorator(ast.DecoratorUnique) && !emailField.HasDecorator(ast.DecoratorPrimary) {
		v.errs.AddError(cerr.KindAuthEntityConflict, "E205",
			fmt.Sprintf("auth entity field %q must be @unique to identify users", emailField.Name),
			emailField.Span.Line, emailField.Span.Column)
	}

	if passwordField == nil {
		v.errs.AddError(cerr.KindAuthEntityConflict, "E205",
			fmt.Sprintf("auth entity %q needs a password_hash string field", v.auth.Name),
			v.auth.Span.Line, v.auth.Span.Column)
	} else if baseOf(passwordField.Type) != ast.TypeString {
		v.errs.AddError(cerr.KindAuthEntityConflict, "E205",
			"password_hash must be a string field",
			passwordField.Span.Line, passwordField.Span.Column)
	}
}

// ── Pass 2: field and decorator checks ──

func (v *validator) checkFields() {
	for _, ent := range v.prog.Entities {
		seen := make(map[string]bool)
		var primary *ast.Field

		for _, f := range ent.Fields {
			if seen[f.Name] {
				v.errs.AddError(cerr.KindDuplicateName, "E201",
					fmt.Sprintf("entity %q has duplicate field %q", ent.Name, f.Name),
					f.Span.Line, f.Span.Column)
			}
			seen[f.Name] = true

			v.checkFieldDecorators(ent, f, &primary)
		}
	}
}

func (v *validator) checkFieldDecorators(ent *ast.Entity, f *ast.Field, primary **ast.Field) {
	for _, d := range f.Decorators {
		switch d.Kind {
		case ast.DecoratorPrimary:
			if *primary != nil && *primary != f {
				v.errs.AddError(cerr.KindInvalidDecorator, "E204",
					fmt.Sprintf("entity %q has more than one @primary field (%q and %q)",
						ent.Name, (*primary).Name, f.Name),
					d.Span.Line, d.Span.Column)
				continue
			}
			*primary = f
			if t := baseOf(f.Type); t != ast.TypeUUID && t != ast.TypeString {
				v.errs.AddError(cerr.KindInvalidDecorator, "E204",
					fmt.Sprintf("@primary field %q must be uuid or string, not %s", f.Name, f.Type),
					d.Span.Line, d.Span.Column)
			}
			if f.HasDecorator(ast.DecoratorOptional) {
				v.errs.AddError(cerr.KindInvalidDecorator, "E204",
					fmt.Sprintf("@primary field %q cannot be @optional", f.Name),
					d.Span.Line, d.Span.Column)
			}

		case ast.DecoratorDefault:
			switch d.DefaultKeyword {
			case "now":
				if baseOf(f.Type) != ast.TypeDatetime {
					v.errs.AddError(cerr.KindInvalidDecorator, "E204",
						fmt.Sprintf("@default(now) is only valid on datetime fields, %q is %s", f.Name, f.Type),
						d.Span.Line, d.Span.Column)
				}
			case "uuid":
				if baseOf(f.Type) != ast.TypeUUID {
					v.errs.AddError(cerr.KindInvalidDecorator, "E204",
						fmt.Sprintf("@default(uuid) is only valid on uuid fields, %q is %s", f.Name, f.Type),
						d.Span.Line, d.Span.Column)
				}
			}

		case ast.DecoratorValidate:
			for _, arg := range d.ValidateArgs {
				switch arg.Key {
				case "min", "max":
					if baseOf(f.Type) != ast.TypeNumber {
						v.errs.AddError(cerr.KindInvalidDecorator, "E204",
							fmt.Sprintf("@validate(%s) is only valid on number fields, %q is %s", arg.Key, f.Name, f.Type),
							d.Span.Line, d.Span.Column)
					}
				default:
					v.errs.AddError(cerr.KindInvalidDecorator, "E204",
						fmt.Sprintf("unknown @validate constraint %q", arg.Key),
						d.Span.Line, d.Span.Column)
				}
			}

		case ast.DecoratorMap:
			if !transformCatalog[d.MapTransform] {
				v.errs.AddError(cerr.KindInvalidDecorator, "E204",
					fmt.Sprintf("unknown transform %q in @map", d.MapTransform),
					d.Span.Line, d.Span.Column)
			}
			if ent.FindField(d.MapTarget) == nil || d.MapTarget == f.Name {
				v.errs.AddError(cerr.KindInvalidDecorator, "E204",
					fmt.Sprintf("@map target %q must be another field of entity %q", d.MapTarget, ent.Name),
					d.Span.Line, d.Span.Column)
			}

		case ast.DecoratorUnique, ast.DecoratorOptional, ast.DecoratorIndex:
			// Always valid on a field.

		default:
			v.errs.AddError(cerr.KindInvalidDecorator, "E204",
				fmt.Sprintf("%s is not valid on a field", d.Kind),
				d.Span.Line, d.Span.Column)
		}
	}
}

// ── Pass 3: reference resolution for field and parameter types ──

func (v *validator) resolveFieldTypes() {
	for _, ent := range v.prog.Entities {
		for _, f := range ent.Fields {
			v.resolveType(f.Type, f.Span)
		}
	}
	for _, act := range v.prog.Actions {
		for _, param := range act.Input {
			v.resolveType(param.Type, param.Span)
		}
	}
}

func (v *validator) resolveType(t ast.FieldType, span ast.Span) {
	switch ft := t.(type) {
	case ast.RefType:
		if _, ok := v.entities[ft.Name]; !ok {
			v.unknownRef(fmt.Sprintf("unknown entity %q in type", ft.Name), ft.Name, v.entityNames, span)
		}
	case ast.ArrayType:
		v.resolveType(ft.Elem, span)
	case ast.OptionalType:
		v.resolveType(ft.Elem, span)
	}
}

// ── Pass 4: policies ──

func (v *validator) checkPolicies() {
	for _, pol := range v.prog.Policies {
		v.checkPolicy(pol, nil)
	}
	for _, ent := range v.prog.Entities {
		for _, pol := range ent.Policies {
			v.checkPolicy(pol, ent)
		}
	}
}

// checkPolicy type-checks every require expression against the policy's
// subject field set. An inline policy with no subject clause is scoped to
// its owning entity; a top-level one defaults to the auth entity.
func (v *validator) checkPolicy(pol *ast.Policy, owner *ast.Entity) {
	var subject *ast.Entity

	switch {
	case pol.Subject.IsAuth:
		if v.auth == nil {
			v.errs.AddError(cerr.KindAuthEntityConflict, "E205",
				fmt.Sprintf("policy %q uses subject @auth but no auth entity is declared", pol.Name),
				pol.Span.Line, pol.Span.Column)
			return
		}
		subject = v.auth

	case pol.Subject.EntityName != "":
		idx, ok := v.entities[pol.Subject.EntityName]
		if !ok {
			v.unknownRef(fmt.Sprintf("policy %q subject %q is not a declared entity", pol.Name, pol.Subject.EntityName),
				pol.Subject.EntityName, v.entityNames, pol.Span)
			return
		}
		subject = v.prog.Entities[idx]

	case owner != nil:
		subject = owner

	default:
		if v.auth == nil {
			v.errs.AddError(cerr.KindPolicyViolation, "E206",
				fmt.Sprintf("policy %q has no subject and no auth entity exists to default to", pol.Name),
				pol.Span.Line, pol.Span.Column)
			return
		}
		subject = v.auth
	}

	scope := &exprScope{v: v, subject: subject, subjectBare: true}
	for _, req := range pol.Require {
		_, typ, ok := v.resolveExpr(req, scope, cerr.KindPolicyViolation, "E206")
		if ok && !isBoolean(typ) {
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("require expression in policy %q must be boolean, got %s", pol.Name, typeName(typ)),
				req.Span.Line, req.Span.Column)
		}
	}
}

// ── Pass 5: rules ──

func (v *validator) checkRules() {
	for _, rule := range v.prog.Rules {
		scope := &exprScope{v: v, allowEntities: true}
		_, typ, ok := v.resolveExpr(rule.When, scope, cerr.KindUnknownReference, "E202")
		if ok && !isBoolean(typ) {
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("when expression of rule %q must be boolean, got %s", rule.Name, typeName(typ)),
				rule.When.Span.Line, rule.When.Span.Column)
		}

		if rule.Consequence.Kind != ast.ConsequenceActionCall {
			continue
		}
		cons := rule.Consequence
		idx, ok := v.actions[cons.ActionName]
		if !ok {
			v.unknownRef(fmt.Sprintf("rule %q calls unknown action %q", rule.Name, cons.ActionName),
				cons.ActionName, v.actionNames, cons.Span)
			continue
		}
		target := v.prog.Actions[idx]
		if len(cons.Args) != len(target.Input) {
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("rule %q calls %q with %d argument(s), action expects %d",
					rule.Name, cons.ActionName, len(cons.Args), len(target.Input)),
				cons.Span.Line, cons.Span.Column)
		}
		for _, arg := range cons.Args {
			v.checkRuleArg(rule, arg, cons.Span)
		}
	}
}

// checkRuleArg resolves an action-call argument of the form Entity.field.
// Literals need no resolution.
func (v *validator) checkRuleArg(rule *ast.Rule, arg string, span ast.Span) {
	if strings.HasPrefix(arg, `"`) || !strings.Contains(arg, ".") {
		return
	}
	parts := strings.SplitN(arg, ".", 2)
	idx, ok := v.entities[parts[0]]
	if !ok {
		v.unknownRef(fmt.Sprintf("rule %q argument references unknown entity %q", rule.Name, parts[0]),
			parts[0], v.entityNames, span)
		return
	}
	ent := v.prog.Entities[idx]
	if ent.FindField(parts[1]) == nil {
		v.unknownRef(fmt.Sprintf("rule %q argument references unknown field %q of entity %q", rule.Name, parts[1], ent.Name),
			parts[1], ent.FieldNames(), span)
	}
}

// ── Pass 6: action decorators ──

func (v *validator) checkActions() {
	for _, act := range v.prog.Actions {
		seenParams := make(map[string]bool)
		for _, p := range act.Input {
			if seenParams[p.Name] {
				v.errs.AddError(cerr.KindDuplicateName, "E201",
					fmt.Sprintf("action %q has duplicate input parameter %q", act.Name, p.Name),
					p.Span.Line, p.Span.Column)
			}
			seenParams[p.Name] = true
		}

		for _, d := range act.Decorators {
			switch d.Kind {
			case ast.DecoratorAPI:
				v.checkPathParams(act, d)

			case ast.DecoratorAuth:
				if v.auth == nil {
					v.errs.AddError(cerr.KindAuthEntityConflict, "E205",
						fmt.Sprintf("action %q uses @auth but no auth entity is declared", act.Name),
						d.Span.Line, d.Span.Column)
				}
				if d.HasAuthValidate && !seenParams[d.AuthValidateField] {
					v.unknownRef(
						fmt.Sprintf("@auth(validate(%s)) on action %q must name an input parameter", d.AuthValidateField, act.Name),
						d.AuthValidateField, paramNames(act), d.Span)
				}

			case ast.DecoratorPolicy:
				if _, ok := v.policies[d.PolicyName]; !ok {
					v.unknownRef(fmt.Sprintf("action %q references unknown policy %q", act.Name, d.PolicyName),
						d.PolicyName, v.policyNames, d.Span)
				}

			case ast.DecoratorMap:
				if !transformCatalog[d.MapTransform] {
					v.errs.AddError(cerr.KindInvalidDecorator, "E204",
						fmt.Sprintf("unknown transform %q in @map", d.MapTransform),
						d.Span.Line, d.Span.Column)
				}
				if !seenParams[d.MapTarget] && !actionSetsField(act, d.MapTarget) {
					v.errs.AddError(cerr.KindInvalidDecorator, "E204",
						fmt.Sprintf("@map(%s, %s) on action %q matches neither an input parameter nor a field set in its process block",
							d.MapTarget, d.MapTransform, act.Name),
						d.Span.Line, d.Span.Column)
				}

			default:
				v.errs.AddError(cerr.KindInvalidDecorator, "E204",
					fmt.Sprintf("%s is not valid on an action", d.Kind),
					d.Span.Line, d.Span.Column)
			}
		}
	}
}

// checkPathParams verifies every {name} segment of an @api path template
// appears as an input parameter with a type usable in a URL.
func (v *validator) checkPathParams(act *ast.Action, d *ast.Decorator) {
	for _, name := range pathParams(d.APIPath) {
		var param *ast.Param
		for _, p := range act.Input {
			if p.Name == name {
				param = p
				break
			}
		}
		if param == nil {
			v.errs.AddError(cerr.KindUnknownReference, "E202",
				fmt.Sprintf("path parameter {%s} of action %q has no matching input parameter", name, act.Name),
				d.Span.Line, d.Span.Column)
			continue
		}
		switch baseOf(param.Type) {
		case ast.TypeUUID, ast.TypeString, ast.TypeNumber:
		default:
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("path parameter {%s} of action %q must be uuid, string, or number, not %s",
					name, act.Name, param.Type),
				param.Span.Line, param.Span.Column)
		}
	}
}

// pathParams extracts {name} segments from a path template in order.
func pathParams(path string) []string {
	var names []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
			names = append(names, seg[1:len(seg)-1])
		}
	}
	return names
}

func paramNames(act *ast.Action) []string {
	var names []string
	for _, p := range act.Input {
		names = append(names, p.Name)
	}
	return names
}

func actionSetsField(act *ast.Action, field string) bool {
	for _, line := range act.Process {
		for _, s := range line.Setters {
			if s.Field == field {
				return true
			}
		}
	}
	return false
}

// ── Pass 7: process lowering ──

// lowerProcesses rewrites every action's process block into ordered IR
// steps, scanning left to right and growing the binding environment as it
// goes. Unknown names, duplicate bindings, and ill-typed where/set
// clauses are ProcessStep errors.
func (v *validator) lowerProcesses() *ir.Program {
	irProg := &ir.Program{}
	for _, act := range v.prog.Actions {
		irProg.Actions = append(irProg.Actions, v.lowerAction(act))
	}
	return irProg
}

func (v *validator) lowerAction(act *ast.Action) *ir.ActionIR {
	actIR := &ir.ActionIR{Name: act.Name}

	scope := &exprScope{v: v, inputs: act.Input}
	if act.Decorator(ast.DecoratorAuth) != nil && v.auth != nil {
		scope.subject = v.auth
	}

	for _, line := range act.Process {
		step := v.lowerStep(act, line, scope)
		if step == nil {
			continue
		}
		if step.Binding != "" {
			if scope.lookupBinding(step.Binding) != nil || scope.lookupInput(step.Binding) != nil {
				v.errs.AddError(cerr.KindProcessStep, "E207",
					fmt.Sprintf("name %q is already bound in action %q", step.Binding, act.Name),
					line.Span.Line, line.Span.Column)
			} else {
				var bent *ast.Entity
				if step.Kind == ir.StepDeriveSelect {
					bent = v.entityByName(step.Entity)
				}
				scope.bindings = append(scope.bindings, binding{
					name:      step.Binding,
					stepIndex: len(actIR.Steps),
					entity:    bent,
					typ:       bindingType(step),
				})
			}
		}
		actIR.Steps = append(actIR.Steps, step)
	}

	v.applyMapTransforms(act, actIR)
	return actIR
}

func bindingType(step *ir.Step) ast.FieldType {
	switch step.Kind {
	case ir.StepDeriveSelect:
		return ast.RefType{Name: step.Entity}
	case ir.StepDeriveSystem:
		return systemCapabilities[step.SystemPath]
	default:
		return nil // compute results are untyped
	}
}

func (v *validator) lowerStep(act *ast.Action, line *ast.ProcessLine, scope *exprScope) *ir.Step {
	switch line.Kind {
	case ast.ProcessDeriveSelect:
		ent := v.requireEntity(line.SelectEntity, line.Span)
		step := &ir.Step{Kind: ir.StepDeriveSelect, Binding: line.Binding}
		if ent != nil {
			step.Entity = ent.Name
			step.EntityID = v.entities[ent.Name]
			step.Where = v.lowerWhere(line.SelectWhere, scope, ent)
		}
		return step

	case ast.ProcessDeriveCompute:
		step := &ir.Step{Kind: ir.StepDeriveCompute, Binding: line.Binding, Function: line.Function}
		for _, arg := range line.Args {
			if lowered, _, ok := v.resolveExpr(arg, scope, cerr.KindProcessStep, "E207"); ok {
				step.Args = append(step.Args, lowered)
			}
		}
		return step

	case ast.ProcessDeriveSystem:
		if _, known := systemCapabilities[line.SystemPath]; !known {
			v.unknownRefKind(cerr.KindProcessStep, "E207",
				fmt.Sprintf("unknown system capability %q", line.SystemPath),
				line.SystemPath, capabilityNames(), line.Span)
		}
		step := &ir.Step{Kind: ir.StepDeriveSystem, Binding: line.Binding, SystemPath: line.SystemPath}
		for _, arg := range line.Args {
			if lowered, _, ok := v.resolveExpr(arg, scope, cerr.KindProcessStep, "E207"); ok {
				step.Args = append(step.Args, lowered)
			}
		}
		return step

	case ast.ProcessMutate:
		ent := v.requireEntity(line.Entity, line.Span)
		kind := ir.StepMutateCreate
		if line.Where != nil {
			kind = ir.StepMutateUpdate
		}
		step := &ir.Step{Kind: kind}
		if ent == nil {
			return step
		}
		step.Entity = ent.Name
		step.EntityID = v.entities[ent.Name]
		if line.Where != nil {
			step.Where = v.lowerWhere(line.Where, scope, ent)
		}
		for _, setter := range line.Setters {
			field := ent.FindField(setter.Field)
			if field == nil {
				v.unknownRefKind(cerr.KindProcessStep, "E207",
					fmt.Sprintf("entity %q has no field %q to set", ent.Name, setter.Field),
					setter.Field, ent.FieldNames(), setter.Span)
				continue
			}
			value, typ, ok := v.resolveExpr(setter.Value, scope, cerr.KindProcessStep, "E207")
			if !ok {
				continue
			}
			if !assignable(field.Type, typ) {
				v.errs.AddError(cerr.KindProcessStep, "E207",
					fmt.Sprintf("cannot assign %s to field %q of type %s", typeName(typ), field.Name, field.Type),
					setter.Span.Line, setter.Span.Column)
				continue
			}
			step.Sets = append(step.Sets, &ir.SetClause{
				Field:   field.Name,
				FieldID: ent.FieldIndex(field.Name),
				Value:   value,
			})
		}
		return step

	case ast.ProcessDelete:
		ent := v.requireEntity(line.Entity, line.Span)
		step := &ir.Step{Kind: ir.StepDelete}
		if ent != nil {
			step.Entity = ent.Name
			step.EntityID = v.entities[ent.Name]
			step.Where = v.lowerWhere(line.Where, scope, ent)
		}
		return step
	}
	return nil
}

// lowerWhere resolves a where clause against the step's target entity
// (bare names are its fields) plus the ambient binding environment, and
// checks that it is boolean.
func (v *validator) lowerWhere(expr *ast.Expression, scope *exprScope, target *ast.Entity) *ir.Expr {
	inner := &exprScope{
		v:        scope.v,
		inputs:   scope.inputs,
		bindings: scope.bindings,
		subject:  scope.subject,
		target:   target,
	}
	lowered, typ, ok := v.resolveExpr(expr, inner, cerr.KindProcessStep, "E207")
	if !ok {
		return nil
	}
	if !isBoolean(typ) {
		v.errs.AddError(cerr.KindProcessStep, "E207",
			fmt.Sprintf("where clause must be boolean, got %s", typeName(typ)),
			expr.Span.Line, expr.Span.Column)
	}
	return lowered
}

// applyMapTransforms records action-level @map transforms onto matching
// set clauses: a clause matches when it sets the mapped field, or when
// its value is the mapped input parameter.
func (v *validator) applyMapTransforms(act *ast.Action, actIR *ir.ActionIR) {
	for _, d := range act.Decorators {
		if d.Kind != ast.DecoratorMap {
			continue
		}
		for _, step := range actIR.Steps {
			for _, set := range step.Sets {
				if set.Field == d.MapTarget || refersToInput(set.Value, d.MapTarget) {
					set.Transform = d.MapTransform
				}
			}
		}
	}
}

func refersToInput(e *ir.Expr, param string) bool {
	if e == nil {
		return false
	}
	return e.Kind == ir.ExprRef && e.Ref != nil && e.Ref.Kind == ir.RefInput && e.Ref.Name == param
}

// ── Pass 8: output projections ──

func (v *validator) checkOutputs(irProg *ir.Program) {
	for i, act := range v.prog.Actions {
		actIR := irProg.Actions[i]
		bindings := make(map[string]bool)
		for _, b := range actIR.Bindings() {
			bindings[b] = true
		}

		if len(act.Output) == 0 {
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("action %q has no output projection", act.Name),
				act.Span.Line, act.Span.Column)
			continue
		}

		for _, proj := range act.Output {
			idx, ok := v.entities[proj.EntityName]
			if !ok {
				v.unknownRef(fmt.Sprintf("output of action %q projects unknown entity %q", act.Name, proj.EntityName),
					proj.EntityName, v.entityNames, proj.Span)
				continue
			}
			ent := v.prog.Entities[idx]
			for _, field := range proj.Fields {
				if ent.FindField(field) == nil && !bindings[field] {
					v.unknownRef(
						fmt.Sprintf("output field %q of action %q is neither a field of %q nor a process binding",
							field, act.Name, ent.Name),
						field, append(ent.FieldNames(), actIR.Bindings()...), proj.Span)
				}
			}
		}
	}
}

// ── Expression resolution ──

// binding is a name introduced by a derive step.
type binding struct {
	name      string
	stepIndex int
	entity    *ast.Entity   // set for select bindings
	typ       ast.FieldType // nil means untyped (compute)
}

// exprScope is the name environment an expression resolves against.
type exprScope struct {
	v        *validator
	inputs   []*ast.Param
	bindings []binding
	subject  *ast.Entity

	// subjectBare allows bare subject-field names (policy require clauses).
	subjectBare bool
	// target makes bare names resolve to this entity's fields (where clauses).
	target *ast.Entity
	// allowEntities permits Entity.field heads (rule when clauses).
	allowEntities bool
}

func (s *exprScope) lookupInput(name string) *ast.Param {
	for _, p := range s.inputs {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (s *exprScope) lookupBinding(name string) *binding {
	for i := range s.bindings {
		if s.bindings[i].name == name {
			return &s.bindings[i]
		}
	}
	return nil
}

// candidates lists every name the scope could have resolved, for
// "did you mean" suggestions.
func (s *exprScope) candidates() []string {
	var names []string
	for _, p := range s.inputs {
		names = append(names, "input."+p.Name)
	}
	for _, b := range s.bindings {
		names = append(names, b.name)
	}
	if s.target != nil {
		names = append(names, s.target.FieldNames()...)
	}
	if s.subject != nil && s.subjectBare {
		names = append(names, s.subject.FieldNames()...)
	}
	if s.allowEntities {
		names = append(names, s.v.entityNames...)
	}
	return names
}

// resolveExpr lowers an AST expression into a resolved IR expression and
// infers its type. On failure it reports a diagnostic of the given kind
// and returns ok=false; nil types mean "unknown, compatible with anything".
func (v *validator) resolveExpr(e *ast.Expression, scope *exprScope, kind cerr.Kind, code string) (*ir.Expr, ast.FieldType, bool) {
	switch e.Kind {
	case ast.ExprLiteral:
		return &ir.Expr{Kind: ir.ExprLiteral, Literal: copyLiteral(e.Literal)}, literalType(e.Literal), true

	case ast.ExprIdentifier:
		ref, typ, err := v.resolvePath(e.Path, scope)
		if err != "" {
			v.unknownRefKind(kind, code, err, strings.Join(e.Path, "."), scope.candidates(), e.Span)
			return nil, nil, false
		}
		return &ir.Expr{Kind: ir.ExprRef, Ref: ref}, typ, true

	case ast.ExprComparison:
		left, ltyp, lok := v.resolveExpr(e.Left, scope, kind, code)
		right, rtyp, rok := v.resolveExpr(e.Right, scope, kind, code)
		if !lok || !rok {
			return nil, nil, false
		}
		if !comparable(ltyp, rtyp) {
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("cannot compare %s with %s", typeName(ltyp), typeName(rtyp)),
				e.Span.Line, e.Span.Column)
		}
		return &ir.Expr{Kind: ir.ExprCompare, Op: e.Operator, Left: left, Right: right}, ast.TypeBoolean, true

	case ast.ExprLogical:
		left, ltyp, lok := v.resolveExpr(e.Left, scope, kind, code)
		right, rtyp, rok := v.resolveExpr(e.Right, scope, kind, code)
		if !lok || !rok {
			return nil, nil, false
		}
		if !isBoolean(ltyp) || !isBoolean(rtyp) {
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("%q needs boolean operands", e.Operator),
				e.Span.Line, e.Span.Column)
		}
		return &ir.Expr{Kind: ir.ExprLogical, Op: e.Operator, Left: left, Right: right}, ast.TypeBoolean, true

	case ast.ExprNot:
		operand, typ, ok := v.resolveExpr(e.Operand, scope, kind, code)
		if !ok {
			return nil, nil, false
		}
		if !isBoolean(typ) {
			v.errs.AddError(cerr.KindTypeMismatch, "E203",
				fmt.Sprintf("\"not\" needs a boolean operand, got %s", typeName(typ)),
				e.Span.Line, e.Span.Column)
		}
		return &ir.Expr{Kind: ir.ExprNot, Operand: operand}, ast.TypeBoolean, true

	case ast.ExprCall:
		out := &ir.Expr{Kind: ir.ExprCall, Call: e.CallName}
		for _, arg := range e.CallArgs {
			lowered, _, ok := v.resolveExpr(arg, scope, kind, code)
			if !ok {
				return nil, nil, false
			}
			out.Args = append(out.Args, lowered)
		}
		// Business functions are user-recognized; their result type is unknown.
		return out, nil, true
	}
	return nil, nil, false
}

// resolvePath resolves a possibly dotted identifier against the scope.
// Returns an error message when the name does not resolve.
func (v *validator) resolvePath(path []string, scope *exprScope) (*ir.Ref, ast.FieldType, string) {
	head := path[0]

	if head == "input" {
		if len(path) != 2 {
			return nil, nil, "input references take the form input.<parameter>"
		}
		param := scope.lookupInput(path[1])
		if param == nil {
			return nil, nil, fmt.Sprintf("unknown input parameter %q", path[1])
		}
		return &ir.Ref{Kind: ir.RefInput, Index: paramIndex(scope.inputs, path[1]), Name: path[1]}, param.Type, ""
	}

	if head == "subject" {
		if scope.subject == nil {
			return nil, nil, "\"subject\" is only available under @auth"
		}
		if len(path) == 1 {
			return &ir.Ref{Kind: ir.RefSubject}, ast.RefType{Name: scope.subject.Name}, ""
		}
		field := scope.subject.FindField(path[1])
		if field == nil {
			return nil, nil, fmt.Sprintf("auth entity %q has no field %q", scope.subject.Name, path[1])
		}
		return &ir.Ref{Kind: ir.RefSubject, Field: field.Name}, field.Type, ""
	}

	if b := scope.lookupBinding(head); b != nil {
		if len(path) == 1 {
			return &ir.Ref{Kind: ir.RefBinding, Index: b.stepIndex, Name: b.name}, b.typ, ""
		}
		if b.entity == nil {
			return nil, nil, fmt.Sprintf("binding %q is not a row, it has no fields", head)
		}
		field := b.entity.FindField(path[1])
		if field == nil {
			return nil, nil, fmt.Sprintf("entity %q has no field %q", b.entity.Name, path[1])
		}
		return &ir.Ref{Kind: ir.RefBinding, Index: b.stepIndex, Name: b.name, Field: field.Name}, field.Type, ""
	}

	if scope.target != nil && len(path) == 1 {
		if field := scope.target.FindField(head); field != nil {
			return &ir.Ref{
				Kind: ir.RefField, Field: field.Name,
				Entity: scope.target.Name, EntityID: v.entities[scope.target.Name],
			}, field.Type, ""
		}
	}

	if param := scope.lookupInput(head); param != nil && len(path) == 1 {
		return &ir.Ref{Kind: ir.RefInput, Index: paramIndex(scope.inputs, head), Name: head}, param.Type, ""
	}

	if scope.subjectBare && scope.subject != nil && len(path) == 1 {
		if field := scope.subject.FindField(head); field != nil {
			return &ir.Ref{Kind: ir.RefSubject, Field: field.Name}, field.Type, ""
		}
	}

	if scope.allowEntities && len(path) == 2 {
		if idx, ok := v.entities[head]; ok {
			ent := v.prog.Entities[idx]
			field := ent.FindField(path[1])
			if field == nil {
				return nil, nil, fmt.Sprintf("entity %q has no field %q", ent.Name, path[1])
			}
			return &ir.Ref{Kind: ir.RefField, Field: field.Name, Entity: ent.Name, EntityID: idx}, field.Type, ""
		}
	}

	return nil, nil, fmt.Sprintf("unknown name %q", strings.Join(path, "."))
}

// ── Shared helpers ──

func (v *validator) entityByName(name string) *ast.Entity {
	if idx, ok := v.entities[name]; ok {
		return v.prog.Entities[idx]
	}
	return nil
}

// requireEntity resolves an entity name used by a process step, reporting
// a ProcessStep error when it does not exist.
func (v *validator) requireEntity(name string, span ast.Span) *ast.Entity {
	ent := v.entityByName(name)
	if ent == nil {
		v.unknownRefKind(cerr.KindProcessStep, "E207",
			fmt.Sprintf("unknown entity %q in process step", name), name, v.entityNames, span)
	}
	return ent
}

func (v *validator) unknownRef(msg, target string, candidates []string, span ast.Span) {
	v.unknownRefKind(cerr.KindUnknownReference, "E202", msg, target, candidates, span)
}

func (v *validator) unknownRefKind(kind cerr.Kind, code, msg, target string, candidates []string, span ast.Span) {
	if suggestion := cerr.FindClosest(target, candidates, suggestionThreshold); suggestion != "" {
		v.errs.AddErrorWithSuggestion(kind, code, msg,
			fmt.Sprintf("Did you mean %q?", suggestion), span.Line, span.Column)
		return
	}
	v.errs.AddError(kind, code, msg, span.Line, span.Column)
}

func capabilityNames() []string {
	return []string{"jwt.create", "jwt.verify", "mail.send"}
}

func paramIndex(params []*ast.Param, name string) int {
	for i, p := range params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func copyLiteral(lit *ast.Literal) *ir.Literal {
	out := &ir.Literal{Str: lit.Str, Num: lit.Num, Bool: lit.Bool, Keyword: lit.Keyword}
	switch lit.Kind {
	case ast.LiteralString:
		out.Kind = "string"
	case ast.LiteralNumber:
		out.Kind = "number"
	case ast.LiteralBool:
		out.Kind = "bool"
	case ast.LiteralKeyword:
		out.Kind = "keyword"
	}
	return out
}

func literalType(lit *ast.Literal) ast.FieldType {
	switch lit.Kind {
	case ast.LiteralString:
		return ast.TypeString
	case ast.LiteralNumber:
		return ast.TypeNumber
	case ast.LiteralBool:
		return ast.TypeBoolean
	case ast.LiteralKeyword:
		if lit.Keyword == "now" {
			return ast.TypeDatetime
		}
		return ast.TypeUUID
	}
	return nil
}

// baseOf unwraps optionals to the underlying base type, or "" when the
// type is not base-typed (arrays, references, enums).
func baseOf(t ast.FieldType) ast.BaseType {
	switch ft := t.(type) {
	case ast.BaseType:
		return ft
	case ast.OptionalType:
		return baseOf(ft.Elem)
	}
	return ""
}

func isBoolean(t ast.FieldType) bool {
	return t == nil || baseOf(t) == ast.TypeBoolean
}

// assignable reports whether a value of type src may be stored in a
// field of type dst. A nil side is an unknown (compute result) and is
// compatible with anything. email and string are interchangeable.
func assignable(dst, src ast.FieldType) bool {
	if dst == nil || src == nil {
		return true
	}
	switch d := dst.(type) {
	case ast.OptionalType:
		return assignable(d.Elem, src)
	case ast.BaseType:
		s := baseOf(src)
		if s == "" {
			return false
		}
		if d == s {
			return true
		}
		return (d == ast.TypeEmail && s == ast.TypeString) || (d == ast.TypeString && s == ast.TypeEmail)
	case ast.EnumType:
		if _, ok := src.(ast.EnumType); ok {
			return true
		}
		return baseOf(src) == ast.TypeString
	case ast.RefType:
		if s, ok := src.(ast.RefType); ok {
			return s.Name == d.Name
		}
		// Assigning a key to a reference field.
		return baseOf(src) == ast.TypeUUID || baseOf(src) == ast.TypeString
	case ast.ArrayType:
		if s, ok := src.(ast.ArrayType); ok {
			return assignable(d.Elem, s.Elem)
		}
		return false
	}
	return false
}

// comparable reports whether two expression types may be compared.
func comparable(a, b ast.FieldType) bool {
	if a == nil || b == nil {
		return true
	}
	if assignable(a, b) || assignable(b, a) {
		return true
	}
	// Enum fields compare against string literals.
	if _, ok := a.(ast.EnumType); ok {
		return baseOf(b) == ast.TypeString
	}
	if _, ok := b.(ast.EnumType); ok {
		return baseOf(a) == ast.TypeString
	}
	return false
}

func typeName(t ast.FieldType) string {
	if t == nil {
		return "unknown"
	}
	return t.String()
}
