// Package preprocess runs between parsing and validation. Its one pass
// injects the standard authentication action set when an auth entity is
// declared and the user has not written those actions by hand.
//
// Injected actions are ordinary AST nodes appended after every
// user-declared action, so they go through the full validator like
// anything else. User-declared names always win: the pass is additive
// and name-checked, never overriding.
package preprocess

import (
	"strings"

	"github.com/MAsif786/intentc/internal/ast"
)

// InjectAuthActions appends the default auth actions (signup, login,
// get_me, logout, refresh_token, forgot_password, reset_password) for
// the program's auth entity. It is a no-op without an auth entity, or
// when the entity lacks the email field the actions hinge on.
func InjectAuthActions(prog *ast.Program) {
	auth := prog.AuthEntity()
	if auth == nil {
		return
	}
	emailField := findEmailField(auth)
	if emailField == "" {
		return
	}
	key := keyField(auth)
	prefix := "/" + strings.ToLower(auth.Name) + "s"

	inject := func(act *ast.Action) {
		if prog.FindAction(act.Name) == nil {
			act.Synthetic = true
			act.Span = auth.Span
			prog.Actions = append(prog.Actions, act)
		}
	}

	inject(signupAction(auth, emailField, key, prefix))
	inject(loginAction(auth, emailField, key, prefix))
	inject(getMeAction(auth, key, prefix))
	inject(logoutAction(auth, prefix))
	inject(refreshTokenAction(auth, emailField, prefix))
	inject(forgotPasswordAction(auth, emailField, prefix))
	if key != "" {
		inject(resetPasswordAction(auth, emailField, key, prefix))
	}
}

// findEmailField returns the name of the first email-typed field.
func findEmailField(ent *ast.Entity) string {
	for _, f := range ent.Fields {
		if base(f.Type) == ast.TypeEmail {
			return f.Name
		}
	}
	return ""
}

// keyField returns the @primary field name, falling back to a field
// literally named "id". Empty when the entity has neither.
func keyField(ent *ast.Entity) string {
	for _, f := range ent.Fields {
		if f.HasDecorator(ast.DecoratorPrimary) {
			return f.Name
		}
	}
	if ent.FindField("id") != nil {
		return "id"
	}
	return ""
}

func signupAction(auth *ast.Entity, emailField, key, prefix string) *ast.Action {
	act := &ast.Action{
		Name: "signup",
		Decorators: []*ast.Decorator{
			apiDecorator("POST", prefix),
		},
	}

	create := &ast.ProcessLine{Kind: ast.ProcessMutate, Entity: auth.Name}
	for _, f := range auth.Fields {
		if f.HasDecorator(ast.DecoratorPrimary) || f.HasDecorator(ast.DecoratorDefault) {
			continue
		}
		paramName := f.Name
		paramType := f.Type
		if f.Name == "password_hash" {
			paramName = "password"
			paramType = ast.TypeString
			act.Decorators = append(act.Decorators, &ast.Decorator{
				Kind:         ast.DecoratorMap,
				MapTarget:    "password_hash",
				MapTransform: "hash",
			})
		}
		act.Input = append(act.Input, &ast.Param{Name: paramName, Type: paramType})
		create.Setters = append(create.Setters, &ast.Setter{
			Field: f.Name,
			Value: identExpr("input", paramName),
		})
	}
	act.Process = []*ast.ProcessLine{create}

	fields := []string{emailField}
	if key != "" {
		fields = append([]string{key}, fields...)
	}
	act.Output = []*ast.Projection{{EntityName: auth.Name, Fields: fields}}
	return act
}

func loginAction(auth *ast.Entity, emailField, key, prefix string) *ast.Action {
	act := &ast.Action{
		Name: "login",
		Decorators: []*ast.Decorator{
			apiDecorator("POST", prefix+"/login"),
		},
		Input: []*ast.Param{
			{Name: emailField, Type: ast.TypeEmail},
			{Name: "password", Type: ast.TypeString},
		},
		Process: []*ast.ProcessLine{
			{
				Kind:         ast.ProcessDeriveSelect,
				Binding:      "user",
				SelectEntity: auth.Name,
				SelectWhere:  compareExpr(identExpr(emailField), "==", identExpr("input", emailField)),
			},
			{
				Kind:     ast.ProcessDeriveCompute,
				Binding:  "valid",
				Function: "verify_hash",
				Args: []*ast.Expression{
					identExpr("input", "password"),
					identExpr("user", "password_hash"),
				},
			},
			{
				Kind:       ast.ProcessDeriveSystem,
				Binding:    "token",
				SystemPath: "jwt.create",
				Args:       []*ast.Expression{identExpr("user", emailField)},
			},
		},
	}

	fields := []string{emailField, "token"}
	if key != "" {
		fields = append([]string{key}, fields...)
	}
	act.Output = []*ast.Projection{{EntityName: auth.Name, Fields: fields}}
	return act
}

func getMeAction(auth *ast.Entity, key, prefix string) *ast.Action {
	var fields []string
	for _, f := range auth.Fields {
		if f.Name == "password_hash" {
			continue
		}
		fields = append(fields, f.Name)
	}
	return &ast.Action{
		Name: "get_me",
		Decorators: []*ast.Decorator{
			apiDecorator("GET", prefix+"/me"),
			{Kind: ast.DecoratorAuth},
		},
		Output: []*ast.Projection{{EntityName: auth.Name, Fields: fields}},
	}
}

func logoutAction(auth *ast.Entity, prefix string) *ast.Action {
	return &ast.Action{
		Name: "logout",
		Decorators: []*ast.Decorator{
			apiDecorator("POST", prefix+"/logout"),
			{Kind: ast.DecoratorAuth},
		},
		Output: []*ast.Projection{{EntityName: auth.Name}},
	}
}

func refreshTokenAction(auth *ast.Entity, emailField, prefix string) *ast.Action {
	return &ast.Action{
		Name: "refresh_token",
		Decorators: []*ast.Decorator{
			apiDecorator("POST", prefix+"/refresh"),
			{Kind: ast.DecoratorAuth},
		},
		Process: []*ast.ProcessLine{
			{
				Kind:       ast.ProcessDeriveSystem,
				Binding:    "token",
				SystemPath: "jwt.create",
				Args:       []*ast.Expression{identExpr("subject", emailField)},
			},
		},
		Output: []*ast.Projection{{EntityName: auth.Name, Fields: []string{"token"}}},
	}
}

func forgotPasswordAction(auth *ast.Entity, emailField, prefix string) *ast.Action {
	return &ast.Action{
		Name: "forgot_password",
		Decorators: []*ast.Decorator{
			apiDecorator("POST", prefix+"/forgot-password"),
		},
		Input: []*ast.Param{{Name: emailField, Type: ast.TypeEmail}},
		Process: []*ast.ProcessLine{
			{
				Kind:         ast.ProcessDeriveSelect,
				Binding:      "user",
				SelectEntity: auth.Name,
				SelectWhere:  compareExpr(identExpr(emailField), "==", identExpr("input", emailField)),
			},
			{
				Kind:       ast.ProcessDeriveSystem,
				Binding:    "token",
				SystemPath: "jwt.create",
				Args:       []*ast.Expression{identExpr("user", emailField)},
			},
		},
		Output: []*ast.Projection{{EntityName: auth.Name, Fields: []string{"token"}}},
	}
}

func resetPasswordAction(auth *ast.Entity, emailField, key, prefix string) *ast.Action {
	return &ast.Action{
		Name: "reset_password",
		Decorators: []*ast.Decorator{
			apiDecorator("POST", prefix+"/reset-password"),
			{Kind: ast.DecoratorAuth},
			{Kind: ast.DecoratorMap, MapTarget: "password", MapTransform: "hash"},
		},
		Input: []*ast.Param{
			{Name: "token", Type: ast.TypeString},
			{Name: "password", Type: ast.TypeString},
		},
		Process: []*ast.ProcessLine{
			{
				Kind:         ast.ProcessDeriveSelect,
				Binding:      "user",
				SelectEntity: auth.Name,
				SelectWhere:  compareExpr(identExpr(emailField), "==", identExpr("subject", emailField)),
			},
			{
				Kind:   ast.ProcessMutate,
				Entity: auth.Name,
				Where:  compareExpr(identExpr(key), "==", identExpr("user", key)),
				Setters: []*ast.Setter{
					{Field: "password_hash", Value: identExpr("input", "password")},
				},
			},
		},
		Output: []*ast.Projection{{EntityName: auth.Name, Fields: []string{key}}},
	}
}

func apiDecorator(method, path string) *ast.Decorator {
	return &ast.Decorator{Kind: ast.DecoratorAPI, APIMethod: method, APIPath: path}
}

func identExpr(path ...string) *ast.Expression {
	return &ast.Expression{Kind: ast.ExprIdentifier, Path: path}
}

func compareExpr(left *ast.Expression, op string, right *ast.Expression) *ast.Expression {
	return &ast.Expression{Kind: ast.ExprComparison, Left: left, Operator: op, Right: right}
}

func base(t ast.FieldType) ast.BaseType {
	switch ft := t.(type) {
	case ast.BaseType:
		return ft
	case ast.OptionalType:
		return base(ft.Elem)
	}
	return ""
}
