// Package python emits a FastAPI + SQLAlchemy + Pydantic + Alembic
// project from a validated program and its lowered process IR.
package python

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/MAsif786/intentc/internal/ast"
	"github.com/MAsif786/intentc/internal/codegen"
	"github.com/MAsif786/intentc/internal/ir"
)

// Backend is the `python` target.
type Backend struct{}

func init() {
	codegen.Register(Backend{})
}

func (Backend) Name() string { return "python" }

const header = "# Generated by intentc — do not edit\n"

// ── emit_models: Pydantic schemas ──

func (Backend) EmitModels(b *codegen.Build, tree *codegen.FileTree) error {
	var s strings.Builder
	s.WriteString(header)
	s.WriteString("\nfrom datetime import datetime\n")
	s.WriteString("from typing import Any, Literal, Optional\n\n")
	s.WriteString("from pydantic import BaseModel, ConfigDict, EmailStr\n\n")

	for _, ent := range b.Program.Entities {
		fmt.Fprintf(&s, "\nclass %sOut(BaseModel):\n", ent.Name)
		s.WriteString("    model_config = ConfigDict(from_attributes=True)\n\n")
		for _, f := range ent.Fields {
			fmt.Fprintf(&s, "    %s: %s\n", f.Name, pyType(f.Type))
		}
	}

	for _, act := range b.Program.Actions {
		if fields := payloadParams(act); len(fields) > 0 {
			fmt.Fprintf(&s, "\nclass %sInput(BaseModel):\n", pascal(act.Name))
			for _, p := range fields {
				fmt.Fprintf(&s, "    %s: %s\n", p.Name, pyType(p.Type))
			}
		}
		emitResponseModel(&s, b, act)
	}

	tree.Add("app/schemas.py", s.String())
	return nil
}

// emitResponseModel writes the response DTO for an action. Each output
// projection line is an independent entry; a single line becomes the
// response itself, several lines compose into one DTO keyed by entity.
func emitResponseModel(s *strings.Builder, b *codegen.Build, act *ast.Action) {
	actIR := b.IR.Action(act.Name)

	writeProjection := func(className string, proj *ast.Projection) {
		fmt.Fprintf(s, "\nclass %s(BaseModel):\n", className)
		if len(proj.Fields) == 0 {
			s.WriteString("    pass\n")
			return
		}
		ent := b.Program.FindEntity(proj.EntityName)
		for _, name := range proj.Fields {
			fmt.Fprintf(s, "    %s: %s\n", name, projectionFieldType(ent, actIR, name))
		}
	}

	if len(act.Output) == 1 {
		writeProjection(pascal(act.Name)+"Response", act.Output[0])
		return
	}
	for _, proj := range act.Output {
		writeProjection(pascal(act.Name)+proj.EntityName+"Projection", proj)
	}
	fmt.Fprintf(s, "\nclass %sResponse(BaseModel):\n", pascal(act.Name))
	for _, proj := range act.Output {
		fmt.Fprintf(s, "    %s: %s%sProjection\n", snake(proj.EntityName), pascal(act.Name), proj.EntityName)
	}
}

// projectionFieldType types one projected field: an entity field keeps
// its declared type, a process binding is typed from its producing step.
func projectionFieldType(ent *ast.Entity, actIR *ir.ActionIR, name string) string {
	if ent != nil {
		if f := ent.FindField(name); f != nil {
			return pyType(f.Type)
		}
	}
	if actIR != nil {
		for _, step := range actIR.Steps {
			if step.Binding != name {
				continue
			}
			switch step.Kind {
			case ir.StepDeriveSystem:
				return "str"
			default:
				return "Any"
			}
		}
	}
	return "Any"
}

// ── emit_persistence: SQLAlchemy models and session plumbing ──

func (Backend) EmitPersistence(b *codegen.Build, tree *codegen.FileTree) error {
	tree.Add("app/database.py", header+`
import os

from sqlalchemy import create_engine
from sqlalchemy.orm import declarative_base, sessionmaker

DATABASE_URL = os.getenv("DATABASE_URL", "sqlite:///./app.db")

engine = create_engine(
    DATABASE_URL,
    connect_args={"check_same_thread": False} if DATABASE_URL.startswith("sqlite") else {},
)
SessionLocal = sessionmaker(autocommit=False, autoflush=False, bind=engine)
Base = declarative_base()


def get_db():
    db = SessionLocal()
    try:
        yield db
    finally:
        db.close()
`)

	var s strings.Builder
	s.WriteString(header)
	s.WriteString("\nfrom datetime import datetime\nfrom uuid import uuid4\n\n")
	s.WriteString("from sqlalchemy import JSON, Boolean, Column, DateTime, Enum, Float, ForeignKey, String\n\n")
	s.WriteString("from app.database import Base\n\n")

	for _, ent := range b.Program.Entities {
		fmt.Fprintf(&s, "\nclass %s(Base):\n", ent.Name)
		fmt.Fprintf(&s, "    __tablename__ = %q\n\n", tableName(ent.Name))
		for _, f := range ent.Fields {
			fmt.Fprintf(&s, "    %s = Column(%s)\n", f.Name, columnArgs(b.Program, f))
		}
	}

	tree.Add("app/models.py", s.String())
	return nil
}

// columnArgs builds the Column(...) argument list for one field.
func columnArgs(prog *ast.Program, f *ast.Field) string {
	args := []string{saType(prog, f.Type, f.Name)}

	if ref, ok := unwrap(f.Type).(ast.RefType); ok {
		target := prog.FindEntity(ref.Name)
		key := "id"
		if target != nil {
			key = primaryField(target)
		}
		args = append(args, fmt.Sprintf("ForeignKey(%q)", tableName(ref.Name)+"."+key))
	}

	if f.HasDecorator(ast.DecoratorPrimary) {
		args = append(args, "primary_key=True")
	}
	if f.HasDecorator(ast.DecoratorUnique) {
		args = append(args, "unique=True")
	}
	if f.HasDecorator(ast.DecoratorIndex) {
		args = append(args, "index=True")
	}
	if _, optional := f.Type.(ast.OptionalType); optional || f.HasDecorator(ast.DecoratorOptional) {
		args = append(args, "nullable=True")
	} else {
		args = append(args, "nullable=False")
	}
	if def := f.Decorator(ast.DecoratorDefault); def != nil {
		args = append(args, "default="+columnDefault(def))
	}
	return strings.Join(args, ", ")
}

func columnDefault(d *ast.Decorator) string {
	switch d.DefaultKeyword {
	case "now":
		return "datetime.utcnow"
	case "uuid":
		return "lambda: str(uuid4())"
	}
	if d.DefaultLiteral != nil {
		return renderLiteral(astLiteralToIR(d.DefaultLiteral))
	}
	return "None"
}

// ── emit_api: FastAPI routes and service stubs ──

func (Backend) EmitAPI(b *codegen.Build, tree *codegen.FileTree) error {
	r := &routeWriter{build: b}
	tree.Add("app/routes.py", r.emit())

	if stubs := computeStubs(b.IR); len(stubs) > 0 {
		var s strings.Builder
		s.WriteString(header)
		s.WriteString("# Business functions referenced by `compute` steps and `mail.send`. Fill these in.\n")
		for _, fn := range stubs {
			fmt.Fprintf(&s, "\n\ndef %s(*args):\n    raise NotImplementedError(%q)\n", fn, fn)
		}
		tree.Add("app/services.py", s.String())
	}
	return nil
}

// computeStubs lists compute functions, plus send_mail for the
// `mail.send` system capability, that have no generated implementation,
// in first-use order.
func computeStubs(p *ir.Program) []string {
	var stubs []string
	seen := map[string]bool{}
	for _, act := range p.Actions {
		for _, step := range act.Steps {
			fn := ""
			switch step.Kind {
			case ir.StepDeriveCompute:
				if step.Function != "verify_hash" && step.Function != "hash" {
					fn = step.Function
				}
			case ir.StepDeriveSystem:
				if step.SystemPath == "mail.send" {
					fn = "send_mail"
				}
			}
			if fn == "" || seen[fn] {
				continue
			}
			seen[fn] = true
			stubs = append(stubs, fn)
		}
	}
	return stubs
}

// ── emit_rules ──

func (Backend) EmitRules(b *codegen.Build, tree *codegen.FileTree) error {
	if len(b.Program.Rules) == 0 {
		return nil
	}

	var s strings.Builder
	s.WriteString(header)
	s.WriteString(`
# Declarative business rules. The language defines when a rule's
# condition holds, not when it fires; no generated route calls these
# checks.

import logging

logger = logging.getLogger("rules")


class RuleViolation(Exception):
    pass
`)

	var names []string
	for _, rule := range b.Program.Rules {
		fn := "check_" + snake(rule.Name)
		names = append(names, fn)
		params := ruleEntities(rule.When)
		var args []string
		for _, e := range params {
			args = append(args, snake(e))
		}
		fmt.Fprintf(&s, "\n\ndef %s(%s):\n", fn, strings.Join(args, ", "))
		fmt.Fprintf(&s, "    if %s:\n", renderRuleExpr(rule.When))
		switch rule.Consequence.Kind {
		case ast.ConsequenceReject:
			fmt.Fprintf(&s, "        raise RuleViolation(%s)\n", pyString(rule.Consequence.Message))
		case ast.ConsequenceLog:
			fmt.Fprintf(&s, "        logger.info(%s)\n", pyString(rule.Consequence.Message))
		case ast.ConsequenceActionCall:
			fmt.Fprintf(&s, "        logger.info(%s)\n",
				pyString(fmt.Sprintf("rule %s: invoke %s(%s)", rule.Name, rule.Consequence.ActionName,
					strings.Join(rule.Consequence.Args, ", "))))
		}
	}

	s.WriteString("\n\nRULES = [" + strings.Join(names, ", ") + "]\n")
	tree.Add("app/rules.py", s.String())
	return nil
}

// ruleEntities collects entity names referenced by a when expression,
// in first-use order.
func ruleEntities(e *ast.Expression) []string {
	var names []string
	seen := map[string]bool{}
	var walk func(*ast.Expression)
	walk = func(e *ast.Expression) {
		if e == nil {
			return
		}
		if e.Kind == ast.ExprIdentifier && len(e.Path) == 2 && !seen[e.Path[0]] {
			seen[e.Path[0]] = true
			names = append(names, e.Path[0])
		}
		walk(e.Left)
		walk(e.Right)
		walk(e.Operand)
		for _, a := range e.CallArgs {
			walk(a)
		}
	}
	walk(e)
	return names
}

// renderRuleExpr renders a rule's when expression as plain Python over
// row arguments named after their entities.
func renderRuleExpr(e *ast.Expression) string {
	switch e.Kind {
	case ast.ExprLiteral:
		return renderLiteral(astLiteralToIR(e.Literal))
	case ast.ExprIdentifier:
		if len(e.Path) == 2 {
			return snake(e.Path[0]) + "." + e.Path[1]
		}
		return strings.Join(e.Path, ".")
	case ast.ExprComparison:
		return fmt.Sprintf("%s %s %s", renderRuleExpr(e.Left), e.Operator, renderRuleExpr(e.Right))
	case ast.ExprLogical:
		return fmt.Sprintf("(%s) %s (%s)", renderRuleExpr(e.Left), e.Operator, renderRuleExpr(e.Right))
	case ast.ExprNot:
		return fmt.Sprintf("not (%s)", renderRuleExpr(e.Operand))
	case ast.ExprCall:
		var args []string
		for _, a := range e.CallArgs {
			args = append(args, renderRuleExpr(a))
		}
		return fmt.Sprintf("%s(%s)", e.CallName, strings.Join(args, ", "))
	}
	return "False"
}

// ── emit_policies: authorization checks and the auth stack ──

func (Backend) EmitPolicies(b *codegen.Build, tree *codegen.FileTree) error {
	tree.Add("app/auth.py", authModule(b))

	policies := allPolicies(b.Program)
	if len(policies) == 0 {
		return nil
	}

	var s strings.Builder
	s.WriteString(header)
	s.WriteString("\nfrom fastapi import HTTPException\n")

	for _, pol := range policies {
		fmt.Fprintf(&s, "\n\ndef enforce_%s(subject):\n", snake(pol.Name))
		for _, req := range pol.Require {
			fmt.Fprintf(&s, "    if not (%s):\n", renderPolicyExpr(req))
			fmt.Fprintf(&s, "        raise HTTPException(status_code=403, detail=%s)\n",
				pyString("policy "+pol.Name+" denied"))
		}
	}
	tree.Add("app/policies.py", s.String())
	return nil
}

func allPolicies(prog *ast.Program) []*ast.Policy {
	var out []*ast.Policy
	out = append(out, prog.Policies...)
	for _, ent := range prog.Entities {
		out = append(out, ent.Policies...)
	}
	return out
}

// renderPolicyExpr renders a require expression; bare names and
// subject.* both read from the subject row.
func renderPolicyExpr(e *ast.Expression) string {
	switch e.Kind {
	case ast.ExprLiteral:
		return renderLiteral(astLiteralToIR(e.Literal))
	case ast.ExprIdentifier:
		if e.Path[0] == "subject" {
			return strings.Join(append([]string{"subject"}, e.Path[1:]...), ".")
		}
		return "subject." + strings.Join(e.Path, ".")
	case ast.ExprComparison:
		return fmt.Sprintf("%s %s %s", renderPolicyExpr(e.Left), e.Operator, renderPolicyExpr(e.Right))
	case ast.ExprLogical:
		return fmt.Sprintf("(%s) %s (%s)", renderPolicyExpr(e.Left), e.Operator, renderPolicyExpr(e.Right))
	case ast.ExprNot:
		return fmt.Sprintf("not (%s)", renderPolicyExpr(e.Operand))
	case ast.ExprCall:
		var args []string
		for _, a := range e.CallArgs {
			args = append(args, renderPolicyExpr(a))
		}
		return fmt.Sprintf("%s(%s)", e.CallName, strings.Join(args, ", "))
	}
	return "False"
}

func authModule(b *codegen.Build) string {
	var s strings.Builder
	s.WriteString(header)
	s.WriteString(`
import os
from datetime import datetime, timedelta

import jwt
from passlib.context import CryptContext

SECRET_KEY = os.getenv("SECRET_KEY", "change-me")
ALGORITHM = "HS256"
TOKEN_TTL_MINUTES = 60

pwd_context = CryptContext(schemes=["bcrypt"], deprecated="auto")


def hash_value(value: str) -> str:
    return pwd_context.hash(value)


def verify_hash(value: str, hashed: str) -> bool:
    return pwd_context.verify(value, hashed)


def create_access_token(subject: str) -> str:
    payload = {
        "sub": subject,
        "exp": datetime.utcnow() + timedelta(minutes=TOKEN_TTL_MINUTES),
    }
    return jwt.encode(payload, SECRET_KEY, algorithm=ALGORITHM)


def verify_access_token(token: str) -> str:
    payload = jwt.decode(token, SECRET_KEY, algorithms=[ALGORITHM])
    return payload["sub"]
`)

	if auth := b.Program.AuthEntity(); auth != nil {
		email := emailFieldName(auth)
		fmt.Fprintf(&s, `

from fastapi import Depends, HTTPException
from fastapi.security import OAuth2PasswordBearer
from sqlalchemy.orm import Session

from app import models
from app.database import get_db

oauth2_scheme = OAuth2PasswordBearer(tokenUrl="%ss/login")


def get_current_user(
    token: str = Depends(oauth2_scheme),
    db: Session = Depends(get_db),
) -> "models.%s":
    try:
        subject = verify_access_token(token)
    except jwt.PyJWTError:
        raise HTTPException(status_code=401, detail="invalid token")
    user = db.query(models.%s).filter(models.%s.%s == subject).first()
    if user is None:
        raise HTTPException(status_code=401, detail="unknown user")
    return user
`, strings.ToLower(auth.Name), auth.Name, auth.Name, auth.Name, email)
	}
	return s.String()
}

// ── emit_migrations: Alembic ──

func (Backend) EmitMigrations(b *codegen.Build, tree *codegen.FileTree) error {
	tree.Add("alembic.ini", header+`
[alembic]
script_location = alembic
sqlalchemy.url = sqlite:///./app.db

[loggers]
keys = root

[handlers]
keys = console

[formatters]
keys = generic

[logger_root]
level = WARN
handlers = console

[handler_console]
class = StreamHandler
args = (sys.stderr,)
level = NOTSET
formatter = generic

[formatter_generic]
format = %(levelname)-5.5s [%(name)s] %(message)s
`)

	tree.Add("alembic/env.py", header+`
from alembic import context
from sqlalchemy import engine_from_config, pool

from app.database import Base
from app import models  # noqa: F401 — imported for table registration

config = context.config
target_metadata = Base.metadata


def run_migrations_offline():
    context.configure(
        url=config.get_main_option("sqlalchemy.url"),
        target_metadata=target_metadata,
        literal_binds=True,
    )
    with context.begin_transaction():
        context.run_migrations()


def run_migrations_online():
    connectable = engine_from_config(
        config.get_section(config.config_ini_section),
        prefix="sqlalchemy.",
        poolclass=pool.NullPool,
    )
    with connectable.connect() as connection:
        context.configure(connection=connection, target_metadata=target_metadata)
        with context.begin_transaction():
            context.run_migrations()


if context.is_offline_mode():
    run_migrations_offline()
else:
    run_migrations_online()
`)

	tree.Add("alembic/script.py.mako", `"""${message}

Revision ID: ${up_revision}
Revises: ${down_revision | comma,n}
"""
from alembic import op
import sqlalchemy as sa
${imports if imports else ""}

revision = ${repr(up_revision)}
down_revision = ${repr(down_revision)}
branch_labels = ${repr(branch_labels)}
depends_on = ${repr(depends_on)}


def upgrade():
    ${upgrades if upgrades else "pass"}


def downgrade():
    ${downgrades if downgrades else "pass"}
`)

	var s strings.Builder
	s.WriteString(header)
	s.WriteString(`"""initial schema"""

from alembic import op
import sqlalchemy as sa

revision = "0001"
down_revision = None
branch_labels = None
depends_on = None


def upgrade():
`)
	for _, ent := range b.Program.Entities {
		fmt.Fprintf(&s, "    op.create_table(\n        %q,\n", tableName(ent.Name))
		for _, f := range ent.Fields {
			fmt.Fprintf(&s, "        sa.Column(%q, %s),\n", f.Name, migrationColumn(b.Program, f))
		}
		s.WriteString("    )\n")
	}
	s.WriteString("\n\ndef downgrade():\n")
	for i := len(b.Program.Entities) - 1; i >= 0; i-- {
		fmt.Fprintf(&s, "    op.drop_table(%q)\n", tableName(b.Program.Entities[i].Name))
	}
	tree.Add("alembic/versions/0001_initial.py", s.String())
	return nil
}

func migrationColumn(prog *ast.Program, f *ast.Field) string {
	args := []string{"sa." + saType(prog, f.Type, f.Name)}
	if ref, ok := unwrap(f.Type).(ast.RefType); ok {
		target := prog.FindEntity(ref.Name)
		key := "id"
		if target != nil {
			key = primaryField(target)
		}
		args = append(args, fmt.Sprintf("sa.ForeignKey(%q)", tableName(ref.Name)+"."+key))
	}
	if f.HasDecorator(ast.DecoratorPrimary) {
		args = append(args, "primary_key=True")
	}
	if f.HasDecorator(ast.DecoratorUnique) {
		args = append(args, "unique=True")
	}
	if f.HasDecorator(ast.DecoratorIndex) {
		args = append(args, "index=True")
	}
	if _, optional := f.Type.(ast.OptionalType); optional || f.HasDecorator(ast.DecoratorOptional) {
		args = append(args, "nullable=True")
	} else {
		args = append(args, "nullable=False")
	}
	return strings.Join(args, ", ")
}

// ── emit_tests: pytest scaffolding ──

func (Backend) EmitTests(b *codegen.Build, tree *codegen.FileTree) error {
	tree.Add("tests/conftest.py", header+`
import pytest
from fastapi.testclient import TestClient
from sqlalchemy import create_engine
from sqlalchemy.orm import sessionmaker
from sqlalchemy.pool import StaticPool

from app.database import Base, get_db
from main import app

engine = create_engine(
    "sqlite://",
    connect_args={"check_same_thread": False},
    poolclass=StaticPool,
)
TestingSessionLocal = sessionmaker(autocommit=False, autoflush=False, bind=engine)


@pytest.fixture()
def client():
    Base.metadata.create_all(bind=engine)

    def override_get_db():
        db = TestingSessionLocal()
        try:
            yield db
        finally:
            db.close()

    app.dependency_overrides[get_db] = override_get_db
    yield TestClient(app)
    app.dependency_overrides.clear()
    Base.metadata.drop_all(bind=engine)
`)

	var s strings.Builder
	s.WriteString(header)
	s.WriteString("\nfrom main import app\n\n")
	s.WriteString("\ndef test_routes_registered():\n")
	s.WriteString("    paths = {route.path for route in app.routes}\n")
	for _, act := range b.Program.Actions {
		if api := act.Decorator(ast.DecoratorAPI); api != nil {
			fmt.Fprintf(&s, "    assert %q in paths\n", api.APIPath)
		}
	}

	if auth := b.Program.AuthEntity(); auth != nil {
		if signup := b.Program.FindAction("signup"); signup != nil && b.Program.FindAction("login") != nil {
			email := emailFieldName(auth)
			prefix := "/" + strings.ToLower(auth.Name) + "s"
			var fields []string
			for _, p := range signup.Input {
				fields = append(fields, fmt.Sprintf("%q: %s", p.Name, samplePyValue(p.Type, p.Name)))
			}
			signupPath := prefix
			if api := signup.Decorator(ast.DecoratorAPI); api != nil {
				signupPath = api.APIPath
			}
			loginPath := prefix + "/login"
			if api := b.Program.FindAction("login").Decorator(ast.DecoratorAPI); api != nil {
				loginPath = api.APIPath
			}
			fmt.Fprintf(&s, `

def test_signup_then_login(client):
    resp = client.post(%q, json={%s})
    assert resp.status_code == 200, resp.text

    resp = client.post(%q, json={%q: "a@example.com", "password": %s})
    assert resp.status_code == 200, resp.text
    assert resp.json()["token"]
`, signupPath, strings.Join(fields, ", "), loginPath, email, samplePyValue(ast.TypeString, "password"))
		}
	}

	tree.Add("tests/test_api.py", s.String())
	return nil
}

// samplePyValue renders a plausible JSON value for a parameter type.
func samplePyValue(t ast.FieldType, name string) string {
	switch unwrapped := unwrap(t).(type) {
	case ast.BaseType:
		switch unwrapped {
		case ast.TypeEmail:
			return `"a@example.com"`
		case ast.TypeNumber:
			return "1"
		case ast.TypeBoolean:
			return "True"
		case ast.TypeDatetime:
			return `"2024-01-01T00:00:00"`
		case ast.TypeUUID:
			return `"00000000-0000-0000-0000-000000000000"`
		}
		return pyString(name)
	case ast.EnumType:
		return pyString(unwrapped.Variants[0])
	}
	return pyString(name)
}

// ── emit_bootstrap ──

func (Backend) EmitBootstrap(b *codegen.Build, tree *codegen.FileTree) error {
	tree.Add("main.py", header+`
from fastapi import FastAPI

from app.database import Base, engine
from app.routes import router

Base.metadata.create_all(bind=engine)

app = FastAPI(title="Generated API")
app.include_router(router)
`)

	tree.Add("requirements.txt", `fastapi>=0.110
uvicorn>=0.29
sqlalchemy>=2.0
pydantic[email]>=2.6
alembic>=1.13
passlib[bcrypt]>=1.7
PyJWT>=2.8
pytest>=8.0
httpx>=0.27
`)
	tree.Add("app/__init__.py", header)
	tree.Add("tests/__init__.py", header)
	return nil
}

// ── Shared type helpers ──

func pyType(t ast.FieldType) string {
	switch ft := t.(type) {
	case ast.BaseType:
		switch ft {
		case ast.TypeString:
			return "str"
		case ast.TypeNumber:
			return "float"
		case ast.TypeBoolean:
			return "bool"
		case ast.TypeDatetime:
			return "datetime"
		case ast.TypeUUID:
			return "str"
		case ast.TypeEmail:
			return "EmailStr"
		}
	case ast.EnumType:
		var quoted []string
		for _, v := range ft.Variants {
			quoted = append(quoted, pyString(v))
		}
		return "Literal[" + strings.Join(quoted, ", ") + "]"
	case ast.RefType:
		return "str" // foreign key value
	case ast.ArrayType:
		return "list[" + pyType(ft.Elem) + "]"
	case ast.OptionalType:
		return "Optional[" + pyType(ft.Elem) + "]"
	}
	return "Any"
}

func saType(prog *ast.Program, t ast.FieldType, fieldName string) string {
	switch ft := unwrap(t).(type) {
	case ast.BaseType:
		switch ft {
		case ast.TypeString, ast.TypeEmail:
			return "String"
		case ast.TypeNumber:
			return "Float"
		case ast.TypeBoolean:
			return "Boolean"
		case ast.TypeDatetime:
			return "DateTime"
		case ast.TypeUUID:
			return "String(36)"
		}
	case ast.EnumType:
		var quoted []string
		for _, v := range ft.Variants {
			quoted = append(quoted, fmt.Sprintf("%q", v))
		}
		return fmt.Sprintf("Enum(%s, name=%q)", strings.Join(quoted, ", "), fieldName+"_enum")
	case ast.RefType:
		return "String(36)"
	case ast.ArrayType:
		return "JSON"
	}
	return "String"
}

// unwrap strips optional wrappers.
func unwrap(t ast.FieldType) ast.FieldType {
	if opt, ok := t.(ast.OptionalType); ok {
		return unwrap(opt.Elem)
	}
	return t
}

func primaryField(ent *ast.Entity) string {
	for _, f := range ent.Fields {
		if f.HasDecorator(ast.DecoratorPrimary) {
			return f.Name
		}
	}
	return "id"
}

func emailFieldName(ent *ast.Entity) string {
	for _, f := range ent.Fields {
		if base, ok := unwrap(f.Type).(ast.BaseType); ok && base == ast.TypeEmail {
			return f.Name
		}
	}
	return "email"
}

// payloadParams returns the inputs carried in the request body: every
// parameter that is not a path parameter, for body-bearing methods.
func payloadParams(act *ast.Action) []*ast.Param {
	api := act.Decorator(ast.DecoratorAPI)
	if api == nil {
		return nil
	}
	switch api.APIMethod {
	case "POST", "PUT", "PATCH":
	default:
		return nil
	}
	inPath := map[string]bool{}
	for _, name := range templateParams(api.APIPath) {
		inPath[name] = true
	}
	var out []*ast.Param
	for _, p := range act.Input {
		if !inPath[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// templateParams extracts {name} segments from a path template.
func templateParams(path string) []string {
	var names []string
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
			names = append(names, seg[1:len(seg)-1])
		}
	}
	return names
}

func astLiteralToIR(lit *ast.Literal) *ir.Literal {
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

func tableName(entity string) string {
	return snake(entity) + "s"
}

func pascal(s string) string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

func snake(s string) string {
	var out []rune
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 && s[i-1] != '_' && s[i-1] != '-' && s[i-1] != ' ' {
				out = append(out, '_')
			}
			out = append(out, unicode.ToLower(r))
		} else if r == ' ' || r == '-' {
			out = append(out, '_')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}
