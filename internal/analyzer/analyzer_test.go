package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerr "github.com/MAsif786/intentc/internal/errors"
	"github.com/MAsif786/intentc/internal/ir"
	"github.com/MAsif786/intentc/internal/parser"
)

func validateSource(t *testing.T, source string) (*ir.Program, *cerr.CompilerErrors) {
	t.Helper()
	prog, err := parser.Parse(source)
	require.NoError(t, err)
	return Validate(prog, "test.intent")
}

func errorKinds(ce *cerr.CompilerErrors) []cerr.Kind {
	var kinds []cerr.Kind
	for _, e := range ce.Errors() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

const loginSource = `auth entity User:
  id: uuid @primary @default(uuid)
  email: email @unique
  password_hash: string

@api POST /users/login
action login:
  input:
    email: email
    password: string
  process:
    derive user = select User where email == input.email
    derive valid = compute verify_hash(input.password, user.password_hash)
    derive token = system jwt.create(user.email)
  output: User(id, email, token)
`

func TestValidLoginAction(t *testing.T) {
	irProg, errs := validateSource(t, loginSource)
	require.False(t, errs.HasErrors(), "unexpected errors:\n%s", errs.Format())

	login := irProg.Action("login")
	require.NotNil(t, login)
	require.Len(t, login.Steps, 3)

	sel := login.Steps[0]
	assert.Equal(t, ir.StepDeriveSelect, sel.Kind)
	assert.Equal(t, "user", sel.Binding)
	assert.Equal(t, "User", sel.Entity)
	require.NotNil(t, sel.Where)
	assert.Equal(t, ir.ExprCompare, sel.Where.Kind)
	assert.Equal(t, "==", sel.Where.Op)
	assert.Equal(t, ir.RefField, sel.Where.Left.Ref.Kind)
	assert.Equal(t, "email", sel.Where.Left.Ref.Field)
	assert.Equal(t, ir.RefInput, sel.Where.Right.Ref.Kind)
	assert.Equal(t, 0, sel.Where.Right.Ref.Index)

	comp := login.Steps[1]
	assert.Equal(t, ir.StepDeriveCompute, comp.Kind)
	assert.Equal(t, "valid", comp.Binding)
	assert.Equal(t, "verify_hash", comp.Function)
	require.Len(t, comp.Args, 2)
	assert.Equal(t, ir.RefInput, comp.Args[0].Ref.Kind)
	assert.Equal(t, "password", comp.Args[0].Ref.Name)
	assert.Equal(t, ir.RefBinding, comp.Args[1].Ref.Kind)
	assert.Equal(t, "password_hash", comp.Args[1].Ref.Field)

	sys := login.Steps[2]
	assert.Equal(t, ir.StepDeriveSystem, sys.Kind)
	assert.Equal(t, "token", sys.Binding)
	assert.Equal(t, "jwt.create", sys.SystemPath)
	require.Len(t, sys.Args, 1)
	assert.Equal(t, ir.RefBinding, sys.Args[0].Ref.Kind)
	assert.Equal(t, "email", sys.Args[0].Ref.Field)

	assert.Equal(t, []string{"user", "valid", "token"}, login.Bindings())
}

func TestDuplicateAuthEntity(t *testing.T) {
	_, errs := validateSource(t, `auth entity User:
  id: uuid @primary
  email: email @unique
  password_hash: string

auth entity Admin:
  id: uuid @primary
  email: email @unique
  password_hash: string
`)
	require.Len(t, errs.Errors(), 1)
	e := errs.Errors()[0]
	assert.Equal(t, cerr.KindAuthEntityConflict, e.Kind)
	assert.Equal(t, 6, e.Line, "should point at the second declaration")
}

func TestUndefinedPolicyReference(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary

@api GET /docs
@policy(DoesNotExist)
action list_docs:
  output: Doc(id)
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindUnknownReference, errs.Errors()[0].Kind)
}

func TestMutateCreateSignup(t *testing.T) {
	irProg, errs := validateSource(t, `auth entity User:
  id: uuid @primary @default(uuid)
  email: email @unique
  password_hash: string

@api POST /users
@map(password_hash, hash)
action signup:
  input:
    email: email
    password: string
  process:
    mutate User:
      set email = input.email
      set password_hash = input.password
  output: User(id, email)
`)
	require.False(t, errs.HasErrors(), "unexpected errors:\n%s", errs.Format())

	signup := irProg.Action("signup")
	require.Len(t, signup.Steps, 1)
	step := signup.Steps[0]
	assert.Equal(t, ir.StepMutateCreate, step.Kind)
	require.Len(t, step.Sets, 2)
	assert.Equal(t, "email", step.Sets[0].Field)
	assert.Empty(t, step.Sets[0].Transform)
	assert.Equal(t, "password_hash", step.Sets[1].Field)
	assert.Equal(t, "hash", step.Sets[1].Transform)
}

func TestUnboundIdentifierInProcess(t *testing.T) {
	_, errs := validateSource(t, `auth entity User:
  id: uuid @primary
  email: email @unique
  password_hash: string

action confused:
  input:
    email: email
  process:
    derive token = system jwt.create(user.email)
    derive user = select User where email == input.email
  output: User(id, token)
`)
	require.Len(t, errs.Errors(), 1)
	e := errs.Errors()[0]
	assert.Equal(t, cerr.KindProcessStep, e.Kind)
	assert.Contains(t, e.Message, "user")
}

func TestPathParameterMismatch(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary

@api GET /docs/{id}
action get_doc:
  output: Doc(id)
`)
	require.Len(t, errs.Errors(), 1)
	assert.Contains(t, errs.Errors()[0].Message, "path parameter {id}")
}

func TestDuplicateEntityAndField(t *testing.T) {
	_, errs := validateSource(t, `entity User:
  id: uuid @primary
  id: string

entity User:
  name: string
`)
	kinds := errorKinds(errs)
	assert.Contains(t, kinds, cerr.KindDuplicateName)
	assert.GreaterOrEqual(t, len(kinds), 2)
}

func TestDecoratorChecks(t *testing.T) {
	_, errs := validateSource(t, `entity Thing:
  id: number @primary
  created: string @default(now)
  code: uuid @default(uuid)
  name: string @validate(min: 3)
`)
	var invalid int
	for _, e := range errs.Errors() {
		if e.Kind == cerr.KindInvalidDecorator {
			invalid++
		}
	}
	// number @primary, @default(now) on string, @validate(min) on string.
	assert.Equal(t, 3, invalid, "errors:\n%s", errs.Format())
}

func TestSecondPrimaryRejected(t *testing.T) {
	_, errs := validateSource(t, `entity Pair:
  a: uuid @primary
  b: uuid @primary
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindInvalidDecorator, errs.Errors()[0].Kind)
}

func TestUnknownEntityInTypeGetsSuggestion(t *testing.T) {
	_, errs := validateSource(t, `entity User:
  id: uuid @primary

entity Post:
  id: uuid @primary
  author: Uesr
`)
	require.Len(t, errs.Errors(), 1)
	e := errs.Errors()[0]
	assert.Equal(t, cerr.KindUnknownReference, e.Kind)
	assert.Contains(t, e.Suggestion, "User")
}

func TestPolicySubjectAuthNeedsAuthEntity(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary

policy AdminsOnly:
  subject: @auth
  require id == "x"
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindAuthEntityConflict, errs.Errors()[0].Kind)
}

func TestNonBooleanRequireRejected(t *testing.T) {
	_, errs := validateSource(t, `auth entity User:
  id: uuid @primary
  email: email @unique
  password_hash: string
  age: number

policy Grownups:
  subject: @auth
  require age
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindTypeMismatch, errs.Errors()[0].Kind)
}

func TestRuleChecks(t *testing.T) {
	_, errs := validateSource(t, `entity User:
  id: uuid @primary
  age: number

rule adults_only:
  when User.age < 18
  then reject("Must be 18+")

rule calls_missing:
  when User.age > 100
  then celebrate(User.id)
`)
	require.Len(t, errs.Errors(), 1)
	e := errs.Errors()[0]
	assert.Equal(t, cerr.KindUnknownReference, e.Kind)
	assert.Contains(t, e.Message, "celebrate")
}

func TestRuleActionCallArity(t *testing.T) {
	_, errs := validateSource(t, `entity User:
  id: uuid @primary
  points: number

action enable_premium:
  input:
    id: uuid
  output: User(id)

rule promote:
  when User.points >= 100
  then enable_premium(User.id, User.points)
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindTypeMismatch, errs.Errors()[0].Kind)
}

func TestDuplicateBindingRejected(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary
  title: string

action twice:
  input:
    id: uuid
  process:
    derive doc = select Doc where id == input.id
    derive doc = select Doc where id == input.id
  output: Doc(id)
`)
	require.Len(t, errs.Errors(), 1)
	e := errs.Errors()[0]
	assert.Equal(t, cerr.KindProcessStep, e.Kind)
	assert.Contains(t, e.Message, "already bound")
}

func TestNonBooleanWhereRejected(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary
  title: string

action weird:
  process:
    derive doc = select Doc where title
  output: Doc(id)
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindProcessStep, errs.Errors()[0].Kind)
}

func TestIllTypedSetRejected(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary
  count: number

action bad_set:
  process:
    mutate Doc:
      set count = "nope"
  output: Doc(id)
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindProcessStep, errs.Errors()[0].Kind)
}

func TestOutputRejectsUnknownField(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary

action show:
  output: Doc(id, token)
`)
	require.Len(t, errs.Errors(), 1)
	e := errs.Errors()[0]
	assert.Equal(t, cerr.KindUnknownReference, e.Kind)
	assert.Contains(t, e.Message, "token")
}

func TestAuthDecoratorNeedsAuthEntity(t *testing.T) {
	_, errs := validateSource(t, `entity Doc:
  id: uuid @primary

@api GET /docs
@auth
action list_docs:
  output: Doc(id)
`)
	require.Len(t, errs.Errors(), 1)
	assert.Equal(t, cerr.KindAuthEntityConflict, errs.Errors()[0].Kind)
}

func TestAuthEntityShapeEnforced(t *testing.T) {
	_, errs := validateSource(t, `auth entity User:
  id: uuid @primary
  name: string
`)
	var conflicts int
	for _, e := range errs.Errors() {
		if e.Kind == cerr.KindAuthEntityConflict {
			conflicts++
		}
	}
	// Missing email field and missing password_hash.
	assert.Equal(t, 2, conflicts, "errors:\n%s", errs.Format())
}

func TestSubjectAvailableUnderAuth(t *testing.T) {
	irProg, errs := validateSource(t, `auth entity User:
  id: uuid @primary
  email: email @unique
  password_hash: string

@api POST /refresh
@auth
action refresh:
  process:
    derive token = system jwt.create(subject.email)
  output: User(token)
`)
	require.False(t, errs.HasErrors(), "unexpected errors:\n%s", errs.Format())
	step := irProg.Action("refresh").Steps[0]
	assert.Equal(t, ir.RefSubject, step.Args[0].Ref.Kind)
	assert.Equal(t, "email", step.Args[0].Ref.Field)
}

func TestDeclarationOrderPreserved(t *testing.T) {
	irProg, errs := validateSource(t, `entity B:
  id: uuid @primary
entity A:
  id: uuid @primary

action second:
  output: A(id)
action first:
  output: B(id)
`)
	require.False(t, errs.HasErrors())
	require.Len(t, irProg.Actions, 2)
	assert.Equal(t, "second", irProg.Actions[0].Name)
	assert.Equal(t, "first", irProg.Actions[1].Name)
}
