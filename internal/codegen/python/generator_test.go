package python

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MAsif786/intentc/internal/analyzer"
	"github.com/MAsif786/intentc/internal/codegen"
	"github.com/MAsif786/intentc/internal/parser"
	"github.com/MAsif786/intentc/internal/preprocess"
)

const blogSource = `auth entity User:
  id: uuid @primary @default(uuid)
  email: email @unique
  password_hash: string
  role: admin | member

entity Post:
  id: uuid @primary @default(uuid)
  title: string
  body: string
  author: User
  published: boolean
  created: datetime @default(now)

policy AdminsOnly:
  subject: @auth
  require role == "admin"

rule no_empty_titles:
  when Post.published == true and Post.title == ""
  then reject("published posts need a title")

@api POST /posts
@auth
action create_post:
  input:
    title: string
    body: string
  process:
    mutate Post:
      set title = input.title
      set body = input.body
      set author = subject.id
      set published = false
  output: Post(id, title, published)

@api DELETE /posts/{id}
@auth
@policy(AdminsOnly)
action delete_post:
  input:
    id: uuid
  process:
    delete Post where id == input.id
  output: Post(id)
`

func buildFor(t *testing.T, source string) *codegen.Build {
	t.Helper()
	prog, err := parser.Parse(source)
	require.NoError(t, err)
	preprocess.InjectAuthActions(prog)
	irProg, errs := analyzer.Validate(prog, "test.intent")
	require.False(t, errs.HasErrors(), "fixture must validate:\n%s", errs.Format())
	return &codegen.Build{Program: prog, IR: irProg, Options: map[string]string{}}
}

func generateTree(t *testing.T, source string) *codegen.FileTree {
	t.Helper()
	tree, err := codegen.Generate(buildFor(t, source), "python")
	require.NoError(t, err)
	return tree
}

func TestGeneratedFileSet(t *testing.T) {
	tree := generateTree(t, blogSource)

	for _, path := range []string{
		"app/schemas.py", "app/models.py", "app/database.py", "app/routes.py",
		"app/auth.py", "app/policies.py", "app/rules.py",
		"alembic.ini", "alembic/env.py", "alembic/versions/0001_initial.py",
		"tests/conftest.py", "tests/test_api.py",
		"main.py", "requirements.txt",
	} {
		_, ok := tree.Get(path)
		assert.True(t, ok, "missing %s (have %v)", path, tree.Paths())
	}
}

func TestDeterministicOutput(t *testing.T) {
	a := generateTree(t, blogSource)
	b := generateTree(t, blogSource)

	require.Equal(t, a.Paths(), b.Paths())
	for _, path := range a.Paths() {
		ca, _ := a.Get(path)
		cb, _ := b.Get(path)
		assert.Equal(t, ca, cb, "content of %s must be byte-identical", path)
	}
}

func TestModelsContent(t *testing.T) {
	tree := generateTree(t, blogSource)
	models, _ := tree.Get("app/models.py")

	assert.Contains(t, models, "class User(Base):")
	assert.Contains(t, models, `__tablename__ = "users"`)
	assert.Contains(t, models, "id = Column(String(36), primary_key=True")
	assert.Contains(t, models, "email = Column(String, unique=True")
	assert.Contains(t, models, `role = Column(Enum("admin", "member", name="role_enum")`)
	assert.Contains(t, models, `author = Column(String(36), ForeignKey("users.id")`)
	assert.Contains(t, models, "default=datetime.utcnow")
}

func TestRoutesContent(t *testing.T) {
	tree := generateTree(t, blogSource)
	routes, _ := tree.Get("app/routes.py")

	// The user-declared action.
	assert.Contains(t, routes, `@router.post("/posts", response_model=schemas.CreatePostResponse)`)
	assert.Contains(t, routes, "def create_post(payload: schemas.CreatePostInput, db: Session = Depends(get_db), current_user=Depends(get_current_user)):")
	assert.Contains(t, routes, "new_post = models.Post(")
	assert.Contains(t, routes, "author=current_user.id,")

	// Policy enforcement before the delete step.
	assert.Contains(t, routes, "policies.enforce_admins_only(current_user)")
	assert.Contains(t, routes, "db.query(models.Post).filter(models.Post.id == id).delete(")

	// Injected login action lowers to select + verify + token.
	assert.Contains(t, routes, "user = db.query(models.User).filter(models.User.email == payload.email).first()")
	assert.Contains(t, routes, "valid = verify_hash(payload.password, user.password_hash)")
	assert.Contains(t, routes, "token = create_access_token(user.email)")

	// The signup hash transform from @map(password_hash, hash).
	assert.Contains(t, routes, "password_hash=hash_value(payload.password),")
}

func TestSchemasContent(t *testing.T) {
	tree := generateTree(t, blogSource)
	schemas, _ := tree.Get("app/schemas.py")

	assert.Contains(t, schemas, "class UserOut(BaseModel):")
	assert.Contains(t, schemas, "email: EmailStr")
	assert.Contains(t, schemas, `role: Literal["admin", "member"]`)
	assert.Contains(t, schemas, "class CreatePostInput(BaseModel):")
	assert.Contains(t, schemas, "class LoginResponse(BaseModel):")
	assert.Contains(t, schemas, "token: str")
}

func TestPoliciesAndRulesContent(t *testing.T) {
	tree := generateTree(t, blogSource)

	policies, _ := tree.Get("app/policies.py")
	assert.Contains(t, policies, "def enforce_admins_only(subject):")
	assert.Contains(t, policies, `subject.role == "admin"`)

	rules, _ := tree.Get("app/rules.py")
	assert.Contains(t, rules, "def check_no_empty_titles(post):")
	assert.Contains(t, rules, `raise RuleViolation("published posts need a title")`)
}

func TestMigrationContent(t *testing.T) {
	tree := generateTree(t, blogSource)
	migration, _ := tree.Get("alembic/versions/0001_initial.py")

	assert.Contains(t, migration, `op.create_table(`)
	assert.Contains(t, migration, `"users",`)
	assert.Contains(t, migration, `"posts",`)
	assert.Contains(t, migration, `sa.Column("email", sa.String, unique=True`)
	assert.Contains(t, migration, `op.drop_table("posts")`)
}

func TestTestsScaffolding(t *testing.T) {
	tree := generateTree(t, blogSource)
	apiTests, _ := tree.Get("tests/test_api.py")

	assert.Contains(t, apiTests, `assert "/posts" in paths`)
	assert.Contains(t, apiTests, "def test_signup_then_login(client):")
}

func TestNoRulesNoRulesFile(t *testing.T) {
	tree := generateTree(t, `entity Doc:
  id: uuid @primary

@api GET /docs/{id}
action get_doc:
  input:
    id: uuid
  process:
    derive doc = select Doc where id == input.id
  output: Doc(id)
`)
	_, ok := tree.Get("app/rules.py")
	assert.False(t, ok)
	_, ok = tree.Get("app/policies.py")
	assert.False(t, ok)

	routes, _ := tree.Get("app/routes.py")
	assert.Contains(t, routes, "def get_doc(id: str, db: Session = Depends(get_db)):")
	assert.Contains(t, routes, "doc = db.query(models.Doc).filter(models.Doc.id == id).first()")
}
