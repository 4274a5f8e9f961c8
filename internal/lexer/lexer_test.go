package lexer

import "testing"

// mustTokenize tokenizes source and fails the test on a lexer error.
func mustTokenize(t *testing.T, source string) []Token {
	t.Helper()
	l := New(source)
	tokens, err := l.Tokenize()
	if err != nil {
		t.Fatalf("unexpected lexer error: %v", err)
	}
	return tokens
}

// expectToken checks the type (and, if non-empty, literal) of tokens[index].
func expectToken(t *testing.T, tokens []Token, index int, expectedType TokenType, expectedLiteral string) {
	t.Helper()
	if index >= len(tokens) {
		t.Fatalf("token index %d out of range (have %d tokens)", index, len(tokens))
	}
	tok := tokens[index]
	if tok.Type != expectedType {
		t.Errorf("token[%d]: expected type %s, got %s (literal=%q)", index, expectedType, tok.Type, tok.Literal)
	}
	if expectedLiteral != "" && tok.Literal != expectedLiteral {
		t.Errorf("token[%d]: expected literal %q, got %q", index, expectedLiteral, tok.Literal)
	}
}

func TestEmptySource(t *testing.T) {
	tokens := mustTokenize(t, "")
	if len(tokens) != 1 {
		t.Fatalf("expected only EOF, got %d tokens", len(tokens))
	}
	expectToken(t, tokens, 0, EOF, "")
}

func TestEntityHeader(t *testing.T) {
	tokens := mustTokenize(t, "entity User:\n")
	expectToken(t, tokens, 0, ENTITY, "entity")
	expectToken(t, tokens, 1, IDENTIFIER, "User")
	expectToken(t, tokens, 2, COLON, ":")
	expectToken(t, tokens, 3, NEWLINE, "")
}

func TestAuthEntityKeywordPair(t *testing.T) {
	tokens := mustTokenize(t, "auth entity User:\n")
	expectToken(t, tokens, 0, AUTH, "auth")
	expectToken(t, tokens, 1, ENTITY, "entity")
}

func TestIndentDedent(t *testing.T) {
	src := "entity User:\n  name: string\n  age: number\nentity Post:\n  title: string\n"
	tokens := mustTokenize(t, src)

	var kinds []TokenType
	for _, tok := range tokens {
		kinds = append(kinds, tok.Type)
	}

	// One INDENT after each entity header, one DEDENT before "entity Post",
	// and a trailing DEDENT before EOF.
	indents, dedents := 0, 0
	for _, k := range kinds {
		if k == INDENT {
			indents++
		}
		if k == DEDENT {
			dedents++
		}
	}
	if indents != 2 {
		t.Errorf("expected 2 INDENT tokens, got %d", indents)
	}
	if dedents != 2 {
		t.Errorf("expected 2 DEDENT tokens, got %d", dedents)
	}
}

func TestDecoratorAndPath(t *testing.T) {
	tokens := mustTokenize(t, "@api GET /users/{id}\n")
	expectToken(t, tokens, 0, AT, "@")
	expectToken(t, tokens, 1, IDENTIFIER, "api")
	expectToken(t, tokens, 2, IDENTIFIER, "GET")
	expectToken(t, tokens, 3, SLASH, "/")
	expectToken(t, tokens, 4, IDENTIFIER, "users")
	expectToken(t, tokens, 5, SLASH, "/")
	expectToken(t, tokens, 6, LBRACE, "{")
	expectToken(t, tokens, 7, IDENTIFIER, "id")
	expectToken(t, tokens, 8, RBRACE, "}")
}

func TestComparisonOperators(t *testing.T) {
	tokens := mustTokenize(t, "== != < <= > >= =")
	expectToken(t, tokens, 0, EQ, "==")
	expectToken(t, tokens, 1, NEQ, "!=")
	expectToken(t, tokens, 2, LT, "<")
	expectToken(t, tokens, 3, LE, "<=")
	expectToken(t, tokens, 4, GT, ">")
	expectToken(t, tokens, 5, GE, ">=")
	expectToken(t, tokens, 6, ASSIGN, "=")
}

func TestStringLiteralWithEscape(t *testing.T) {
	tokens := mustTokenize(t, `"hello \"world\""`)
	expectToken(t, tokens, 0, STRING_LIT, `hello "world"`)
}

func TestUnterminatedStringIsError(t *testing.T) {
	l := New("\"unterminated\n")
	if _, err := l.Tokenize(); err == nil {
		t.Fatal("expected an error for an unterminated string literal")
	}
}

func TestNumberLiteral(t *testing.T) {
	tokens := mustTokenize(t, "42 3.14")
	expectToken(t, tokens, 0, NUMBER_LIT, "42")
	expectToken(t, tokens, 1, NUMBER_LIT, "3.14")
}

func TestCommentIsIgnored(t *testing.T) {
	tokens := mustTokenize(t, "# a comment\nentity User:\n")
	expectToken(t, tokens, 0, NEWLINE, "")
	expectToken(t, tokens, 1, ENTITY, "entity")
}

func TestLogicalKeywords(t *testing.T) {
	tokens := mustTokenize(t, "a and b or not c")
	expectToken(t, tokens, 0, IDENTIFIER, "a")
	expectToken(t, tokens, 1, AND, "and")
	expectToken(t, tokens, 2, IDENTIFIER, "b")
	expectToken(t, tokens, 3, OR, "or")
	expectToken(t, tokens, 4, NOT, "not")
	expectToken(t, tokens, 5, IDENTIFIER, "c")
}

func TestDottedIdentifier(t *testing.T) {
	// "input" and "email" are reserved words; the parser accepts them in
	// identifier position via their literals.
	tokens := mustTokenize(t, "input.email")
	expectToken(t, tokens, 0, INPUT, "input")
	expectToken(t, tokens, 1, DOT, ".")
	expectToken(t, tokens, 2, TYPE_EMAIL, "email")
}

func TestTabIndentCountsAsFourSpaces(t *testing.T) {
	src := "entity User:\n\tname: string\n"
	tokens := mustTokenize(t, src)
	found := false
	for _, tok := range tokens {
		if tok.Type == INDENT {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a tab-indented line to produce an INDENT token")
	}
}
