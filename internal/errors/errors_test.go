package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompilerErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *CompilerError
		want string
	}{
		{
			name: "message only",
			err:  &CompilerError{Message: "something broke"},
			want: "something broke",
		},
		{
			name: "with file and position",
			err:  &CompilerError{Message: "unknown entity", File: "app.intent", Line: 4, Column: 9},
			want: "app.intent:4:9 — unknown entity",
		},
		{
			name: "with code",
			err:  &CompilerError{Message: "duplicate entity", Code: "E201"},
			want: "duplicate entity [E201]",
		},
		{
			name: "position without file",
			err:  &CompilerError{Message: "bad decorator", Line: 12, Column: 3, Code: "E204"},
			want: "12:3 — bad decorator [E204]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Format())
		})
	}
}

func TestCollectionDefaultsFile(t *testing.T) {
	ce := New("blog.intent")
	ce.AddError(KindDuplicateName, "E201", "duplicate entity \"Post\"", 7, 1)

	errs := ce.Errors()
	assert.Len(t, errs, 1)
	assert.Equal(t, "blog.intent", errs[0].File)
	assert.Equal(t, KindDuplicateName, errs[0].Kind)
}

func TestHasErrorsAndWarnings(t *testing.T) {
	ce := New("x.intent")
	assert.False(t, ce.HasErrors())
	assert.False(t, ce.HasWarnings())

	ce.AddWarning(KindInvalidDecorator, "E204", "@index on boolean is redundant", 2, 5)
	assert.False(t, ce.HasErrors())
	assert.True(t, ce.HasWarnings())

	ce.AddError(KindUnknownReference, "E202", "unknown entity \"Uesr\"", 3, 10)
	assert.True(t, ce.HasErrors())
	assert.Len(t, ce.All(), 2)
	assert.Len(t, ce.Errors(), 1)
	assert.Len(t, ce.Warnings(), 1)
}

func TestFormatIncludesSuggestion(t *testing.T) {
	ce := New("x.intent")
	ce.AddErrorWithSuggestion(KindUnknownReference, "E202",
		"unknown entity \"Uesr\"", "Did you mean \"User\"?", 3, 10)

	out := ce.Format()
	assert.True(t, strings.HasPrefix(out, "✗ "))
	assert.Contains(t, out, "suggestion: Did you mean \"User\"?")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "parse", KindParse.String())
	assert.Equal(t, "auth-entity-conflict", KindAuthEntityConflict.String())
	assert.Equal(t, "config", KindConfig.String())
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("User", "user"))
	assert.Greater(t, Similarity("Uesr", "User"), 0.7) // transposition is one edit
	assert.Less(t, Similarity("Invoice", "xyz"), 0.3)
}

func TestFindClosest(t *testing.T) {
	candidates := []string{"User", "Post", "Comment"}

	assert.Equal(t, "User", FindClosest("Uesr", candidates, 0.6))
	assert.Equal(t, "Post", FindClosest("post", candidates, 0.6))
	assert.Equal(t, "", FindClosest("Subscription", candidates, 0.6))
}
