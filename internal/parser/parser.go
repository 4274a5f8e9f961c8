// Package parser builds the typed AST for Intent Definition Language
// source. Parsing is fail-fast: the first syntax error aborts the run and
// is returned as a *ParseError carrying position, the grammatical
// alternatives the parser was prepared to accept, and the offending line.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MAsif786/intentc/internal/ast"
	"github.com/MAsif786/intentc/internal/lexer"
)

// ParseError is the single syntactic diagnostic a parse run can produce.
type ParseError struct {
	Line     int
	Column   int
	Expected []string // grammatical alternatives at the failure point
	Found    string   // what was actually there
	Snippet  string   // the offending source line, trimmed
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d: ", e.Line, e.Column)
	if len(e.Expected) > 0 {
		fmt.Fprintf(&b, "expected %s, found %s", strings.Join(e.Expected, " or "), e.Found)
	} else {
		b.WriteString(e.Found)
	}
	if e.Snippet != "" {
		fmt.Fprintf(&b, "\n  | %s", e.Snippet)
	}
	return b.String()
}

// Parse lexes and parses one IDL source string into an AST.
func Parse(source string) (*ast.Program, error) {
	lex := lexer.New(source)
	tokens, err := lex.Tokenize()
	if err != nil {
		var lerr *lexer.Error
		if errors.As(err, &lerr) {
			return nil, &ParseError{
				Line:    lerr.Line,
				Column:  lerr.Column,
				Found:   lerr.Message,
				Snippet: sourceLine(source, lerr.Line),
			}
		}
		return nil, err
	}
	p := &parser{tokens: tokens, lines: strings.Split(source, "\n")}
	return p.parseProgram()
}

// parser holds the state for a single parse run.
type parser struct {
	tokens []lexer.Token
	pos    int
	lines  []string
}

func (p *parser) parseProgram() (*ast.Program, error) {
	prog := &ast.Program{Span: ast.Span{Line: 1, Column: 1}}
	for {
		p.skipBlank()
		if p.isAtEnd() {
			return prog, nil
		}

		switch p.peek().Type {
		case lexer.ENTITY:
			ent, err := p.parseEntity(false)
			if err != nil {
				return nil, err
			}
			prog.Entities = append(prog.Entities, ent)

		case lexer.AUTH:
			start := p.advance()
			if _, err := p.expect(lexer.ENTITY, "entity"); err != nil {
				return nil, err
			}
			ent, err := p.parseEntityBody(start, true)
			if err != nil {
				return nil, err
			}
			prog.Entities = append(prog.Entities, ent)

		case lexer.POLICY:
			pol, err := p.parsePolicy()
			if err != nil {
				return nil, err
			}
			prog.Policies = append(prog.Policies, pol)

		case lexer.RULE:
			rule, err := p.parseRule()
			if err != nil {
				return nil, err
			}
			prog.Rules = append(prog.Rules, rule)

		case lexer.AT, lexer.ACTION:
			act, err := p.parseAction()
			if err != nil {
				return nil, err
			}
			prog.Actions = append(prog.Actions, act)

		default:
			return nil, p.errExpected("entity", "auth entity", "policy", "rule", "action")
		}
	}
}

// ── Entities ──

func (p *parser) parseEntity(isAuth bool) (*ast.Entity, error) {
	start := p.advance() // ENTITY
	return p.parseEntityBody(start, isAuth)
}

func (p *parser) parseEntityBody(start lexer.Token, isAuth bool) (*ast.Entity, error) {
	name, err := p.word("entity name")
	if err != nil {
		return nil, err
	}
	ent := &ast.Entity{Name: name.Literal, IsAuth: isAuth, Span: tokenSpan(start)}

	if err := p.expectBlockStart(); err != nil {
		return nil, err
	}

	for !p.blockDone() {
		if p.peek().Type == lexer.POLICY {
			pol, err := p.parsePolicy()
			if err != nil {
				return nil, err
			}
			ent.Policies = append(ent.Policies, pol)
			continue
		}
		field, err := p.parseField()
		if err != nil {
			return nil, err
		}
		ent.Fields = append(ent.Fields, field)
	}
	p.match(lexer.DEDENT)

	if len(ent.Fields) == 0 {
		return nil, p.errAt(start, "field declaration")
	}
	return ent, nil
}

func (p *parser) parseField() (*ast.Field, error) {
	name, err := p.word("field name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.COLON, "':'"); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	field := &ast.Field{Name: name.Literal, Type: typ, Span: tokenSpan(name)}

	for p.peek().Type == lexer.AT {
		dec, err := p.parseFieldDecorator()
		if err != nil {
			return nil, err
		}
		field.Decorators = append(field.Decorators, dec)
	}
	if err := p.expectEndOfLine(); err != nil {
		return nil, err
	}
	return field, nil
}

// parseType parses the type grammar:
// base_type | enum_type | IDENT | "[" type "]" | type "?"
func (p *parser) parseType() (ast.FieldType, error) {
	var typ ast.FieldType

	switch p.peek().Type {
	case lexer.LBRACKET:
		p.advance()
		inner, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RBRACKET, "']'"); err != nil {
			return nil, err
		}
		typ = ast.ArrayType{Elem: inner}

	case lexer.TYPE_STRING:
		p.advance()
		typ = ast.TypeString
	case lexer.TYPE_NUMBER:
		p.advance()
		typ = ast.TypeNumber
	case lexer.TYPE_BOOLEAN:
		p.advance()
		typ = ast.TypeBoolean
	case lexer.TYPE_DATETIME:
		p.advance()
		typ = ast.TypeDatetime
	case lexer.TYPE_UUID:
		p.advance()
		typ = ast.TypeUUID
	case lexer.TYPE_EMAIL:
		p.advance()
		typ = ast.TypeEmail

	case lexer.IDENTIFIER:
		first := p.advance()
		if p.peek().Type == lexer.PIPE {
			variants := []string{first.Literal}
			for p.match(lexer.PIPE) {
				v, err := p.word("enum variant")
				if err != nil {
					return nil, err
				}
				variants = append(variants, v.Literal)
			}
			typ = ast.EnumType{Variants: variants}
		} else {
			typ = ast.RefType{Name: first.Literal}
		}

	default:
		return nil, p.errExpected("a type")
	}

	for p.match(lexer.QUESTION) {
		typ = ast.OptionalType{Elem: typ}
	}
	return typ, nil
}

// ── Decorators ──

func (p *parser) parseFieldDecorator() (*ast.Decorator, error) {
	at := p.advance() // AT
	name, err := p.word("decorator name")
	if err != nil {
		return nil, err
	}
	dec := &ast.Decorator{Span: tokenSpan(at)}

	switch name.Literal {
	case "primary":
		dec.Kind = ast.DecoratorPrimary
	case "unique":
		dec.Kind = ast.DecoratorUnique
	case "optional":
		dec.Kind = ast.DecoratorOptional
	case "index":
		dec.Kind = ast.DecoratorIndex
	case "default":
		dec.Kind = ast.DecoratorDefault
		if err := p.parseDefaultArgs(dec); err != nil {
			return nil, err
		}
	case "validate":
		dec.Kind = ast.DecoratorValidate
		if err := p.parseValidateArgs(dec); err != nil {
			return nil, err
		}
	case "map":
		dec.Kind = ast.DecoratorMap
		if err := p.parseMapArgs(dec); err != nil {
			return nil, err
		}
	default:
		return nil, p.errAt(name, "@primary", "@unique", "@optional", "@index", "@default", "@validate", "@map")
	}
	return dec, nil
}

func (p *parser) parseDefaultArgs(dec *ast.Decorator) error {
	if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
		return err
	}
	switch p.peek().Type {
	case lexer.NOW:
		p.advance()
		dec.DefaultKeyword = "now"
	case lexer.TYPE_UUID:
		p.advance()
		dec.DefaultKeyword = "uuid"
	default:
		lit, err := p.parseLiteral()
		if err != nil {
			return err
		}
		dec.DefaultLiteral = lit
	}
	_, err := p.expect(lexer.RPAREN, "')'")
	return err
}

func (p *parser) parseValidateArgs(dec *ast.Decorator) error {
	if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
		return err
	}
	for {
		key, err := p.word("constraint name")
		if err != nil {
			return err
		}
		if _, err := p.expect(lexer.COLON, "':'"); err != nil {
			return err
		}
		val, err := p.parseLiteral()
		if err != nil {
			return err
		}
		dec.ValidateArgs = append(dec.ValidateArgs, ast.ValidateArg{Key: key.Literal, Value: *val})
		if !p.match(lexer.COMMA) {
			break
		}
	}
	_, err := p.expect(lexer.RPAREN, "')'")
	return err
}

func (p *parser) parseMapArgs(dec *ast.Decorator) error {
	if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
		return err
	}
	target, err := p.word("field name")
	if err != nil {
		return err
	}
	if _, err := p.expect(lexer.COMMA, "','"); err != nil {
		return err
	}
	transform, err := p.word("transform name")
	if err != nil {
		return err
	}
	dec.MapTarget = target.Literal
	dec.MapTransform = transform.Literal
	_, err = p.expect(lexer.RPAREN, "')'")
	return err
}

// parseLiteral parses a literal value in decorator-argument position.
func (p *parser) parseLiteral() (*ast.Literal, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.STRING_LIT:
		p.advance()
		return &ast.Literal{Kind: ast.LiteralString, Str: tok.Literal}, nil
	case lexer.NUMBER_LIT:
		p.advance()
		n, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errAt(tok, "a number")
		}
		return &ast.Literal{Kind: ast.LiteralNumber, Num: n}, nil
	case lexer.TRUE, lexer.FALSE:
		p.advance()
		return &ast.Literal{Kind: ast.LiteralBool, Bool: tok.Type == lexer.TRUE}, nil
	default:
		return nil, p.errExpected("a literal")
	}
}

// parseActionDecorator parses one of the decorators that may precede an
// `action` declaration: @api, @auth, @policy, @map.
func (p *parser) parseActionDecorator() (*ast.Decorator, error) {
	at := p.advance() // AT
	name, err := p.word("decorator name")
	if err != nil {
		return nil, err
	}
	dec := &ast.Decorator{Span: tokenSpan(at)}

	switch name.Literal {
	case "api":
		dec.Kind = ast.DecoratorAPI
		method, err := p.word("HTTP method")
		if err != nil {
			return nil, err
		}
		switch method.Literal {
		case "GET", "POST", "PUT", "PATCH", "DELETE":
			dec.APIMethod = method.Literal
		default:
			return nil, p.errAt(method, "GET", "POST", "PUT", "PATCH", "DELETE")
		}
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		dec.APIPath = path

	case "auth":
		dec.Kind = ast.DecoratorAuth
		if p.match(lexer.LPAREN) {
			kw, err := p.word("validate")
			if err != nil {
				return nil, err
			}
			if kw.Literal != "validate" {
				return nil, p.errAt(kw, "validate")
			}
			if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
				return nil, err
			}
			field, err := p.word("field name")
			if err != nil {
				return nil, err
			}
			dec.AuthValidateField = field.Literal
			dec.HasAuthValidate = true
			if _, err := p.expect(lexer.RPAREN, "')'"); err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.RPAREN, "')'"); err != nil {
				return nil, err
			}
		}

	case "policy":
		dec.Kind = ast.DecoratorPolicy
		if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
			return nil, err
		}
		pname, err := p.word("policy name")
		if err != nil {
			return nil, err
		}
		dec.PolicyName = pname.Literal
		if _, err := p.expect(lexer.RPAREN, "')'"); err != nil {
			return nil, err
		}

	case "map":
		dec.Kind = ast.DecoratorMap
		if err := p.parseMapArgs(dec); err != nil {
			return nil, err
		}

	default:
		return nil, p.errAt(name, "@api", "@auth", "@policy", "@map")
	}

	p.skipBlank()
	return dec, nil
}

// parsePath reassembles a path template like /users/{id} from its tokens.
// The lexer has no path token; the template is a run of '/', identifiers,
// and {param} groups ending at the newline or the next decorator.
func (p *parser) parsePath() (string, error) {
	if p.peek().Type != lexer.SLASH {
		return "", p.errExpected("a path starting with '/'")
	}
	var b strings.Builder
	for {
		switch p.peek().Type {
		case lexer.SLASH, lexer.LBRACE, lexer.RBRACE:
			b.WriteString(p.advance().Literal)
		default:
			if isWordToken(p.peek()) {
				b.WriteString(p.advance().Literal)
				continue
			}
			return b.String(), nil
		}
	}
}

// ── Policies ──

func (p *parser) parsePolicy() (*ast.Policy, error) {
	start := p.advance() // POLICY
	name, err := p.word("policy name")
	if err != nil {
		return nil, err
	}
	pol := &ast.Policy{Name: name.Literal, Span: tokenSpan(start)}

	if err := p.expectBlockStart(); err != nil {
		return nil, err
	}

	for !p.blockDone() {
		switch p.peek().Type {
		case lexer.SUBJECT:
			p.advance()
			if _, err := p.expect(lexer.COLON, "':'"); err != nil {
				return nil, err
			}
			if p.match(lexer.AT) {
				kw, err := p.word("auth")
				if err != nil {
					return nil, err
				}
				if kw.Literal != "auth" {
					return nil, p.errAt(kw, "@auth")
				}
				pol.Subject = ast.PolicySubject{IsAuth: true}
			} else {
				ent, err := p.word("entity name")
				if err != nil {
					return nil, err
				}
				pol.Subject = ast.PolicySubject{EntityName: ent.Literal}
			}
			if err := p.expectEndOfLine(); err != nil {
				return nil, err
			}

		case lexer.REQUIRE:
			p.advance()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			pol.Require = append(pol.Require, expr)
			if err := p.expectEndOfLine(); err != nil {
				return nil, err
			}

		default:
			return nil, p.errExpected("subject", "require")
		}
	}
	p.match(lexer.DEDENT)

	if len(pol.Require) == 0 {
		return nil, p.errAt(start, "require expression")
	}
	return pol, nil
}

// ── Rules ──

func (p *parser) parseRule() (*ast.Rule, error) {
	start := p.advance() // RULE
	name, err := p.word("rule name")
	if err != nil {
		return nil, err
	}
	rule := &ast.Rule{Name: name.Literal, Span: tokenSpan(start)}

	if err := p.expectBlockStart(); err != nil {
		return nil, err
	}

	if _, err := p.expect(lexer.WHEN, "when"); err != nil {
		return nil, err
	}
	when, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	rule.When = when

	p.skipBlank()
	if _, err := p.expect(lexer.THEN, "then"); err != nil {
		return nil, err
	}
	cons, err := p.parseConsequence()
	if err != nil {
		return nil, err
	}
	rule.Consequence = *cons

	p.skipBlank()
	p.match(lexer.DEDENT)
	return rule, nil
}

func (p *parser) parseConsequence() (*ast.Consequence, error) {
	tok := p.peek()
	cons := &ast.Consequence{Span: tokenSpan(tok)}

	switch tok.Type {
	case lexer.REJECT, lexer.LOG:
		p.advance()
		if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
			return nil, err
		}
		msg, err := p.expect(lexer.STRING_LIT, "a string literal")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN, "')'"); err != nil {
			return nil, err
		}
		cons.Message = msg.Literal
		if tok.Type == lexer.REJECT {
			cons.Kind = ast.ConsequenceReject
		} else {
			cons.Kind = ast.ConsequenceLog
		}

	default:
		name, err := p.word("reject, log, or an action name")
		if err != nil {
			return nil, err
		}
		cons.Kind = ast.ConsequenceActionCall
		cons.ActionName = name.Literal
		if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
			return nil, err
		}
		if p.peek().Type != lexer.RPAREN {
			for {
				arg, err := p.collectArgText()
				if err != nil {
					return nil, err
				}
				cons.Args = append(cons.Args, arg)
				if !p.match(lexer.COMMA) {
					break
				}
			}
		}
		if _, err := p.expect(lexer.RPAREN, "')'"); err != nil {
			return nil, err
		}
	}
	return cons, nil
}

// collectArgText collects one action-call argument as raw text, e.g.
// `User.id` or `"premium"`. Kept textual per the rule consequence shape.
func (p *parser) collectArgText() (string, error) {
	switch p.peek().Type {
	case lexer.STRING_LIT:
		return `"` + p.advance().Literal + `"`, nil
	case lexer.NUMBER_LIT:
		return p.advance().Literal, nil
	}
	first, err := p.word("an argument")
	if err != nil {
		return "", err
	}
	text := first.Literal
	for p.match(lexer.DOT) {
		next, err := p.word("identifier")
		if err != nil {
			return "", err
		}
		text += "." + next.Literal
	}
	return text, nil
}

// ── Actions ──

func (p *parser) parseAction() (*ast.Action, error) {
	var decorators []*ast.Decorator
	for p.peek().Type == lexer.AT {
		dec, err := p.parseActionDecorator()
		if err != nil {
			return nil, err
		}
		decorators = append(decorators, dec)
	}

	start, err := p.expect(lexer.ACTION, "action")
	if err != nil {
		return nil, err
	}
	name, err := p.word("action name")
	if err != nil {
		return nil, err
	}
	act := &ast.Action{Name: name.Literal, Decorators: decorators, Span: tokenSpan(start)}

	if err := p.expectBlockStart(); err != nil {
		return nil, err
	}

	if p.peek().Type == lexer.INPUT {
		p.advance()
		if err := p.expectBlockStart(); err != nil {
			return nil, err
		}
		for !p.blockDone() {
			param, err := p.parseParam()
			if err != nil {
				return nil, err
			}
			act.Input = append(act.Input, param)
		}
		p.match(lexer.DEDENT)
		p.skipBlank()
	}

	if p.peek().Type == lexer.PROCESS {
		p.advance()
		if err := p.expectBlockStart(); err != nil {
			return nil, err
		}
		for !p.blockDone() {
			step, err := p.parseProcessStep()
			if err != nil {
				return nil, err
			}
			act.Process = append(act.Process, step)
		}
		p.match(lexer.DEDENT)
		p.skipBlank()
	}

	if _, err := p.expect(lexer.OUTPUT, "output"); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.COLON, "':'"); err != nil {
		return nil, err
	}

	if p.peek().Type == lexer.NEWLINE {
		// Multi-line projection block.
		p.skipBlank()
		if _, err := p.expect(lexer.INDENT, "an indented projection block"); err != nil {
			return nil, err
		}
		for !p.blockDone() {
			proj, err := p.parseProjection()
			if err != nil {
				return nil, err
			}
			act.Output = append(act.Output, proj)
			if err := p.expectEndOfLine(); err != nil {
				return nil, err
			}
		}
		p.match(lexer.DEDENT)
	} else {
		proj, err := p.parseProjection()
		if err != nil {
			return nil, err
		}
		act.Output = append(act.Output, proj)
		if err := p.expectEndOfLine(); err != nil {
			return nil, err
		}
	}

	p.skipBlank()
	p.match(lexer.DEDENT)
	return act, nil
}

func (p *parser) parseParam() (*ast.Param, error) {
	name, err := p.word("parameter name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.COLON, "':'"); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.expectEndOfLine(); err != nil {
		return nil, err
	}
	return &ast.Param{Name: name.Literal, Type: typ, Span: tokenSpan(name)}, nil
}

func (p *parser) parseProjection() (*ast.Projection, error) {
	ent, err := p.word("entity name")
	if err != nil {
		return nil, err
	}
	proj := &ast.Projection{EntityName: ent.Literal, Span: tokenSpan(ent)}
	if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
		return nil, err
	}
	if p.peek().Type != lexer.RPAREN {
		for {
			field, err := p.word("field name")
			if err != nil {
				return nil, err
			}
			proj.Fields = append(proj.Fields, field.Literal)
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	_, err = p.expect(lexer.RPAREN, "')'")
	return proj, err
}

// ── Process steps ──

func (p *parser) parseProcessStep() (*ast.ProcessLine, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.DERIVE:
		return p.parseDerive()
	case lexer.MUTATE:
		return p.parseMutate()
	case lexer.DELETE:
		return p.parseDelete()
	default:
		return nil, p.errExpected("derive", "mutate", "delete")
	}
}

func (p *parser) parseDerive() (*ast.ProcessLine, error) {
	start := p.advance() // DERIVE
	binding, err := p.word("binding name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.ASSIGN, "'='"); err != nil {
		return nil, err
	}

	line := &ast.ProcessLine{Binding: binding.Literal, Span: tokenSpan(start)}

	switch p.peek().Type {
	case lexer.SELECT:
		p.advance()
		line.Kind = ast.ProcessDeriveSelect
		ent, err := p.word("entity name")
		if err != nil {
			return nil, err
		}
		line.SelectEntity = ent.Literal
		if _, err := p.expect(lexer.WHERE, "where"); err != nil {
			return nil, err
		}
		where, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		line.SelectWhere = where

	case lexer.COMPUTE:
		p.advance()
		line.Kind = ast.ProcessDeriveCompute
		fn, err := p.word("function name")
		if err != nil {
			return nil, err
		}
		line.Function = fn.Literal
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		line.Args = args

	case lexer.SYSTEM:
		p.advance()
		line.Kind = ast.ProcessDeriveSystem
		seg, err := p.word("capability path")
		if err != nil {
			return nil, err
		}
		path := seg.Literal
		for p.match(lexer.DOT) {
			next, err := p.word("capability path segment")
			if err != nil {
				return nil, err
			}
			path += "." + next.Literal
		}
		line.SystemPath = path
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		line.Args = args

	default:
		return nil, p.errExpected("select", "compute", "system")
	}

	if err := p.expectEndOfLine(); err != nil {
		return nil, err
	}
	return line, nil
}

func (p *parser) parseMutate() (*ast.ProcessLine, error) {
	start := p.advance() // MUTATE
	ent, err := p.word("entity name")
	if err != nil {
		return nil, err
	}
	line := &ast.ProcessLine{Kind: ast.ProcessMutate, Entity: ent.Literal, Span: tokenSpan(start)}

	if p.match(lexer.WHERE) {
		where, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		line.Where = where
	}

	if err := p.expectBlockStart(); err != nil {
		return nil, err
	}
	for !p.blockDone() {
		if _, err := p.expect(lexer.SET, "set"); err != nil {
			return nil, err
		}
		field, err := p.word("field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.ASSIGN, "'='"); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		line.Setters = append(line.Setters, &ast.Setter{
			Field: field.Literal,
			Value: value,
			Span:  tokenSpan(field),
		})
		if err := p.expectEndOfLine(); err != nil {
			return nil, err
		}
	}
	p.match(lexer.DEDENT)

	if len(line.Setters) == 0 {
		return nil, p.errAt(start, "set clause")
	}
	return line, nil
}

func (p *parser) parseDelete() (*ast.ProcessLine, error) {
	start := p.advance() // DELETE
	ent, err := p.word("entity name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.WHERE, "where"); err != nil {
		return nil, err
	}
	where, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectEndOfLine(); err != nil {
		return nil, err
	}
	return &ast.ProcessLine{
		Kind:   ast.ProcessDelete,
		Entity: ent.Literal,
		Where:  where,
		Span:   tokenSpan(start),
	}, nil
}

func (p *parser) parseArgList() ([]*ast.Expression, error) {
	if _, err := p.expect(lexer.LPAREN, "'('"); err != nil {
		return nil, err
	}
	var args []*ast.Expression
	if p.peek().Type != lexer.RPAREN {
		for {
			arg, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	_, err := p.expect(lexer.RPAREN, "')'")
	return args, err
}

// ── Expressions ──
//
// Precedence, loosest to tightest: or, and, not, comparison, primary.

func (p *parser) parseExpression() (*ast.Expression, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (*ast.Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == lexer.OR {
		op := p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.Expression{
			Kind: ast.ExprLogical, Left: left, Operator: "or", Right: right,
			Span: tokenSpan(op),
		}
	}
	return left, nil
}

func (p *parser) parseAnd() (*ast.Expression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().Type == lexer.AND {
		op := p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.Expression{
			Kind: ast.ExprLogical, Left: left, Operator: "and", Right: right,
			Span: tokenSpan(op),
		}
	}
	return left, nil
}

func (p *parser) parseNot() (*ast.Expression, error) {
	if p.peek().Type == lexer.NOT {
		op := p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.Expression{Kind: ast.ExprNot, Operand: operand, Span: tokenSpan(op)}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (*ast.Expression, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch p.peek().Type {
	case lexer.EQ, lexer.NEQ, lexer.LT, lexer.LE, lexer.GT, lexer.GE:
		op := p.advance()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &ast.Expression{
			Kind: ast.ExprComparison, Left: left, Operator: op.Literal, Right: right,
			Span: tokenSpan(op),
		}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (*ast.Expression, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.LPAREN:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		_, err = p.expect(lexer.RPAREN, "')'")
		return expr, err

	case lexer.STRING_LIT:
		p.advance()
		return literalExpr(&ast.Literal{Kind: ast.LiteralString, Str: tok.Literal}, tok), nil

	case lexer.NUMBER_LIT:
		p.advance()
		n, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errAt(tok, "a number")
		}
		return literalExpr(&ast.Literal{Kind: ast.LiteralNumber, Num: n}, tok), nil

	case lexer.TRUE, lexer.FALSE:
		p.advance()
		return literalExpr(&ast.Literal{Kind: ast.LiteralBool, Bool: tok.Type == lexer.TRUE}, tok), nil

	case lexer.NOW:
		p.advance()
		return literalExpr(&ast.Literal{Kind: ast.LiteralKeyword, Keyword: "now"}, tok), nil

	case lexer.TYPE_UUID:
		p.advance()
		return literalExpr(&ast.Literal{Kind: ast.LiteralKeyword, Keyword: "uuid"}, tok), nil
	}

	if !isWordToken(tok) {
		return nil, p.errExpected("an expression")
	}

	first := p.advance()
	path := []string{first.Literal}
	for p.match(lexer.DOT) {
		next, err := p.word("identifier")
		if err != nil {
			return nil, err
		}
		path = append(path, next.Literal)
	}

	// Function call: single-name callee followed by '('.
	if len(path) == 1 && p.peek().Type == lexer.LPAREN {
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &ast.Expression{
			Kind: ast.ExprCall, CallName: first.Literal, CallArgs: args,
			Span: tokenSpan(first),
		}, nil
	}

	return &ast.Expression{Kind: ast.ExprIdentifier, Path: path, Span: tokenSpan(first)}, nil
}

func literalExpr(lit *ast.Literal, tok lexer.Token) *ast.Expression {
	return &ast.Expression{Kind: ast.ExprLiteral, Literal: lit, Span: tokenSpan(tok)}
}

// ── Token movement and block helpers ──

func (p *parser) peek() lexer.Token {
	if p.pos >= len(p.tokens) {
		return lexer.Token{Type: lexer.EOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() lexer.Token {
	tok := p.peek()
	if tok.Type != lexer.EOF {
		p.pos++
	}
	return tok
}

func (p *parser) check(t lexer.TokenType) bool {
	return p.peek().Type == t
}

func (p *parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) isAtEnd() bool {
	return p.pos >= len(p.tokens) || p.peek().Type == lexer.EOF
}

// expect consumes a token of the given type or fails with the description.
func (p *parser) expect(t lexer.TokenType, desc string) (lexer.Token, error) {
	if p.check(t) {
		return p.advance(), nil
	}
	return lexer.Token{}, p.errExpected(desc)
}

// word consumes an identifier-shaped token. Keywords are accepted too so
// field and parameter names like `email` or `input` stay usable.
func (p *parser) word(desc string) (lexer.Token, error) {
	tok := p.peek()
	if isWordToken(tok) {
		return p.advance(), nil
	}
	return lexer.Token{}, p.errExpected(desc)
}

// isWordToken reports whether the token's literal is identifier-shaped —
// a plain identifier or any reserved word.
func isWordToken(tok lexer.Token) bool {
	switch tok.Type {
	case lexer.IDENTIFIER, lexer.ENTITY, lexer.AUTH, lexer.POLICY, lexer.RULE,
		lexer.ACTION, lexer.INPUT, lexer.PROCESS, lexer.OUTPUT, lexer.SUBJECT,
		lexer.REQUIRE, lexer.WHEN, lexer.THEN, lexer.REJECT, lexer.LOG,
		lexer.DERIVE, lexer.MUTATE, lexer.DELETE, lexer.SELECT, lexer.COMPUTE,
		lexer.SYSTEM, lexer.SET, lexer.WHERE, lexer.TYPE_STRING, lexer.TYPE_NUMBER,
		lexer.TYPE_BOOLEAN, lexer.TYPE_DATETIME, lexer.TYPE_UUID, lexer.TYPE_EMAIL,
		lexer.TRUE, lexer.FALSE, lexer.NOW, lexer.AND, lexer.OR, lexer.NOT:
		return true
	}
	return false
}

// expectBlockStart consumes `":" NEWLINE INDENT` and positions the cursor
// at the first statement of the block.
func (p *parser) expectBlockStart() error {
	if _, err := p.expect(lexer.COLON, "':'"); err != nil {
		return err
	}
	if _, err := p.expect(lexer.NEWLINE, "a newline"); err != nil {
		return err
	}
	p.skipBlank()
	if _, err := p.expect(lexer.INDENT, "an indented block"); err != nil {
		return err
	}
	p.skipBlank()
	return nil
}

// blockDone reports whether the current indented block has ended. It
// leaves the cursor on the DEDENT (or EOF) for the caller to consume.
func (p *parser) blockDone() bool {
	p.skipBlank()
	return p.check(lexer.DEDENT) || p.isAtEnd()
}

// expectEndOfLine consumes the trailing NEWLINE of a statement. A DEDENT
// or EOF also ends a statement (last line of a block or of the file).
func (p *parser) expectEndOfLine() error {
	if p.check(lexer.DEDENT) || p.isAtEnd() {
		return nil
	}
	if _, err := p.expect(lexer.NEWLINE, "end of line"); err != nil {
		return err
	}
	return nil
}

// skipBlank skips newline tokens (blank lines never carry structure).
func (p *parser) skipBlank() {
	for p.check(lexer.NEWLINE) {
		p.advance()
	}
}

// ── Errors ──

func (p *parser) errExpected(expected ...string) error {
	return p.errAt(p.peek(), expected...)
}

func (p *parser) errAt(tok lexer.Token, expected ...string) error {
	found := tok.Type.String()
	if tok.Type == lexer.IDENTIFIER || tok.Type == lexer.STRING_LIT || tok.Type == lexer.NUMBER_LIT {
		found = fmt.Sprintf("%s %q", found, tok.Literal)
	}
	return &ParseError{
		Line:     tok.Line,
		Column:   tok.Column,
		Expected: expected,
		Found:    found,
		Snippet:  p.snippet(tok.Line),
	}
}

func (p *parser) snippet(line int) string {
	if line < 1 || line > len(p.lines) {
		return ""
	}
	return strings.TrimSpace(p.lines[line-1])
}

func sourceLine(source string, line int) string {
	lines := strings.Split(source, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

func tokenSpan(tok lexer.Token) ast.Span {
	return ast.Span{Line: tok.Line, Column: tok.Column, Length: utf8.RuneCountInString(tok.Literal)}
}
