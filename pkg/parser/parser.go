// Package parser implements a recursive-descent parser that turns a flat
// lexer.Token list into an *ast.Program. It performs no semantic analysis:
// name resolution, typing and struct layout are the job of pkg/symbols,
// pkg/typecheck and pkg/layout.
package parser

import (
	"fmt"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/lexer"
)

// ParseError is the fatal error kind for the parsing stage.
type ParseError struct {
	Span    ast.Span
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

// Parser consumes a token stream and produces an *ast.Program.
type Parser struct {
	toks []lexer.Token
	pos  int
}

// New creates a Parser over toks (as produced by lexer.Tokenize).
func New(toks []lexer.Token) *Parser {
	return &Parser{toks: toks}
}

// Parse lexes then parses src, returning the resulting AST.
func Parse(file, src string) (*ast.Program, error) {
	toks, err := lexer.Tokenize(file, src)
	if err != nil {
		return nil, err
	}
	return New(toks).ParseProgram()
}

func (p *Parser) peek() lexer.Token { return p.toks[p.pos] }

func (p *Parser) advance() lexer.Token {
	tok := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) match(t lexer.TokenType) (lexer.Token, bool) {
	if p.peek().Type == t {
		return p.advance(), true
	}
	return lexer.Token{}, false
}

func (p *Parser) consume(t lexer.TokenType, message string) (lexer.Token, error) {
	tok := p.peek()
	if tok.Type != t {
		return lexer.Token{}, p.errorAt(tok, message)
	}
	return p.advance(), nil
}

func (p *Parser) errorAt(tok lexer.Token, message string) error {
	return &ParseError{Span: spanOf(tok), Message: message}
}

func spanOf(tok lexer.Token) ast.Span {
	return ast.Span{File: tok.File, Line: tok.Line, Col: tok.Column}
}

// ParseProgram parses a whole compilation unit.
func (p *Parser) ParseProgram() (*ast.Program, error) {
	var decls []ast.Decl
	for p.peek().Type != lexer.TokenEOF {
		decl, err := p.parseDecl()
		if err != nil {
			return nil, err
		}
		decls = append(decls, decl)
	}
	return &ast.Program{Decls: decls}, nil
}

func (p *Parser) parseDecl() (ast.Decl, error) {
	if _, ok := p.match(lexer.TokenStruct); ok {
		return p.parseStructDecl()
	}
	if tok, ok := p.match(lexer.TokenExtern); ok {
		return p.parseExternFnDecl(tok)
	}
	if tok, ok := p.match(lexer.TokenFn); ok {
		return p.parseFnDecl(tok)
	}
	return nil, p.errorAt(p.peek(), "expected declaration")
}

func (p *Parser) parseStructDecl() (*ast.StructDecl, error) {
	nameTok, name, err := p.consumeIdent("expected struct name")
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenLBrace, "expected '{' after struct name"); err != nil {
		return nil, err
	}
	var fields []ast.StructField
	for p.peek().Type != lexer.TokenRBrace {
		fieldTok, fieldName, err := p.consumeIdent("expected field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenColon, "expected ':' after field name"); err != nil {
			return nil, err
		}
		fieldType, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenSemi, "expected ';' after field"); err != nil {
			return nil, err
		}
		fields = append(fields, ast.StructField{Name: fieldName, Type: fieldType, Span: spanOf(fieldTok)})
	}
	if _, err := p.consume(lexer.TokenRBrace, "expected '}' after struct fields"); err != nil {
		return nil, err
	}
	return &ast.StructDecl{Name: name, Fields: fields, SpanV: spanOf(nameTok)}, nil
}

func (p *Parser) parseExternFnDecl(externTok lexer.Token) (*ast.ExternFnDecl, error) {
	if _, err := p.consume(lexer.TokenFn, "expected 'fn' after 'extern'"); err != nil {
		return nil, err
	}
	_, name, err := p.consumeIdent("expected function name")
	if err != nil {
		return nil, err
	}
	params, err := p.parseParamList()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenArrow, "expected '->' before return type"); err != nil {
		return nil, err
	}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' after extern declaration"); err != nil {
		return nil, err
	}
	return &ast.ExternFnDecl{Name: name, Params: params, Ret: ret, SpanV: spanOf(externTok)}, nil
}

func (p *Parser) parseFnDecl(fnTok lexer.Token) (*ast.FnDecl, error) {
	_, name, err := p.consumeIdent("expected function name")
	if err != nil {
		return nil, err
	}
	params, err := p.parseParamList()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenArrow, "expected '->' before return type"); err != nil {
		return nil, err
	}
	ret, err := p.parseType()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.FnDecl{Name: name, Params: params, Ret: ret, Body: body, SpanV: spanOf(fnTok)}, nil
}

func (p *Parser) parseParamList() ([]ast.Param, error) {
	if _, err := p.consume(lexer.TokenLParen, "expected '(' before parameter list"); err != nil {
		return nil, err
	}
	var params []ast.Param
	if p.peek().Type != lexer.TokenRParen {
		for {
			nameTok, name, err := p.consumeIdent("expected parameter name")
			if err != nil {
				return nil, err
			}
			if _, err := p.consume(lexer.TokenColon, "expected ':' after parameter name"); err != nil {
				return nil, err
			}
			typ, err := p.parseType()
			if err != nil {
				return nil, err
			}
			params = append(params, ast.Param{Name: name, Type: typ, Span: spanOf(nameTok)})
			if _, ok := p.match(lexer.TokenComma); !ok {
				break
			}
		}
	}
	if _, err := p.consume(lexer.TokenRParen, "expected ')' after parameter list"); err != nil {
		return nil, err
	}
	return params, nil
}

func (p *Parser) parseType() (ast.TypeAst, error) {
	if tok, ok := p.match(lexer.TokenStar); ok {
		inner, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return &ast.PtrType{Inner: inner, SpanV: spanOf(tok)}, nil
	}
	tok, name, err := p.consumeIdent("expected type name")
	if err != nil {
		return nil, err
	}
	return &ast.NamedType{Name: name, SpanV: spanOf(tok)}, nil
}

func (p *Parser) parseBlock() (*ast.Block, error) {
	openTok, err := p.consume(lexer.TokenLBrace, "expected '{' to start block")
	if err != nil {
		return nil, err
	}
	var stmts []ast.Stmt
	for p.peek().Type != lexer.TokenRBrace {
		stmt, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	if _, err := p.consume(lexer.TokenRBrace, "expected '}' to end block"); err != nil {
		return nil, err
	}
	return &ast.Block{Stmts: stmts, SpanV: spanOf(openTok)}, nil
}

func (p *Parser) parseStmt() (ast.Stmt, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenLBrace:
		return p.parseBlock()
	case lexer.TokenVar:
		p.advance()
		return p.parseVarDecl(tok)
	case lexer.TokenDefer:
		p.advance()
		return p.parseDeferStmt(tok)
	case lexer.TokenIf:
		p.advance()
		return p.parseIf(tok)
	case lexer.TokenWhile:
		p.advance()
		return p.parseWhile(tok)
	case lexer.TokenReturn:
		p.advance()
		return p.parseReturn(tok)
	}

	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' after expression"); err != nil {
		return nil, err
	}
	return &ast.ExprStmt{Expr: expr, SpanV: expr.Span()}, nil
}

func (p *Parser) parseVarDecl(varTok lexer.Token) (*ast.VarDecl, error) {
	_, name, err := p.consumeIdent("expected variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenColon, "expected ':' after variable name"); err != nil {
		return nil, err
	}
	typ, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenAssign, "expected '=' after variable type"); err != nil {
		return nil, err
	}
	init, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' after variable declaration"); err != nil {
		return nil, err
	}
	return &ast.VarDecl{Name: name, Type: typ, Init: init, SpanV: spanOf(varTok)}, nil
}

func (p *Parser) parseDeferStmt(deferTok lexer.Token) (*ast.DeferStmt, error) {
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	call, ok := expr.(*ast.Call)
	if !ok {
		return nil, &ParseError{Span: spanOf(deferTok), Message: "defer requires a call expression"}
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' after defer call"); err != nil {
		return nil, err
	}
	return &ast.DeferStmt{Call: call, SpanV: spanOf(deferTok)}, nil
}

func (p *Parser) parseIf(ifTok lexer.Token) (*ast.If, error) {
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	thenBlock, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var elseBlock *ast.Block
	if _, ok := p.match(lexer.TokenElse); ok {
		elseBlock, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	return &ast.If{Cond: cond, Then: thenBlock, Else: elseBlock, SpanV: spanOf(ifTok)}, nil
}

func (p *Parser) parseWhile(whileTok lexer.Token) (*ast.While, error) {
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &ast.While{Cond: cond, Body: body, SpanV: spanOf(whileTok)}, nil
}

func (p *Parser) parseReturn(retTok lexer.Token) (*ast.Return, error) {
	if p.peek().Type == lexer.TokenSemi {
		p.advance()
		return &ast.Return{Value: nil, SpanV: spanOf(retTok)}, nil
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(lexer.TokenSemi, "expected ';' after return value"); err != nil {
		return nil, err
	}
	return &ast.Return{Value: value, SpanV: spanOf(retTok)}, nil
}

func (p *Parser) parseExpression() (ast.Expr, error) {
	return p.parseAssignment()
}

func (p *Parser) parseAssignment() (ast.Expr, error) {
	expr, err := p.parseLogicOr()
	if err != nil {
		return nil, err
	}
	if _, ok := p.match(lexer.TokenAssign); ok {
		value, err := p.parseAssignment()
		if err != nil {
			return nil, err
		}
		if !ast.IsLvalue(expr) {
			return nil, &ParseError{Span: expr.Span(), Message: "invalid assignment target"}
		}
		return &ast.Assign{Target: expr, Value: value, SpanV: expr.Span()}, nil
	}
	return expr, nil
}

func (p *Parser) parseLogicOr() (ast.Expr, error) {
	expr, err := p.parseLogicAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.match(lexer.TokenOrOr); !ok {
			return expr, nil
		}
		right, err := p.parseLogicAnd()
		if err != nil {
			return nil, err
		}
		expr = &ast.Binary{Op: "||", Left: expr, Right: right, SpanV: expr.Span()}
	}
}

func (p *Parser) parseLogicAnd() (ast.Expr, error) {
	expr, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.match(lexer.TokenAndAnd); !ok {
			return expr, nil
		}
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		expr = &ast.Binary{Op: "&&", Left: expr, Right: right, SpanV: expr.Span()}
	}
}

func (p *Parser) parseEquality() (ast.Expr, error) {
	expr, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.peek().Type == lexer.TokenEq:
			p.advance()
			right, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			expr = &ast.Binary{Op: "==", Left: expr, Right: right, SpanV: expr.Span()}
		case p.peek().Type == lexer.TokenNe:
			p.advance()
			right, err := p.parseRelational()
			if err != nil {
				return nil, err
			}
			expr = &ast.Binary{Op: "!=", Left: expr, Right: right, SpanV: expr.Span()}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parseRelational() (ast.Expr, error) {
	expr, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	ops := map[lexer.TokenType]string{
		lexer.TokenLt: "<", lexer.TokenLe: "<=", lexer.TokenGt: ">", lexer.TokenGe: ">=",
	}
	for {
		op, ok := ops[p.peek().Type]
		if !ok {
			return expr, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		expr = &ast.Binary{Op: op, Left: expr, Right: right, SpanV: expr.Span()}
	}
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	expr, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.peek().Type {
		case lexer.TokenPlus:
			op = "+"
		case lexer.TokenMinus:
			op = "-"
		default:
			return expr, nil
		}
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		expr = &ast.Binary{Op: op, Left: expr, Right: right, SpanV: expr.Span()}
	}
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	expr, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch p.peek().Type {
		case lexer.TokenStar:
			op = "*"
		case lexer.TokenSlash:
			op = "/"
		case lexer.TokenPercent:
			op = "%"
		default:
			return expr, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		expr = &ast.Binary{Op: op, Left: expr, Right: right, SpanV: expr.Span()}
	}
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	tok := p.peek()
	var op string
	switch tok.Type {
	case lexer.TokenMinus:
		op = "-"
	case lexer.TokenNot:
		op = "!"
	case lexer.TokenStar:
		op = "*"
	case lexer.TokenAmp:
		op = "&"
	default:
		return p.parsePostfix()
	}
	p.advance()
	inner, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &ast.Unary{Op: op, Expr: inner, SpanV: spanOf(tok)}, nil
}

func (p *Parser) parsePostfix() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().Type {
		case lexer.TokenLParen:
			p.advance()
			var args []ast.Expr
			if p.peek().Type != lexer.TokenRParen {
				for {
					arg, err := p.parseExpression()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if _, ok := p.match(lexer.TokenComma); !ok {
						break
					}
				}
			}
			if _, err := p.consume(lexer.TokenRParen, "expected ')' after arguments"); err != nil {
				return nil, err
			}
			expr = &ast.Call{Callee: expr, Args: args, SpanV: expr.Span()}
		case lexer.TokenDot:
			p.advance()
			_, name, err := p.consumeIdent("expected field name after '.'")
			if err != nil {
				return nil, err
			}
			expr = &ast.Field{Base: expr, Name: name, SpanV: expr.Span()}
		case lexer.TokenLBracket:
			p.advance()
			idx, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.consume(lexer.TokenRBracket, "expected ']' after index"); err != nil {
				return nil, err
			}
			expr = &ast.Index{Base: expr, Idx: idx, SpanV: expr.Span()}
		default:
			return expr, nil
		}
	}
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenInt:
		p.advance()
		var value int64
		for _, ch := range []byte(tok.Literal) {
			value = value*10 + int64(ch-'0')
		}
		return &ast.IntLit{Value: value, SpanV: spanOf(tok)}, nil
	case lexer.TokenTrue:
		p.advance()
		return &ast.BoolLit{Value: true, SpanV: spanOf(tok)}, nil
	case lexer.TokenFalse:
		p.advance()
		return &ast.BoolLit{Value: false, SpanV: spanOf(tok)}, nil
	case lexer.TokenNull:
		p.advance()
		return &ast.NullLit{SpanV: spanOf(tok)}, nil
	case lexer.TokenIdent:
		p.advance()
		if p.peek().Type == lexer.TokenLBrace && p.looksLikeStructLit() {
			return p.parseStructLit(tok)
		}
		return &ast.Var{Name: tok.Literal, SpanV: spanOf(tok)}, nil
	case lexer.TokenLParen:
		p.advance()
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenRParen, "expected ')' after expression"); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return nil, p.errorAt(tok, fmt.Sprintf("unexpected token %s", tok.Type))
}

// looksLikeStructLit disambiguates `Name { ... }` as a struct literal from
// a bare identifier followed by a block (which never happens for a
// standalone expression statement in this grammar, since expression
// statements are always terminated by ';'). It peeks for "IDENT :" or an
// immediate "}" inside the brace, which a normal block-as-statement never
// starts with here because primary() is only reached from expression
// contexts, not statement contexts.
func (p *Parser) looksLikeStructLit() bool {
	save := p.pos
	defer func() { p.pos = save }()
	p.advance() // consume '{'
	if p.peek().Type == lexer.TokenRBrace {
		return true
	}
	if p.peek().Type != lexer.TokenIdent {
		return false
	}
	p.advance()
	return p.peek().Type == lexer.TokenColon
}

func (p *Parser) parseStructLit(nameTok lexer.Token) (*ast.StructLit, error) {
	if _, err := p.consume(lexer.TokenLBrace, "expected '{' to start struct literal"); err != nil {
		return nil, err
	}
	var fields []ast.StructFieldInit
	for p.peek().Type != lexer.TokenRBrace {
		fieldTok, fieldName, err := p.consumeIdent("expected field name")
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(lexer.TokenColon, "expected ':' after field name"); err != nil {
			return nil, err
		}
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		fields = append(fields, ast.StructFieldInit{Name: fieldName, Value: value, Span: spanOf(fieldTok)})
		if _, ok := p.match(lexer.TokenComma); !ok {
			break
		}
	}
	if _, err := p.consume(lexer.TokenRBrace, "expected '}' after struct literal fields"); err != nil {
		return nil, err
	}
	return &ast.StructLit{Name: nameTok.Literal, Fields: fields, SpanV: spanOf(nameTok)}, nil
}

func (p *Parser) consumeIdent(message string) (lexer.Token, string, error) {
	tok := p.peek()
	if tok.Type != lexer.TokenIdent {
		return lexer.Token{}, "", p.errorAt(tok, message)
	}
	p.advance()
	return tok, tok.Literal, nil
}
