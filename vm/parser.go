package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser is the single-pass, no-AST front end driving Compiler and
// Dictionary directly: concatenative source text compiles one token at a
// time, emitting opcodes as it goes rather than building an intermediate
// tree.
type Parser struct {
	vm   *VM
	ctrl []ctrlFrame

	// prevMark is the CP recorded just before the previous token compiled.
	// Case arms are shaped "<test> of <body>", so when "of" finalizes the
	// arm before it, the mismatch branch must target the start of this
	// arm's own test-value push -- which already compiled by the time "of"
	// is seen -- not the current position.
	prevMark int
}

func NewParser(vm *VM) *Parser {
	return &Parser{vm: vm}
}

type ctrlKind int

const (
	ctrlColon ctrlKind = iota
	ctrlIf
	ctrlDo
	ctrlCase
)

type ctrlFrame struct {
	kind ctrlKind

	// colon-definition
	name      string
	bodyStart int

	// if/else
	patchPos int
	sawElse  bool

	// case/of/default
	pendingOfPatch int
	endPatches     []int
}

var escapeTable = map[byte]byte{
	'a': '\a', 'b': '\b', 't': '\t', 'n': '\n',
	'r': '\r', 'f': '\f', 'v': '\v', '"': '"',
	'\'': '\'', '\\': '\\',
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokSymbolRef
	tokWord
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
)

type token struct {
	kind tokenKind
	text string
	num  float32
}

const groupingChars = "{}[]()\"'"

func isGrouping(r byte) bool {
	return strings.IndexByte(groupingChars, r) >= 0
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i, n := 0, len(src)

	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '#':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == '"' || c == '\'':
			quote := c
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				ch := src[i]
				if ch == quote {
					i++
					closed = true
					break
				}
				if ch == '\\' && i+1 < n {
					if rep, ok := escapeTable[src[i+1]]; ok {
						sb.WriteByte(rep)
						i += 2
						continue
					}
				}
				sb.WriteByte(ch)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string", errUnterminatedString)
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String()})
		case c == '{':
			tokens = append(tokens, token{kind: tokLBrace})
			i++
		case c == '}':
			tokens = append(tokens, token{kind: tokRBrace})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen})
			i++
		case c == '[':
			tokens = append(tokens, token{kind: tokLBracket})
			i++
		case c == ']':
			tokens = append(tokens, token{kind: tokRBracket})
			i++
		default:
			start := i
			for i < n && src[i] != ' ' && src[i] != '\t' && src[i] != '\r' && src[i] != '\n' && !isGrouping(src[i]) && src[i] != '#' {
				i++
			}
			text := src[start:i]
			tokens = append(tokens, classifyWord(text))
		}
	}
	return tokens, nil
}

func classifyWord(text string) token {
	if strings.HasPrefix(text, "@") && len(text) > 1 {
		return token{kind: tokSymbolRef, text: text[1:]}
	}
	if f, ok := parseNumber(text); ok {
		return token{kind: tokNumber, num: f}
	}
	return token{kind: tokWord, text: text}
}

func parseNumber(text string) (float32, bool) {
	if text == "" {
		return 0, false
	}
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "-0x") || strings.HasPrefix(text, "+0x") {
		neg := strings.HasPrefix(text, "-")
		hex := strings.TrimPrefix(strings.TrimPrefix(strings.TrimPrefix(text, "-"), "+"), "0x")
		v, err := strconv.ParseInt(hex, 16, 64)
		if err != nil {
			return 0, false
		}
		if neg {
			v = -v
		}
		return float32(v), true
	}
	f, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, false
	}
	return float32(f), true
}

// Compile tokenizes and compiles src into the VM's CODE segment starting
// at the compiler's current CP, leaving CP at the end of the compiled
// unit. It does not execute anything.
func (p *Parser) Compile(src string) error {
	tokens, err := tokenize(src)
	if err != nil {
		return err
	}

	for idx := 0; idx < len(tokens); idx++ {
		tok := tokens[idx]
		curMark := p.vm.comp.Mark()
		switch tok.kind {
		case tokNumber:
			if err := p.emitLiteral(tok.num); err != nil {
				return err
			}
		case tokString:
			if err := p.emitString(tok.text); err != nil {
				return err
			}
		case tokSymbolRef:
			if err := p.emitSymbolRef(tok.text); err != nil {
				return err
			}
		case tokLParen, tokLBracket:
			if err := p.vm.comp.EmitOpcode(OpOpenList); err != nil {
				return err
			}
		case tokRParen, tokRBracket:
			if err := p.vm.comp.EmitOpcode(OpCloseList); err != nil {
				return err
			}
		case tokLBrace:
			if err := p.beginBlock(); err != nil {
				return err
			}
		case tokRBrace:
			if err := p.endBlock(); err != nil {
				return err
			}
		case tokWord:
			if err := p.compileWord(tok.text, tokens, &idx); err != nil {
				return err
			}
		}
		p.prevMark = curMark
	}

	if len(p.ctrl) > 0 {
		return fmt.Errorf("%w: unclosed definition or control construct", errUnclosedDefinition)
	}
	return nil
}

func (p *Parser) emitLiteral(v float32) error {
	c := p.vm.comp
	if err := c.EmitOpcode(OpLitNumber); err != nil {
		return err
	}
	return c.EmitF32(v)
}

func (p *Parser) emitString(s string) error {
	off, err := p.vm.digest.Intern(s)
	if err != nil {
		return err
	}
	c := p.vm.comp
	if err := c.EmitOpcode(OpLitString); err != nil {
		return err
	}
	return c.EmitU16(off)
}

func (p *Parser) emitSymbolRef(name string) error {
	if err := p.emitString(name); err != nil {
		return err
	}
	return p.vm.comp.EmitOpcode(OpPushSymbolRef)
}

func (p *Parser) beginBlock() error {
	c := p.vm.comp
	if err := c.EmitOpcode(OpBranch); err != nil {
		return err
	}
	patchPos := c.CP()
	if err := c.EmitU16(0); err != nil {
		return err
	}
	p.ctrl = append(p.ctrl, ctrlFrame{kind: ctrlColon, name: "", bodyStart: c.Mark(), patchPos: patchPos})
	return nil
}

func (p *Parser) endBlock() error {
	frame, err := p.popCtrl(ctrlColon)
	if err != nil {
		return err
	}
	c := p.vm.comp
	if err := c.EmitOpcode(OpExit); err != nil {
		return err
	}
	if err := c.PatchU16(frame.patchPos, uint16(c.Mark()-(frame.patchPos+2))); err != nil {
		return err
	}
	if err := c.EmitOpcode(OpLitAddress); err != nil {
		return err
	}
	return c.EmitF32(MakeCode(uint16(frame.bodyStart), true))
}

func (p *Parser) popCtrl(want ctrlKind) (ctrlFrame, error) {
	if len(p.ctrl) == 0 || p.ctrl[len(p.ctrl)-1].kind != want {
		return ctrlFrame{}, fmt.Errorf("%w: mismatched control construct", errSyntaxError)
	}
	frame := p.ctrl[len(p.ctrl)-1]
	p.ctrl = p.ctrl[:len(p.ctrl)-1]
	return frame, nil
}

// compileWord handles both plain word calls and the parser's keyword
// forms (`:`, `;`, `if`, `else`, `do`, `case`, `of`, `default`, `endcase`).
func (p *Parser) compileWord(text string, tokens []token, idx *int) error {
	switch text {
	case ":":
		*idx++
		if *idx >= len(tokens) || tokens[*idx].kind != tokWord {
			return fmt.Errorf("%w: expected a name after ':'", errSyntaxError)
		}
		return p.beginColonDef(tokens[*idx].text)
	case ";":
		return p.endSemicolon()
	case "if":
		return p.beginIf()
	case "else":
		return p.beginElse()
	case "do":
		return p.beginDo()
	case "case":
		return p.beginCase()
	case "of":
		return p.beginOf()
	case "default":
		return p.beginDefault()
	case "endcase":
		return p.endCase()
	default:
		return p.compileCallOrBuiltin(text)
	}
}

func (p *Parser) beginColonDef(name string) error {
	for _, frame := range p.ctrl {
		if frame.kind == ctrlColon && frame.name != "" {
			return fmt.Errorf("%w: ':' %s inside definition %s", errNestedDefinition, name, frame.name)
		}
	}

	c := p.vm.comp
	if err := c.EmitOpcode(OpBranch); err != nil {
		return err
	}
	patchPos := c.CP()
	if err := c.EmitU16(0); err != nil {
		return err
	}
	p.ctrl = append(p.ctrl, ctrlFrame{kind: ctrlColon, name: name, bodyStart: c.Mark(), patchPos: patchPos})
	return nil
}

// endSemicolon closes whichever of colon-definition/if/do is innermost.
func (p *Parser) endSemicolon() error {
	if len(p.ctrl) == 0 {
		return fmt.Errorf("%w: ';' with nothing open", errSyntaxError)
	}
	switch p.ctrl[len(p.ctrl)-1].kind {
	case ctrlColon:
		frame, err := p.popCtrl(ctrlColon)
		if err != nil {
			return err
		}
		c := p.vm.comp
		if err := c.EmitOpcode(OpExit); err != nil {
			return err
		}
		if err := c.PatchU16(frame.patchPos, uint16(c.Mark()-(frame.patchPos+2))); err != nil {
			return err
		}
		if frame.name != "" {
			return p.vm.dict.DefineCode(frame.name, uint16(frame.bodyStart), false)
		}
		return nil
	case ctrlIf:
		frame, err := p.popCtrl(ctrlIf)
		if err != nil {
			return err
		}
		c := p.vm.comp
		return c.PatchU16(frame.patchPos, uint16(c.Mark()-(frame.patchPos+2)))
	case ctrlDo:
		if _, err := p.popCtrl(ctrlDo); err != nil {
			return err
		}
		return p.vm.comp.EmitOpcode(OpEnd)
	case ctrlCase:
		// Case arms are delimited by of/default/endcase themselves (see
		// finalizeArm); a ';' after an arm body is permitted but carries no
		// meaning of its own here.
		return nil
	default:
		return fmt.Errorf("%w: ';' does not close this construct", errSyntaxError)
	}
}

func (p *Parser) beginIf() error {
	c := p.vm.comp
	if err := c.EmitOpcode(OpIf); err != nil {
		return err
	}
	patchPos := c.CP()
	if err := c.EmitU16(0); err != nil {
		return err
	}
	p.ctrl = append(p.ctrl, ctrlFrame{kind: ctrlIf, patchPos: patchPos})
	return nil
}

func (p *Parser) beginElse() error {
	if len(p.ctrl) == 0 || p.ctrl[len(p.ctrl)-1].kind != ctrlIf {
		return fmt.Errorf("%w: 'else' without matching 'if'", errSyntaxError)
	}
	frame := &p.ctrl[len(p.ctrl)-1]
	c := p.vm.comp
	if err := c.EmitOpcode(OpElse); err != nil {
		return err
	}
	elsePatchPos := c.CP()
	if err := c.EmitU16(0); err != nil {
		return err
	}
	if err := c.PatchU16(frame.patchPos, uint16(c.Mark()-(frame.patchPos+2))); err != nil {
		return err
	}
	frame.patchPos = elsePatchPos
	frame.sawElse = true
	return nil
}

func (p *Parser) beginDo() error {
	if err := p.vm.comp.EmitOpcode(OpDo); err != nil {
		return err
	}
	p.ctrl = append(p.ctrl, ctrlFrame{kind: ctrlDo})
	return nil
}

func (p *Parser) beginCase() error {
	if err := p.vm.comp.EmitOpcode(OpCase); err != nil {
		return err
	}
	p.ctrl = append(p.ctrl, ctrlFrame{kind: ctrlCase, pendingOfPatch: -1})
	return nil
}

// finalizeArm closes the previous 'of' arm (if any) when a new arm
// boundary (of/default/endcase) is reached: matched-arm bodies must
// branch past the remaining arms rather than fall into them, and a
// mismatch must branch to the start of the next arm's test-value push
// (target), not to wherever parsing currently stands -- by the time "of"
// is recognized, that arm's test-value token has already compiled.
func (p *Parser) finalizeArm(emitEndBranch bool, target int) error {
	if len(p.ctrl) == 0 || p.ctrl[len(p.ctrl)-1].kind != ctrlCase {
		return fmt.Errorf("%w: case arm keyword outside 'case'", errSyntaxError)
	}
	frame := &p.ctrl[len(p.ctrl)-1]
	c := p.vm.comp
	if frame.pendingOfPatch < 0 {
		return nil
	}
	if emitEndBranch {
		branchStart := c.Mark()
		if err := c.EmitOpcode(OpBranch); err != nil {
			return err
		}
		pos := c.CP()
		if err := c.EmitU16(0); err != nil {
			return err
		}
		frame.endPatches = append(frame.endPatches, pos)
		// The end branch was inserted at target's position; the next arm
		// now starts right after it.
		target += c.Mark() - branchStart
	}
	if err := c.PatchU16(frame.pendingOfPatch, uint16(target-(frame.pendingOfPatch+2))); err != nil {
		return err
	}
	frame.pendingOfPatch = -1
	return nil
}

// beginOf closes the previous arm (if any) and opens this one. Because the
// tokenizer has no lookahead, this arm's own test-value token (the one
// immediately before "of") has already been compiled by the time "of" is
// recognized -- but the previous arm's "branch past the rest of the case"
// must land *before* that test-value bytecode, not after it, or a matched
// earlier arm falls through into pushing this arm's test value before
// branching away. So the test-value bytecode just emitted is saved, the
// compiler's cursor is rewound to before it, the previous arm is closed
// (inserting its end-branch at that position), and the saved bytes are
// replayed after it.
func (p *Parser) beginOf() error {
	c := p.vm.comp
	testStart := p.prevMark
	testEnd := c.Mark()
	testBytes := make([]byte, testEnd-testStart)
	for i := range testBytes {
		b, err := p.vm.mem.Read8(SegCode, testStart+i)
		if err != nil {
			return err
		}
		testBytes[i] = b
	}

	c.cp = testStart
	if err := p.finalizeArm(true, testStart); err != nil {
		return err
	}
	for _, b := range testBytes {
		if err := c.EmitU8(b); err != nil {
			return err
		}
	}

	if err := c.EmitOpcode(OpOf); err != nil {
		return err
	}
	pos := c.CP()
	if err := c.EmitU16(0); err != nil {
		return err
	}
	p.ctrl[len(p.ctrl)-1].pendingOfPatch = pos
	return nil
}

func (p *Parser) beginDefault() error {
	// Unlike "of", "default" has no test-value token in front of it, so the
	// previous arm's mismatch target is simply here, not p.prevMark.
	if err := p.finalizeArm(true, p.vm.comp.Mark()); err != nil {
		return err
	}
	return p.vm.comp.EmitOpcode(OpDefault)
}

func (p *Parser) endCase() error {
	if err := p.finalizeArm(false, p.vm.comp.Mark()); err != nil {
		return err
	}
	frame, err := p.popCtrl(ctrlCase)
	if err != nil {
		return err
	}
	c := p.vm.comp
	// The matched-arm skip branches must land on OpEndCase itself, not past
	// it, or the sentinel opCase pushed never gets popped (frame.go's
	// opEndCase) -- leaking it onto the return stack and corrupting the
	// next frame teardown. So the patch target is captured before
	// OpEndCase is emitted.
	endPos := c.Mark()
	if err := c.EmitOpcode(OpEndCase); err != nil {
		return err
	}
	for _, pos := range frame.endPatches {
		if err := c.PatchU16(pos, uint16(endPos-(pos+2))); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) compileCallOrBuiltin(name string) error {
	payload, ok, err := p.vm.dict.Lookup(name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", errUndefinedWord, name)
	}
	tv := FromTaggedValue(payload)
	c := p.vm.comp
	switch tv.Tag {
	case TagBuiltin:
		return c.EmitOpcode(Opcode(tv.Value))
	case TagCode:
		if err := c.EmitOpcode(OpCall); err != nil {
			return err
		}
		return c.EmitU16(tv.Value)
	default:
		// A plain data value bound by `define`: compile it as a literal push.
		if err := c.EmitOpcode(OpLitNumber); err != nil {
			return err
		}
		return c.EmitF32(payload)
	}
}
