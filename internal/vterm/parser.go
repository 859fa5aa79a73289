package vterm

// parser is a small incremental state machine for the VT control-sequence
// subset spec.md §4.A requires: printable bytes (one cell each; multi-byte
// UTF-8 is not decoded), a handful of C0 controls,
// CSI cursor motion/erase, and silent consumption of everything else
// (OSC/DCS/SS2/SS3 and any CSI final byte we don't special-case). State is
// carried across Feed calls so a sequence split across two PTY reads still
// parses correctly.
type parser struct {
	state   parserState
	csi     []byte // accumulated CSI parameter bytes, not including ESC [
	escKind byte   // the byte following ESC that selected the current non-CSI state
}

type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
	stateOSC // also covers DCS/SOS/PM/APC — single-terminator skip states
)

const (
	cNUL = 0x00
	cBEL = 0x07
	cBS  = 0x08
	cHT  = 0x09
	cLF  = 0x0A
	cCR  = 0x0D
	cESC = 0x1B
)

func (p *parser) feed(b []byte, s *Screen) {
	for _, c := range b {
		p.step(c, s)
	}
}

func (p *parser) step(c byte, s *Screen) {
	switch p.state {
	case stateGround:
		p.stepGround(c, s)
	case stateEscape:
		p.stepEscape(c, s)
	case stateCSI:
		p.stepCSI(c, s)
	case stateOSC:
		p.stepOSC(c)
	}
}

func (p *parser) stepGround(c byte, s *Screen) {
	switch c {
	case cESC:
		p.state = stateEscape
	case cLF:
		s.carriageReturn()
		s.newline()
	case cCR:
		s.carriageReturn()
	case cBS:
		s.backspace()
	case cHT:
		s.tab()
	case cBEL, cNUL:
		// no-op control bytes
	default:
		if c >= 0x20 {
			s.putChar(rune(c))
		}
	}
}

func (p *parser) stepEscape(c byte, s *Screen) {
	switch c {
	case '[':
		p.state = stateCSI
		p.csi = p.csi[:0]
	case ']', 'P', 'X', '^', '_':
		// OSC, DCS, SOS, PM, APC — skip to string terminator (BEL or ESC \).
		p.state = stateOSC
		p.escKind = c
	case 'N', 'O':
		// SS2 / SS3 — the escape itself is consumed; the byte after it is
		// handled as ordinary ground-state input.
		p.state = stateGround
	default:
		// Unrecognized single-byte escape — consumed silently.
		p.state = stateGround
	}
}

func (p *parser) stepCSI(c byte, s *Screen) {
	if c >= 0x30 && c <= 0x3F {
		// Parameter bytes: digits, ';', and a few others we don't use.
		p.csi = append(p.csi, c)
		return
	}
	if c >= 0x20 && c <= 0x2F {
		// Intermediate bytes — not used by any sequence we handle, ignore.
		return
	}
	// Final byte (0x40-0x7E) terminates the CSI sequence.
	p.applyCSI(c, s)
	p.state = stateGround
}

func (p *parser) stepOSC(c byte) {
	switch c {
	case cBEL:
		p.state = stateGround
	case cESC:
		// Terminator. The next byte should be '\' (ST), which the escape
		// state consumes silently like any other unrecognized escape.
		p.state = stateEscape
	}
}

// applyCSI dispatches a completed CSI sequence to the screen. Unknown
// final bytes are silently consumed, matching spec.md's "OSC/DCS/.../other
// actions: silently consumed" clause.
func (p *parser) applyCSI(final byte, s *Screen) {
	params := parseCSIParams(p.csi)

	switch final {
	case 'A':
		s.cursorUp(paramOrDefault(params, 0, 1))
	case 'B':
		s.cursorDown(paramOrDefault(params, 0, 1))
	case 'C':
		s.cursorRight(paramOrDefault(params, 0, 1))
	case 'D':
		s.cursorLeft(paramOrDefault(params, 0, 1))
	case 'H', 'f':
		row := paramOrDefault(params, 0, 1)
		col := paramOrDefault(params, 1, 1)
		s.cursorTo(row, col)
	case 'J':
		switch paramOrDefault(params, 0, 0) {
		case 2:
			s.eraseScreenAll()
		default:
			// Mode 0 is cursor-to-end-of-line only, the same as K — rows
			// below the cursor are untouched.
			s.eraseLineToEnd()
		}
	case 'K':
		s.eraseLineToEnd()
	default:
		// Any other CSI final byte (SGR 'm', DECSTBM 'r', etc.) is consumed
		// without effect — out of scope for this minimal emulation.
	}
}

// parseCSIParams splits accumulated CSI parameter bytes on ';' into ints.
// A missing or non-numeric field yields -1 (meaning "use the default").
func parseCSIParams(raw []byte) []int {
	if len(raw) == 0 {
		return nil
	}
	var params []int
	cur := -1
	seenDigit := false
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			if !seenDigit {
				cur = 0
				seenDigit = true
			}
			cur = cur*10 + int(c-'0')
			continue
		}
		if c == ';' {
			params = append(params, cur)
			cur = -1
			seenDigit = false
			continue
		}
		// Any other byte (e.g. a private-mode '?') is ignored for our subset.
	}
	params = append(params, cur)
	return params
}

// paramOrDefault returns params[idx] if present and >= 1, else def. Per
// spec.md, CSI numeric parameters default to 1 (or 0 for 'J') and a
// supplied value below the minimum (e.g. explicit 0 for A/B/C/D) is
// clamped up to the minimum.
func paramOrDefault(params []int, idx, def int) int {
	if idx >= len(params) || params[idx] < 0 {
		return def
	}
	if def >= 1 && params[idx] < 1 {
		return 1
	}
	return params[idx]
}
