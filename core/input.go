package core

import (
	"unicode/utf8"

	"pkt.systems/tabterm/schema"
)

type keyKind int

const (
	keyRune keyKind = iota
	keyEnter
	keyBackspace
	keyInterrupt
)

type key struct {
	kind keyKind
	r    rune
}

type escState int

const (
	escNone escState = iota
	escStart
	escCSI
	escSS3
)

const maxEscapeLen = 16

// eraseSeq rubs out the last echoed cell.
var eraseSeq = []byte("\b \b")

// lineEditor is the input state machine of an unattached tab. Decoding keeps
// state across chunks: a CR followed by LF counts once, and escape sequences
// and split UTF-8 runes may span writes.
type lineEditor struct {
	mode      schema.InputMode
	buf       []rune
	lastWasCR bool
	esc       escState
	escLen    int
	partial   []byte
}

func newLineEditor() *lineEditor {
	return &lineEditor{mode: schema.InputCommand}
}

// decode turns raw keystroke bytes into keys.
func (e *lineEditor) decode(data []byte) []key {
	if len(e.partial) > 0 {
		data = append(append([]byte(nil), e.partial...), data...)
		e.partial = nil
	}
	keys := make([]key, 0, len(data))
	for i := 0; i < len(data); {
		b := data[i]
		if e.esc != escNone {
			if e.stepEscape(b) {
				i++
			}
			continue
		}
		if e.lastWasCR {
			e.lastWasCR = false
			if b == '\n' {
				i++
				continue
			}
		}
		switch {
		case b == 0x1b:
			e.esc = escStart
			e.escLen = 0
		case b == '\r':
			keys = append(keys, key{kind: keyEnter})
			e.lastWasCR = true
		case b == '\n':
			keys = append(keys, key{kind: keyEnter})
		case b == 0x7f || b == 0x08:
			keys = append(keys, key{kind: keyBackspace})
		case b == 0x03:
			keys = append(keys, key{kind: keyInterrupt})
		case b < 0x20:
		case b < utf8.RuneSelf:
			keys = append(keys, key{kind: keyRune, r: rune(b)})
		default:
			if !utf8.FullRune(data[i:]) {
				e.partial = append(e.partial, data[i:]...)
				return keys
			}
			r, size := utf8.DecodeRune(data[i:])
			if r != utf8.RuneError {
				keys = append(keys, key{kind: keyRune, r: r})
			}
			i += size
			continue
		}
		i++
	}
	return keys
}

// stepEscape advances an escape sequence by b. It reports false when b is
// not part of the sequence and must be decoded as an ordinary key.
func (e *lineEditor) stepEscape(b byte) bool {
	e.escLen++
	switch e.esc {
	case escStart:
		switch b {
		case '[':
			e.esc = escCSI
		case 'O':
			e.esc = escSS3
		default:
			e.esc = escNone
			return false
		}
	case escCSI:
		if (b >= 0x40 && b <= 0x7e) || e.escLen > maxEscapeLen {
			e.esc = escNone
		}
	case escSS3:
		e.esc = escNone
	}
	return true
}

// apply edits the buffer for a rune or backspace key and returns the echo.
func (e *lineEditor) apply(k key) []byte {
	switch k.kind {
	case keyRune:
		e.buf = append(e.buf, k.r)
		if e.mode == schema.InputPassword {
			return []byte{'*'}
		}
		return []byte(string(k.r))
	case keyBackspace:
		if len(e.buf) == 0 {
			return nil
		}
		e.buf = e.buf[:len(e.buf)-1]
		return eraseSeq
	}
	return nil
}

// takeLine returns the buffered line and clears the buffer.
func (e *lineEditor) takeLine() string {
	line := string(e.buf)
	e.buf = e.buf[:0]
	return line
}

// reset returns the editor to command mode with an empty buffer.
func (e *lineEditor) reset() {
	e.mode = schema.InputCommand
	e.buf = e.buf[:0]
}

func (e *lineEditor) line() string {
	return string(e.buf)
}
