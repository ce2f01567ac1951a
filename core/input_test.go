package core

import (
	"testing"

	"pkt.systems/tabterm/schema"
)

func kinds(keys []key) []keyKind {
	out := make([]keyKind, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.kind)
	}
	return out
}

func runes(keys []key) string {
	var out []rune
	for _, k := range keys {
		if k.kind == keyRune {
			out = append(out, k.r)
		}
	}
	return string(out)
}

func TestDecodeCollapsesCRLF(t *testing.T) {
	e := newLineEditor()
	keys := e.decode([]byte("a\r\nb\n"))
	want := []keyKind{keyRune, keyEnter, keyRune, keyEnter}
	got := kinds(keys)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDecodeCRLFAcrossChunks(t *testing.T) {
	e := newLineEditor()
	first := e.decode([]byte("x\r"))
	second := e.decode([]byte("\ny"))
	if len(first) != 2 || first[1].kind != keyEnter {
		t.Fatalf("unexpected first chunk %v", kinds(first))
	}
	if len(second) != 1 || second[0].r != 'y' {
		t.Fatalf("LF after CR should be dropped, got %v", kinds(second))
	}
}

func TestDecodeSkipsEscapeSequences(t *testing.T) {
	e := newLineEditor()
	keys := e.decode([]byte("a\x1b[A\x1b[1;5Cb\x1bOPcd"))
	if got := runes(keys); got != "abcd" {
		t.Fatalf("expected escape sequences skipped, got %q", got)
	}
}

func TestDecodeBareEscapeKeepsNextKey(t *testing.T) {
	e := newLineEditor()
	if got := runes(e.decode([]byte("\x1bab"))); got != "ab" {
		t.Fatalf("expected key after bare escape, got %q", got)
	}
	if keys := e.decode([]byte("\x1b")); len(keys) != 0 {
		t.Fatalf("expected no keys for lone escape, got %v", kinds(keys))
	}
	keys := e.decode([]byte("\r"))
	if len(keys) != 1 || keys[0].kind != keyEnter {
		t.Fatalf("expected enter after escape, got %v", kinds(keys))
	}
	if got := runes(e.decode([]byte("\x1b\x1b[Az"))); got != "z" {
		t.Fatalf("expected double escape then arrow skipped, got %q", got)
	}
}

func TestDecodeEscapeAcrossChunks(t *testing.T) {
	e := newLineEditor()
	if keys := e.decode([]byte("\x1b[")); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", kinds(keys))
	}
	if got := runes(e.decode([]byte("15~z"))); got != "z" {
		t.Fatalf("expected z after escape, got %q", got)
	}
}

func TestDecodeSplitUTF8(t *testing.T) {
	e := newLineEditor()
	full := []byte("é")
	if keys := e.decode(full[:1]); len(keys) != 0 {
		t.Fatalf("expected partial rune to be held")
	}
	keys := e.decode(full[1:])
	if len(keys) != 1 || keys[0].r != 'é' {
		t.Fatalf("expected é, got %q", runes(keys))
	}
}

func TestDecodeControlKeys(t *testing.T) {
	e := newLineEditor()
	keys := e.decode([]byte{0x03, 0x7f, 0x08, 0x01, 0x09})
	want := []keyKind{keyInterrupt, keyBackspace, keyBackspace}
	got := kinds(keys)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestApplyEchoAndBackspace(t *testing.T) {
	e := newLineEditor()
	if echo := e.apply(key{kind: keyBackspace}); echo != nil {
		t.Fatalf("backspace on empty buffer should not echo, got %q", echo)
	}
	if echo := e.apply(key{kind: keyRune, r: 'h'}); string(echo) != "h" {
		t.Fatalf("unexpected echo %q", echo)
	}
	e.apply(key{kind: keyRune, r: 'i'})
	if echo := e.apply(key{kind: keyBackspace}); string(echo) != "\b \b" {
		t.Fatalf("unexpected erase %q", echo)
	}
	if e.line() != "h" {
		t.Fatalf("unexpected buffer %q", e.line())
	}
	if got := e.takeLine(); got != "h" || e.line() != "" {
		t.Fatalf("takeLine returned %q, buffer %q", got, e.line())
	}
}

func TestApplyMasksPassword(t *testing.T) {
	e := newLineEditor()
	e.mode = schema.InputPassword
	for _, r := range "pä55" {
		if echo := e.apply(key{kind: keyRune, r: r}); string(echo) != "*" {
			t.Fatalf("expected masked echo, got %q", echo)
		}
	}
	if e.line() != "pä55" {
		t.Fatalf("unexpected buffer %q", e.line())
	}
	e.reset()
	if e.mode != schema.InputCommand || e.line() != "" {
		t.Fatalf("reset should return to command mode with empty buffer")
	}
}
