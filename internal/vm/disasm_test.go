package vm

import (
	"strings"
	"testing"
)

func TestDisassemble(t *testing.T) {
	program := []byte{0x00, 0xE0, 0x6A, 0x0A, 0xD0, 0x15, 0xFF, 0xFF, 0x12, 0x00, 0x7F}

	var sb strings.Builder
	if err := Disassemble(program, &sb); err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"0200: 00e0  cls",
		"0202: 6a0a  mov va, 10",
		"0204: d015  sprite v0, v1, 5",
		"0206: ffff  .word 0xffff",
		"0208: 1200  jmp 0x200",
		"020a: 7f    .byte 0x7f",
		"",
	}, "\n")

	if got := sb.String(); got != want {
		t.Errorf("listing mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}
