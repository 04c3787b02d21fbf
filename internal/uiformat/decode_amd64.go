//go:build amd64

package uiformat

import "golang.org/x/arch/x86/x86asm"

// decode disassembles one variable-length x86-64 instruction at the start
// of code.
func decode(code []byte) (string, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return "", err
	}
	return x86asm.GNUSyntax(inst, 0, nil), nil
}
