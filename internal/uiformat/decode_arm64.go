//go:build arm64

package uiformat

import "golang.org/x/arch/arm64/arm64asm"

// decode disassembles one 4-byte arm64 instruction at the start of code.
func decode(code []byte) (string, error) {
	inst, err := arm64asm.Decode(code)
	if err != nil {
		return "", err
	}
	return inst.String(), nil
}
