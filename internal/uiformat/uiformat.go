// Package uiformat renders addresses, hex dumps, and disassembled
// instructions for the introspect CLI, colorized with chroma the way the
// teacher's internal/ui/colorize package does for its IDA-style trace
// viewer, generalized here from arm64-only to both supported architectures.
package uiformat

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// IDA-style theme colors, carried over from the teacher's disasm-dark style.
const (
	ideAddress  = "#808080"
	ideRegister = "#87CEEB"
	ideNumber   = "#FF80C0"
	ideLabel    = "#FFC800"
)

// DisasmDark is the teacher's custom IDA Pro-style chroma theme, registered
// once at package init.
var DisasmDark = styles.Register(chroma.MustNewStyle("introspect-disasm-dark", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.Background:     "bg:#000000",
	chroma.Comment:        "#FF8000",
	chroma.CommentPreproc: "#FF8000",

	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.Name:          ideRegister,
	chroma.NameBuiltin:   ideRegister,
	chroma.NameVariable:  ideRegister,

	chroma.LiteralNumber:        ideNumber,
	chroma.LiteralNumberHex:     ideNumber,
	chroma.LiteralNumberInteger: ideNumber,

	chroma.NameLabel:    ideLabel,
	chroma.NameFunction: "#FFFFFF",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",
	chroma.String:      "#00FF00",
}))

// IsDisabled reports whether colorized output was suppressed via the
// environment, matching the teacher's NO_COLOR convention.
func IsDisabled() bool {
	return os.Getenv("INTROSPECT_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

func getAssemblyLexer() chroma.Lexer {
	for _, name := range []string{"nasm", "gas", "armasm"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Instruction colorizes one disassembled instruction's text form.
func Instruction(insn string) string {
	if IsDisabled() {
		return insn
	}
	lexer := getAssemblyLexer()
	if lexer == nil {
		return insn
	}
	iterator, err := lexer.Tokenise(nil, insn)
	if err != nil {
		return insn
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, DisasmDark, iterator); err != nil {
		return insn
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Address formats a tracee address for display.
func Address(addr uint64) string {
	if IsDisabled() {
		return fmt.Sprintf("%016x", addr)
	}
	return fmt.Sprintf("\033[38;2;255;200;0m%016x\033[0m", addr)
}

// Tag formats a diagnostic hashtag (see internal/trace) in light pink.
func Tag(tag string) string {
	if IsDisabled() || tag == "" {
		return tag
	}
	return fmt.Sprintf("\033[38;2;255;180;200m%s\033[0m", tag)
}

// HexDump renders data as a canonical hex+ASCII dump, one 16-byte row per
// line, prefixed with addr as the base address of the first byte.
func HexDump(addr uint64, data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]
		fmt.Fprintf(&b, "%s  ", Address(addr+uint64(off)))
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&b, "%02x ", row[i])
			} else {
				b.WriteString("   ")
			}
			if i == 7 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(" |")
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("|\n")
	}
	return b.String()
}

// Disassemble decodes one instruction at the start of code and returns its
// textual form, colorized unless output is disabled. The decoder used is
// selected by build tag (arm64asm / x86asm) to match the running
// architecture, which is always the tracee's architecture per this engine's
// no-cross-architecture-tracing non-goal.
func Disassemble(code []byte) string {
	text, err := decode(code)
	if err != nil {
		return fmt.Sprintf("??? (%d bytes undecodable)", len(code))
	}
	return Instruction(text)
}
