//go:build arm64

package heapwalk

// payload is the position-independent malloc_iterate callback injected into
// the tracee's RWX code page. It implements, in the iterate-callback ABI
// (x0=base, x1=size, x2=data buffer pointer):
//
//	capacity = data[0]; cursor = data[1]
//	data[cursor] = base; data[cursor+1] = size
//	cursor += 2; data[1] = cursor
//	if cursor >= capacity: brk #0   // overflow handshake
//	ret
//
// It calls no other function, uses only its argument registers and x3-x5 as
// scratch, and its only control flow is the PC-relative b.lt/brk/ret at the
// end — there is no stack frame and nothing for a compiler to instrument.
var payload = []byte{
	0x43, 0x00, 0x40, 0xf9, // ldr x3, [x2]            ; x3 = capacity
	0x44, 0x04, 0x40, 0xf9, // ldr x4, [x2, #8]        ; x4 = cursor
	0x45, 0x0c, 0x04, 0x8b, // add x5, x2, x4, lsl #3  ; x5 = &data[cursor]
	0xa0, 0x00, 0x00, 0xf9, // str x0, [x5]            ; data[cursor]   = base
	0xa1, 0x04, 0x00, 0xf9, // str x1, [x5, #8]        ; data[cursor+1] = size
	0x84, 0x08, 0x00, 0x91, // add x4, x4, #2          ; cursor += 2
	0x44, 0x04, 0x00, 0xf9, // str x4, [x2, #8]        ; data[1] = cursor
	0x9f, 0x00, 0x03, 0xeb, // cmp x4, x3
	0x4b, 0x00, 0x00, 0x54, // b.lt  #8 (skip brk)
	0x00, 0x00, 0x20, 0xd4, // brk #0                  ; overflow handshake
	0xc0, 0x03, 0x5f, 0xd6, // ret
}

const breakpointOffset = 0x24 // byte offset of the brk instruction within payload

// breakpointAdvance is how far the tracer must step PC past the trap: the
// decoded instruction length of brk #0.
const breakpointAdvance = 4
