//go:build amd64

package heapwalk

// payload is the position-independent malloc_iterate callback injected into
// the tracee's RWX code page. It implements, in the iterate-callback ABI
// (rdi=base, rsi=size, rdx=data buffer pointer):
//
//	capacity = data[0]; cursor = data[1]
//	data[cursor] = base; data[cursor+1] = size
//	cursor += 2; data[1] = cursor
//	if cursor >= capacity: int3   // overflow handshake
//	ret
//
// It calls no other function, uses only its argument registers plus rax/rcx/
// r8 as scratch, and never touches the stack — there is no frame pointer,
// no canary, nothing for a compiler to instrument.
var payload = []byte{
	0x48, 0x8b, 0x02, // mov rax, [rdx]           ; rax = capacity
	0x48, 0x8b, 0x4a, 0x08, // mov rcx, [rdx+8]    ; rcx = cursor
	0x4c, 0x8d, 0x04, 0xca, // lea r8, [rdx+rcx*8] ; r8 = &data[cursor]
	0x49, 0x89, 0x38, // mov [r8], rdi             ; data[cursor]   = base
	0x49, 0x89, 0x70, 0x08, // mov [r8+8], rsi     ; data[cursor+1] = size
	0x48, 0x83, 0xc1, 0x02, // add rcx, 2          ; cursor += 2
	0x48, 0x89, 0x4a, 0x08, // mov [rdx+8], rcx    ; data[1] = cursor
	0x48, 0x39, 0xc1, // cmp rcx, rax
	0x7c, 0x01, // jl +1                           ; skip int3
	0xcc,       // int3                            ; overflow handshake
	0xc3,       // ret
}

const breakpointOffset = 0x1f // byte offset of the int3 instruction within payload

// breakpointAdvance is how far the tracer must step PC past the trap: the
// decoded instruction length of int3.
const breakpointAdvance = 1
