//go:build windows

package workers

import (
	"bytes"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Minimal COM plumbing shared by the FXC and DXC backends: vtable calls
// through syscall and a blob wrapper for the buffer-returning interfaces.

func succeeded(hr uintptr) bool {
	return int32(hr) >= 0
}

func comCall(method uintptr, args ...uintptr) uintptr {
	hr, _, _ := syscall.SyscallN(method, args...)
	return hr
}

// comBlob wraps any COM interface whose vtable starts with IUnknown
// followed by GetBufferPointer/GetBufferSize (ID3DBlob, IDxcBlob and
// friends all share that layout).
type comBlob struct {
	vtbl *comBlobVtbl
}

type comBlobVtbl struct {
	queryInterface   uintptr
	addRef           uintptr
	release          uintptr
	getBufferPointer uintptr
	getBufferSize    uintptr
}

func (b *comBlob) Release() {
	if b != nil {
		comCall(b.vtbl.release, uintptr(unsafe.Pointer(b)))
	}
}

// Bytes copies the blob contents out of COM-owned memory.
func (b *comBlob) Bytes() []byte {
	if b == nil {
		return nil
	}

	ptr := comCall(b.vtbl.getBufferPointer, uintptr(unsafe.Pointer(b)))
	size := comCall(b.vtbl.getBufferSize, uintptr(unsafe.Pointer(b)))
	if ptr == 0 || size == 0 {
		return nil
	}

	return bytes.Clone(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size))
}

// wideBlob additionally exposes GetStringPointer (IDxcBlobUtf16).
type wideBlob struct {
	vtbl *wideBlobVtbl
}

type wideBlobVtbl struct {
	comBlobVtbl
	getStringPointer uintptr
	getStringLength  uintptr
}

func (b *wideBlob) Release() {
	if b != nil {
		comCall(b.vtbl.release, uintptr(unsafe.Pointer(b)))
	}
}

func (b *wideBlob) String() string {
	if b == nil {
		return ""
	}

	ptr := comCall(b.vtbl.getStringPointer, uintptr(unsafe.Pointer(b)))
	if ptr == 0 {
		return ""
	}

	return windows.UTF16PtrToString((*uint16)(unsafe.Pointer(ptr)))
}
