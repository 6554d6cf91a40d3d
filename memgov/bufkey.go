package memgov

import "unsafe"

// bufKey identifies a buffer by the address of its backing array, so the
// governor can detect a release of a buffer it never handed out (a
// double-free) without needing a wrapper allocation per buffer.
func bufKey(buf []byte) uintptr {
	if cap(buf) == 0 {
		return 0
	}
	full := buf[:1:cap(buf)]
	return uintptr(unsafe.Pointer(&full[0]))
}
