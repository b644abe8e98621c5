// Package unsafehelpers centralises all unavoidable usage of the `unsafe`
// standard library package so the rest of codecache stays auditable. Every
// helper documents its pre/post-conditions.
//
// DISCLAIMER: these helpers deliberately break the Go memory-safety model
// for zero-allocation conversions. Use only inside this module; they are
// not part of the public API.
//
// All functions are go:linkname-free, cgo-free, pure Go 1.24.
package unsafehelpers

import "unsafe"

/* -------------------------------------------------------------------------
   Zero-copy string/[]byte conversions
   ------------------------------------------------------------------------- */

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee b is never modified for the lifetime of the
// returned string. Used when decoding an identifier table from a raw
// module blob into Names without copying each entry.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes re-interprets string data as a byte slice without
// allocating. The returned slice must remain read-only.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	strHdr := (*[2]uintptr)(unsafe.Pointer(&s))
	return unsafe.Slice((*byte)(unsafe.Pointer(strHdr[0])), strHdr[1])
}

