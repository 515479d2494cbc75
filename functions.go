package solite

import (
	"time"
	"unsafe"
)

const Release = "0.8.0"

// StdlibVersion is the value of the solite_stdlib_version() SQL function.
func StdlibVersion() string {
	return "v" + Release
}

// USleep pauses for about ms milliseconds and returns ms.
func USleep(ms int) int {
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
	return ms
}

// unsafeBytes views s as a byte slice. The result must not be modified.
func unsafeBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// CompareStrings applies cmp to two strings without copying them.
func CompareStrings(cmp Comparator, a, b string) int {
	return cmp(unsafeBytes(a), unsafeBytes(b))
}
