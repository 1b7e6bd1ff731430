package container

import "unsafe"

// sizeOf returns the in-memory size of a value's type. Used by
// MemoryUsage implementations across the dense containers.
func sizeOf[T any](v T) int {
	return int(unsafe.Sizeof(v))
}
