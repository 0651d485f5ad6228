package format

import "math/bits"

// AlignUp returns n rounded up to the next multiple of align.
// align must be a power of two; an align of 0 or 1 returns n unchanged.
//
// Example:
//
//	AlignUp(1, 8)  = 8
//	AlignUp(8, 8)  = 8
//	AlignUp(9, 16) = 16
func AlignUp(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// AlignDown returns n rounded down to a multiple of align.
func AlignDown(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	return n &^ (align - 1)
}

// IsPow2 reports whether n is a non-zero power of two.
func IsPow2(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// NextPow2 returns the smallest power of two >= n. NextPow2(0) is 0.
// Values above 1<<31 saturate to 1<<31.
//
// Example:
//
//	NextPow2(192) = 256
//	NextPow2(257) = 512
func NextPow2(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	if n > 1<<31 {
		return 1 << 31
	}
	return 1 << bits.Len32(n-1)
}
