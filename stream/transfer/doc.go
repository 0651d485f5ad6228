// Package transfer manages the transfer buffer: a second shared region for
// payloads too large or irregular to inline in the command stream.
//
// The region starts with a fixed result area the service writes replies
// into. The rest is sub-allocated with a ringbuf.RingBuffer whose blocks are
// released against helper tokens. The region grows to the next power of two
// when a request does not fit, never beyond Config.MaxSize, and shrinks back
// to the default size only after Free.
//
// Block operations name the region an allocation came from, since offsets
// repeat across regions. A region replaced while it still holds live blocks
// stays mapped until those blocks are released and their tokens have passed.
// The helper destroys every region when it is closed.
//
// ScopedPtr and ScopedArray tie an allocation to a release against a fresh
// token.
package transfer
