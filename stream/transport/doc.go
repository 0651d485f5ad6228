// Package transport defines the narrow contract between the client-side
// command stream core and the service that consumes it.
//
// # Overview
//
// The client writes commands into a shared ring and bulk payloads into
// transfer buffers. The service runs independently (often in another process)
// and reports progress through two scalar watermarks: the get offset (next
// unconsumed entry) and the last token read. The client never reads service
// memory directly; it only sees progress through State values returned by
// this interface.
//
// # Operations
//
//   - Initialize: prepare the transport; false means unusable
//   - GetLastState / GetLastToken: non-blocking progress queries
//   - Flush / OrderingBarrier: fire-and-forget put offset publication
//   - WaitForTokenInRange / WaitForGetOffsetInRange: blocking progress waits
//   - SetGetBuffer: bind the command ring and reset both offsets to 0
//   - CreateTransferBuffer / DestroyTransferBuffer: shared region lifecycle
//
// # Blocking
//
// The wait operations have no built-in timeout. A hung service stalls the
// caller until the context passed in is done or the transport reports an
// error through State.Error.
package transport
