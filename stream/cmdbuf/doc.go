// Package cmdbuf implements the client side of the command stream: a ring of
// fixed-width entries in shared memory, the put/get flow control around it,
// and the token tracker everything above it orders against.
//
// # Overview
//
// The Helper owns the command ring. Callers reserve entries with GetSpace (or
// the typed GetCmdSpace), write a command into them, and periodically Flush to
// publish the put offset to the service. The service advances the get offset
// and the last-read token asynchronously; the helper only learns about that
// progress through Flush replies and blocking waits.
//
// # Tokens
//
// InsertToken appends a SetToken command and returns a 31-bit token.
// HasTokenPassed tells whether the service has consumed everything before a
// token; WaitForToken blocks until it has. When the counter wraps to 0 the
// helper drains the ring with Finish so comparisons stay unambiguous.
//
// # Auto-flush
//
// Every reservation recomputes an immediate entry budget. While the service is
// caught up, unflushed work is capped at 1/16 of the ring; otherwise at 1/2.
// Exhausting the budget forces a Flush. A periodic check, run every 100
// reservations, also flushes if the last flush is older than a few
// milliseconds.
//
// # Failure
//
// A failed ring allocation flips the helper to unusable for good: every
// reservation returns ErrUnusable instead of blocking. A service error is
// cached as context lost and surfaces as transport.ErrContextLost.
//
// # Thread Safety
//
// Helper instances are not thread-safe. Exactly one goroutine writes to a
// helper and any transfer buffer attached to it.
package cmdbuf
