package cmdbuf

import (
	"fmt"

	"github.com/joshuapare/cmdring/internal/format"
	"github.com/joshuapare/cmdring/stream/transport"
)

// InsertToken appends a SetToken command and returns its token. Tokens
// increase as 31-bit integers; when the counter wraps to 0 the ring is
// drained with Finish so HasTokenPassed stays unambiguous.
//
// If no space can be reserved the token is -1. Waiting on a negative token
// returns immediately, so a failed insertion never hangs a later wait.
func (h *Helper) InsertToken() int32 {
	cmd, err := GetCmdSpace[format.SetToken](h)
	if err != nil {
		h.log.Debug("cmdbuf.token.insert_failed", "error", err)
		return -1
	}
	h.token = (h.token + 1) & format.TokenMask
	cmd.Init(h.token)
	if h.token == 0 {
		h.log.Debug("cmdbuf.token.wrapped")
		h.obs.TokenWrapped()
		if err := h.Finish(); err != nil {
			h.log.Warn("cmdbuf.token.wrap_finish_failed", "error", err)
		}
	}
	return h.token
}

// Token returns the last issued token.
func (h *Helper) Token() int32 { return h.token }

// LastTokenRead returns the last token the service was seen to read.
func (h *Helper) LastTokenRead() int32 { return h.cachedLastTokenRead }

// HasTokenPassed reports whether the service has read past token. A token
// above the last issued one can only come from before a wrap, which drained
// the ring, so it has passed.
func (h *Helper) HasTokenPassed(token int32) bool {
	if token > h.token {
		return true
	}
	if token <= h.cachedLastTokenRead {
		return true
	}
	h.RefreshCachedToken()
	return token <= h.cachedLastTokenRead
}

// RefreshCachedToken polls the transport for the last read token.
func (h *Helper) RefreshCachedToken() {
	if t := h.cb.GetLastToken(); t > h.cachedLastTokenRead {
		h.cachedLastTokenRead = t
	}
}

// WaitForToken blocks until the service has read past token. Negative tokens
// and tokens that already passed return immediately.
func (h *Helper) WaitForToken(token int32) error {
	if token < 0 || h.HasTokenPassed(token) {
		return nil
	}
	if h.contextLost {
		return transport.ErrContextLost
	}
	h.FlushLazy()

	ctx, cancel := h.waitContext()
	defer cancel()

	began := h.opt.Now()
	st := h.cb.WaitForTokenInRange(ctx, token, h.token)
	h.obs.Waited(WaitToken, h.opt.Now().Sub(began))
	h.updateCachedState(st)

	switch {
	case token <= h.cachedLastTokenRead:
		return nil
	case h.contextLost:
		return transport.ErrContextLost
	case ctx.Err() != nil:
		return fmt.Errorf("%w: token %d: %w", ErrWaitTimeout, token, ctx.Err())
	default:
		return fmt.Errorf("%w: token %d, last read %d", ErrStalled, token, h.cachedLastTokenRead)
	}
}
