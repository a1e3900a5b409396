package domain

import "errors"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrNoActiveSession  = errors.New("no active session")
	ErrUnsupported      = errors.New("unsupported")
	ErrTransport        = errors.New("transport error")
	ErrLinkUnreachable  = errors.New("link unreachable")
	ErrBackpressure     = errors.New("backpressure")
	ErrNotReady         = errors.New("voice connection not ready")
	ErrBusy             = errors.New("track already playing")
	ErrRateLimited      = errors.New("rate limited")
	ErrInternal         = errors.New("internal error")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrMalformedMessage, "malformed_message"},
	{ErrNoActiveSession, "no_active_session"},
	{ErrUnsupported, "unsupported"},
	{ErrTransport, "transport_error"},
	{ErrLinkUnreachable, "link_unreachable"},
	{ErrBackpressure, "link_unreachable"},
	{ErrNotReady, "not_ready"},
	{ErrBusy, "busy"},
	{ErrRateLimited, "rate_limited"},
}

// Code maps err to the wire code reported to clients.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal_error"
}
