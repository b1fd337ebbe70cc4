package call

import (
	"log/slog"

	"github.com/immxrtalbeast/chatsync/internal/domain"
	"github.com/immxrtalbeast/chatsync/lib/logger/sl"
)

// Router delivers inbound signaling events to the active session, or
// drops them. A dropped stale signal is expected steady-state behavior
// after a hangup race, never an error: the router must not throw and must
// not disturb the channel.
type Router struct {
	session *Session
	log     *slog.Logger
}

func NewRouter(session *Session, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{session: session, log: log}
}

// Route forwards a signal when the sender matches the session's current
// peer and negotiation is underway; anything else is dropped silently.
func (r *Router) Route(from string, sig domain.SignalMessage) {
	if r.session == nil {
		return
	}

	state := r.session.State()
	if state != domain.CallNegotiating && state != domain.CallActive {
		r.log.Debug("signal dropped, no negotiating session",
			slog.String("from", from),
			slog.String("type", sig.Type),
		)
		return
	}
	if from != r.session.PeerID() {
		r.log.Debug("signal dropped, peer mismatch",
			slog.String("from", from),
			slog.String("expected", r.session.PeerID()),
		)
		return
	}

	if err := r.session.HandleSignal(sig); err != nil {
		r.log.Debug("signal handling failed", slog.String("type", sig.Type), sl.Err(err))
	}
}
