// Package router relays chat messages between bound users and delivers
// bind and disconnect notifications over each peer's encrypted channel.
package router

import (
	"go.uber.org/zap"

	"github.com/kidxcudi/Synq/internal/protocol"
	"github.com/kidxcudi/Synq/internal/registry"
)

// Router resolves partners through the shared directories and writes to
// their encrypted channels. All outbound writes are best-effort.
type Router struct {
	state *registry.State
	log   *zap.Logger
}

// New wires the router to the shared state.
func New(state *registry.State, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{state: state, log: log}
}

// Route relays validated chat text from a bound sender to its partner.
// It returns an error code for the sender, or "" on success.
func (r *Router) Route(sender, text string) string {
	if !protocol.ValidMessage(text) {
		return protocol.CodeInvalidMessage
	}

	partner, ok := r.state.Partner(sender)
	if !ok {
		return protocol.CodeNotBound
	}

	conn, ok := r.state.User(partner)
	if !ok {
		// Pairing not yet cleaned up after the partner disconnected.
		return protocol.CodePartnerOffline
	}

	err := conn.SendSealed(protocol.Message{
		"type": protocol.TypeMessage,
		"from": sender,
		"text": text,
	})
	if err != nil {
		r.log.Warn("relay failed",
			zap.String("from", sender),
			zap.String("to", partner),
			zap.Error(err))
		return protocol.CodeRelayFailed
	}
	return ""
}

// SendToUser delivers an encrypted message to a named user, reporting
// whether the write succeeded. Peers without a session key are skipped.
func (r *Router) SendToUser(username string, msg protocol.Message) bool {
	conn, ok := r.state.User(username)
	if !ok || !conn.Secure() {
		return false
	}
	if err := conn.SendSealed(msg); err != nil {
		r.log.Warn("send failed", zap.String("to", username), zap.Error(err))
		return false
	}
	return true
}

// NotifyPartnerDisconnected tells a former partner that its peer went
// away. Best-effort: a partner that vanished in the same window is a
// silent no-op.
func (r *Router) NotifyPartnerDisconnected(disconnected, partner string) {
	if r.SendToUser(partner, protocol.Message{"type": protocol.TypePartnerDisconnected}) {
		r.log.Info("notified partner of disconnect",
			zap.String("user", disconnected),
			zap.String("partner", partner))
	}
}
