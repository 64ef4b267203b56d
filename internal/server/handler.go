package server

import (
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	"github.com/kidxcudi/Synq/internal/bind"
	"github.com/kidxcudi/Synq/internal/crypto/dh"
	"github.com/kidxcudi/Synq/internal/crypto/seal"
	"github.com/kidxcudi/Synq/internal/protocol"
	"github.com/kidxcudi/Synq/internal/registry"
)

// handleConn drives one client through the connection state machine:
// login, key exchange, then the decrypt-dispatch loop. Cleanup runs
// exactly once, whatever state the lifecycle failed in.
func (s *Server) handleConn(c *conn) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("connection handler panic", zap.Any("panic", r))
		}
		s.cleanup(c)
		s.admission.Release(1)
		s.metrics.connClosed()
	}()

	if err := s.performLogin(c); err != nil {
		c.log.Debug("login failed", zap.Error(err))
		return
	}
	if err := s.performKeyExchange(c); err != nil {
		c.log.Warn("key exchange failed", zap.String("user", c.username), zap.Error(err))
		return
	}

	c.log.Info("secure channel established", zap.String("user", c.username))
	s.messageLoop(c)
}

// performLogin reads the plaintext login line and atomically reserves the
// username. Every failure sends a typed plaintext reply and drops the
// connection.
func (s *Server) performLogin(c *conn) error {
	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("read login: %w", err)
	}

	msg, err := protocol.Parse(line)
	if err != nil {
		_ = c.sendPlain(protocol.TypeError, protocol.CodeInvalidLoginRequest)
		return fmt.Errorf("parse login: %w", err)
	}
	if !msg.Has("type", "username") {
		_ = c.sendPlain(protocol.TypeError, protocol.CodeInvalidLoginRequest)
		return fmt.Errorf("login message missing fields")
	}
	if msg["type"] != protocol.TypeLogin {
		_ = c.sendPlain(protocol.TypeError, protocol.CodeInvalidRequestType)
		return fmt.Errorf("expected login, got %q", msg["type"])
	}

	username := protocol.SanitizeUsername(msg["username"])
	if !protocol.ValidUsername(username) {
		_ = c.sendPlain(protocol.TypeError, protocol.CodeInvalidUsername)
		return fmt.Errorf("invalid username %q", username)
	}

	// First writer wins; concurrent logins for the same name resolve to
	// exactly one success.
	if err := s.state.RegisterUser(username, c); err != nil {
		_ = c.sendPlain(protocol.TypeError, protocol.CodeUsernameTaken)
		return fmt.Errorf("register %q: %w", username, err)
	}

	c.username = username
	c.log = c.log.With(zap.String("user", username))
	s.metrics.loginCompleted()

	if err := c.sendPlain(protocol.TypeSuccess, "login_success"); err != nil {
		return fmt.Errorf("send login reply: %w", err)
	}
	return nil
}

// performKeyExchange runs the ephemeral DH handshake and derives the
// session key. Any failure here is a security failure and fatal for the
// connection.
func (s *Server) performKeyExchange(c *conn) error {
	kp, err := dh.GenerateKeyPair(nil)
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	if err := c.writeLine(base64.StdEncoding.EncodeToString(kp.Public)); err != nil {
		return fmt.Errorf("send public value: %w", err)
	}

	line, err := c.readLine()
	if err != nil {
		return fmt.Errorf("read peer public value: %w", err)
	}
	peerPublic, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return fmt.Errorf("decode peer public value: %w", err)
	}
	if err := dh.ValidatePublicValue(peerPublic); err != nil {
		return fmt.Errorf("peer public value rejected: %w", err)
	}

	secret, err := kp.SharedSecret(peerPublic)
	if err != nil {
		return fmt.Errorf("complete agreement: %w", err)
	}
	key, err := dh.DeriveSessionKey(secret)
	if err != nil {
		return fmt.Errorf("derive session key: %w", err)
	}

	c.sessionKey = key
	return nil
}

// messageLoop is the strictly sequential per-connection read loop. EOF is
// a graceful disconnect; message-level errors never terminate the session.
func (s *Server) messageLoop(c *conn) {
	for {
		line, err := c.readLine()
		if err != nil {
			c.log.Info("disconnect", zap.Error(err))
			return
		}
		s.handleEncryptedLine(c, line)
	}
}

// handleEncryptedLine decrypts one steady-state line and dispatches it.
func (s *Server) handleEncryptedLine(c *conn, line string) {
	plaintext, err := s.decryptLine(c, line)
	if err != nil {
		c.log.Warn("undecryptable line", zap.Error(err))
		s.sendError(c, protocol.CodeProcessingError)
		return
	}

	msg, err := protocol.Parse(plaintext)
	if err != nil {
		s.sendError(c, protocol.CodeInvalidJSON)
		return
	}
	if !msg.Has("type") {
		s.sendError(c, protocol.CodeMissingType)
		return
	}

	switch msg["type"] {
	case protocol.TypeBindRequest:
		s.handleBindRequest(c, msg)
	case protocol.TypeMessage:
		s.handleChatMessage(c, msg)
	default:
		s.sendError(c, protocol.CodeUnknownMessageType)
	}
}

func (s *Server) decryptLine(c *conn, line string) (string, error) {
	if !c.Secure() {
		return "", fmt.Errorf("no session key")
	}
	return seal.Decrypt(c.sessionKey, line)
}

func (s *Server) handleBindRequest(c *conn, msg protocol.Message) {
	if !msg.Has("mode", "target") {
		s.sendError(c, protocol.CodeInvalidBindRequest)
		return
	}

	mode := msg["mode"]
	target := protocol.SanitizeUsername(msg["target"])

	var result bind.Result
	switch mode {
	case protocol.ModeKeyless:
		result = s.binder.KeylessBind(c.username, target)
	case protocol.ModeKeyed:
		if !msg.Has("hash") {
			s.sendError(c, protocol.CodeMissingHash)
			return
		}
		result = s.binder.KeyedBind(c.username, target, msg["hash"])
	default:
		s.sendError(c, protocol.CodeInvalidBindMode)
		return
	}

	if err := c.SendSealed(result.ToMessage()); err != nil {
		c.log.Warn("send bind result failed", zap.Error(err))
	}

	switch result.Outcome {
	case bind.OutcomeSuccess:
		s.metrics.bindCompleted(mode)
		// The partner's copy carries the requester's name.
		s.router.SendToUser(result.Partner, protocol.Message{
			"type":    protocol.TypeBindSuccess,
			"partner": c.username,
		})
	case bind.OutcomeError:
		s.metrics.bindRejected(result.Code)
	}
}

func (s *Server) handleChatMessage(c *conn, msg protocol.Message) {
	text, ok := msg["text"]
	if !ok {
		s.sendError(c, protocol.CodeMissingText)
		return
	}

	if code := s.router.Route(c.username, text); code != "" {
		s.metrics.relayFailed(code)
		s.sendError(c, code)
		return
	}
	s.metrics.messageRelayed()
}

func (s *Server) sendError(c *conn, code string) {
	if err := c.SendSealed(protocol.ErrorMessage(code)); err != nil {
		c.log.Warn("send error reply failed", zap.String("code", code), zap.Error(err))
	}
}

// cleanup unwinds the connection's shared state: directory removal,
// unbind, partner notification, then stream close.
func (s *Server) cleanup(c *conn) {
	if c.username != "" {
		s.state.RemoveUser(c.username)
		if partner, ok := s.binder.Unbind(c.username); ok {
			s.router.NotifyPartnerDisconnected(c.username, partner)
		}
		c.log.Info("cleanup complete", zap.String("user", c.username))
	}
	_ = c.Close()
}

var _ registry.Peer = (*conn)(nil)
