package protocol

// Typed error codes reported to clients. Handshake-phase codes travel in
// the plaintext reply's "message" field; secure-phase codes travel in the
// encrypted reply's "error" field.
const (
	CodeInvalidLoginRequest = "invalid_login_request"
	CodeInvalidRequestType  = "invalid_request_type"
	CodeInvalidUsername     = "invalid_username"
	CodeUsernameTaken       = "username_taken"
	CodeMissingType         = "missing_type"
	CodeInvalidJSON         = "invalid_json"
	CodeProcessingError     = "processing_error"
	CodeUnknownMessageType  = "unknown_message_type"
	CodeInvalidBindRequest  = "invalid_bind_request"
	CodeMissingHash         = "missing_hash"
	CodeInvalidBindMode     = "invalid_bind_mode"
	CodeTargetOffline       = "target_offline"
	CodeCannotBindSelf      = "cannot_bind_self"
	CodeAlreadyBound        = "already_bound"
	CodeInvalidHash         = "invalid_hash"
	CodeMissingText         = "missing_text"
	CodeInvalidMessage      = "invalid_message"
	CodeNotBound            = "not_bound"
	CodePartnerOffline      = "partner_offline"
	CodeRelayFailed         = "relay_failed"
)

// Message types exchanged during the secure phase.
const (
	TypeLogin               = "login"
	TypeBindRequest         = "bind_request"
	TypeMessage             = "message"
	TypeBindSuccess         = "bind_success"
	TypeInfo                = "info"
	TypeError               = "error"
	TypeSuccess             = "success"
	TypePartnerDisconnected = "partner_disconnected"
)

// Bind request modes.
const (
	ModeKeyless = "keyless"
	ModeKeyed   = "keyed"
)

// ErrorMessage builds the encrypted-phase error reply.
func ErrorMessage(code string) Message {
	return Message{"type": TypeError, "error": code}
}

// PlainReply builds the plaintext handshake-phase reply shape.
func PlainReply(msgType, text string) Message {
	return Message{"type": msgType, "message": text}
}
