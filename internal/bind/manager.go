// Package bind implements the matchmaking engine pairing logged-in users,
// either by mutual keyless request or by matching pre-shared secret hash.
package bind

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kidxcudi/Synq/internal/protocol"
	"github.com/kidxcudi/Synq/internal/registry"
)

// Outcome tags the three possible results of a bind request.
type Outcome int

const (
	// OutcomeSuccess means a pair was completed; Result.Partner is set.
	OutcomeSuccess Outcome = iota
	// OutcomeWaiting means the request was recorded, pending the other side.
	OutcomeWaiting
	// OutcomeError means the request was rejected; Result.Code is set.
	OutcomeError
)

// Result is the tri-state outcome of a bind operation. Only the fields
// valid for the tagged case are populated.
type Result struct {
	Outcome Outcome
	Partner string
	Code    string
}

func success(partner string) Result { return Result{Outcome: OutcomeSuccess, Partner: partner} }
func waiting() Result               { return Result{Outcome: OutcomeWaiting} }
func failure(code string) Result    { return Result{Outcome: OutcomeError, Code: code} }

// ToMessage renders the result in the wire shape sent to the requester.
func (r Result) ToMessage() protocol.Message {
	switch r.Outcome {
	case OutcomeSuccess:
		return protocol.Message{"type": protocol.TypeBindSuccess, "partner": r.Partner}
	case OutcomeWaiting:
		return protocol.Message{"type": protocol.TypeInfo, "message": "waiting_for_partner"}
	default:
		return protocol.ErrorMessage(r.Code)
	}
}

// Manager serializes all pairing check-then-act sequences against the
// shared directories. Every mutation of the waiting lists and the pair
// directory flows through it.
type Manager struct {
	mu          sync.Mutex
	state       *registry.State
	waitTimeout time.Duration
	log         *zap.Logger
}

// NewManager wires the engine to the shared state. waitTimeout bounds how
// long a keyed waiting entry remains matchable.
func NewManager(state *registry.State, waitTimeout time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		state:       state,
		waitTimeout: waitTimeout,
		log:         log,
	}
}

// KeylessBind records requester→target and completes the pair if the
// target has an outstanding mutual request.
func (m *Manager) KeylessBind(requester, target string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if code := m.checkBindable(requester, target); code != "" {
		return failure(code)
	}

	m.state.SetKeyless(requester, target)

	if want, ok := m.state.KeylessTarget(target); ok && want == requester {
		m.completeBind(requester, target)
		return success(target)
	}
	return waiting()
}

// KeyedBind completes the pair when a non-expired waiting entry for the
// canonical (sorted) pair carries the identical hash; otherwise it records
// a new waiting entry.
func (m *Manager) KeyedBind(requester, target, hash string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !protocol.ValidHash(hash) {
		return failure(protocol.CodeInvalidHash)
	}
	if code := m.checkBindable(requester, target); code != "" {
		return failure(code)
	}

	userA, userB := canonicalPair(requester, target)

	if m.state.TakeKeyedMatch(userA, userB, hash, m.waitTimeout) {
		m.completeBind(userA, userB)
		if requester == userA {
			return success(userB)
		}
		return success(userA)
	}

	m.state.AppendKeyed(userA, userB, hash)
	return waiting()
}

// Unbind clears every waiting entry naming the user and dissolves its
// active pair, returning the former partner. Called once per disconnect.
func (m *Manager) Unbind(username string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.ClearKeyless(username)
	m.state.RemoveKeyedFor(username)

	partner, ok := m.state.Unpair(username)
	if ok {
		m.log.Info("unbind", zap.String("user", username), zap.String("partner", partner))
	}
	return partner, ok
}

// Partner returns the active partner for a user.
func (m *Manager) Partner(username string) (string, bool) {
	return m.state.Partner(username)
}

// StartSweeper runs the keyed-entry janitor until the context ends. The
// sweep only bounds memory; the matching scan already ignores expired
// entries.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := m.state.SweepExpiredKeyed(m.waitTimeout); removed > 0 {
					m.log.Debug("swept expired keyed entries", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// checkBindable runs the shared precondition checks; it returns an error
// code or "" when the request may proceed.
func (m *Manager) checkBindable(requester, target string) string {
	if !m.state.UserOnline(target) {
		return protocol.CodeTargetOffline
	}
	if requester == target {
		return protocol.CodeCannotBindSelf
	}
	if m.state.Bound(requester) {
		return protocol.CodeAlreadyBound
	}
	return ""
}

// completeBind inserts the symmetric pair and scrubs both users' keyless
// waiting entries.
func (m *Manager) completeBind(userA, userB string) {
	m.state.Pair(userA, userB)
	m.state.ClearKeyless(userA, userB)
	m.log.Info("bind", zap.String("userA", userA), zap.String("userB", userB))
}

func canonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
