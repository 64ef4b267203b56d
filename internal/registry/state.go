// Package registry holds the process-wide shared state: the connected-user
// directory, both bind waiting lists, and the active-pair directory. One
// State value is constructed at startup and injected into every component
// that mutates it.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/kidxcudi/Synq/internal/crypto/seal"
	"github.com/kidxcudi/Synq/internal/protocol"
)

// ErrUserExists reports a login collision; exactly one concurrent
// registration for a name wins.
var ErrUserExists = errors.New("username already registered")

// Peer is a live client connection registered for a logged-in user. The
// registry references peers, it does not own them.
type Peer interface {
	Username() string
	Secure() bool
	SendSealed(msg protocol.Message) error
	Close() error
}

// KeyEntry is one keyed-bind waiting record. UserA sorts before UserB so a
// single scan finds the pair regardless of request direction.
type KeyEntry struct {
	UserA     string
	UserB     string
	Hash      string
	CreatedAt time.Time
}

// State owns the four shared directories behind a single lock.
type State struct {
	mu             sync.RWMutex
	users          map[string]Peer
	waitingKeyless map[string]string
	waitingKeyed   []KeyEntry
	activePairs    map[string]string
	nowFn          func() time.Time
}

// New constructs empty directories.
func New() *State {
	return &State{
		users:          make(map[string]Peer),
		waitingKeyless: make(map[string]string),
		activePairs:    make(map[string]string),
		nowFn:          time.Now,
	}
}

// RegisterUser reserves a username for a peer. The check-and-set is atomic:
// of two concurrent registrations for the same name, exactly one succeeds.
func (s *State) RegisterUser(name string, p Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.users[name]; taken {
		return ErrUserExists
	}
	s.users[name] = p
	return nil
}

// RemoveUser drops a username from the directory. Called exactly once,
// during that connection's cleanup.
func (s *State) RemoveUser(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, name)
}

// User fetches the live peer for a username.
func (s *State) User(name string) (Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[name]
	return p, ok
}

// UserOnline reports whether a username is currently registered.
func (s *State) UserOnline(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[name]
	return ok
}

// UserCount returns the number of connected users.
func (s *State) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// SetKeyless records requester→target, overwriting any prior request from
// the same requester.
func (s *State) SetKeyless(requester, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingKeyless[requester] = target
}

// KeylessTarget returns the outstanding keyless request from a user.
func (s *State) KeylessTarget(user string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.waitingKeyless[user]
	return target, ok
}

// ClearKeyless drops the keyless waiting entries for the given users.
func (s *State) ClearKeyless(users ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		delete(s.waitingKeyless, u)
	}
}

// AppendKeyed adds a keyed waiting entry stamped with the current time.
func (s *State) AppendKeyed(userA, userB, hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingKeyed = append(s.waitingKeyed, KeyEntry{
		UserA:     userA,
		UserB:     userB,
		Hash:      hash,
		CreatedAt: s.nowFn(),
	})
}

// TakeKeyedMatch removes and reports the first non-expired entry for the
// canonical pair whose hash equals the submitted one under constant-time
// comparison. Expired entries are treated as absent regardless of any
// sweeper.
func (s *State) TakeKeyedMatch(userA, userB, hash string, maxAge time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowFn().Add(-maxAge)
	for i, entry := range s.waitingKeyed {
		if entry.CreatedAt.Before(cutoff) {
			continue
		}
		if entry.UserA == userA && entry.UserB == userB && seal.ConstantTimeEquals(entry.Hash, hash) {
			s.waitingKeyed = append(s.waitingKeyed[:i], s.waitingKeyed[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveKeyedFor drops every keyed entry naming the user on either side.
func (s *State) RemoveKeyedFor(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.waitingKeyed[:0]
	removed := 0
	for _, entry := range s.waitingKeyed {
		if entry.UserA == user || entry.UserB == user {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.waitingKeyed = kept
	return removed
}

// SweepExpiredKeyed physically removes entries older than maxAge. Matching
// correctness never depends on this running; it only bounds memory.
func (s *State) SweepExpiredKeyed(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.nowFn().Add(-maxAge)
	kept := s.waitingKeyed[:0]
	removed := 0
	for _, entry := range s.waitingKeyed {
		if entry.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.waitingKeyed = kept
	return removed
}

// KeyedCount returns the number of keyed waiting entries.
func (s *State) KeyedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.waitingKeyed)
}

// Pair inserts both directions of an active pair as one atomic step; no
// reader can observe A→B without B→A.
func (s *State) Pair(userA, userB string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePairs[userA] = userB
	s.activePairs[userB] = userA
}

// Unpair removes a user and its partner's reverse entry together,
// returning the former partner if one existed.
func (s *State) Unpair(user string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	partner, ok := s.activePairs[user]
	if !ok {
		return "", false
	}
	delete(s.activePairs, user)
	delete(s.activePairs, partner)
	return partner, true
}

// Partner returns the active partner for a user.
func (s *State) Partner(user string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partner, ok := s.activePairs[user]
	return partner, ok
}

// Bound reports whether a user currently has a partner.
func (s *State) Bound(user string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.activePairs[user]
	return ok
}

// PairCount returns the number of active pairs (each pair stores two
// directory entries).
func (s *State) PairCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.activePairs) / 2
}

// Shutdown closes every registered peer and clears all directories.
func (s *State) Shutdown() {
	s.mu.Lock()
	peers := make([]Peer, 0, len(s.users))
	for _, p := range s.users {
		peers = append(peers, p)
	}
	s.users = make(map[string]Peer)
	s.waitingKeyless = make(map[string]string)
	s.waitingKeyed = nil
	s.activePairs = make(map[string]string)
	s.mu.Unlock()

	for _, p := range peers {
		_ = p.Close()
	}
}
