package bind

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kidxcudi/Synq/internal/protocol"
	"github.com/kidxcudi/Synq/internal/registry"
)

type stubPeer struct{ name string }

func (p *stubPeer) Username() string                      { return p.name }
func (p *stubPeer) Secure() bool                          { return true }
func (p *stubPeer) SendSealed(msg protocol.Message) error { return nil }
func (p *stubPeer) Close() error                          { return nil }

func newTestManager(t *testing.T, users ...string) (*Manager, *registry.State) {
	t.Helper()
	state := registry.New()
	for _, u := range users {
		if err := state.RegisterUser(u, &stubPeer{name: u}); err != nil {
			t.Fatalf("register %s: %v", u, err)
		}
	}
	return NewManager(state, time.Minute, zaptest.NewLogger(t)), state
}

func hashOf(seed string) string {
	return strings.Repeat(seed, 64/len(seed))
}

func TestKeylessBindMutual(t *testing.T) {
	m, state := newTestManager(t, "alice", "bob")

	res := m.KeylessBind("alice", "bob")
	if res.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting, got %+v", res)
	}

	res = m.KeylessBind("bob", "alice")
	if res.Outcome != OutcomeSuccess || res.Partner != "alice" {
		t.Fatalf("expected success with partner alice, got %+v", res)
	}

	if p, ok := state.Partner("alice"); !ok || p != "bob" {
		t.Fatalf("expected alice bound to bob, got %q %v", p, ok)
	}
	if _, ok := state.KeylessTarget("alice"); ok {
		t.Fatal("expected keyless entries scrubbed after bind")
	}
}

func TestKeylessBindErrors(t *testing.T) {
	m, _ := newTestManager(t, "alice", "bob", "carol")

	if res := m.KeylessBind("alice", "ghost"); res.Outcome != OutcomeError || res.Code != protocol.CodeTargetOffline {
		t.Fatalf("expected target_offline, got %+v", res)
	}
	if res := m.KeylessBind("alice", "alice"); res.Outcome != OutcomeError || res.Code != protocol.CodeCannotBindSelf {
		t.Fatalf("expected cannot_bind_self, got %+v", res)
	}

	m.KeylessBind("alice", "bob")
	m.KeylessBind("bob", "alice")

	if res := m.KeylessBind("alice", "carol"); res.Outcome != OutcomeError || res.Code != protocol.CodeAlreadyBound {
		t.Fatalf("expected already_bound, got %+v", res)
	}
}

func TestKeylessBindOverwritesEarlierRequest(t *testing.T) {
	m, _ := newTestManager(t, "alice", "bob", "carol")

	m.KeylessBind("alice", "bob")
	m.KeylessBind("alice", "carol")

	// alice's request for bob was overwritten; bob's request must wait.
	if res := m.KeylessBind("bob", "alice"); res.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting after overwrite, got %+v", res)
	}
	if res := m.KeylessBind("carol", "alice"); res.Outcome != OutcomeSuccess || res.Partner != "alice" {
		t.Fatalf("expected carol to match alice, got %+v", res)
	}
}

func TestKeylessBindConcurrentMutualExactlyOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		m, state := newTestManager(t, "alice", "bob")

		var wg sync.WaitGroup
		results := make([]Result, 2)
		wg.Add(2)
		go func() { defer wg.Done(); results[0] = m.KeylessBind("alice", "bob") }()
		go func() { defer wg.Done(); results[1] = m.KeylessBind("bob", "alice") }()
		wg.Wait()

		successes := 0
		for _, r := range results {
			if r.Outcome == OutcomeSuccess {
				successes++
			}
			if r.Outcome == OutcomeError {
				t.Fatalf("unexpected error outcome: %+v", r)
			}
		}
		if successes != 1 {
			t.Fatalf("expected exactly one success, got %d (%+v)", successes, results)
		}
		if state.PairCount() != 1 {
			t.Fatalf("expected exactly one pair, got %d", state.PairCount())
		}
	}
}

func TestKeyedBindMatch(t *testing.T) {
	m, state := newTestManager(t, "alice", "bob")
	hash := hashOf("ab")

	if res := m.KeyedBind("bob", "alice", hash); res.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting, got %+v", res)
	}
	res := m.KeyedBind("alice", "bob", hash)
	if res.Outcome != OutcomeSuccess || res.Partner != "bob" {
		t.Fatalf("expected success with partner bob, got %+v", res)
	}
	if state.KeyedCount() != 0 {
		t.Fatalf("expected matched entry consumed, got %d left", state.KeyedCount())
	}
}

func TestKeyedBindMismatchedHashNeverBinds(t *testing.T) {
	m, state := newTestManager(t, "alice", "bob")

	m.KeyedBind("alice", "bob", hashOf("ab"))
	if res := m.KeyedBind("bob", "alice", hashOf("cd")); res.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting for mismatched hash, got %+v", res)
	}
	if state.PairCount() != 0 {
		t.Fatal("mismatched hashes must never complete a bind")
	}
	// Both entries remain pending; the correct hash still matches.
	if res := m.KeyedBind("bob", "alice", hashOf("ab")); res.Outcome != OutcomeSuccess || res.Partner != "alice" {
		t.Fatalf("expected success once hashes agree, got %+v", res)
	}
}

func TestKeyedBindInvalidHash(t *testing.T) {
	m, _ := newTestManager(t, "alice", "bob")

	for _, h := range []string{"", "xyz", strings.Repeat("g", 64), strings.Repeat("a", 63)} {
		if res := m.KeyedBind("alice", "bob", h); res.Outcome != OutcomeError || res.Code != protocol.CodeInvalidHash {
			t.Fatalf("expected invalid_hash for %q, got %+v", h, res)
		}
	}
}

func TestKeyedBindExpiredEntryNeverMatches(t *testing.T) {
	state := registry.New()
	for _, u := range []string{"alice", "bob"} {
		if err := state.RegisterUser(u, &stubPeer{name: u}); err != nil {
			t.Fatalf("register %s: %v", u, err)
		}
	}
	m := NewManager(state, 10*time.Millisecond, zaptest.NewLogger(t))
	hash := hashOf("ab")

	m.KeyedBind("alice", "bob", hash)
	time.Sleep(30 * time.Millisecond)

	// Same hash after the wait timeout: the stale entry must be ignored
	// and a fresh waiting entry recorded instead.
	if res := m.KeyedBind("bob", "alice", hash); res.Outcome != OutcomeWaiting {
		t.Fatalf("expected waiting against expired entry, got %+v", res)
	}
	if state.PairCount() != 0 {
		t.Fatal("expired entry must never complete a bind")
	}
}

func TestUnbindClearsEverything(t *testing.T) {
	m, state := newTestManager(t, "alice", "bob", "carol")

	m.KeylessBind("carol", "alice")
	m.KeyedBind("carol", "bob", hashOf("ef"))
	m.KeylessBind("alice", "bob")
	m.KeylessBind("bob", "alice")

	partner, ok := m.Unbind("alice")
	if !ok || partner != "bob" {
		t.Fatalf("expected former partner bob, got %q %v", partner, ok)
	}
	if state.Bound("bob") {
		t.Fatal("expected partner side cleared too")
	}

	if _, ok := m.Unbind("carol"); ok {
		t.Fatal("carol was never bound")
	}
	if state.KeyedCount() != 0 {
		t.Fatalf("expected carol's keyed entries removed, got %d", state.KeyedCount())
	}
}

func TestResultToMessage(t *testing.T) {
	cases := []struct {
		res  Result
		want protocol.Message
	}{
		{success("bob"), protocol.Message{"type": "bind_success", "partner": "bob"}},
		{waiting(), protocol.Message{"type": "info", "message": "waiting_for_partner"}},
		{failure(protocol.CodeAlreadyBound), protocol.Message{"type": "error", "error": "already_bound"}},
	}
	for _, c := range cases {
		got := c.res.ToMessage()
		if len(got) != len(c.want) {
			t.Fatalf("unexpected message %v, want %v", got, c.want)
		}
		for k, v := range c.want {
			if got[k] != v {
				t.Fatalf("unexpected message %v, want %v", got, c.want)
			}
		}
	}
}
