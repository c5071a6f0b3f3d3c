package heart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/NullCoward/HolonAI/pkg/aiclient"
	"github.com/NullCoward/HolonAI/pkg/holon"
	"github.com/NullCoward/HolonAI/pkg/telemetry"
)

type fakeClient struct {
	name string
	send func(ctx context.Context, params aiclient.SendParams) (string, error)
}

func (f *fakeClient) Name() string {
	if f.name == "" {
		return "openai"
	}
	return f.name
}

func (f *fakeClient) Send(ctx context.Context, params aiclient.SendParams) (string, error) {
	return f.send(ctx, params)
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []*Heartbeat
}

func (s *recordingSaver) SaveHeartbeat(ctx context.Context, hb *Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, hb)
	return nil
}

func dueAgent(t *testing.T) *holon.Agent {
	t.Helper()
	a := holon.New()
	if err := a.SetNextHeartbeat(time.Now().UTC().Add(-2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	return a
}

func newTestHeart(t *testing.T, cfg Config) *Heart {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	h, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestBeatSingleAgentSingleAction(t *testing.T) {
	root := dueAgent(t)
	if err := root.SetTokenBank(100); err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return fmt.Sprintf(`{"%s": {"actions": [{"action": "knowledge_set", "params": {"path": "x", "value": 42}}]}}`, root.ID()), nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	hb, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb == nil || hb.Len() != 1 {
		t.Fatalf("heartbeat = %v", hb)
	}

	v, err := root.KnowledgeGet("x")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := v.(float64); !ok || n != 42 {
		t.Errorf("knowledge x = %v (%T)", v, v)
	}
	if !root.LastHeartbeat().Equal(hb.HeartbeatTime()) {
		t.Errorf("last heartbeat = %v, beat time = %v", root.LastHeartbeat(), hb.HeartbeatTime())
	}
	if want := hb.HeartbeatTime().Add(time.Second); !root.NextHeartbeat().Equal(want) {
		t.Errorf("next heartbeat = %v, want %v", root.NextHeartbeat(), want)
	}
	if history := h.History(); len(history) != 1 || history[0] != hb {
		t.Errorf("history = %v", history)
	}
	if !hb.IsComplete() {
		t.Error("heartbeat not complete")
	}
}

func TestBeatSkipsInsolventUntilAllocated(t *testing.T) {
	root := dueAgent(t)
	if err := root.SetTokenBank(-1); err != nil {
		t.Fatal(err)
	}
	var calls int64
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		atomic.AddInt64(&calls, 1)
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	hb, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb != nil {
		t.Fatal("insolvent holon was processed")
	}
	if atomic.LoadInt64(&calls) != 0 {
		t.Fatal("AI called with empty due set")
	}
	if len(h.History()) != 0 {
		t.Fatal("empty tick entered history")
	}

	h.AddTokenAllocation(root, 2)
	if err := root.SetNextHeartbeat(time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	hb, err = h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb == nil || hb.Len() != 1 {
		t.Fatalf("heartbeat after allocation = %v", hb)
	}
	if root.TokenBank() != 1 {
		t.Errorf("token bank = %d, want 1", root.TokenBank())
	}
}

func TestBeatSingleInFlight(t *testing.T) {
	root := dueAgent(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		close(entered)
		<-release
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	type beatResult struct {
		hb  *Heartbeat
		err error
	}
	first := make(chan beatResult, 1)
	go func() {
		hb, err := h.Beat(context.Background())
		first <- beatResult{hb, err}
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first beat never reached the AI call")
	}

	// The first beat holds the holon's active marker, so a second beat
	// finds nothing due.
	hb2, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb2 != nil {
		t.Fatal("second beat selected a holon with an active heartbeat")
	}

	close(release)
	res := <-first
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.hb == nil || res.hb.Len() != 1 {
		t.Fatalf("first beat = %v", res.hb)
	}
	if root.HasActiveHeartbeat() {
		t.Error("marker survived the first beat")
	}
}

func TestBeatIncludesAllDueDescendants(t *testing.T) {
	root := dueAgent(t)
	child, err := root.CreateChild()
	if err != nil {
		t.Fatal(err)
	}
	if err := child.SetNextHeartbeat(time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	// Not due: scheduled well in the future.
	late, err := root.CreateChild()
	if err != nil {
		t.Fatal(err)
	}
	if err := late.SetNextHeartbeat(time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	hb, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb == nil || hb.Len() != 2 {
		t.Fatalf("heartbeat = %v", hb)
	}
	ids := map[string]bool{}
	for _, a := range hb.Agents() {
		ids[a.ID()] = true
	}
	if !ids[root.ID()] || !ids[child.ID()] || ids[late.ID()] {
		t.Errorf("participants = %v", ids)
	}
}

func TestBeatExcludesInterfaceAgent(t *testing.T) {
	root := holon.NewWithID(holon.InterfaceAgentID)
	if err := root.SetNextHeartbeat(time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		t.Error("interface agent reached the AI")
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	hb, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb != nil {
		t.Fatal("interface agent heartbeated")
	}
}

func TestBeatTransportFailure(t *testing.T) {
	root := dueAgent(t)
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "", errors.New("connection refused")
	}}
	tel := telemetry.New()
	h := newTestHeart(t, Config{Root: root, Client: client, Telemetry: tel})

	_, err := h.Beat(context.Background())
	if err == nil {
		t.Fatal("expected transport error")
	}
	if root.HasActiveHeartbeat() {
		t.Error("marker not cleared after failure")
	}
	history := h.History()
	if len(history) != 1 {
		t.Fatalf("history = %d", len(history))
	}
	if !history[0].IsComplete() {
		t.Error("failed heartbeat left active in history")
	}
	if len(tel.Errors()) == 0 {
		t.Error("failure not recorded in telemetry")
	}

	// The holon is schedulable again on the next tick.
	if err := root.SetNextHeartbeat(time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	ok := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "{}", nil
	}}
	h2 := newTestHeart(t, Config{Root: root, Client: ok})
	hb, err := h2.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb == nil {
		t.Fatal("holon not rescheduled after failed beat")
	}
}

func TestBeatStructuredFlag(t *testing.T) {
	var got atomic.Bool
	makeBeat := func(name string, structured bool) {
		root := dueAgent(t)
		client := &fakeClient{name: name, send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
			got.Store(params.Structured)
			return "{}", nil
		}}
		h := newTestHeart(t, Config{Root: root, Client: client, StructuredOutput: structured})
		if _, err := h.Beat(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	makeBeat("openai", true)
	if !got.Load() {
		t.Error("structured output not requested from openai")
	}
	makeBeat("anthropic", true)
	if got.Load() {
		t.Error("structured output requested from a backend that ignores it")
	}
	makeBeat("openai", false)
	if got.Load() {
		t.Error("structured output requested while disabled")
	}
}

func TestBeatPersistsHistory(t *testing.T) {
	root := dueAgent(t)
	saver := &recordingSaver{}
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client, Storage: saver})

	hb, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	saver.mu.Lock()
	defer saver.mu.Unlock()
	if len(saver.saved) != 1 || saver.saved[0] != hb {
		t.Errorf("saved = %v", saver.saved)
	}
}

func TestBeatInvokesCallback(t *testing.T) {
	root := dueAgent(t)
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	var seen *Heartbeat
	h.OnHeartbeat(func(hb *Heartbeat) { seen = hb })

	hb, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if seen != hb {
		t.Errorf("callback saw %v, want %v", seen, hb)
	}
}

func TestTokenAllocationManagement(t *testing.T) {
	root := holon.New()
	other := holon.New()
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	h.AddTokenAllocation(root, 5)
	h.AddTokenAllocation(root, 3)
	h.AddTokenAllocation(other, 7)

	if !h.RemoveTokenAllocation(root) {
		t.Fatal("expected removals")
	}
	if h.RemoveTokenAllocation(root) {
		t.Fatal("second removal should find nothing")
	}

	h.SetTokenAllocation(other, 9)
	h.mu.Lock()
	allocs := make([]allocation, len(h.allocations))
	copy(allocs, h.allocations)
	h.mu.Unlock()
	if len(allocs) != 1 || allocs[0].agent != other || allocs[0].amount != 9 {
		t.Errorf("allocations = %v", allocs)
	}
}

func TestStartStop(t *testing.T) {
	root := holon.New()
	if err := root.SetNextHeartbeat(time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	var beats int64
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		atomic.AddInt64(&beats, 1)
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client, Interval: 10 * time.Millisecond})

	h.Start()
	h.Start() // idempotent
	if !h.IsRunning() {
		t.Fatal("heart not running")
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&beats) == 0 {
		select {
		case <-deadline:
			t.Fatal("no beat within deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	h.Stop()
	h.Stop() // idempotent
	if h.IsRunning() {
		t.Fatal("heart still running after stop")
	}
}

func TestStopLetsInflightBeatComplete(t *testing.T) {
	root := dueAgent(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int64
	var ctxErr error
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		if atomic.AddInt64(&calls, 1) > 1 {
			return "{}", nil
		}
		close(entered)
		<-release
		ctxErr = ctx.Err()
		return fmt.Sprintf(`{"%s": {"actions": [{"action": "knowledge_set", "params": {"path": "x", "value": 1}}]}}`, root.ID()), nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client, Interval: 10 * time.Millisecond})

	completed := make(chan *Heartbeat, 1)
	h.OnHeartbeat(func(hb *Heartbeat) { completed <- hb })

	h.Start()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no beat reached the AI call")
	}

	// With the AI call still blocked, Stop gives up after 2x the
	// interval and returns; the tick keeps running.
	h.Stop()
	if h.IsRunning() {
		t.Fatal("heart still running after stop")
	}
	close(release)

	var hb *Heartbeat
	select {
	case hb = <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight beat never completed after Stop")
	}

	if ctxErr != nil {
		t.Fatalf("AI call context = %v, want no cancellation during Stop", ctxErr)
	}
	if !hb.IsComplete() {
		t.Error("in-flight heartbeat left incomplete")
	}
	if v, err := root.KnowledgeGet("x"); err != nil || v != float64(1) {
		t.Errorf("in-flight tick's actions dropped: %v (err %v)", v, err)
	}
	if root.HasActiveHeartbeat() {
		t.Error("marker survived the beat")
	}
}

func TestBeatExcludesExactBoundary(t *testing.T) {
	// The due check is strict: next_heartbeat at floor_second(now)+1s
	// sits exactly on the boundary and must wait for the next tick,
	// while one microsecond earlier is inside the window.
	now := time.Now().UTC()
	boundary := now.Truncate(time.Second).Add(time.Second)
	if boundary.Sub(now) < 200*time.Millisecond {
		time.Sleep(boundary.Sub(now))
		boundary = boundary.Add(time.Second)
	}

	root := holon.New()
	if err := root.SetNextHeartbeat(boundary); err != nil {
		t.Fatal(err)
	}
	child, err := root.CreateChild()
	if err != nil {
		t.Fatal(err)
	}
	if err := child.SetNextHeartbeat(boundary.Add(-time.Microsecond)); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "{}", nil
	}}
	h := newTestHeart(t, Config{Root: root, Client: client})

	hb, err := h.Beat(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if hb == nil || hb.Len() != 1 {
		t.Fatalf("heartbeat = %v, want exactly the sub-boundary holon", hb)
	}
	if hb.Agents()[0].ID() != child.ID() {
		t.Errorf("participant = %s, want %s", hb.Agents()[0].ID(), child.ID())
	}
	if root.HasActiveHeartbeat() {
		t.Error("boundary holon was claimed")
	}
	if !root.NextHeartbeat().Equal(boundary) {
		t.Errorf("boundary holon clock moved to %v", root.NextHeartbeat())
	}
}

func TestNewValidatesConfig(t *testing.T) {
	client := &fakeClient{send: func(ctx context.Context, params aiclient.SendParams) (string, error) {
		return "{}", nil
	}}
	if _, err := New(Config{Client: client}); err == nil {
		t.Error("expected error without root")
	}
	if _, err := New(Config{Root: holon.New()}); err == nil {
		t.Error("expected error without client")
	}

	h, err := New(Config{Root: holon.New(), Client: client})
	if err != nil {
		t.Fatal(err)
	}
	if h.interval != time.Second || h.model != "gpt-4o" || h.maxTokens != aiclient.DefaultMaxTokens {
		t.Errorf("defaults = %v / %v / %v", h.interval, h.model, h.maxTokens)
	}
}
