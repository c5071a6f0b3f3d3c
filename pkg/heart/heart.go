package heart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/NullCoward/HolonAI/pkg/aiclient"
	"github.com/NullCoward/HolonAI/pkg/aitokens"
	"github.com/NullCoward/HolonAI/pkg/holon"
	"github.com/NullCoward/HolonAI/pkg/telemetry"
)

// HeartbeatSaver persists a completed heartbeat cycle.
type HeartbeatSaver interface {
	SaveHeartbeat(ctx context.Context, hb *Heartbeat) error
}

// Config assembles a Heart. Root and Client are required; everything
// else has a usable default.
type Config struct {
	Root              *holon.Agent
	Client            aiclient.Client
	Model             string
	Interval          time.Duration
	MaxResponseTokens int
	StructuredOutput  bool
	// RequestTimeout bounds each AI call. Zero means unbounded.
	RequestTimeout time.Duration
	Telemetry      *telemetry.Collector
	Storage        HeartbeatSaver
	OnHeartbeat    func(*Heartbeat)
	Logger         zerolog.Logger
}

type allocation struct {
	agent  *holon.Agent
	amount int64
}

// Heart runs the heartbeat loop: every interval it allocates standing
// token grants, selects due solvent holons, sends one combined prompt to
// the AI and dispatches the resulting actions.
type Heart struct {
	root           *holon.Agent
	client         aiclient.Client
	model          string
	interval       time.Duration
	maxTokens      int
	structured     bool
	requestTimeout time.Duration
	telemetry      *telemetry.Collector
	saver          HeartbeatSaver
	log            zerolog.Logger

	mu          sync.Mutex
	allocations []allocation
	history     []*Heartbeat
	onHeartbeat func(*Heartbeat)
	running     bool
	cancel      context.CancelFunc
	loopDone    chan struct{}

	// tickMu serializes Beat: ticks never overlap even when an AI call
	// outlasts the interval.
	tickMu sync.Mutex
}

// New validates cfg and builds a stopped Heart.
func New(cfg Config) (*Heart, error) {
	if cfg.Root == nil {
		return nil, errors.New("heart: root agent is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("heart: AI client is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	maxTokens := cfg.MaxResponseTokens
	if maxTokens <= 0 {
		maxTokens = aiclient.DefaultMaxTokens
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.New()
	}
	return &Heart{
		root:           cfg.Root,
		client:         cfg.Client,
		model:          model,
		interval:       interval,
		maxTokens:      maxTokens,
		structured:     cfg.StructuredOutput,
		requestTimeout: cfg.RequestTimeout,
		telemetry:      tel,
		saver:          cfg.Storage,
		onHeartbeat:    cfg.OnHeartbeat,
		log:            cfg.Logger.With().Str("component", "heart").Logger(),
	}, nil
}

// IsRunning reports whether the loop goroutine is active.
func (h *Heart) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Start launches the heartbeat loop. Starting a running heart is a
// no-op.
func (h *Heart) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.running = true
	h.cancel = cancel
	h.loopDone = make(chan struct{})
	go h.run(ctx, h.loopDone)
	h.log.Info().Dur("interval", h.interval).Str("model", h.model).Msg("Heart started")
}

// Stop signals the loop and waits up to twice the interval for it to
// exit. A tick already in flight runs to completion: its AI call is
// never interrupted, and subsequent ticks do not start.
func (h *Heart) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	cancel := h.cancel
	done := h.loopDone
	h.mu.Unlock()

	cancel()
	select {
	case <-done:
		h.log.Info().Msg("Heart stopped")
	case <-time.After(2 * h.interval):
		h.log.Warn().Msg("Heartbeat loop did not exit in time")
	}
}

func (h *Heart) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.Beat(ctx); err != nil {
				h.log.Err(err).Msg("Heartbeat failed")
			}
		}
	}
}

// OnHeartbeat registers a callback invoked with each completed
// heartbeat.
func (h *Heart) OnHeartbeat(fn func(*Heartbeat)) {
	h.mu.Lock()
	h.onHeartbeat = fn
	h.mu.Unlock()
}

// History returns a copy of all heartbeats so far, oldest first.
func (h *Heart) History() []*Heartbeat {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Heartbeat, len(h.history))
	copy(out, h.history)
	return out
}

// AddTokenAllocation registers a standing per-tick grant for a holon.
func (h *Heart) AddTokenAllocation(a *holon.Agent, amount int64) {
	h.mu.Lock()
	h.allocations = append(h.allocations, allocation{agent: a, amount: amount})
	h.mu.Unlock()
}

// RemoveTokenAllocation drops every grant for a holon and reports
// whether any existed.
func (h *Heart) RemoveTokenAllocation(a *holon.Agent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.allocations[:0]
	removed := false
	for _, al := range h.allocations {
		if al.agent == a {
			removed = true
			continue
		}
		kept = append(kept, al)
	}
	h.allocations = kept
	return removed
}

// SetTokenAllocation replaces every grant for a holon with one amount.
func (h *Heart) SetTokenAllocation(a *holon.Agent, amount int64) {
	h.RemoveTokenAllocation(a)
	h.AddTokenAllocation(a, amount)
}

// Beat runs one heartbeat cycle. It returns (nil, nil) when no holon is
// due and the completed Heartbeat otherwise. A transport failure clears
// the participants' active markers and surfaces as the error.
func (h *Heart) Beat(ctx context.Context) (*Heartbeat, error) {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	start := time.Now()
	beatID := xid.New().String()
	log := h.log.With().Str("beat_id", beatID).Logger()

	now := time.Now().UTC()
	beatTime := now.Truncate(time.Second)
	boundary := beatTime.Add(time.Second)

	h.mu.Lock()
	allocs := make([]allocation, len(h.allocations))
	copy(allocs, h.allocations)
	h.mu.Unlock()

	// Standing grants land every tick, insolvent holons included; this
	// is their only path back above zero.
	for _, al := range allocs {
		balance, err := al.agent.AddTokens(al.amount)
		if err != nil {
			log.Err(err).Str("holon_id", al.agent.ID()).Msg("Token allocation failed to persist")
			h.telemetry.RecordError("token_allocation", err.Error(), map[string]any{"holon_id": al.agent.ID()})
			continue
		}
		h.telemetry.RecordTokenAllocation(al.agent.ID(), al.amount)
		log.Debug().Str("holon_id", al.agent.ID()).Int64("amount", al.amount).Int64("balance", balance).Msg("Allocated tokens")
	}

	hb := NewHeartbeat(beatTime)
	for _, c := range h.root.CollectHeartbeats() {
		if c.Agent.ID() == holon.InterfaceAgentID {
			continue
		}
		if !c.NextHeartbeat.Before(boundary) || c.TokenBank < 0 || c.Active {
			continue
		}
		// Claim before snapshotting; a concurrent Beat that loses this
		// race skips the holon entirely.
		if !c.Agent.MarkHeartbeatStarted(c.NextHeartbeat) {
			continue
		}
		hb.AddAgent(c.Agent, c.NextHeartbeat)
		h.telemetry.RecordAgentHeartbeat(c.Agent.ID())
	}
	if hb.Len() == 0 {
		return nil, nil
	}

	log.Info().Time("heartbeat_time", beatTime).Int("holons", hb.Len()).Msg("Heartbeat started")

	hb.setExecutionTime(time.Now().UTC())

	// History sees the heartbeat before the AI call so observers can
	// tell it is in flight.
	h.mu.Lock()
	h.history = append(h.history, hb)
	callback := h.onHeartbeat
	h.mu.Unlock()

	serStart := time.Now()
	prompt := hb.BuildPrompt()
	h.telemetry.RecordSerialization(time.Since(serStart))

	promptTokens := aitokens.CountForModel(prompt, h.model)
	log.Debug().Int("prompt_tokens", promptTokens).Str("model", h.model).Msg("Calling AI")

	// A tick that has started always runs to completion. Stopping the
	// heart must not abort the AI call or drop the resulting actions,
	// so the call and the follow-up saves are detached from the loop
	// context; only the request timeout bounds them.
	beatCtx := context.WithoutCancel(ctx)
	callCtx := beatCtx
	if h.requestTimeout > 0 {
		var cancelCall context.CancelFunc
		callCtx, cancelCall = context.WithTimeout(beatCtx, h.requestTimeout)
		defer cancelCall()
	}
	aiStart := time.Now()
	responseText, err := h.client.Send(callCtx, aiclient.SendParams{
		Prompt:     prompt,
		Model:      h.model,
		MaxTokens:  h.maxTokens,
		Structured: h.structured && h.client.Name() == "openai",
	})
	aiDuration := time.Since(aiStart)
	hb.setCompletionTime(time.Now().UTC())

	if err != nil {
		// The heartbeat stays in history as a failed cycle; the
		// participants must become schedulable again.
		for _, a := range hb.Agents() {
			a.ClearActiveHeartbeat()
		}
		kind := aiclient.Classify(err)
		h.telemetry.RecordError("ai_call", err.Error(), map[string]any{"model": h.model, "beat_id": beatID, "kind": string(kind)})
		if cle := aiclient.ParseContextLength(err); cle != nil {
			log.Warn().
				Int("model_max_tokens", cle.ModelMaxTokens).
				Int("requested_tokens", cle.RequestedTokens).
				Msg("Prompt overflowed the model context window")
		}
		return nil, fmt.Errorf("heartbeat AI call (%s): %w", kind, err)
	}

	responseTokens := aitokens.CountForModel(responseText, h.model)
	h.telemetry.RecordAICall(aiDuration, promptTokens, responseTokens)
	log.Debug().Int("response_tokens", responseTokens).Dur("ai_duration", aiDuration).Msg("AI responded")

	if err := hb.ProcessResponse(responseText); err != nil {
		log.Warn().Err(err).Msg("Could not parse AI reply, dispatching empty actions")
		h.telemetry.RecordError("parse_response", err.Error(), map[string]any{"beat_id": beatID})
	}

	outcomes, dispatchErr := hb.Dispatch()
	for agentID, outs := range outcomes {
		for _, out := range outs {
			h.telemetry.RecordAction(agentID, out.Action, out.Duration, out.Err == nil)
			if out.Err != nil {
				log.Warn().Err(out.Err).Str("holon_id", agentID).Str("action", out.Action).Msg("Action failed")
				h.telemetry.RecordError("action", out.Err.Error(), map[string]any{"holon_id": agentID, "action": out.Action})
			}
		}
	}
	if dispatchErr != nil {
		log.Err(dispatchErr).Msg("Heartbeat results failed to persist")
		h.telemetry.RecordError("dispatch_save", dispatchErr.Error(), map[string]any{"beat_id": beatID})
	}

	if h.saver != nil {
		if err := h.saver.SaveHeartbeat(beatCtx, hb); err != nil {
			log.Err(err).Msg("Heartbeat history failed to persist")
			h.telemetry.RecordError("heartbeat_save", err.Error(), map[string]any{"beat_id": beatID})
		}
	}

	h.telemetry.RecordHeartbeat(time.Since(start), hb.Len())
	log.Info().Int("holons", hb.Len()).Dur("duration", time.Since(start)).Msg("Heartbeat complete")

	if callback != nil {
		callback(hb)
	}
	return hb, nil
}
