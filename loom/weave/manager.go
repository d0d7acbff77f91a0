// Package weave budgets conversation history against a model's context window and
// compacts it into a summary when the budget runs out.
//
// Each turn re-reads the conversation's current fragment from storage, decides
// whether it must be summarized first, asks the completion backend for a reply within
// the remaining budget, and saves the updated fragment. The Manager keeps no fragment
// state between turns.
package weave

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/rs/zerolog"
)

// TokenWordRatio approximates how many words fit in one token.
const TokenWordRatio = 0.75

// DefaultSummaryFraction is the slice of the context window reserved for a turn.
const DefaultSummaryFraction = 0.1

const (
	summaryDirective  = "Generate a summary of the entire conversation so far. Respond with %d words or less."
	responseDirective = "Respond with %d words or less."
	// summaryFrame sets a fresh summary apart from the instruction it follows.
	summaryFrame = "\n\"\"\"\n %s"
)

// TurnConfig holds the per-deployment constants used for every turn.
type TurnConfig struct {
	Model            Model
	Temperature      float32
	PresencePenalty  float32
	FrequencyPenalty float32
	// SummaryFraction of the context window is both the compaction trigger and the
	// ceiling for summary and reply generation.
	SummaryFraction float64
	// ContextWindow overrides the model's window for every turn; 0 uses the model max.
	ContextWindow int
}

// DefaultTurnConfig returns the defaults: GPT3, deterministic sampling, 10% reservation.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		Model:           DefaultModel,
		SummaryFraction: DefaultSummaryFraction,
	}
}

// Validate rejects configurations the engine cannot budget with.
func (c TurnConfig) Validate() error {
	if c.Model < 0 || int(c.Model) >= len(modelProfiles) {
		return fmt.Errorf("%w: unknown model %d", ErrBadConfig, int(c.Model))
	}
	if c.SummaryFraction <= 0 || c.SummaryFraction > 1 || math.IsNaN(c.SummaryFraction) {
		return fmt.Errorf("%w: summary fraction %v must be in (0, 1]", ErrBadConfig, c.SummaryFraction)
	}
	if c.ContextWindow < 0 || c.ContextWindow > c.Model.MaxContext() {
		return fmt.Errorf("%w: context window %d exceeds model %s max %d",
			ErrBadConfig, c.ContextWindow, c.Model.Name(), c.Model.MaxContext())
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature %v must be in [0, 2]", ErrBadConfig, c.Temperature)
	}
	if c.PresencePenalty < -2 || c.PresencePenalty > 2 {
		return fmt.Errorf("%w: presence penalty %v must be in [-2, 2]", ErrBadConfig, c.PresencePenalty)
	}
	if c.FrequencyPenalty < -2 || c.FrequencyPenalty > 2 {
		return fmt.Errorf("%w: frequency penalty %v must be in [-2, 2]", ErrBadConfig, c.FrequencyPenalty)
	}
	return nil
}

// TurnRequest carries the arguments of a single turn.
type TurnRequest struct {
	ID     ConversationID
	System string
	// OverrideWindow narrows the context window for this turn; 0 means no override.
	OverrideWindow int
	Message        string
	Author         string
}

// Budget is the token arithmetic of a turn, as computed before any generation.
type Budget struct {
	Window         int  `json:"window"`
	Reservation    int  `json:"reservation"`
	FragmentTokens int  `json:"fragment_tokens"`
	IncomingTokens int  `json:"incoming_tokens"`
	Compaction     bool `json:"compaction"`
	// SummaryTokens is the summary ceiling when Compaction is set.
	SummaryTokens int `json:"summary_tokens"`
	// Exhausted reports that the turn would fail with ErrBudgetExhausted before
	// any generation.
	Exhausted bool `json:"exhausted"`
	// OutputTokens is the reply ceiling when Compaction is not set; with compaction it
	// depends on the summary length and is left at 0.
	OutputTokens int `json:"output_tokens"`
}

// Manager runs the turn algorithm against injected collaborators.
type Manager struct {
	cfg         TurnConfig
	profile     ModelProfile
	store       ports.FragmentStore
	completer   ports.Completer
	counter     ports.TokenCounter
	assembler   *Assembler
	tracer      ports.Tracer
	metrics     ports.Metrics
	logger      zerolog.Logger
	now         func() time.Time
	parallelism int
}

// NewManager validates cfg and wires the required collaborators.
func NewManager(cfg TurnConfig, store ports.FragmentStore, completer ports.Completer, counter ports.TokenCounter) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || completer == nil || counter == nil {
		return nil, fmt.Errorf("%w: store, completer and token counter are required", ErrBadConfig)
	}

	return &Manager{
		cfg:       cfg,
		profile:   cfg.Model.Profile(),
		store:     store,
		completer: completer,
		counter:   counter,
		assembler: NewAssembler(),
		tracer:    noOpTracer{},
		metrics:   noOpMetrics{},
		logger:    zerolog.Nop(),
		now:       time.Now,
	}, nil
}

// WithTracer sets the tracer.
func (m *Manager) WithTracer(t ports.Tracer) *Manager {
	if t != nil {
		m.tracer = t
	}
	return m
}

// WithMetrics sets the metrics sink.
func (m *Manager) WithMetrics(mt ports.Metrics) *Manager {
	if mt != nil {
		m.metrics = mt
	}
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(l zerolog.Logger) *Manager {
	m.logger = l
	return m
}

// WithClock replaces the timestamp source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// WithParallelism bounds the number of conversations WeaveAll runs at once.
func (m *Manager) WithParallelism(n int) *Manager {
	m.parallelism = n
	return m
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() TurnConfig { return m.cfg }

// Weave runs one conversation turn and returns the model's reply. The turn either
// completes fully, generation and persistence both, or leaves storage untouched.
func (m *Manager) Weave(ctx context.Context, req TurnRequest) (reply string, err error) {
	start := time.Now()
	compacted := false
	defer func() {
		m.metrics.ObserveTurn(outcome(err), compacted, time.Since(start))
	}()

	key, err := requestKey(req)
	if err != nil {
		return "", err
	}
	window, err := m.window(req.OverrideWindow)
	if err != nil {
		return "", err
	}

	ctx, finish := m.tracer.StartSpan(ctx, "weave", map[string]any{"conversation": key})
	defer func() { finish(err) }()
	log := m.logger.With().Str("conversation", key).Logger()

	fragment, err := m.load(ctx, key, log)
	if err != nil {
		return "", err
	}

	reservation := reservationFor(window, m.cfg.SummaryFraction)
	incoming := m.counter.CountTokens(req.Message)
	m.metrics.ObserveTokens("incoming", incoming)

	log.Debug().
		Int("reservation", reservation).
		Int("fragment_tokens", fragment.TotalTokens).
		Int("incoming_tokens", incoming).
		Msg("turn budget")

	if reservation <= fragment.TotalTokens+incoming {
		fragment, err = m.compact(ctx, req.System, fragment, reservation)
		if err != nil {
			log.Warn().Err(err).Msg("compaction failed")
			return "", err
		}
		compacted = true
		m.tracer.Event(ctx, "compacted", map[string]any{"fragment_tokens": fragment.TotalTokens})
		log.Info().Int("fragment_tokens", fragment.TotalTokens).Msg("conversation compacted into new fragment")
	}

	maxOutput := reservation - fragment.TotalTokens - incoming
	if maxOutput <= 0 {
		return "", fmt.Errorf("%w: reservation %d leaves no room for a reply (fragment %d, message %d)",
			ErrBudgetExhausted, reservation, fragment.TotalTokens, incoming)
	}
	m.metrics.ObserveTokens("output_ceiling", maxOutput)

	userTS := m.next(lastTimestamp(fragment))
	user := ports.Message{Role: ports.RoleUser, Author: req.Author, Content: req.Message, Timestamp: userTS}

	msgs := withSystem(req.System, fragment.Messages, 2)
	if compacted {
		msgs[1].Content = fmt.Sprintf(summaryFrame, msgs[1].Content)
	}
	msgs = append(msgs, user, ports.Message{
		Role:    ports.RoleSystem,
		Content: fmt.Sprintf(responseDirective, words(maxOutput)),
	})
	request, err := m.assembler.Assemble(msgs)
	if err != nil {
		return "", err
	}

	reply, err = m.complete(ctx, "generation", request, maxOutput)
	if err != nil {
		log.Error().Err(err).Msg("generation failed")
		return "", err
	}

	assistant := ports.Message{Role: ports.RoleAssistant, Author: req.Author, Content: reply, Timestamp: m.next(userTS)}
	fragment.Append(m.counter, user, assistant)

	if err := m.store.Save(ctx, key, fragment, compacted); err != nil {
		log.Error().Err(err).Bool("new_fragment", compacted).Msg("failed to save fragment")
		return "", fmt.Errorf("%w: save %s: %w", ErrStorageFailed, key, err)
	}

	log.Debug().Int("fragment_tokens", fragment.TotalTokens).Bool("new_fragment", compacted).Msg("fragment saved")
	return reply, nil
}

// Budget computes a turn's token arithmetic without generating or saving anything.
func (m *Manager) Budget(ctx context.Context, req TurnRequest) (Budget, error) {
	key, err := requestKey(req)
	if err != nil {
		return Budget{}, err
	}
	window, err := m.window(req.OverrideWindow)
	if err != nil {
		return Budget{}, err
	}
	fragment, err := m.load(ctx, key, m.logger)
	if err != nil {
		return Budget{}, err
	}

	b := Budget{
		Window:         window,
		Reservation:    reservationFor(window, m.cfg.SummaryFraction),
		FragmentTokens: fragment.TotalTokens,
		IncomingTokens: m.counter.CountTokens(req.Message),
	}
	if b.Reservation <= b.FragmentTokens+b.IncomingTokens {
		b.Compaction = true
		b.SummaryTokens = max(b.Reservation-b.FragmentTokens, 0)
		b.Exhausted = b.SummaryTokens == 0
		return b, nil
	}
	b.OutputTokens = b.Reservation - b.FragmentTokens - b.IncomingTokens
	return b, nil
}

// Fragment reads a stored fragment instance; instance 0 is the current one.
func (m *Manager) Fragment(ctx context.Context, id ConversationID, instance int) (*ports.Fragment, error) {
	key, err := requestKey(TurnRequest{ID: id})
	if err != nil {
		return nil, err
	}

	var f *ports.Fragment
	if instance == 0 {
		f, err = m.store.Fetch(ctx, key)
	} else {
		archive, ok := m.store.(ports.FragmentArchive)
		if !ok {
			return nil, fmt.Errorf("%w: store %T does not keep fragment history", ErrStorageFailed, m.store)
		}
		f, err = archive.FetchInstance(ctx, key, instance)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrStorageFailed, key, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s instance %d", ErrFragmentNotFound, key, instance)
	}
	return f, nil
}

// compact summarizes the fragment and returns the fragment that replaces it.
func (m *Manager) compact(ctx context.Context, system string, f *ports.Fragment, reservation int) (*ports.Fragment, error) {
	tokensForSummary := reservation - f.TotalTokens
	if tokensForSummary <= 0 {
		return nil, fmt.Errorf("%w: reservation %d leaves no room for a summary of %d tokens",
			ErrBudgetExhausted, reservation, f.TotalTokens)
	}

	msgs := withSystem(system, f.Messages, 1)
	msgs = append(msgs, ports.Message{
		Role:    ports.RoleSystem,
		Content: fmt.Sprintf(summaryDirective, words(tokensForSummary)),
	})
	request, err := m.assembler.Assemble(msgs)
	if err != nil {
		return nil, err
	}

	summary, err := m.complete(ctx, "compaction", request, tokensForSummary)
	if err != nil {
		return nil, err
	}
	m.metrics.ObserveTokens("summary", m.counter.CountTokens(summary))

	systemTS := m.next(lastTimestamp(f))
	next := &ports.Fragment{}
	next.Append(m.counter,
		ports.Message{Role: ports.RoleSystem, Content: system, Timestamp: systemTS},
		ports.Message{Role: ports.RoleSystem, Content: summary, Timestamp: m.next(systemTS)},
	)
	return next, nil
}

func (m *Manager) complete(ctx context.Context, stage string, request []ports.RequestMessage, maxTokens int) (string, error) {
	ctx, finish := m.tracer.StartSpan(ctx, stage, map[string]any{
		"max_tokens": maxTokens,
		"messages":   len(request),
	})
	text, err := m.completer.Complete(ctx, request, maxTokens, m.params())
	finish(err)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrCompletionFailed, stage, err)
	}
	return text, nil
}

func (m *Manager) load(ctx context.Context, key string, log zerolog.Logger) (*ports.Fragment, error) {
	f, err := m.store.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", ErrStorageFailed, key, err)
	}
	if f == nil {
		return &ports.Fragment{}, nil
	}
	if err := f.Verify(m.counter); err != nil {
		log.Warn().Err(err).Msg("recounting stored fragment")
		f.Recount(m.counter)
	}
	return f, nil
}

func (m *Manager) window(override int) (int, error) {
	switch {
	case override < 0:
		return 0, fmt.Errorf("%w: negative context window %d", ErrBadConfig, override)
	case override > m.profile.MaxContext:
		return 0, fmt.Errorf("%w: context window %d exceeds model %s max %d",
			ErrBadConfig, override, m.profile.Name, m.profile.MaxContext)
	case override > 0:
		return override, nil
	case m.cfg.ContextWindow > 0:
		return m.cfg.ContextWindow, nil
	}
	return m.profile.MaxContext, nil
}

func (m *Manager) params() ports.SamplingParams {
	return ports.SamplingParams{
		Model:            m.profile.Name,
		Temperature:      m.cfg.Temperature,
		PresencePenalty:  m.cfg.PresencePenalty,
		FrequencyPenalty: m.cfg.FrequencyPenalty,
	}
}

// next returns a timestamp strictly after prev.
func (m *Manager) next(prev time.Time) time.Time {
	ts := m.now().UTC()
	if !ts.After(prev) {
		ts = prev.Add(time.Nanosecond)
	}
	return ts
}

func requestKey(req TurnRequest) (string, error) {
	if req.ID == nil {
		return "", fmt.Errorf("%w: missing conversation id", ErrBadConfig)
	}
	key := req.ID.BaseKey()
	if key == "" {
		return "", fmt.Errorf("%w: empty conversation key", ErrBadConfig)
	}
	return key, nil
}

func reservationFor(window int, fraction float64) int {
	return int(math.Floor(float64(window) * fraction))
}

func words(tokens int) int {
	return int(math.Floor(float64(tokens) * TokenWordRatio))
}

// withSystem prefixes history with the system instruction. A compacted fragment
// already starts with the same instruction, so it is not repeated.
func withSystem(system string, history []ports.Message, extra int) []ports.Message {
	if len(history) > 0 && history[0].Role == ports.RoleSystem && history[0].Content == system {
		history = history[1:]
	}
	out := make([]ports.Message, 0, len(history)+1+extra)
	out = append(out, ports.Message{Role: ports.RoleSystem, Content: system})
	return append(out, history...)
}

func lastTimestamp(f *ports.Fragment) time.Time {
	if len(f.Messages) == 0 {
		return time.Time{}
	}
	return f.Messages[len(f.Messages)-1].Timestamp
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBadConfig):
		return "bad_config"
	case errors.Is(err, ErrBudgetExhausted):
		return "budget_exhausted"
	case errors.Is(err, ErrCompletionFailed):
		return "completion_failed"
	case errors.Is(err, ErrStorageFailed):
		return "storage_failed"
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	}
	return "error"
}
