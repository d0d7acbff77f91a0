package weave

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/loreweave/loom/weave/adapters"
	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/stretchr/testify/mock"
)

// wordCounter counts whitespace-separated words as tokens.
var wordCounter = ports.TokenCounterFunc(func(text string) int { return len(strings.Fields(text)) })

func wordsOf(n int) string {
	return strings.TrimSpace(strings.Repeat("w ", n))
}

type completionCall struct {
	Msgs      []ports.RequestMessage
	MaxTokens int
	Params    ports.SamplingParams
}

// StubCompleter implements Completer for testing and records every call.
type StubCompleter struct {
	mu           sync.Mutex
	calls        []completionCall
	completeFunc func(call completionCall) (string, error)
}

func (c *StubCompleter) Complete(ctx context.Context, msgs []ports.RequestMessage, maxTokens int, params ports.SamplingParams) (string, error) {
	call := completionCall{Msgs: msgs, MaxTokens: maxTokens, Params: params}
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
	if c.completeFunc != nil {
		return c.completeFunc(call)
	}
	return "stub reply", nil
}

func (c *StubCompleter) Calls() []completionCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]completionCall(nil), c.calls...)
}

// replies answers calls in order and repeats the last reply.
func replies(texts ...string) func(completionCall) (string, error) {
	var (
		mu sync.Mutex
		i  int
	)
	return func(completionCall) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		t := texts[min(i, len(texts)-1)]
		i++
		return t, nil
	}
}

// MockCompleter is a testify mock of the Completer port.
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, msgs []ports.RequestMessage, maxTokens int, params ports.SamplingParams) (string, error) {
	args := m.Called(ctx, msgs, maxTokens, params)
	return args.String(0), args.Error(1)
}

type saveCall struct {
	Key         string
	Fragment    *ports.Fragment
	NewFragment bool
}

// recordingStore wraps the in-memory store, counts calls and injects failures.
type recordingStore struct {
	*adapters.MemoryFragmentStore

	mu       sync.Mutex
	fetches  int
	saves    []saveCall
	fetchErr error
	saveErr  error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryFragmentStore: adapters.NewMemoryFragmentStore()}
}

func (s *recordingStore) Fetch(ctx context.Context, key string) (*ports.Fragment, error) {
	s.mu.Lock()
	s.fetches++
	err := s.fetchErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryFragmentStore.Fetch(ctx, key)
}

func (s *recordingStore) Save(ctx context.Context, key string, f *ports.Fragment, newFragment bool) error {
	s.mu.Lock()
	s.saves = append(s.saves, saveCall{Key: key, Fragment: f.Clone(), NewFragment: newFragment})
	err := s.saveErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryFragmentStore.Save(ctx, key, f, newFragment)
}

func (s *recordingStore) Saves() []saveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]saveCall(nil), s.saves...)
}

// seed stores a fragment built from contents, alternating user and assistant.
func (s *recordingStore) seed(key string, contents ...string) *ports.Fragment {
	f := &ports.Fragment{}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range contents {
		role := ports.RoleUser
		if i%2 == 1 {
			role = ports.RoleAssistant
		}
		f.Append(wordCounter, ports.Message{Role: role, Author: "ana", Content: c, Timestamp: ts.Add(time.Duration(i) * time.Second)})
	}
	if err := s.MemoryFragmentStore.Save(context.Background(), key, f, true); err != nil {
		panic(err)
	}
	return f
}

type metricsRecorder struct {
	mu       sync.Mutex
	outcomes []string
	compact  []bool
	tokens   map[string][]int
}

func (m *metricsRecorder) ObserveTurn(outcome string, compacted bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
	m.compact = append(m.compact, compacted)
}

func (m *metricsRecorder) ObserveTokens(kind string, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string][]int)
	}
	m.tokens[kind] = append(m.tokens[kind], tokens)
}
