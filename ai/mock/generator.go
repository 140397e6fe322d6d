package mock

import (
	"context"
	"sync"
)

// DefaultAnswer is returned by a MockGenerator without GenerateFunc.
const DefaultAnswer = "mock answer"

// GenerateCall records the arguments of one Generate call.
type GenerateCall struct {
	System string
	User   string
}

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	GenerateFunc func(ctx context.Context, system, user string) (string, error)

	mu    sync.Mutex
	calls []GenerateCall
}

// NewMockGenerator creates a mock generator that answers DefaultAnswer.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// WithGenerateFunc sets GenerateFunc and returns the generator.
func (m *MockGenerator) WithGenerateFunc(fn func(ctx context.Context, system, user string) (string, error)) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateFunc = fn
	return m
}

func (m *MockGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, GenerateCall{System: system, User: user})
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, system, user)
	}
	return DefaultAnswer, nil
}

// CallCount returns the number of times Generate was called.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastCall returns the most recent call, false if there was none.
func (m *MockGenerator) LastCall() (GenerateCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return GenerateCall{}, false
	}
	return m.calls[len(m.calls)-1], true
}

// Reset clears recorded calls and GenerateFunc.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.GenerateFunc = nil
}
