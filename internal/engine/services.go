package engine

import "sync"

// ServiceLocator resolves external dependencies activities need, such as an
// HTTP client.
type ServiceLocator interface {
	Service(name string) (any, bool)
}

// Well-known service names.
const (
	ServiceHTTPClient = "http.client"
	ServiceOutput     = "output.writer"
	ServiceBreakers   = "http.breakers"
	ServiceWorkflows  = "workflow.dispatcher"
)

// Services is a concurrency-safe map-backed ServiceLocator.
type Services struct {
	mu sync.RWMutex
	m  map[string]any
}

// NewServices creates a locator seeded with the given entries.
func NewServices(entries map[string]any) *Services {
	m := make(map[string]any, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return &Services{m: m}
}

// Register adds or replaces a service.
func (s *Services) Register(name string, svc any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = svc
}

// Service returns the named service.
func (s *Services) Service(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[name]
	return v, ok
}

// ServiceAs returns the named service if it has type T.
func ServiceAs[T any](loc ServiceLocator, name string) (T, bool) {
	var zero T
	if loc == nil {
		return zero, false
	}
	v, ok := loc.Service(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

type noServices struct{}

func (noServices) Service(string) (any, bool) { return nil, false }
