package telemetry

import "sync"

// FakeTransport records metrics for test assertions. Safe for concurrent use,
// since the Port calls Send from its worker goroutine.
type FakeTransport struct {
	mu      sync.Mutex
	metrics []Metric
	deliver func(Command)

	// SendError, if set, will be returned by Send.
	SendError error

	// Block, if set, makes Send wait until it is closed.
	Block chan struct{}

	closed bool
}

// NewFakeTransport creates a FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

// Name implements Transport.
func (f *FakeTransport) Name() string { return "fake" }

// Send records m.
func (f *FakeTransport) Send(m Metric) error {
	if f.Block != nil {
		<-f.Block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendError != nil {
		return f.SendError
	}
	f.metrics = append(f.metrics, m)
	return nil
}

// Listen keeps deliver so tests can inject commands with Inject.
func (f *FakeTransport) Listen(deliver func(Command)) error {
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	return nil
}

// Inject delivers c as if it arrived on the transport.
func (f *FakeTransport) Inject(c Command) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	if deliver != nil {
		deliver(c)
	}
}

// Metrics returns a copy of every recorded metric.
func (f *FakeTransport) Metrics() []Metric {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Metric(nil), f.metrics...)
}

// Values returns the recorded values of metric name, in order.
func (f *FakeTransport) Values(name string) []string {
	var out []string
	for _, m := range f.Metrics() {
		if m.Name == name {
			out = append(out, m.Value)
		}
	}
	return out
}

// Close marks the transport closed.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
