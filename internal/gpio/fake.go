package gpio

// FakeWriter is a test double that records every write.
type FakeWriter struct {
	// Writes contains a copy of every level vector written.
	Writes [][]bool

	// Levels is the current state of every line.
	Levels []bool

	// WriteError, if set, will be returned by Write.
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeWriter creates a FakeWriter with n lines, all low.
func NewFakeWriter(n int) *FakeWriter {
	return &FakeWriter{Levels: make([]bool, n)}
}

// Write records levels and updates the line state.
func (f *FakeWriter) Write(levels []bool) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Writes = append(f.Writes, append([]bool(nil), levels...))
	f.Levels = append(f.Levels[:0], levels...)
	return nil
}

// Close drives every line low and marks the writer closed.
func (f *FakeWriter) Close() error {
	for i := range f.Levels {
		f.Levels[i] = false
	}
	f.Closed = true
	return nil
}
