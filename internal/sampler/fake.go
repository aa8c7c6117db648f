package sampler

// FakeReader is a test double that returns scripted ADC codes.
type FakeReader struct {
	// Codes contains scripted raw codes. Each call to ReadRaw consumes the next one.
	Codes []int

	// index tracks current position in Codes
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by ReadRaw.
	ReadError error
}

// NewFakeReader creates a FakeReader with the given codes.
func NewFakeReader(codes []int) *FakeReader {
	return &FakeReader{Codes: codes}
}

// ReadRaw returns the next scripted code.
// If codes are exhausted, returns the last code repeatedly.
func (f *FakeReader) ReadRaw() (int, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}

	if len(f.Codes) == 0 {
		return 0, ErrNoSample
	}

	code := f.Codes[f.index]
	if f.index < len(f.Codes)-1 {
		f.index++
	}

	return code, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// CodeFor returns the raw code that d converts closest to volts. Handy for
// scripting readers in tests.
func CodeFor(d Divider, volts float64) int {
	scale := d.VRef / float64(d.ADCMax) * (d.Ra + d.Rb) / d.Rb
	code := int(volts/scale + 0.5)
	code, _ = d.Clamp(code)
	return code
}
