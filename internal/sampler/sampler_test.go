package sampler

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceDivider is a 5V 10-bit ADC behind a 56k/10k divider (33V full scale).
var referenceDivider = Divider{VRef: 5.0, ADCMax: 1023, Ra: 56000, Rb: 10000}

func TestDividerVolts(t *testing.T) {
	d := referenceDivider

	assert.InDelta(t, 0.0, d.Volts(0), 1e-9)
	assert.InDelta(t, 33.0, d.Volts(1023), 1e-9)
	assert.InDelta(t, 16.5, d.Volts(1023)/2, 1e-9)
	assert.InDelta(t, 512*5.0/1023*6.6, d.Volts(512), 1e-9)
	assert.InDelta(t, 33.0, d.FullScale(), 1e-9)
}

func TestDividerClampsOutOfRange(t *testing.T) {
	d := referenceDivider

	code, clamped := d.Clamp(-5)
	assert.Equal(t, 0, code)
	assert.True(t, clamped)

	code, clamped = d.Clamp(4096)
	assert.Equal(t, 1023, code)
	assert.True(t, clamped)

	code, clamped = d.Clamp(700)
	assert.Equal(t, 700, code)
	assert.False(t, clamped)

	assert.InDelta(t, d.FullScale(), d.Volts(5000), 1e-9)
	assert.InDelta(t, 0.0, d.Volts(-1), 1e-9)
}

func TestDividerValidate(t *testing.T) {
	require.NoError(t, referenceDivider.Validate())

	bad := []Divider{
		{VRef: 5, ADCMax: 0, Ra: 1, Rb: 1},
		{VRef: 0, ADCMax: 1023, Ra: 1, Rb: 1},
		{VRef: 5, ADCMax: 1023, Ra: 1, Rb: 0},
		{VRef: 5, ADCMax: 1023, Ra: -1, Rb: 1},
	}
	for _, d := range bad {
		assert.Error(t, d.Validate(), "%+v", d)
	}
}

func TestSamplerSample(t *testing.T) {
	reader := NewFakeReader([]int{0, 1023, 2000, -3})
	s := New(reader, referenceDivider)

	r, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, Reading{Raw: 0, Volts: 0}, r)

	r, err = s.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 33.0, r.Volts, 1e-9)
	assert.False(t, r.Clamped)

	r, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, 1023, r.Raw)
	assert.True(t, r.Clamped)

	r, err = s.Sample()
	require.NoError(t, err)
	assert.Equal(t, 0, r.Raw)
	assert.True(t, r.Clamped)
}

func TestSamplerReadErrorIsZeroReading(t *testing.T) {
	reader := NewFakeReader([]int{512})
	reader.ReadError = errors.New("bus fault")
	s := New(reader, referenceDivider)

	r, err := s.Sample()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus fault")
	assert.Equal(t, Reading{}, r)
}

func TestSamplerClose(t *testing.T) {
	reader := NewFakeReader([]int{1})
	s := New(reader, referenceDivider)
	require.NoError(t, s.Close())
	assert.True(t, reader.Closed)
}

func TestFakeReaderRepeatsLast(t *testing.T) {
	f := NewFakeReader([]int{1, 2})
	for _, want := range []int{1, 2, 2, 2} {
		got, err := f.ReadRaw()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	f.Reset()
	got, _ := f.ReadRaw()
	assert.Equal(t, 1, got)

	_, err := NewFakeReader(nil).ReadRaw()
	assert.ErrorIs(t, err, ErrNoSample)
}

func TestCodeFor(t *testing.T) {
	d := referenceDivider
	for _, v := range []float64{0, 12.3, 24.9, 26.5, 33} {
		assert.InDelta(t, v, d.Volts(CodeFor(d, v)), d.FullScale()/float64(d.ADCMax), "volts %.2f", v)
	}
	assert.Equal(t, d.ADCMax, CodeFor(d, 100))
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSerialReaderFollowsLatestCode(t *testing.T) {
	pr, pw := io.Pipe()
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewSerialReader(pr, 2*time.Second, clock.now)

	_, err := r.ReadRaw()
	require.ErrorIs(t, err, ErrNoSample)

	_, err = io.WriteString(pw, "512\n\ngarbage\n700\r\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		code, err := r.ReadRaw()
		return err == nil && code == 700
	}, time.Second, 5*time.Millisecond)

	clock.advance(3 * time.Second)
	_, err = r.ReadRaw()
	assert.ErrorIs(t, err, ErrNoSample)

	require.NoError(t, r.Close())
	_, err = r.ReadRaw()
	assert.Error(t, err)
}

func TestSerialReaderStreamEnd(t *testing.T) {
	pr, pw := io.Pipe()
	r := NewSerialReader(pr, 0, time.Now)

	io.WriteString(pw, "100\n")
	pw.Close()

	require.Eventually(t, func() bool {
		_, err := r.ReadRaw()
		return err != nil && errors.Is(err, io.EOF)
	}, time.Second, 5*time.Millisecond)
	r.Close()
}

func TestIIOReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in_voltage0_raw")
	require.NoError(t, os.WriteFile(path, []byte("1234\n"), 0o644))

	r, err := NewIIOReader(path)
	require.NoError(t, err)

	code, err := r.ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, 1234, code)

	require.NoError(t, os.WriteFile(path, []byte("bogus"), 0o644))
	_, err = r.ReadRaw()
	assert.Error(t, err)

	_, err = NewIIOReader(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
	assert.NoError(t, r.Close())
}
