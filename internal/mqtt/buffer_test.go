package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushN(rb *ringBuffer, from, to int) {
	for i := from; i < to; i++ {
		rb.push(bufferedMsg{topic: "relay/events", payload: []byte{byte(i)}})
	}
}

func payloads(msgs []bufferedMsg) []byte {
	out := make([]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(4)
	assert.Nil(t, rb.drainAll())
}

func TestRingBufferKeepsOrder(t *testing.T) {
	rb := newRingBuffer(8)
	pushN(rb, 0, 6)

	got := rb.drainAll()
	require.Len(t, got, 6)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5}, payloads(got))
	assert.Equal(t, 0, rb.len(), "empty after drain")
}

func TestRingBufferOverflowDropsOldest(t *testing.T) {
	rb := newRingBuffer(4)
	pushN(rb, 0, 7) // 0..6, keeps 3..6

	assert.Equal(t, 3, rb.dropped)

	got := rb.drainAll()
	require.Len(t, got, 4)
	assert.Equal(t, []byte{3, 4, 5, 6}, payloads(got))
}

func TestRingBufferDroppedSurvivesDrain(t *testing.T) {
	rb := newRingBuffer(2)
	pushN(rb, 0, 3)
	rb.drainAll()
	pushN(rb, 10, 13)

	assert.Equal(t, 2, rb.dropped)
	assert.Equal(t, []byte{11, 12}, payloads(rb.drainAll()))
}

func TestRingBufferCapacityFloor(t *testing.T) {
	rb := newRingBuffer(0)
	pushN(rb, 0, 3)

	assert.Equal(t, []byte{2}, payloads(rb.drainAll()), "zero capacity keeps the newest message")
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer(2)
	want := bufferedMsg{
		topic:    "energy/battery/relay/system",
		payload:  []byte(`{"system":{}}`),
		qos:      1,
		retained: true,
	}
	rb.push(want)

	got := rb.drainAll()
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
}
