package strings

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAccumulates(t *testing.T) {
	b := NewBuilder(8)
	b.WriteString("stream=")
	b.WriteString("orders")
	b.WriteByte('/')

	assert.Equal(t, "stream=orders/", b.String())
	assert.Equal(t, 14, b.Len())

	b.Reset()
	assert.Equal(t, "", b.String())
	assert.Equal(t, 0, b.Len())
}

func TestBuilderImplementsWriter(t *testing.T) {
	b := NewBuilder(8)
	n, err := io.Copy(b, strings.NewReader("payload"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "payload", b.String())
}

func TestGetBuilderReturnsResetBuilder(t *testing.T) {
	b := GetBuilder(Small)
	b.WriteString("leftover")
	PutBuilder(b, Small)

	again := GetBuilder(Small)
	defer PutBuilder(again, Small)
	assert.Equal(t, 0, again.Len())
}

func TestGetBuilderUnknownSizeFallsBack(t *testing.T) {
	b := GetBuilder(BuilderSize(42))
	defer PutBuilder(b, BuilderSize(42))
	b.WriteString("x")
	assert.Equal(t, "x", b.String())
}

func TestSprintf(t *testing.T) {
	assert.Equal(t, "plain", Sprintf("plain"))
	assert.Equal(t, "processed:42", Sprintf("processed:%d", 42))
	assert.Equal(t, fmt.Sprintf("%s: %v", "config", io.EOF), Sprintf("%s: %v", "config", io.EOF))
}

// A result built on a pooled buffer must survive the builder's reuse.
func TestSprintfResultOwnsItsMemory(t *testing.T) {
	first := Sprintf("stream=%s", "orders")
	for i := 0; i < 64; i++ {
		Sprintf("stream=%s", "XXXXXX")
	}
	assert.Equal(t, "stream=orders", first)
}

func TestCloneDetachesFromBuffer(t *testing.T) {
	buf := []byte("orders")
	s := Clone(BytesToString(buf))
	buf[0] = 'X'
	assert.Equal(t, "orders", s)
}

func TestZeroCopyConversionsRoundTrip(t *testing.T) {
	assert.Equal(t, "", BytesToString(nil))
	assert.Nil(t, StringToBytes(""))

	b := []byte("keyset")
	s := BytesToString(b)
	assert.Equal(t, "keyset", s)
	assert.Equal(t, b, StringToBytes(s))
}
