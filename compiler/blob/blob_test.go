package blob

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	sink := func(data []byte) error {
		_, err := buf.Write(data)
		return err
	}

	require.NoError(t, WriteFileHeader(sink))
	require.NoError(t, WritePermutation(sink, "A=0", []byte{1, 2, 3}))
	require.NoError(t, WritePermutation(sink, "A=1", []byte{4, 5}))

	assert.True(t, bytes.HasPrefix(buf.Bytes(), Signature))

	entries, err := Read(&buf)
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "A=0", entries[0].Permutation)
	assert.Equal(t, []byte{1, 2, 3}, entries[0].Data)
	assert.Equal(t, "A=1", entries[1].Permutation)
	assert.Equal(t, []byte{4, 5}, entries[1].Data)
}

func TestReadRejectsBadSignature(t *testing.T) {
	_, err := Read(strings.NewReader("JUNKDATA"))
	assert.Error(t, err)
}

func TestReadTruncatedEntry(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Signature)
	buf.Write([]byte{10, 0, 0, 0, 10, 0, 0, 0, 'A'})

	_, err := Read(&buf)
	assert.Error(t, err)
}

func TestHeaderSymbol(t *testing.T) {
	assert.Equal(t, "g_a_dxil", HeaderSymbol("out/a", ".dxil"))
	assert.Equal(t, "g_post_fx_spirv", HeaderSymbol("out/sub/post.fx", ".spirv"))
}

func TestHeaderWriterFormat(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewHeaderWriter(&buf, "g_c_dxil")
	require.NoError(t, err)
	require.NoError(t, w.WriteBytes([]byte{0, 9, 10, 99, 100, 255}))
	require.NoError(t, w.Close())

	text := buf.String()
	assert.True(t, strings.HasPrefix(text, "const uint8_t g_c_dxil[] = {"))
	assert.True(t, strings.HasSuffix(text, "\n};\n"))
	assert.Contains(t, text, "0, 9, 10, 99, 100, 255, ")
}

func TestHeaderWriterWraps(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewHeaderWriter(&buf, "g_big_dxil")
	require.NoError(t, err)
	require.NoError(t, w.WriteBytes(bytes.Repeat([]byte{200}, 100)))
	require.NoError(t, w.Close())

	for _, line := range strings.Split(buf.String(), "\n") {
		assert.LessOrEqual(t, len(line), 160, "body lines stay near the wrap limit")
	}
	assert.Greater(t, strings.Count(buf.String(), "\n"), 2, "long payloads wrap onto multiple lines")
}
