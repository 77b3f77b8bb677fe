package lineio_test

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/empathyfine/internal/lineio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLine_SkipsOversizedLines(t *testing.T) {
	long := strings.Repeat("x", 100)
	br := bufio.NewReaderSize(strings.NewReader("short\n"+long+"\n"+"12345678\ntail"), 16)

	line, size, err := lineio.ReadLine(br, 8)
	require.NoError(t, err)
	assert.Equal(t, "short\n", string(line))
	assert.Equal(t, 5, size)

	line, size, err = lineio.ReadLine(br, 8)
	require.NoError(t, err)
	assert.Nil(t, line)
	assert.Equal(t, 100, size)
	assert.True(t, lineio.Oversized(size, 8))

	line, size, err = lineio.ReadLine(br, 8)
	require.NoError(t, err)
	assert.Equal(t, "12345678\n", string(line), "a line of exactly the limit is kept")
	assert.False(t, lineio.Oversized(size, 8))

	line, size, err = lineio.ReadLine(br, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "tail", string(line))
	assert.Equal(t, 4, size)

	_, size, err = lineio.ReadLine(br, 8)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, size)
}

func TestReadLine_NoLimit(t *testing.T) {
	long := strings.Repeat("y", 1000)
	br := bufio.NewReaderSize(strings.NewReader(long+"\n"), 16)

	line, size, err := lineio.ReadLine(br, 0)
	require.NoError(t, err)
	assert.Equal(t, long+"\n", string(line))
	assert.Equal(t, 1000, size)
	assert.False(t, lineio.Oversized(size, 0))
}
