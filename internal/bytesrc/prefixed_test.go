package bytesrc

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixedNeverMixesInOneCall(t *testing.T) {
	p := NewPrefixed([]byte("abc"), bytes.NewReader([]byte("XYZ")))

	buf := make([]byte, 5)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]), "a straddling read must return only the prefix portion")

	n, err = p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "XYZ", string(buf[:n]))

	_, err = p.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPrefixedEmptyPrefixDelegatesImmediately(t *testing.T) {
	p := NewPrefixed(nil, bytes.NewReader([]byte("hi")))
	buf := make([]byte, 2)
	n, err := p.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
}
