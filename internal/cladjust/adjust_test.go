package cladjust

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustGrowsBody(t *testing.T) {
	orig := "POST /d HTTP/1.1\r\nContent-Length: 5\r\n\r\nL/B/C"
	modified := "POST /d HTTP/1.1\r\nContent-Length: 5\r\n\r\nLongBodyContent"
	want := "POST /d HTTP/1.1\r\nContent-Length: 15\r\n\r\nLongBodyContent"
	assert.Equal(t, want, Adjust(orig, modified, nil))
}

func TestAdjustShrinksBody(t *testing.T) {
	orig := "PUT /u HTTP/1.1\r\nContent-Length: 15\r\n\r\nShort         !"
	modified := "PUT /u HTTP/1.1\r\nContent-Length: 15\r\n\r\nShort"
	want := "PUT /u HTTP/1.1\r\nContent-Length: 5\r\n\r\nShort"
	assert.Equal(t, want, Adjust(orig, modified, nil))
}

func TestAdjustCountsUTF8Bytes(t *testing.T) {
	orig := "GET /u HTTP/1.1\r\nContent-Length: 7\r\n\r\nKarotte"
	modified := "GET /u HTTP/1.1\r\nContent-Length: 7\r\n\r\nMöhre"
	want := "GET /u HTTP/1.1\r\nContent-Length: 6\r\n\r\nMöhre"
	assert.Equal(t, want, Adjust(orig, modified, nil))
}

func TestAdjustMalformedHeaderIsIdentity(t *testing.T) {
	in := "GET /b HTTP/1.1\r\nContent-Length: invalid\r\n\r\nSomeBody"
	assert.Equal(t, in, Adjust(in, in, nil))
}

func TestAdjustNoContentLengthHeaderIsIdentity(t *testing.T) {
	in := "GET /b HTTP/1.1\r\nHost: x\r\n\r\nSomeBody"
	assert.Equal(t, "ignored", Adjust(in, "ignored", nil))
}

func TestAdjustNonHTTPMessagePassesThrough(t *testing.T) {
	assert.Equal(t, "whatever", Adjust("not http", "whatever", nil))
}

func TestAdjustCaseInsensitiveHeaderCanonicalized(t *testing.T) {
	orig := "GET / HTTP/1.1\r\ncontent-length: 2\r\n\r\nhi"
	modified := "GET / HTTP/1.1\r\ncontent-length: 2\r\n\r\nbye"
	got := Adjust(orig, modified, nil)
	assert.Contains(t, got, "Content-Length: 3")
	assert.NotContains(t, got, "content-length:")
}

func TestAdjustPartialOriginalBufferIsIdentity(t *testing.T) {
	// Declared CL (100) does not match the actual body bytes present (2):
	// we only have a partial view and must not guess.
	orig := "GET / HTTP/1.1\r\nContent-Length: 100\r\n\r\nhi"
	assert.Equal(t, "anything", Adjust(orig, "anything", nil))
}
