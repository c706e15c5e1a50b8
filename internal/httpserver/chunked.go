package httpserver

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/srogmann/TcpIpProxy/internal/proxyerr"
)

// chunkAwareReader reads a request body, transparently decoding standard
// HTTP/1.1 hex-length-prefixed chunk framing when chunked is true, or
// reading exactly contentLength bytes otherwise. No located Java source
// covers chunked support for this project (HttpInputStream.java was not
// retrieved); this is implemented directly from RFC 7230 section 4.1,
// styled as a small buffered-stream wrapper like the surrounding Java code.
type chunkAwareReader struct {
	br            *bufio.Reader
	chunked       bool
	remaining     int64 // bytes left in the current chunk, or total for non-chunked
	sawFinalChunk bool
	noBody        bool
}

func newChunkAwareReader(br *bufio.Reader, chunked bool, contentLength int64) *chunkAwareReader {
	if chunked {
		return &chunkAwareReader{br: br, chunked: true}
	}
	if contentLength <= 0 {
		return &chunkAwareReader{br: br, noBody: true}
	}
	return &chunkAwareReader{br: br, remaining: contentLength}
}

func (r *chunkAwareReader) Read(p []byte) (int, error) {
	if r.noBody {
		return 0, io.EOF
	}
	if !r.chunked {
		if r.remaining <= 0 {
			return 0, io.EOF
		}
		if int64(len(p)) > r.remaining {
			p = p[:r.remaining]
		}
		n, err := r.br.Read(p)
		r.remaining -= int64(n)
		return n, err
	}

	if r.sawFinalChunk {
		return 0, io.EOF
	}
	if r.remaining == 0 {
		size, err := r.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			r.sawFinalChunk = true
			if err := r.consumeTrailer(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		r.remaining = size
	}

	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.br.Read(p)
	r.remaining -= int64(n)
	if err != nil {
		return n, err
	}
	if r.remaining == 0 {
		// consume the chunk-terminating CRLF
		if _, err := r.br.Discard(2); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (r *chunkAwareReader) readChunkSize() (int64, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimRight(line, "\r\n")
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return 0, proxyerr.New(proxyerr.ErrCodeChunkedEncodingFailed, "malformed chunk size", err)
	}
	return size, nil
}

func (r *chunkAwareReader) consumeTrailer() error {
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			return err
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// responseWriter writes a response body, chunk-encoding it when chunked.
type responseWriter struct {
	bw      *bufio.Writer
	chunked bool
	closed  bool
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if !w.chunked {
		return w.bw.Write(p)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if _, err := w.bw.WriteString(strconv.FormatInt(int64(len(p)), 16) + "\r\n"); err != nil {
		return 0, err
	}
	n, err := w.bw.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := w.bw.WriteString("\r\n"); err != nil {
		return n, err
	}
	return n, nil
}

// Close finalises chunked framing with a terminating zero-length chunk and
// flushes. For non-chunked responses it only flushes.
func (w *responseWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.chunked {
		if _, err := w.bw.WriteString("0\r\n\r\n"); err != nil {
			return err
		}
	}
	return w.bw.Flush()
}
