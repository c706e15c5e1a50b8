// Package bytesrc provides a byte-stream adapter that serves a pre-read
// prefix in front of an underlying reader, grounded on the Java original's
// PrefixedInputStream.
package bytesrc

import "io"

// Prefixed splices a fixed byte prefix in front of a delegate reader. Reads
// drain the prefix first; a call that would straddle the prefix/delegate
// boundary returns only the prefix portion available in that call and never
// mixes bytes from both sources in a single Read.
type Prefixed struct {
	prefix   []byte
	pos      int
	delegate io.Reader
}

// NewPrefixed returns a reader that serves prefix before delegating to r.
func NewPrefixed(prefix []byte, r io.Reader) *Prefixed {
	return &Prefixed{prefix: prefix, delegate: r}
}

func (p *Prefixed) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if p.pos < len(p.prefix) {
		n := copy(b, p.prefix[p.pos:])
		p.pos += n
		return n, nil
	}
	return p.delegate.Read(b)
}

// Close closes the delegate reader if it implements io.Closer.
func (p *Prefixed) Close() error {
	if c, ok := p.delegate.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
