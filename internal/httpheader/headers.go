// Package httpheader implements a case-normalised, multi-valued HTTP header
// bag, grounded on the Java original's http/HttpHeaders.java.
package httpheader

import (
	"strings"

	"github.com/srogmann/TcpIpProxy/internal/proxyerr"
)

// Bag is a case-normalised multi-valued header store. A zero Bag is usable.
type Bag struct {
	order    []string
	values   map[string][]string
	readOnly bool
}

// New returns an empty, mutable bag.
func New() *Bag {
	return &Bag{values: make(map[string][]string)}
}

// NewReadOnly returns a read-only bag pre-populated from raw, re-normalising
// every key as it is inserted.
func NewReadOnly(raw map[string][]string) *Bag {
	b := New()
	for k, vs := range raw {
		for _, v := range vs {
			b.add(k, v)
		}
	}
	b.readOnly = true
	return b
}

// Freeze marks an existing mutable bag as read-only.
func (b *Bag) Freeze() { b.readOnly = true }

// Normalize applies this project's header-key convention: the first
// character is upper-cased, remaining letters lower-cased; digits and
// separators pass through unchanged. An empty/blank key is rejected.
func Normalize(key string) (string, bool) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", false
	}
	var sb strings.Builder
	sb.Grow(len(trimmed))
	for i, r := range trimmed {
		if i == 0 {
			sb.WriteRune(toUpperASCII(r))
		} else {
			sb.WriteRune(toLowerASCII(r))
		}
	}
	return sb.String(), true
}

func toUpperASCII(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func (b *Bag) add(key, value string) {
	norm, ok := Normalize(key)
	if !ok {
		return
	}
	if b.values == nil {
		b.values = make(map[string][]string)
	}
	if _, exists := b.values[norm]; !exists {
		b.order = append(b.order, norm)
	}
	b.values[norm] = append(b.values[norm], value)
}

// Add appends value to key's list. Returns a state error on a read-only bag.
func (b *Bag) Add(key, value string) error {
	if b.readOnly {
		return proxyerr.New(proxyerr.ErrCodeReadOnlyHeaderMutation, "cannot Add on a read-only header bag", nil)
	}
	b.add(key, value)
	return nil
}

// Set replaces key's list with the single value v. Returns a state error on
// a read-only bag.
func (b *Bag) Set(key, value string) error {
	if b.readOnly {
		return proxyerr.New(proxyerr.ErrCodeReadOnlyHeaderMutation, "cannot Set on a read-only header bag", nil)
	}
	norm, ok := Normalize(key)
	if !ok {
		return nil
	}
	if b.values == nil {
		b.values = make(map[string][]string)
	}
	if _, exists := b.values[norm]; !exists {
		b.order = append(b.order, norm)
	}
	b.values[norm] = []string{value}
	return nil
}

// First returns key's first value and whether it is present.
func (b *Bag) First(key string) (string, bool) {
	norm, ok := Normalize(key)
	if !ok {
		return "", false
	}
	vs, exists := b.values[norm]
	if !exists || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// All returns the full value list for key, in insertion order.
func (b *Bag) All(key string) []string {
	norm, ok := Normalize(key)
	if !ok {
		return nil
	}
	return append([]string(nil), b.values[norm]...)
}

// Contains reports whether key is present.
func (b *Bag) Contains(key string) bool {
	norm, ok := Normalize(key)
	if !ok {
		return false
	}
	_, exists := b.values[norm]
	return exists
}

// ForEach iterates keys in insertion order, calling fn once per value.
func (b *Bag) ForEach(fn func(key, value string)) {
	for _, k := range b.order {
		for _, v := range b.values[k] {
			fn(k, v)
		}
	}
}

// Keys returns the header names in insertion order.
func (b *Bag) Keys() []string {
	return append([]string(nil), b.order...)
}

// IsReadOnly reports whether mutation is rejected.
func (b *Bag) IsReadOnly() bool { return b.readOnly }
