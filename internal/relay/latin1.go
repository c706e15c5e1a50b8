package relay

// decodeLatin1 treats each input byte as one ISO-8859-1 code point, which
// happens to equal the corresponding Unicode code point for bytes 0-255.
// This is how the relay lets arbitrary binary bytes survive a text-level
// search/replace: the round trip through decodeLatin1/encodeLatin1 is
// byte-preserving for any input.
func decodeLatin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// encodeLatin1 is decodeLatin1's inverse for text that only contains runes
// in [0,255]. A rule's replacement text introducing a rune above that range
// is truncated to its low byte; this can only happen via a user-supplied
// search/replace rule containing non-Latin-1 characters, which is
// outside what this relay is designed to preserve losslessly.
func encodeLatin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}
