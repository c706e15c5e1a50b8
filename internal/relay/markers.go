package relay

import ahocorasick "github.com/BobuSumisu/aho-corasick"

// wsMarkerTrie matches the two fixed substrings StreamDump.java looks for to
// detect WebSocket traffic and switch into high-volume (reduced logging)
// mode. They never interact, so one multi-pattern automaton built once
// replaces the original's two sequential String.contains calls.
var wsMarkerTrie = ahocorasick.NewTrieBuilder().
	AddStrings([]string{"Connection: upgrade", "Sec-WebSocket"}).
	Build()

func looksLikeWebSocketTraffic(text string) bool {
	return len(wsMarkerTrie.MatchString(text)) > 0
}
