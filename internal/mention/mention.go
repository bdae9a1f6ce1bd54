// Package mention extracts @mentions from free text.
package mention

import (
	"regexp"
	"strings"
)

// Matches @username or @user@domain.tld. The optional domain group keeps
// a bare @username from swallowing a following full address.
var mentionRe = regexp.MustCompile(`@([a-zA-Z0-9._-]+(?:@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})?)`)

// Extract returns the mentioned addresses in order of first appearance,
// lowercased and deduplicated. Bare usernames get defaultDomain
// appended.
func Extract(text, defaultDomain string) []string {
	if text == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		addr := m[1]
		if !strings.Contains(addr, "@") {
			addr = addr + "@" + defaultDomain
		}
		addr = Normalize(addr)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// Normalize lowercases and trims an address for directory lookups.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
