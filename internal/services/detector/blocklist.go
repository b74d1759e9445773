package detector

import (
	"fmt"
	"regexp"
	"strings"
)

// blocklist suppresses alerts for markets whose titles are known noise,
// by literal substring or by a single configurable pattern. Matching is
// case-insensitive.
type blocklist struct {
	substrings []string
	pattern    *regexp.Regexp
}

func newBlocklist(substrings []string, pattern string) (*blocklist, error) {
	b := &blocklist{}
	for _, s := range substrings {
		if s = strings.TrimSpace(s); s != "" {
			b.substrings = append(b.substrings, strings.ToLower(s))
		}
	}
	if pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("blocklist pattern does not compile: %w", err)
		}
		b.pattern = re
	}
	return b, nil
}

// Matches reports whether the title is blocklisted.
func (b *blocklist) Matches(title string) bool {
	if title == "" {
		return false
	}
	lower := strings.ToLower(title)
	for _, s := range b.substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return b.pattern != nil && b.pattern.MatchString(title)
}
