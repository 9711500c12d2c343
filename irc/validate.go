package irc

import "strings"

// CaseFold normalizes a nickname or channel name for comparison.
// Nickname uniqueness and channel identity are case-insensitive.
func CaseFold(name string) string {
	return strings.ToLower(name)
}

// IsValidNickname reports whether nick is a well-formed nickname:
// 1-30 characters, not starting with a digit, drawn from letters,
// digits, and -_[]{}|\.
func IsValidNickname(nick string) bool {
	if len(nick) < 1 || len(nick) > 30 {
		return false
	}

	for i, ch := range nick {
		if i == 0 && ch >= '0' && ch <= '9' {
			return false
		}

		if !((ch >= 'A' && ch <= 'Z') ||
			(ch >= 'a' && ch <= 'z') ||
			(ch >= '0' && ch <= '9') ||
			strings.ContainsRune("-_[]{}|\\", ch)) {
			return false
		}
	}

	return true
}

// IsValidChannelName reports whether name is a well-formed channel name:
// a '#' or '&' sigil followed by at least one character, with no spaces,
// commas, colons, bells, or NUL bytes.
func IsValidChannelName(name string) bool {
	if len(name) < 2 {
		return false
	}

	if name[0] != '#' && name[0] != '&' {
		return false
	}

	return !strings.ContainsAny(name, " ,:\x00\x07")
}

// WildcardMatch performs simple '*' wildcard matching, as used by WHO
// masks.
func WildcardMatch(s, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if !strings.Contains(pattern, "*") {
		return s == pattern
	}

	parts := strings.Split(pattern, "*")

	if parts[0] != "" && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	if parts[len(parts)-1] != "" && !strings.HasSuffix(s, parts[len(parts)-1]) {
		return false
	}

	pos := 0
	for _, part := range parts {
		if part == "" {
			continue
		}

		newPos := strings.Index(s[pos:], part)
		if newPos == -1 {
			return false
		}
		pos += newPos + len(part)
	}

	return true
}
