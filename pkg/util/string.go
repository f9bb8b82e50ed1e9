package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most max runes, ending with suffix when cut.
func Truncate(s string, max int, suffix string) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - utf8.RuneCountInString(suffix)
	if keep <= 0 {
		return string([]rune(suffix)[:max])
	}
	return string([]rune(s)[:keep]) + suffix
}

// MaskToken keeps the first and last four characters of a secret.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

var hashtagInvalid = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// NormalizeHashtags returns "#tag" forms, dropping empties and duplicates.
func NormalizeHashtags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		tag = hashtagInvalid.ReplaceAllString(tag, "")
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, "#"+tag)
	}
	return out
}

// ComposePost joins the body and hashtags, skipping tags already in the body.
func ComposePost(body string, tags []string) string {
	body = strings.TrimSpace(body)
	lower := strings.ToLower(body)
	var extra []string
	for _, tag := range NormalizeHashtags(tags) {
		if !strings.Contains(lower, strings.ToLower(tag)) {
			extra = append(extra, tag)
		}
	}
	if len(extra) == 0 {
		return body
	}
	if body == "" {
		return strings.Join(extra, " ")
	}
	return body + "\n\n" + strings.Join(extra, " ")
}

// EscapeHTML escapes the characters Telegram's HTML parse mode reserves.
func EscapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
