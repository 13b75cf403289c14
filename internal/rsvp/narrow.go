package rsvp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseNarrowURL extracts (stream, topic) from a Zulip narrow link such as
// https://example.zulipchat.com/#narrow/stream/announce/topic/All.20Hands.
// Zulip encodes the fragment with '.' in place of '%'.
func ParseNarrowURL(link string) (stream, topic string, ok bool) {
	_, fragment, found := strings.Cut(link, "#")
	if !found {
		return "", "", false
	}
	decoded, err := url.QueryUnescape(strings.ReplaceAll(fragment, ".", "%"))
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(decoded, "/")
	if len(parts) < 5 || parts[2] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}

// NarrowURL builds the Zulip narrow link for a thread.
func NarrowURL(site, stream, topic string) string {
	fragment := fmt.Sprintf("#narrow/stream/%s/topic/%s", zulipQuote(stream), zulipQuote(topic))
	return strings.TrimRight(site, "/") + "/" + strings.ReplaceAll(fragment, "%", ".")
}

// ThreadLink renders a bold markdown link to a thread.
func ThreadLink(site, stream, topic string) string {
	return fmt.Sprintf("**[#%s > %s](%s)**", stream, topic, NarrowURL(site, stream, topic))
}

// zulipQuote percent-encodes everything except unreserved characters.
// '.' is encoded as well; Zulip renders it as ".2E".
func zulipQuote(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteString(strings.ToUpper(strconv.FormatUint(uint64(c)>>4, 16)))
		b.WriteString(strings.ToUpper(strconv.FormatUint(uint64(c)&0xF, 16)))
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '_' || c == '~':
		return true
	}
	return false
}

// extractID accepts a bare integer or an http(s) URL whose last path segment
// contains digits, e.g. https://www.recurse.com/calendar/123-my-event.
func extractID(idOrURL string) (int64, bool) {
	idOrURL = strings.TrimSpace(idOrURL)
	if id, err := strconv.ParseInt(idOrURL, 10, 64); err == nil {
		return id, id > 0
	}

	u, err := url.Parse(idOrURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return 0, false
	}
	segment := u.Path[strings.LastIndex(u.Path, "/")+1:]

	start := strings.IndexFunc(segment, isDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(segment) && isDigit(rune(segment[end])) {
		end++
	}
	id, err := strconv.ParseInt(segment[start:end], 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func isDigit(r rune) bool { return '0' <= r && r <= '9' }
