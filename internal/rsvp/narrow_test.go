package rsvp

import "testing"

func TestParseNarrowURL(t *testing.T) {
	tests := []struct {
		link          string
		stream, topic string
		ok            bool
	}{
		{"https://recurse.zulipchat.com/#narrow/stream/announce/topic/All.20Hands.20Meeting", "announce", "All Hands Meeting", true},
		{"https://recurse.zulipchat.com/#narrow/stream/455.20Broadway/topic/lunch", "455 Broadway", "lunch", true},
		{"https://recurse.zulipchat.com/#narrow/stream/test-stream", "", "", false},
		{"https://recurse.zulipchat.com/", "", "", false},
		{"not a link", "", "", false},
	}
	for _, tt := range tests {
		stream, topic, ok := ParseNarrowURL(tt.link)
		if stream != tt.stream || topic != tt.topic || ok != tt.ok {
			t.Errorf("ParseNarrowURL(%q) = %q, %q, %v; want %q, %q, %v",
				tt.link, stream, topic, ok, tt.stream, tt.topic, tt.ok)
		}
	}
}

func TestNarrowURLRoundTrip(t *testing.T) {
	for _, thread := range [][2]string{
		{"announce", "All Hands Meeting"},
		{"rsvp.test", "100% fun & games?"},
		{"café", "déjà vu"},
	} {
		link := NarrowURL("https://recurse.zulipchat.com/", thread[0], thread[1])
		stream, topic, ok := ParseNarrowURL(link)
		if !ok || stream != thread[0] || topic != thread[1] {
			t.Errorf("round trip of %v via %s = %q, %q, %v", thread, link, stream, topic, ok)
		}
	}
}

func TestExtractID(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"123", 123, true},
		{"https://www.recurse.com/calendar/123-my-event", 123, true},
		{"http://www.recurse.com/calendar/event456", 456, true},
		{"https://www.recurse.com/calendar/123456789", 123456789, true},
		{"https://www.recurse.com/calendar/", 0, false},
		{"ftp://www.recurse.com/calendar/123", 0, false},
		{"my-event", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		got, ok := extractID(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("extractID(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
