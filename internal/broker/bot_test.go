package broker

import (
	"strings"
	"testing"
)

func TestCannedResponderKeywords(t *testing.T) {
	bot := CannedResponder{}

	cases := []struct {
		in       string
		wantFrag string
	}{
		{"Hello!", "Hello"},
		{"I want to apply for a job", "positions"},
		{"can you check my resume", "Resumes"},
		{"get me a human", "hand-off"},
		{"what is the meaning of life", "not sure"},
	}

	for _, tc := range cases {
		reply, ok := bot.Reply("r1", tc.in)
		if !ok {
			t.Fatalf("Reply(%q) suppressed", tc.in)
		}
		if !strings.Contains(reply, tc.wantFrag) {
			t.Fatalf("Reply(%q) = %q, want fragment %q", tc.in, reply, tc.wantFrag)
		}
	}
}
