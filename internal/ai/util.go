package ai

import (
	"regexp"
	"strings"
)

// MaxReplyChars keeps replies inside a single chat message.
const MaxReplyChars = 2000

var (
	thinkBlock   = regexp.MustCompile(`(?s)<think>.*?</think>`)
	senderPrefix = regexp.MustCompile(`(?m)^[ \t]*<\w{2,32}>[ \t]*`)
	atMention    = regexp.MustCompile(`(^|\s)@\w{2,32}\b`)
	blankRun     = regexp.MustCompile(`[ \t]+`)
)

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

// CleanReply trims a raw completion: everything from the first stop marker
// on is dropped, along with reasoning blocks, <Name> sender prefixes at the
// start of a line, standalone @Name mentions and wrapping quotes.
func CleanReply(reply string, stops ...string) string {
	for _, s := range stops {
		if s == "" {
			continue
		}
		if i := strings.Index(reply, s); i >= 0 {
			reply = reply[:i]
		}
	}
	reply = thinkBlock.ReplaceAllString(reply, "")
	reply = senderPrefix.ReplaceAllString(reply, "")
	reply = atMention.ReplaceAllString(reply, "$1")
	reply = blankRun.ReplaceAllString(reply, " ")
	reply = strings.TrimSpace(reply)

	if len(reply) >= 2 {
		quotes := []struct{ open, close string }{
			{`"`, `"`}, {`'`, `'`}, {"“", "”"}, {"‘", "’"},
		}
		for _, q := range quotes {
			if strings.HasPrefix(reply, q.open) && strings.HasSuffix(reply, q.close) {
				reply = strings.TrimSuffix(strings.TrimPrefix(reply, q.open), q.close)
				reply = strings.TrimSpace(reply)
				break
			}
		}
	}

	if r := []rune(reply); len(r) > MaxReplyChars {
		reply = string(r[:MaxReplyChars-1]) + "…"
	}
	return reply
}
