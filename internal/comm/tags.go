package comm

import (
	"regexp"
	"strings"
)

var (
	replyToCurrentRe = regexp.MustCompile(`\[\[\s*reply_to_current\s*\]\]`)
	replyToIDRe      = regexp.MustCompile(`\[\[\s*reply_to:\s*(\d+)\s*\]\]`)
	reactRe          = regexp.MustCompile(`\[\[\s*react:\s*(.+?)\s*\]\]`)
)

// ParseReplyTag implements parse_reply_tag: extracts [[reply_to_current]] or
// [[reply_to:<id>]] and returns the cleaned text plus the message id to
// reply to (incomingMessageID for the "current" form, the tag id for the
// explicit form, or "" if neither tag was present).
func ParseReplyTag(text, incomingMessageID string) (string, string) {
	if replyToCurrentRe.MatchString(text) {
		return strip(replyToCurrentRe, text), incomingMessageID
	}
	if m := replyToIDRe.FindStringSubmatch(text); m != nil {
		return strip(replyToIDRe, text), m[1]
	}
	return text, ""
}

// ParseReactTags implements parse_react_tags: extracts every [[react:<emoji>]]
// tag, returning the cleaned text and the ordered list of emoji/strings to
// react with (multiple reactions are allowed).
func ParseReactTags(text string) (string, []string) {
	matches := reactRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return text, nil
	}
	var emojis []string
	for _, m := range matches {
		emojis = append(emojis, m[1])
	}
	return strip(reactRe, text), emojis
}

func strip(re *regexp.Regexp, text string) string {
	return strings.TrimSpace(re.ReplaceAllString(text, ""))
}
