package comm

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

// serverPathRe matches absolute POSIX paths that can leak from tool output
// (e.g. a traceback or a file_write confirmation) into model text.
var serverPathRe = regexp.MustCompile(`(?:/[\w.\-]+){2,}/[\w.\-]+`)

// narrationRe matches first-person narration patterns that indicate a
// leaked chain-of-thought ("Let me think...", "I need to...") rather than
// the final answer. Code-enforced, model-agnostic.
var narrationRe = regexp.MustCompile(`(?im)^(?:let me |i need to |i'll |i will |first,? i(?:'ll| will)? |now i(?:'ll| will)? )[^\n]*\n?`)

var blankRunRe = regexp.MustCompile(`\n{3,}`)

var mediaDirectiveRe = regexp.MustCompile(`(?m)^MEDIA:\s*(\S+)\s*$`)

// OutboundResult is process_outbound's (text, media_path?) pair.
type OutboundResult struct {
	Text      string
	MediaPath string
}

// ProcessOutbound runs the five-step universal post-processing every
// channel applies before formatting/delivery:
//  1. strip absolute server paths (replaced with their basename)
//  2. strip first-person narration patterns
//  3. extract MEDIA: <path> directives
//  4. collapse runs of blank lines
//  5. return (text, media_path?)
func ProcessOutbound(text string) OutboundResult {
	text = stripServerPaths(text)
	text = narrationRe.ReplaceAllString(text, "")

	var mediaPath string
	if m := mediaDirectiveRe.FindStringSubmatch(text); m != nil {
		mediaPath = m[1]
		text = mediaDirectiveRe.ReplaceAllString(text, "")
	}

	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	return OutboundResult{Text: text, MediaPath: mediaPath}
}

func stripServerPaths(text string) string {
	return serverPathRe.ReplaceAllStringFunc(text, func(p string) string {
		segs := strings.Split(strings.TrimRight(p, "/"), "/")
		return segs[len(segs)-1]
	})
}

// SplitMessage implements split_message: chunk text to at most maxLength
// display-width characters (measured with go-runewidth so CJK/emoji-heavy
// text doesn't silently overflow platform limits), never splitting inside a
// fenced code block — a fence that straddles a chunk boundary is closed at
// the end of one chunk and reopened (with its original language tag) at the
// start of the next. A single line wider than maxLength is kept whole, so
// its chunk is wider than maxLength.
func SplitMessage(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = 4000
	}
	lines := strings.Split(text, "\n")

	var chunks []string
	var cur strings.Builder
	curWidth := 0
	inFence := false
	fenceLang := ""

	flush := func() {
		chunk := strings.TrimRight(cur.String(), "\n")
		if chunk == "" {
			return
		}
		if inFence {
			chunk += "\n```"
		}
		chunks = append(chunks, chunk)
		cur.Reset()
		curWidth = 0
		if inFence {
			cur.WriteString("```" + fenceLang + "\n")
			curWidth = runewidth.StringWidth("```" + fenceLang)
		}
	}

	for _, line := range lines {
		lw := runewidth.StringWidth(line) + 1 // +1 for the newline
		if curWidth+lw > maxLength && cur.Len() > 0 {
			flush()
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				inFence = true
				fenceLang = strings.TrimPrefix(trimmed, "```")
			} else {
				inFence = false
				fenceLang = ""
			}
		}

		cur.WriteString(line)
		cur.WriteString("\n")
		curWidth += lw
	}
	if cur.Len() > 0 {
		flush()
	}
	if len(chunks) == 0 {
		return []string{""}
	}
	return chunks
}
