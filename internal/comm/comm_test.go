package comm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syneagent/syne/internal/comm"
)

func TestBuildUserContextPrefixMarksUntrusted(t *testing.T) {
	prefix := comm.BuildUserContextPrefix(comm.InboundContext{
		SenderName: "Alice", ChatType: comm.ChatGroup, GroupSubject: "Family Chat",
		WasMentioned: true, HasReplyContext: true, ReplyToSender: "Bob", ReplyToBody: "hi there",
	})
	require.Contains(t, prefix, "untrusted")
	require.Contains(t, prefix, "Alice")
	require.Contains(t, prefix, "Family Chat")
	require.Contains(t, prefix, "Bob")
}

func TestProcessOutbound(t *testing.T) {
	result := comm.ProcessOutbound("Let me check that.\nHere's /var/data/users/42/report.csv for you.\n\n\n\nMEDIA: /tmp/out.png\n")
	require.NotContains(t, result.Text, "/var/data/users/42")
	require.Contains(t, result.Text, "report.csv")
	require.NotContains(t, result.Text, "Let me check")
	require.Equal(t, "/tmp/out.png", result.MediaPath)
	require.False(t, strings.Contains(result.Text, "\n\n\n"))
}

func TestSplitMessagePreservesCodeFences(t *testing.T) {
	text := "intro\n```go\nfunc main() {\n" + strings.Repeat("    fmt.Println(1)\n", 200) + "}\n```\noutro"
	chunks := comm.SplitMessage(text, 200)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.Equal(t, 0, strings.Count(c, "```")%2, "chunk must have a balanced fence count: %q", c[:min(40, len(c))])
	}
}

func TestParseReplyTag(t *testing.T) {
	text, id := comm.ParseReplyTag("thanks! [[reply_to_current]]", "999")
	require.Equal(t, "999", id)
	require.Equal(t, "thanks!", text)

	text, id = comm.ParseReplyTag("see above [[reply_to: 42]]", "999")
	require.Equal(t, "42", id)
	require.Equal(t, "see above", text)
}

func TestParseReactTags(t *testing.T) {
	text, emojis := comm.ParseReactTags("nice! [[react:👍]] [[react:🎉]]")
	require.Equal(t, "nice!", text)
	require.Equal(t, []string{"👍", "🎉"}, emojis)
}

func TestMarkdownToTelegramHTML(t *testing.T) {
	out := comm.MarkdownToTelegramHTML("**bold** and `code` and\n\n```\nline one\n```")
	require.Contains(t, out, "<b>bold</b>")
	require.Contains(t, out, "<code>code</code>")
	require.Contains(t, out, "<pre>line one</pre>")
}
