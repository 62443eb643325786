package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/relaybroker/brokerd/internal/spool"
	"github.com/relaybroker/brokerd/internal/util/timefmt"
)

// composeEnvelope wraps a message in the short, deterministic,
// plain-text block injected into the recipient's session (spec.md
// §4.5 step 4): sender, type, thread id, priority, full content, and
// terse reply instructions.
func composeEnvelope(msg spool.Message, threadID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[message from %s | type=%s | priority=%s | thread=%s | sent=%s]\n",
		msg.From, msg.Type, msg.NormalizedPriority(), threadID,
		timefmt.Format(time.UnixMilli(msg.Timestamp)))
	b.WriteString(msg.Content)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "To reply, address a new message back to \"%s\" with the same thread id.\n", msg.From)
	if msg.Type == spool.TypeTask || msg.Type == spool.TypeQuestion {
		b.WriteString("If this resolves the thread, send a completion message containing RESOLVED.\n")
	}
	return b.String()
}
