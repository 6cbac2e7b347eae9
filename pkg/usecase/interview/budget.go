package interview

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/kiku/pkg/model"
)

// budgeter bounds per-role prompt payload regardless of session length. The
// most recent window of turns goes in verbatim, the next window is truncated
// per message, and anything older is dropped from the live prompt (it stays
// in durable storage).
type budgeter struct {
	cfg Config
}

func newBudgeter(cfg Config) *budgeter {
	return &budgeter{cfg: cfg}
}

// truncateRunes shortens s to at most n runes, appending an ellipsis when
// anything was cut
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// History returns the budgeted view of the conversation for prompt use
func (b *budgeter) History(msgs []*model.Message) []*model.Message {
	recent := b.cfg.RecentWindow
	older := b.cfg.TruncatedWindow

	if len(msgs) <= recent {
		return msgs
	}

	verbatim := msgs[len(msgs)-recent:]
	lo := len(msgs) - recent - older
	if lo < 0 {
		lo = 0
	}
	truncated := msgs[lo : len(msgs)-recent]

	out := make([]*model.Message, 0, len(truncated)+len(verbatim))
	for _, m := range truncated {
		cp := *m
		cp.Content = truncateRunes(cp.Content, b.cfg.TruncateRunes)
		out = append(out, &cp)
	}
	out = append(out, verbatim...)
	return out
}

// FocusedView renders full detail for the in-focus topic and status
// summaries for the rest. Used by the planner's topic analysis.
func (b *budgeter) FocusedView(topics []*model.TopicState, focus model.TopicKey) string {
	var sb strings.Builder
	sb.WriteString("## Topic state\n")
	fmt.Fprintf(&sb, "In focus: %s\n\n", focus)
	for _, t := range topics {
		if t.Key == focus {
			fmt.Fprintf(&sb, "### %s (in focus): %s\n", t.Key, t.Status)
			fmt.Fprintf(&sb, "text: %q\n", t.Text)
			if t.Rationale != "" {
				fmt.Fprintf(&sb, "rationale: %q\n", t.Rationale)
			}
			if t.Advice != "" {
				fmt.Fprintf(&sb, "advice: %q\n", t.Advice)
			}
		} else {
			fmt.Fprintf(&sb, "### %s: %s (%d chars)\n", t.Key, t.Status, len([]rune(t.Text)))
		}
	}
	return sb.String()
}

// FullView renders full text for every topic. Used by cross-reference
// propagation, which has to judge every topic against the utterance.
func (b *budgeter) FullView(topics []*model.TopicState) string {
	var sb strings.Builder
	sb.WriteString("## All topic states\n")
	for _, t := range topics {
		fmt.Fprintf(&sb, "### %s: %s\n", t.Key, t.Status)
		fmt.Fprintf(&sb, "text: %q\n", t.Text)
	}
	return sb.String()
}

// MinimalView renders status-only progress. Used for final message
// composition, which needs no topic bodies.
func (b *budgeter) MinimalView(topics []*model.TopicState) string {
	var sb strings.Builder
	sb.WriteString("## Progress\n")
	for _, t := range topics {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Key, t.Status)
	}
	return sb.String()
}
