package interview

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kiku/pkg/adapter"
	"github.com/m-mizutani/kiku/pkg/model"
	"github.com/m-mizutani/kiku/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/reporter.md
var reporterPromptRaw string

var reporterPromptTmpl = template.Must(template.New("reporter").Parse(reporterPromptRaw))

// reporter renders the closing report from the ranked insights
type reporter struct {
	gemini adapter.Gemini
}

func newReporter(gemini adapter.Gemini) *reporter {
	return &reporter{gemini: gemini}
}

// Write produces the Markdown report. The progress argument is the
// status-only topic view; message composition needs no topic bodies. If the
// model response is empty the report is rendered deterministically from the
// ranked insights so session completion never depends on prose generation
// succeeding.
func (r *reporter) Write(ctx context.Context, anchor *model.Anchor, purpose, progress string, ranked []RankedInsight) (string, error) {
	rankedJSON, err := json.MarshalIndent(ranked, "", "  ")
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal ranked insights")
	}

	var buf bytes.Buffer
	if err := reporterPromptTmpl.Execute(&buf, map[string]any{
		"OriginalMessage": anchor.OriginalMessage,
		"Purpose":         purpose,
		"Progress":        progress,
		"RankedJSON":      string(rankedJSON),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute reporter prompt template")
	}

	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}
	resp, err := r.gemini.GenerateContent(ctx, contents, nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate report")
	}

	report, err := responseText(resp)
	if err != nil {
		return "", err
	}
	report = strings.TrimSpace(report)
	if report == "" {
		logging.From(ctx).Warn("empty report from model, rendering fallback")
		return renderFallbackReport(purpose, ranked), nil
	}
	return report, nil
}

// renderFallbackReport lists the ranked insights directly when prose
// generation yields nothing usable.
func renderFallbackReport(purpose string, ranked []RankedInsight) string {
	var b strings.Builder
	b.WriteString("# Discovery report\n\n")
	if purpose != "" {
		b.WriteString(purpose + "\n\n")
	}

	primary := make([]RankedInsight, 0, len(ranked))
	supplementary := make([]RankedInsight, 0, len(ranked))
	blindSpots := make([]RankedInsight, 0, len(ranked))
	for _, ri := range ranked {
		if ri.Tag == TagPrimary {
			primary = append(primary, ri)
		} else {
			supplementary = append(supplementary, ri)
		}
		if ri.BlindSpot {
			blindSpots = append(blindSpots, ri)
		}
	}

	writeSection := func(title string, items []RankedInsight) {
		if len(items) == 0 {
			return
		}
		b.WriteString("## " + title + "\n\n")
		for _, ri := range items {
			fmt.Fprintf(&b, "- %s (%s, strength %d)\n", ri.Insight.Label, ri.Insight.Layer, ri.Insight.Strength)
		}
		b.WriteString("\n")
	}
	writeSection("Core motivations", primary)
	writeSection("Supporting context", supplementary)
	writeSection("Worth noticing", blindSpots)

	return strings.TrimSpace(b.String()) + "\n"
}
