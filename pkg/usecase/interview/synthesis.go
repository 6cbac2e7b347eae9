package interview

import (
	"sort"
	"strings"

	"github.com/m-mizutani/kiku/pkg/model"
)

// InsightTag classifies a ranked insight for the weighting screen
type InsightTag string

const (
	TagPrimary       InsightTag = "primary"
	TagSupplementary InsightTag = "supplementary"
)

// RankedInsight is one entry of the weighting screen
type RankedInsight struct {
	Insight   *model.Insight
	Tag       InsightTag
	BlindSpot bool // surfaced by the conversation, absent from the original framing
	Weight    int  // initial slider value, equals stored strength
}

var layerRank = map[model.Layer]int{
	model.LayerValue:       0,
	model.LayerConsequence: 1,
	model.LayerAttribute:   2,
}

// Synthesize ranks confirmed insights for the weighting phase. Pure
// function, no model call: the same input always yields the same ordering
// and tagging.
func Synthesize(insights []*model.Insight, originalMessage string, cfg Config) []RankedInsight {
	if len(insights) == 0 {
		return nil
	}

	sorted := make([]*model.Insight, len(insights))
	copy(sorted, insights)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := layerRank[sorted[i].Layer], layerRank[sorted[j].Layer]
		if ri != rj {
			return ri < rj
		}
		return sorted[i].Strength > sorted[j].Strength
	})

	// short-term review capacity: present at most TopInsights entries
	if cfg.TopInsights > 0 && len(sorted) > cfg.TopInsights {
		sorted = sorted[:cfg.TopInsights]
	}

	lowerOriginal := strings.ToLower(originalMessage)
	out := make([]RankedInsight, 0, len(sorted))
	for _, ins := range sorted {
		tag := TagSupplementary
		if ins.Strength >= cfg.PrimaryStrength {
			tag = TagPrimary
		}

		weight := ins.Weight
		if weight == 0 {
			weight = ins.Strength
		}

		out = append(out, RankedInsight{
			Insight:   ins,
			Tag:       tag,
			BlindSpot: isBlindSpot(ins.Label, lowerOriginal),
			Weight:    weight,
		})
	}
	return out
}

// isBlindSpot reports whether none of the significant label tokens appear in
// the user's original framing
func isBlindSpot(label, lowerOriginal string) bool {
	if lowerOriginal == "" {
		return false
	}
	for _, token := range ExtractKeywords(label) {
		if strings.Contains(lowerOriginal, token) {
			return false
		}
	}
	return true
}
