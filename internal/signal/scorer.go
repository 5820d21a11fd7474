package signal

import (
	"strings"
	"time"

	"newstrader/internal/news"
)

// Decision classifies what the pipeline should do with a scored item.
type Decision string

const (
	DecisionBuy    Decision = "BUY"
	DecisionHold   Decision = "HOLD"
	DecisionIgnore Decision = "IGNORE"
	DecisionBlock  Decision = "BLOCK"
)

// Components are the 0-100 sub-scores one item derives.
type Components struct {
	Impact            float64
	SourceReliability float64
	Novelty           float64
	MarketReaction    float64
	Liquidity         float64
	RiskPenalty       float64

	PositiveHits int
	NegativeHits int
	Freshness    float64
}

// Score is the full scoring result for one item.
type Score struct {
	Components Components
	Raw        float64
	Total      float64 // Raw clamped to [0, 100]
	PricedIn   string  // LOW / MEDIUM / HIGH
	Decision   Decision
}

var positiveTerms = []string{"투자", "수주", "실적", "호재", "상승", "증가", "확대", "승인"}
var negativeTerms = []string{"적자", "하락", "감소", "리콜", "규제", "소송", "중단", "악재", "파업"}

// A positive keyword next to a negating direction word reads negative.
var negativeContextPairs = [][2]string{
	{"투자", "감소"},
	{"실적", "하락"},
	{"증가", "둔화"},
	{"확대", "중단"},
	{"승인", "취소"},
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func bounded(v float64) float64 { return clamp(v, 0, 100) }

// DeriveComponents computes the keyword and freshness sub-scores for an item
// at the given instant.
func DeriveComponents(item news.Item, now time.Time) Components {
	text := strings.ToLower(item.Title + " " + item.Body)

	pos := 0
	for _, t := range positiveTerms {
		if strings.Contains(text, t) {
			pos++
		}
	}
	neg := 0
	for _, t := range negativeTerms {
		if strings.Contains(text, t) {
			neg++
		}
	}
	for _, pair := range negativeContextPairs {
		if strings.Contains(text, pair[0]) && strings.Contains(text, pair[1]) {
			neg++
		}
	}

	ageHours := now.UTC().Sub(item.PublishedAt.UTC()).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	freshness := bounded(100 - ageHours*4)

	tier := item.Tier
	if tier < 1 {
		tier = 2
	}

	return Components{
		Impact:            bounded(45 + 12*float64(pos) - 10*float64(neg)),
		SourceReliability: bounded(85 - float64(tier-1)*15),
		Novelty:           bounded(35 + freshness*0.65),
		MarketReaction:    bounded(50 + 10*float64(pos) - 12*float64(neg)),
		Liquidity:         55,
		RiskPenalty:       clamp(8+8*float64(neg)+maxf(0, ageHours-12)*0.5, 0, 60),
		PositiveHits:      pos,
		NegativeHits:      neg,
		Freshness:         freshness,
	}
}

// ComputeScore weighs the components into the final score and decision.
func ComputeScore(c Components) Score {
	raw := 0.30*c.Impact +
		0.20*c.SourceReliability +
		0.20*c.Novelty +
		0.15*c.MarketReaction +
		0.15*c.Liquidity -
		c.RiskPenalty
	total := bounded(raw)

	pricedIn := "HIGH"
	switch {
	case c.Freshness >= 75:
		pricedIn = "LOW"
	case c.Freshness >= 40:
		pricedIn = "MEDIUM"
	}

	var dec Decision
	switch {
	case c.NegativeHits >= 2:
		dec = DecisionBlock
	case c.NegativeHits > c.PositiveHits:
		dec = DecisionIgnore
	case c.PositiveHits == 0:
		dec = DecisionHold
	default:
		dec = DecisionBuy
	}
	// Score overrides the keyword verdict at the extremes.
	if total < 40 {
		dec = DecisionBlock
	} else if total < 55 && dec == DecisionBuy {
		dec = DecisionHold
	}

	return Score{Components: c, Raw: raw, Total: total, PricedIn: pricedIn, Decision: dec}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
