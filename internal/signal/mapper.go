// Package signal turns news items into scored, persisted trade signals.
package signal

import "strings"

// Mapping binds a news text to a listed ticker.
type Mapping struct {
	Ticker      string
	CompanyName string
	Confidence  float64
	Method      string
}

// aliasEntry with an empty ticker marks an ambiguous alias that must not map
// on its own.
type aliasEntry struct {
	ticker     string
	name       string
	confidence float64
}

var aliases = map[string]aliasEntry{
	"삼성전자":   {ticker: "005930", name: "삼성전자", confidence: 0.98},
	"SK하이닉스": {ticker: "000660", name: "SK하이닉스", confidence: 0.98},
	"삼성":     {name: "AMBIGUOUS", confidence: 0.20},
}

// longest-first so 삼성전자 wins over the ambiguous 삼성 prefix
var aliasOrder = []string{"삼성전자", "SK하이닉스", "삼성"}

// MapTicker scans the text for a known company alias. Ambiguous aliases
// yield no mapping.
func MapTicker(text string) (Mapping, bool) {
	for _, k := range aliasOrder {
		if !strings.Contains(text, k) {
			continue
		}
		e := aliases[k]
		if e.ticker == "" {
			return Mapping{}, false
		}
		return Mapping{
			Ticker:      e.ticker,
			CompanyName: e.name,
			Confidence:  e.confidence,
			Method:      "alias_dict",
		}, true
	}
	return Mapping{}, false
}
