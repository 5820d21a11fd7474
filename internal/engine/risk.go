package engine

import (
	"fmt"
	"math"

	"newstrader/internal/domain"
)

// RiskConfig is the configuration snapshot one gate evaluation reads. It is
// passed explicitly per call so an evaluation never depends on hidden mutable
// state.
type RiskConfig struct {
	KillSwitch            bool
	MinConfidence         float64
	MaxPositionsPerTicker int
	PenaltyFactor         float64 // fraction of requested qty shaved off, in [0, 1)
	PenaltyCap            float64 // hard upper bound on adjusted qty; 0 disables the cap
}

// ExposureSnapshot describes the account's current exposure as seen by the
// gate. Sourced from the store immediately before evaluation.
type ExposureSnapshot struct {
	// OpenForTicker counts OPEN and PENDING_ENTRY positions for the
	// candidate's ticker.
	OpenForTicker int
}

// PenaltyFunc computes the risk-adjusted quantity for an accepted signal.
// Implementations must keep 0 <= adjusted <= requested: a penalty scales
// down, never up.
type PenaltyFunc func(requested float64, cfg RiskConfig) float64

// LinearPenalty shaves PenaltyFactor off the requested quantity, floors the
// result at whole units, and applies the hard cap when one is configured.
func LinearPenalty(requested float64, cfg RiskConfig) float64 {
	adjusted := math.Floor(requested * (1 - cfg.PenaltyFactor))
	if cfg.PenaltyCap > 0 && adjusted > cfg.PenaltyCap {
		adjusted = cfg.PenaltyCap
	}
	if adjusted < 0 {
		return 0
	}
	if adjusted > requested {
		return requested
	}
	return adjusted
}

// RiskGate applies kill-switch, confidence, and exposure policy to candidate
// signals before any order is placed.
type RiskGate struct {
	penalty PenaltyFunc
}

// NewRiskGate creates a gate with the given penalty function; nil selects
// LinearPenalty.
func NewRiskGate(penalty PenaltyFunc) *RiskGate {
	if penalty == nil {
		penalty = LinearPenalty
	}
	return &RiskGate{penalty: penalty}
}

// Evaluate decides whether the signal may trade and at what quantity. It is
// pure apart from the penalty lookup: it never mutates signal or order state,
// and it never fails on a well-formed signal. A malformed signal yields
// *domain.ValidationError.
func (g *RiskGate) Evaluate(sig *domain.Signal, exposure ExposureSnapshot, requestedQty float64, cfg RiskConfig) (domain.RiskDecision, error) {
	if sig == nil || sig.Ticker == "" {
		return domain.RiskDecision{}, &domain.ValidationError{Field: "ticker", Reason: "missing"}
	}
	if sig.Confidence <= 0 || sig.Confidence > 1 {
		return domain.RiskDecision{}, &domain.ValidationError{
			Field: "confidence", Reason: fmt.Sprintf("%g outside (0, 1]", sig.Confidence)}
	}
	if requestedQty <= 0 {
		return domain.RiskDecision{}, &domain.ValidationError{
			Field: "qty", Reason: fmt.Sprintf("%g not positive", requestedQty)}
	}

	dec := domain.RiskDecision{SignalID: sig.ID}

	if cfg.KillSwitch {
		dec.Reason = "kill switch active"
		return dec, nil
	}
	// Threshold is inclusive: confidence exactly at the minimum passes.
	if sig.Confidence < cfg.MinConfidence {
		dec.Reason = fmt.Sprintf("confidence %.3f below threshold %.3f", sig.Confidence, cfg.MinConfidence)
		return dec, nil
	}
	if cfg.MaxPositionsPerTicker > 0 && exposure.OpenForTicker >= cfg.MaxPositionsPerTicker {
		dec.Reason = fmt.Sprintf("ticker %s at position cap %d", sig.Ticker, cfg.MaxPositionsPerTicker)
		return dec, nil
	}

	adjusted := g.penalty(requestedQty, cfg)
	if adjusted <= 0 {
		dec.Reason = "risk penalty reduced quantity to zero"
		return dec, nil
	}

	dec.Accepted = true
	dec.AdjustedQty = adjusted
	return dec, nil
}
