package engine

import "github.com/sentrastack/sentra-triage/internal/models"

// Trust-score weights. Deliberately coarse, auditable heuristics over the
// run's evidence profile, not calibrated probabilities. Do not tune without a
// stated calibration procedure.
const (
	trustBase            = 0.3
	trustGraphBonus      = 0.2
	trustIndexBonus      = 0.2
	trustVolumeBonus     = 0.15
	trustHighVolumeBonus = 0.1
	trustErrorPenalty    = 0.15
	trustFilterPenalty   = 0.1
)

// trustScore derives a [0,1] confidence signal from the run's source
// diversity, data volume, and error/safety outcomes.
func trustScore(sources []models.RetrievalSource, dataPoints int, filtered bool) float64 {
	score := trustBase

	hasGraph, hasIndex, hasError := false, false, false
	for _, s := range sources {
		if s.Relevance == models.RelevanceError {
			hasError = true
			continue
		}
		switch s.Origin {
		case models.OriginGraph, models.OriginStats:
			hasGraph = true
		case models.OriginIndex:
			hasIndex = true
		}
	}

	if hasGraph {
		score += trustGraphBonus
	}
	if hasIndex {
		score += trustIndexBonus
	}
	if dataPoints > 10 {
		score += trustVolumeBonus
	}
	if dataPoints > 50 {
		score += trustHighVolumeBonus
	}
	if hasError {
		score -= trustErrorPenalty
	}
	if filtered {
		score -= trustFilterPenalty
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
