package risk

import (
	"math"
	"time"
)

// Component score bounds and curve anchors. The curves are monotonic by
// construction; the anchors are calibrated against the grade-boundary tests.
const (
	scoreMax = 100.0
	scoreMin = 0.0

	// Oracle freshness tiers.
	oracleOpaqueScore = 10.0
	oracleFreshScore  = 100.0
	oracleRecentScore = 80.0
	oracleFreshAge    = time.Hour
	oracleRecentAge   = 24 * time.Hour
	oracleDecayPerDay = 10.0

	// Utilization curve slopes. Overshooting the IRM target is penalized
	// much harder than undershooting it.
	utilizationUndershootDrop = 20.0
	utilizationOvershootDrop  = 80.0

	// Headroom curve anchors, expressed as headroom-to-borrow ratios.
	headroomComfortRatio = 0.25
	headroomFloorRatio   = -0.50
	headroomKneeScore    = 85.0
)

func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return scoreMin
	}
	return math.Min(scoreMax, math.Max(scoreMin, s))
}

// OracleScore buckets an oracle's last-update age into a freshness score.
// An unresolved timestamp (no address, failed read) lands on the opaque
// floor: staleness we cannot measure is treated as the worst staleness.
func OracleScore(age time.Duration, resolved bool) float64 {
	if !resolved || age < 0 {
		return oracleOpaqueScore
	}
	if age < oracleFreshAge {
		return oracleFreshScore
	}
	if age <= oracleRecentAge {
		return oracleRecentScore
	}
	staleDays := (age - oracleRecentAge).Hours() / 24
	return clampScore(math.Max(oracleOpaqueScore, oracleRecentScore-oracleDecayPerDay*staleDays))
}

// UtilizationScore compares utilization against the IRM target. At the
// target the score is 100; it falls gently below the target and steeply
// above it.
func UtilizationScore(utilization, target float64) float64 {
	if target <= 0 || target > 1 {
		return scoreMin
	}
	u := math.Min(1, math.Max(0, utilization))

	if u <= target {
		return clampScore(scoreMax - utilizationUndershootDrop*(target-u)/target)
	}
	if target == 1 {
		return scoreMax
	}
	return clampScore(scoreMax - utilizationOvershootDrop*(u-target)/(1-target))
}

// HeadroomScore scores post-shock liquidation headroom relative to the
// outstanding borrow. A debt-free market is maximally safe. Positive
// headroom with a comfortable ratio scores top; increasingly negative
// ratios fall toward zero.
func HeadroomScore(headroomUSD, borrowUSD float64) float64 {
	if borrowUSD <= 0 {
		return scoreMax
	}
	ratio := headroomUSD / borrowUSD
	switch {
	case ratio >= headroomComfortRatio:
		return scoreMax
	case ratio >= 0:
		return clampScore(headroomKneeScore + (scoreMax-headroomKneeScore)/headroomComfortRatio*ratio)
	case ratio > headroomFloorRatio:
		return clampScore(headroomKneeScore * (1 - ratio/headroomFloorRatio))
	default:
		return scoreMin
	}
}

// CoverageScore scores how much of the post-shock liquidatable borrow the
// market's available liquidity could absorb. Nothing liquidatable is
// maximal; full coverage (ratio ≥ 1) is maximal; partial coverage scores
// proportionally.
func CoverageScore(res StressResult) float64 {
	if res.CoverageCapped {
		return scoreMax
	}
	if res.CoverageRatio <= 0 {
		return scoreMin
	}
	if res.CoverageRatio >= 1 {
		return scoreMax
	}
	return clampScore(scoreMax * res.CoverageRatio)
}
