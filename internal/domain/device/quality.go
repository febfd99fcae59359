package device

import "time"

// Quality is the coarse classification of an offset estimate's
// trustworthiness. Higher values are strictly better.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityExcellent
)

// String returns the wire/display name of the quality level.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "EXCELLENT"
	case QualityGood:
		return "GOOD"
	case QualityFair:
		return "FAIR"
	case QualityPoor:
		return "POOR"
	default:
		return "UNKNOWN"
	}
}

// Level returns the numeric level for metrics export.
func (q Quality) Level() int { return int(q) }

// BetterThan reports whether q is strictly better than other.
func (q Quality) BetterThan(other Quality) bool { return q > other }

// Degrade lowers the quality by one level, bottoming out at POOR.
// Used when a clock anomaly is flagged.
func (q Quality) Degrade() Quality {
	if q > QualityPoor {
		return q - 1
	}
	return QualityPoor
}

// Thresholds holds the uncertainty cutoffs for quality classification.
// An estimate with uncertainty below Excellent classifies as EXCELLENT,
// below Good as GOOD, below Fair as FAIR, otherwise POOR.
type Thresholds struct {
	Excellent time.Duration
	Good      time.Duration
	Fair      time.Duration
}

// Classify maps an uncertainty to a quality level. Monotonic: a smaller
// uncertainty never classifies worse than a larger one.
func Classify(uncertainty time.Duration, t Thresholds) Quality {
	switch {
	case uncertainty < t.Excellent:
		return QualityExcellent
	case uncertainty < t.Good:
		return QualityGood
	case uncertainty < t.Fair:
		return QualityFair
	default:
		return QualityPoor
	}
}
