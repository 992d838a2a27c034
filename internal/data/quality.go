package data

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// SeriesKind selects the checks applied to a series
type SeriesKind string

const (
	KindReturns SeriesKind = "returns"
	KindStress  SeriesKind = "stress"
)

// Issue types
const (
	IssueNoData         = "NO_DATA"
	IssueShortSeries    = "SHORT_SERIES"
	IssueNonFinite      = "NON_FINITE"
	IssueTotalLoss      = "TOTAL_LOSS"
	IssueExtremeReturn  = "EXTREME_RETURN"
	IssueStressOutRange = "STRESS_OUT_OF_RANGE"
)

// QualityValidator checks historical series integrity
type QualityValidator struct {
	logger *zap.Logger

	MinLength       int     // Fewer entries than this is flagged
	MaxPeriodReturn float64 // Absolute periodic return above this is flagged (1.0 = 100%)
}

// DataIssue represents a data quality problem
type DataIssue struct {
	Type     string `json:"type"`
	Severity string `json:"severity"` // "critical", "high", "medium", "low"
	Series   string `json:"series"`
	Index    int    `json:"index"`
	Message  string `json:"message"`
}

// QualityReport summarizes data quality assessment
type QualityReport struct {
	Series       string      `json:"series"`
	Total        int         `json:"total"`
	Issues       []DataIssue `json:"issues"`
	QualityScore int         `json:"qualityScore"` // 0-100
	IsUsable     bool        `json:"isUsable"`
}

// NewQualityValidator creates a validator with defaults for BTC return data
func NewQualityValidator(logger *zap.Logger) *QualityValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityValidator{
		logger:          logger,
		MinLength:       12,
		MaxPeriodReturn: 1.5,
	}
}

// Validate runs all checks for kind on a series
func (v *QualityValidator) Validate(series []float64, name string, kind SeriesKind) *QualityReport {
	if len(series) == 0 {
		return &QualityReport{
			Series: name,
			Issues: []DataIssue{{Type: IssueNoData, Severity: "critical", Series: name, Message: "No data provided"}},
		}
	}

	issues := make([]DataIssue, 0)
	if len(series) < v.MinLength {
		issues = append(issues, DataIssue{
			Type:     IssueShortSeries,
			Severity: "medium",
			Series:   name,
			Message:  fmt.Sprintf("only %d entries, expected at least %d", len(series), v.MinLength),
		})
	}

	for i, x := range series {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			issues = append(issues, DataIssue{Type: IssueNonFinite, Severity: "high", Series: name, Index: i, Message: "non-finite value"})
			continue
		}
		switch kind {
		case KindStress:
			if x < MinStress || x > MaxStress {
				issues = append(issues, DataIssue{
					Type:     IssueStressOutRange,
					Severity: "low",
					Series:   name,
					Index:    i,
					Message:  fmt.Sprintf("stress %.2f outside [0,100]", x),
				})
			}
		default:
			if x <= -1 {
				issues = append(issues, DataIssue{
					Type:     IssueTotalLoss,
					Severity: "high",
					Series:   name,
					Index:    i,
					Message:  fmt.Sprintf("return %.4f implies a price at or below zero", x),
				})
			} else if math.Abs(x) > v.MaxPeriodReturn {
				issues = append(issues, DataIssue{
					Type:     IssueExtremeReturn,
					Severity: "medium",
					Series:   name,
					Index:    i,
					Message:  fmt.Sprintf("return %.4f exceeds %.2f", x, v.MaxPeriodReturn),
				})
			}
		}
	}

	score := v.calculateQualityScore(len(series), issues)
	return &QualityReport{
		Series:       name,
		Total:        len(series),
		Issues:       issues,
		QualityScore: score,
		IsUsable:     score >= 70 && !hasCriticalIssues(issues),
	}
}

// Clean drops entries that cannot be used: non-finite values, and for return
// series anything at or below -100%. Stress values are kept and clamped later.
func (v *QualityValidator) Clean(series []float64, kind SeriesKind) []float64 {
	out := make([]float64, 0, len(series))
	for _, x := range series {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			continue
		}
		if kind == KindReturns && x <= -1 {
			continue
		}
		out = append(out, x)
	}
	return out
}

// calculateQualityScore computes 0-100 quality score
func (v *QualityValidator) calculateQualityScore(total int, issues []DataIssue) int {
	if total == 0 {
		return 0
	}

	penalty := 0.0
	for _, issue := range issues {
		switch issue.Severity {
		case "critical":
			penalty += 20
		case "high":
			penalty += 5
		case "medium":
			penalty += 2
		case "low":
			penalty += 0.5
		}
	}

	// Normalize by length so long series tolerate a few bad entries
	normalized := penalty * 100 / float64(total)
	if normalized > penalty {
		normalized = penalty
	}
	score := 100 - int(normalized)
	if score < 0 {
		score = 0
	}
	return score
}

func hasCriticalIssues(issues []DataIssue) bool {
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return true
		}
	}
	return false
}
