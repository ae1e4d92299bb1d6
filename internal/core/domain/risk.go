package domain

import "time"

// RequestFactors is the per-request input to the risk engine. Every field is
// optional; a zero value assesses to a score of 0.
type RequestFactors struct {
	IP        string
	UserAgent string
	Endpoint  string
	Method    string
	Payload   any
	Identity  string
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is computed fresh per request and never persisted by the core.
// ShouldBlock holds exactly when Score reaches the block threshold.
type RiskAssessment struct {
	Score       int       `json:"score"`
	Factors     []string  `json:"factors"`
	ShouldBlock bool      `json:"should_block"`
	Level       RiskLevel `json:"level"`
}

// RiskEvent is the audit record emitted after an assessment.
type RiskEvent struct {
	ID         string
	Identity   string
	IP         string
	UserAgent  string
	Endpoint   string
	Method     string
	Score      int
	Level      RiskLevel
	Blocked    bool
	Factors    []string
	OccurredAt time.Time
}
