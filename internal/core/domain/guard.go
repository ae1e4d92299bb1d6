package domain

type Outcome string

const (
	OutcomeAdmit    Outcome = "admit"
	OutcomeThrottle Outcome = "throttle"
	OutcomeBlock    Outcome = "block"
)

type GuardRequest struct {
	Identity string
	Factors  RequestFactors
}

// Verdict is the guard's answer for one request. Risk is nil when the
// request was throttled before the risk scan ran.
type Verdict struct {
	Outcome   Outcome
	RateLimit Decision
	Risk      *RiskAssessment
}
