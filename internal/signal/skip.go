package signal

import "time"

// SkipCode identifies why a candidate was not executed during a cycle
type SkipCode string

const (
	SkipNone             SkipCode = ""
	SkipNoSignal         SkipCode = "NO_SIGNAL"
	SkipBelowThreshold   SkipCode = "BELOW_THRESHOLD"
	SkipExecutionOff     SkipCode = "EXECUTION_DISABLED"
	SkipAgainstTrend     SkipCode = "AGAINST_HTF_TREND"
	SkipLowRiskReward    SkipCode = "LOW_RISK_REWARD"
	SkipMLRejected       SkipCode = "ML_REJECTED"
	SkipAIRejected       SkipCode = "AI_REJECTED"
	SkipFundingRate      SkipCode = "FUNDING_RATE"
	SkipDataInsufficient SkipCode = "DATA_INSUFFICIENT"
	SkipSyntheticData    SkipCode = "SYNTHETIC_DATA"
	SkipAnalysisTimeout  SkipCode = "ANALYSIS_TIMEOUT"
	SkipExecutionFailed  SkipCode = "EXECUTION_FAILED"
)

// SkipRecord ties a skip decision to the candidate it rejected
type SkipRecord struct {
	Symbol    string    `json:"symbol"`
	Code      SkipCode  `json:"code"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
