package acp

import "encoding/json"

// StopReason is why a turn ended.
type StopReason string

// Wire values.
const (
	StopReasonEndTurn         StopReason = "end_turn"
	StopReasonMaxTokens       StopReason = "max_tokens"
	StopReasonMaxTurnRequests StopReason = "max_turn_requests"
	StopReasonRefusal         StopReason = "refusal"
	StopReasonCancelled       StopReason = "cancelled"
)

// StopReasonAborted marks a turn that ended because the agent process went
// away. It is never sent by an agent and is rejected when decoding.
const StopReasonAborted StopReason = "aborted"

// Valid reports whether r is one of the protocol stop reasons.
func (r StopReason) Valid() bool {
	switch r {
	case StopReasonEndTurn, StopReasonMaxTokens, StopReasonMaxTurnRequests,
		StopReasonRefusal, StopReasonCancelled:
		return true
	}
	return false
}

// Abnormal reports whether the turn ended without the agent finishing it.
func (r StopReason) Abnormal() bool {
	return r == StopReasonAborted
}

// UnmarshalJSON rejects values outside the protocol enumeration.
func (r *StopReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := StopReason(s)
	if !v.Valid() {
		return &DecodingError{Field: "stopReason", Value: s}
	}
	*r = v
	return nil
}
