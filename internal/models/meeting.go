package models

// Meeting types.
const (
	MeetingInitial     = "initial"
	MeetingFollowUp    = "follow-up"
	MeetingProposal    = "proposal"
	MeetingNegotiation = "negotiation"
	MeetingClosing     = "closing"
)

// Meeting outcomes.
const (
	OutcomePositive = "positive"
	OutcomeNeutral  = "neutral"
	OutcomeNegative = "negative"
)

// MeetingTypes lists every accepted meeting type.
var MeetingTypes = []string{MeetingInitial, MeetingFollowUp, MeetingProposal, MeetingNegotiation, MeetingClosing}

// MeetingOutcomes lists every accepted meeting outcome.
var MeetingOutcomes = []string{OutcomePositive, OutcomeNeutral, OutcomeNegative}

// MeetingEntry is an append-only follow-up meeting under one opportunity.
type MeetingEntry struct {
	ID              string   `json:"id"`
	Date            string   `json:"date"`
	Type            string   `json:"type"`
	Summary         string   `json:"summary"`
	ActionItems     []string `json:"actionItems"`
	Attendees       []string `json:"attendees"`
	Outcome         string   `json:"outcome"`
	NextSteps       []string `json:"nextSteps"`
	OriginalContent string   `json:"originalContent,omitempty"`
}

// Clone returns a deep copy of the entry.
func (m MeetingEntry) Clone() MeetingEntry {
	c := m
	c.ActionItems = cloneList(m.ActionItems)
	c.Attendees = cloneList(m.Attendees)
	c.NextSteps = cloneList(m.NextSteps)
	return c
}
