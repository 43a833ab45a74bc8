package api

import (
	"strings"

	"github.com/starford/salesboard/internal/analytics"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/summarize"
)

// OpportunityRequest is the request body for creating or editing a record.
type OpportunityRequest struct {
	Client          string              `json:"client" example:"Acme" validate:"required"`
	Date            string              `json:"date" example:"2026-03-01" validate:"required"`
	Assignee        string              `json:"assignee" example:"김영업" validate:"required"`
	Summary         string              `json:"summary"`
	ActionItems     []string            `json:"actionItems"`
	Stage           string              `json:"stage" example:"lead"`
	EstimatedValue  *int64              `json:"estimatedValue,omitempty"`
	NextMeetingDate string              `json:"nextMeetingDate,omitempty"`
	Priority        string              `json:"priority,omitempty" example:"high"`
	ContactInfo     *models.ContactInfo `json:"contactInfo,omitempty"`
	OriginalContent string              `json:"originalContent,omitempty"`
}

func (r OpportunityRequest) model() models.Opportunity {
	return models.Opportunity{
		Client:          strings.TrimSpace(r.Client),
		Date:            strings.TrimSpace(r.Date),
		Assignee:        strings.TrimSpace(r.Assignee),
		Summary:         r.Summary,
		ActionItems:     r.ActionItems,
		Stage:           r.Stage,
		EstimatedValue:  r.EstimatedValue,
		NextMeetingDate: r.NextMeetingDate,
		Priority:        r.Priority,
		ContactInfo:     r.ContactInfo,
		OriginalContent: r.OriginalContent,
	}
}

// IntakeRequest summarizes a transcript and stores the result as a new record.
type IntakeRequest struct {
	Transcript      string              `json:"transcript" validate:"required"`
	Client          string              `json:"client" validate:"required"`
	Date            string              `json:"date" validate:"required"`
	Assignee        string              `json:"assignee" validate:"required"`
	Stage           string              `json:"stage"`
	UseAIStage      bool                `json:"useAiStage"`
	EstimatedValue  *int64              `json:"estimatedValue,omitempty"`
	NextMeetingDate string              `json:"nextMeetingDate,omitempty"`
	Priority        string              `json:"priority,omitempty"`
	ContactInfo     *models.ContactInfo `json:"contactInfo,omitempty"`
}

// model builds the record stored by an intake, before the summary is known.
func (r IntakeRequest) model() models.Opportunity {
	stage := r.Stage
	if stage == "" {
		stage = models.StageLead
	}
	contact := models.ContactInfo{}
	if r.ContactInfo != nil {
		contact = *r.ContactInfo
	}
	if strings.TrimSpace(contact.Company) == "" {
		contact.Company = strings.TrimSpace(r.Client)
	}
	return models.Opportunity{
		Client:          strings.TrimSpace(r.Client),
		Date:            strings.TrimSpace(r.Date),
		Assignee:        strings.TrimSpace(r.Assignee),
		Stage:           stage,
		EstimatedValue:  r.EstimatedValue,
		NextMeetingDate: r.NextMeetingDate,
		Priority:        r.Priority,
		ContactInfo:     &contact,
		OriginalContent: r.Transcript,
	}
}

// MeetingRequest appends a meeting to a record. With Summarize set, the
// transcript in OriginalContent fills the summary, action items and next steps.
type MeetingRequest struct {
	Date            string   `json:"date" validate:"required"`
	Type            string   `json:"type" example:"follow-up"`
	Summary         string   `json:"summary"`
	ActionItems     []string `json:"actionItems"`
	Attendees       []string `json:"attendees"`
	Outcome         string   `json:"outcome" example:"neutral"`
	NextSteps       []string `json:"nextSteps"`
	OriginalContent string   `json:"originalContent,omitempty"`
	Summarize       bool     `json:"summarize"`
}

func (r MeetingRequest) model() models.MeetingEntry {
	return models.MeetingEntry{
		Date:            strings.TrimSpace(r.Date),
		Type:            r.Type,
		Summary:         r.Summary,
		ActionItems:     r.ActionItems,
		Attendees:       r.Attendees,
		Outcome:         r.Outcome,
		NextSteps:       r.NextSteps,
		OriginalContent: r.OriginalContent,
	}
}

// StageChangeRequest moves a record to another stage.
type StageChangeRequest struct {
	Stage string `json:"stage" example:"proposal" validate:"required"`
}

// StageRequest creates or updates a user-defined stage.
type StageRequest struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Color       string `json:"color" example:"blue"`
}

// SummaryRequest asks for a transcript summary.
type SummaryRequest struct {
	Transcript string `json:"transcript" validate:"required"`
	Client     string `json:"client"`
	Assignee   string `json:"assignee"`
}

// SignUpRequest is the sign-up form.
type SignUpRequest struct {
	Email       string `json:"email" validate:"required"`
	Password    string `json:"password" validate:"required"`
	DisplayName string `json:"displayName" validate:"required"`
	Company     string `json:"company,omitempty"`
	Position    string `json:"position,omitempty"`
}

// SignInRequest is the sign-in form.
type SignInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// OpportunityListResponse wraps a filtered listing.
type OpportunityListResponse struct {
	Opportunities []models.Opportunity `json:"opportunities" validate:"required"`
	Total         int                  `json:"total" validate:"required"`
	Filters       analytics.Filters    `json:"filters"`
}

// IntakeResponse is returned after a transcript was summarized and stored.
type IntakeResponse struct {
	ID     string           `json:"id"`
	Result summarize.Result `json:"result"`
	Stage  string           `json:"stage"`
}

// StatusResponse reports the pipeline mode and the data error slot.
type StatusResponse struct {
	Connected           bool   `json:"connected"`
	Mode                string `json:"mode"`
	Error               string `json:"error,omitempty"`
	SummarizerAvailable bool   `json:"summarizerAvailable"`
	AuthMode            string `json:"authMode"`
	RealtimeClients     int    `json:"realtimeClients"`
}
