// Package models defines the domain types for Salesboard.
package models

import (
	"strings"
	"time"
)

// DefaultEstimatedValue is the effective value of an opportunity whose
// estimated value is absent.
const DefaultEstimatedValue int64 = 50_000_000

// DateLayout is the layout of meeting dates (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// Priority tiers.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Opportunity is one sales-pipeline record.
type Opportunity struct {
	ID              string         `json:"id"`
	Client          string         `json:"client"`
	Date            string         `json:"date"`
	Assignee        string         `json:"assignee"`
	Summary         string         `json:"summary"`
	ActionItems     []string       `json:"actionItems"`
	Stage           string         `json:"stage"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
	EstimatedValue  *int64         `json:"estimatedValue,omitempty"`
	MeetingHistory  []MeetingEntry `json:"meetingHistory,omitempty"`
	NextMeetingDate string         `json:"nextMeetingDate,omitempty"`
	Priority        string         `json:"priority,omitempty"`
	ContactInfo     *ContactInfo   `json:"contactInfo,omitempty"`
	OriginalContent string         `json:"originalContent,omitempty"`
	CreatedBy       *UserRef       `json:"createdBy,omitempty"`
	LastModifiedBy  *UserRef       `json:"lastModifiedBy,omitempty"`
}

// Value returns the estimated value, or DefaultEstimatedValue when absent.
func (o *Opportunity) Value() int64 {
	if o.EstimatedValue == nil || *o.EstimatedValue <= 0 {
		return DefaultEstimatedValue
	}
	return *o.EstimatedValue
}

// MeetingCount counts the initial meeting plus every history entry.
func (o *Opportunity) MeetingCount() int {
	return len(o.MeetingHistory) + 1
}

// Clone returns a deep copy so callers can mutate it freely.
func (o Opportunity) Clone() Opportunity {
	c := o
	c.ActionItems = cloneList(o.ActionItems)
	if o.EstimatedValue != nil {
		v := *o.EstimatedValue
		c.EstimatedValue = &v
	}
	if o.MeetingHistory != nil {
		c.MeetingHistory = make([]MeetingEntry, len(o.MeetingHistory))
		for i, m := range o.MeetingHistory {
			c.MeetingHistory[i] = m.Clone()
		}
	}
	if o.ContactInfo != nil {
		ci := *o.ContactInfo
		c.ContactInfo = &ci
	}
	if o.CreatedBy != nil {
		u := *o.CreatedBy
		c.CreatedBy = &u
	}
	if o.LastModifiedBy != nil {
		u := *o.LastModifiedBy
		c.LastModifiedBy = &u
	}
	return c
}

// ContactInfo holds the client-side contact person.
type ContactInfo struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Position string `json:"position,omitempty"`
	Company  string `json:"company,omitempty"`
}

// IsEmpty reports whether no contact field is set.
func (c *ContactInfo) IsEmpty() bool {
	return c == nil || (c.Name == "" && c.Email == "" && c.Phone == "" && c.Position == "" && c.Company == "")
}

// UserRef identifies the user who created or last modified a record.
type UserRef struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// cloneList copies items into a non-nil slice so lists always encode as [].
func cloneList(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	return out
}

// CleanList trims entries and drops the ones that are blank.
func CleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}
