package models

// Built-in stage ids.
const (
	StageLead         = "lead"
	StageConsultation = "consultation"
	StageProposal     = "proposal"
	StageContract     = "contract"
	StageCompleted    = "completed"
)

// CanonicalStages are the built-in stage ids in pipeline order.
var CanonicalStages = []string{StageLead, StageConsultation, StageProposal, StageContract, StageCompleted}

// Stage describes one pipeline column.
type Stage struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Color       string `json:"color" yaml:"color"`
	BgColor     string `json:"bgColor" yaml:"bg_color"`
	Editable    bool   `json:"editable" yaml:"editable"`
}
