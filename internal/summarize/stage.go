package summarize

import (
	"slices"
	"strings"

	"github.com/starford/salesboard/internal/models"
)

// stageAliases maps a whole answer to a stage.
var stageAliases = map[string]string{
	"리드":    models.StageLead,
	"리드발굴":  models.StageLead,
	"초기":    models.StageLead,
	"상담":    models.StageConsultation,
	"상담진행":  models.StageConsultation,
	"컨설팅":   models.StageConsultation,
	"제안":    models.StageProposal,
	"제안요청":  models.StageProposal,
	"견적":    models.StageProposal,
	"계약":    models.StageContract,
	"계약진행":  models.StageContract,
	"협상":    models.StageContract,
	"완료":    models.StageCompleted,
	"보류":    models.StageCompleted,
	"종료":    models.StageCompleted,
	"완료/보류": models.StageCompleted,
}

type stageKeywords struct {
	stage    string
	keywords []string
}

// keywordTable is scanned in pipeline order; the first stage with a
// matching keyword wins.
var keywordTable = []stageKeywords{
	{models.StageLead, []string{"리드", "초기", "관심", "발굴", "첫", "처음", "prospect", "initial", "first contact"}},
	{models.StageConsultation, []string{"상담", "니즈", "논의", "미팅", "분석", "요구사항", "consult", "discovery", "needs", "requirement"}},
	{models.StageProposal, []string{"제안", "견적", "데모", "요청", "프레젠테이션", "proposal", "quote", "estimate", "demo", "presentation"}},
	{models.StageContract, []string{"계약", "협상", "검토", "체결", "결정", "승인", "contract", "negotiat", "decision", "approval"}},
	{models.StageCompleted, []string{"완료", "보류", "종료", "성사", "마무리", "complete", "closed", "won", "on hold"}},
}

// NormalizeStage maps a model-supplied stage to a built-in stage id. The
// canonical ids map to themselves, known synonyms to their stage, and
// anything else to lead.
func NormalizeStage(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if slices.Contains(models.CanonicalStages, s) {
		return s
	}
	if stage, ok := stageAliases[s]; ok {
		return stage
	}
	if s == "" {
		return models.StageLead
	}
	return GuessStage(s)
}

// GuessStage scans free text for stage keywords.
func GuessStage(text string) string {
	lower := strings.ToLower(text)
	for _, row := range keywordTable {
		for _, kw := range row.keywords {
			if strings.Contains(lower, kw) {
				return row.stage
			}
		}
	}
	return models.StageLead
}
