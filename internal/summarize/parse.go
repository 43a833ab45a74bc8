package summarize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DefaultSummary replaces a summary the model did not provide.
const DefaultSummary = "요약을 생성할 수 없습니다."

const maxFallbackItems = 5

const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["summary", "actionItems", "stage"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "actionItems": {"type": "array", "items": {"type": "string"}},
    "stage": {"type": "string"}
  }
}`

type parser struct {
	schema *jsonschema.Schema
	logger *slog.Logger
}

func newParser() (*parser, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(resultSchema))
	if err != nil {
		return nil, fmt.Errorf("summarize: parse schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("result.json", doc); err != nil {
		return nil, fmt.Errorf("summarize: add schema: %w", err)
	}
	sch, err := c.Compile("result.json")
	if err != nil {
		return nil, fmt.Errorf("summarize: compile schema: %w", err)
	}
	return &parser{schema: sch, logger: slog.Default()}, nil
}

// parse reads a completion body. structured is false when the body was not
// a JSON object and the line-based fallback was used.
func (p *parser) parse(body string) (res Result, structured bool) {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(stripFences(body)))
	obj, isObject := inst.(map[string]any)
	if err != nil || !isObject {
		p.logger.Warn("summarize: completion is not a JSON object, using text fallback")
		return Fallback(body), false
	}
	if err := p.schema.Validate(inst); err != nil {
		p.logger.Warn("summarize: completion does not match schema", slog.String("error", err.Error()))
	}
	return coerce(obj), true
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func coerce(obj map[string]any) Result {
	res := Result{Summary: DefaultSummary, ActionItems: []string{}, Stage: NormalizeStage("")}
	if s, ok := obj["summary"].(string); ok && strings.TrimSpace(s) != "" {
		res.Summary = strings.TrimSpace(s)
	}
	if items, ok := obj["actionItems"].([]any); ok {
		for _, it := range items {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				res.ActionItems = append(res.ActionItems, strings.TrimSpace(s))
			}
		}
	}
	if s, ok := obj["stage"].(string); ok {
		res.Stage = NormalizeStage(s)
	}
	return res
}

var (
	summaryMarkers = []string{"요약:", "Summary:"}
	actionMarkers  = []string{"액션 아이템:", "Action items:"}
	bulletPrefix   = regexp.MustCompile(`^(?:[-•*]|\d+\.)\s*`)
)

func after(text string, markers []string) (string, bool) {
	for _, m := range markers {
		if i := strings.Index(text, m); i >= 0 {
			return text[i+len(m):], true
		}
	}
	return "", false
}

// Fallback extracts a result from free text: the summary follows "요약:" up
// to the end of its line, action items are the bullet or numbered lines
// after "액션 아이템:" (at most five), and the stage is guessed from keywords.
func Fallback(text string) Result {
	res := Result{Summary: DefaultSummary, ActionItems: []string{}, Stage: GuessStage(text)}

	if rest, ok := after(text, summaryMarkers); ok {
		line, _, _ := strings.Cut(rest, "\n")
		if s := strings.TrimSpace(line); s != "" {
			res.Summary = s
		}
	}

	if rest, ok := after(text, actionMarkers); ok {
		for _, line := range strings.Split(rest, "\n") {
			line = strings.TrimSpace(line)
			if !bulletPrefix.MatchString(line) {
				continue
			}
			item := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
			if item == "" {
				continue
			}
			res.ActionItems = append(res.ActionItems, item)
			if len(res.ActionItems) == maxFallbackItems {
				break
			}
		}
	}
	return res
}
