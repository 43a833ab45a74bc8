package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/models"
)

const testKey = "sk-test-0123456789abcdefghij"

func completionServer(t *testing.T, status int, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "request rejected", "type": "invalid_request_error", "code": "invalid_api_key"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(testKey)
	cfg.BaseURL = baseURL
	cfg.Timeout = 5 * time.Second
	for _, fn := range mutate {
		fn(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestValidateKey(t *testing.T) {
	assert.ErrorIs(t, ValidateKey(""), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey("pk-0123456789abcdefghijkl"), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey("sk-short"), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey("sk-12345678901234567"), ErrInvalidKey) // exactly 20
	assert.NoError(t, ValidateKey(testKey))
}

func TestNormalizeStage(t *testing.T) {
	cases := map[string]string{
		"proposal":       models.StageProposal,
		"  CONTRACT ":    models.StageContract,
		"Completed":      models.StageCompleted,
		"상담진행":           models.StageConsultation,
		"견적":             models.StageProposal,
		"보류":             models.StageCompleted,
		"계약 협상 단계":       models.StageContract,
		"negotiation":    models.StageContract,
		"something else": models.StageLead,
		"":               models.StageLead,
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeStage(in), "input %q", in)
	}
}

func TestSummarizeStructured(t *testing.T) {
	body := "```json\n" + `{"summary":"  예산 확정 후 견적 요청 ","actionItems":["견적서 송부"," ", "데모 일정 조율"],"stage":"Proposal"}` + "\n```"
	srv, calls := completionServer(t, http.StatusOK, body)
	c := newTestClient(t, srv.URL)

	res, err := c.Summarize(context.Background(), "회의 내용", "Acme", "김영업")
	require.NoError(t, err)
	assert.Equal(t, "예산 확정 후 견적 요청", res.Summary)
	assert.Equal(t, []string{"견적서 송부", "데모 일정 조율"}, res.ActionItems)
	assert.Equal(t, models.StageProposal, res.Stage)
	assert.EqualValues(t, 1, calls.Load())
}

func TestSummarizeCoercesSchemaViolations(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, `{"actionItems":"call back","stage":42}`)
	c := newTestClient(t, srv.URL)

	res, err := c.Summarize(context.Background(), "notes", "Acme", "Kim")
	require.NoError(t, err)
	assert.Equal(t, DefaultSummary, res.Summary)
	assert.Empty(t, res.ActionItems)
	assert.NotNil(t, res.ActionItems)
	assert.Equal(t, models.StageLead, res.Stage)
}

func TestSummarizeFallsBackToText(t *testing.T) {
	text := "요약: 고객이 계약 조건 검토를 진행함\n\n액션 아이템:\n- 계약서 초안 작성\n2. 법무 검토\n• 가격 재협의\n그 외 메모\n"
	srv, _ := completionServer(t, http.StatusOK, text)
	c := newTestClient(t, srv.URL)

	res, err := c.Summarize(context.Background(), "notes", "Acme", "Kim")
	require.NoError(t, err)
	assert.Equal(t, "고객이 계약 조건 검토를 진행함", res.Summary)
	assert.Equal(t, []string{"계약서 초안 작성", "법무 검토", "가격 재협의"}, res.ActionItems)
	assert.Equal(t, models.StageContract, res.Stage)
}

func TestFallbackCapsActionItems(t *testing.T) {
	res := Fallback("액션 아이템:\n- a\n- b\n- c\n- d\n- e\n- f\n")
	assert.Len(t, res.ActionItems, 5)
	assert.Equal(t, DefaultSummary, res.Summary)
	assert.Equal(t, models.StageLead, res.Stage)
}

func TestSummarizeInvalidKeyFailsFast(t *testing.T) {
	srv, calls := completionServer(t, http.StatusOK, "{}")
	c := newTestClient(t, srv.URL, func(cfg *Config) { cfg.APIKey = "not-a-key" })

	assert.False(t, c.Available())
	_, err := c.Summarize(context.Background(), "notes", "Acme", "Kim")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.EqualValues(t, 0, calls.Load())
}

func TestSummarizeRejectedKey(t *testing.T) {
	srv, _ := completionServer(t, http.StatusUnauthorized, "")
	c := newTestClient(t, srv.URL)

	_, err := c.Summarize(context.Background(), "notes", "Acme", "Kim")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.NotErrorIs(t, err, ErrRequestFailed)
}

func TestSummarizeEmptyTranscript(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	_, err := c.Summarize(context.Background(), "   ", "Acme", "Kim")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv, calls := completionServer(t, http.StatusInternalServerError, "")
	c := newTestClient(t, srv.URL, func(cfg *Config) {
		cfg.BreakerFailures = 2
		cfg.BreakerCooldown = time.Minute
	})

	for i := 0; i < 3; i++ {
		_, err := c.Summarize(context.Background(), "notes", "Acme", "Kim")
		assert.ErrorIs(t, err, ErrRequestFailed)
		assert.Equal(t, ErrRequestFailed.Error(), err.Error())
	}
	assert.EqualValues(t, 2, calls.Load(), "open breaker must not reach the API")
}
