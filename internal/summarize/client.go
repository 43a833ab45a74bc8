// Package summarize turns a meeting transcript into a summary, action items
// and a suggested pipeline stage using a hosted chat-completion model.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/starford/salesboard/internal/apperr"
	"github.com/starford/salesboard/internal/metrics"
)

var (
	// ErrInvalidKey means the API key is missing, malformed or rejected.
	ErrInvalidKey = errors.New("OpenAI API 키가 올바르지 않습니다. OPENAI_API_KEY 설정을 확인해주세요.")
	// ErrRequestFailed covers every other failure. Callers may retry.
	ErrRequestFailed = errors.New("회의 내용 요약 중 오류가 발생했습니다. 다시 시도해주세요.")
)

// requestError keeps the cause of a failed request behind the generic message.
type requestError struct {
	cause error
}

func (e *requestError) Error() string        { return ErrRequestFailed.Error() }
func (e *requestError) Unwrap() error        { return e.cause }
func (e *requestError) Is(target error) bool { return target == ErrRequestFailed }

// Result is the structured outcome of one summarization.
type Result struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"actionItems"`
	Stage       string   `json:"stage"`
}

// Config holds the model and resilience settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration

	// BreakerFailures consecutive failures open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultConfig returns the production defaults with the given key.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:          apiKey,
		Model:           openai.GPT4oMini,
		Temperature:     0.3,
		MaxTokens:       1000,
		Timeout:         60 * time.Second,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics counts requests by result.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is the summarization client. It is safe for concurrent use.
type Client struct {
	cfg        Config
	api        *openai.Client
	breaker    *gobreaker.CircuitBreaker
	parser     *parser
	logger     *slog.Logger
	metrics    *metrics.Metrics
	httpClient *http.Client
}

// New builds a client. A client with an invalid key is still returned; its
// calls fail fast with ErrInvalidKey.
func New(cfg Config, opts ...Option) (*Client, error) {
	p, err := newParser()
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, parser: p, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	p.logger = c.logger

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if c.httpClient != nil {
		apiCfg.HTTPClient = c.httpClient
	}
	c.api = openai.NewClientWithConfig(apiCfg)

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "summarizer",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("summarize: breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
		// A rejected key is a configuration problem, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidKey)
		},
	})
	return c, nil
}

// ValidateKey is the offline format check run before every request: the key
// must start with "sk-" and be longer than 20 characters.
func ValidateKey(key string) error {
	if key == "" || !strings.HasPrefix(key, "sk-") || len(key) <= 20 {
		return ErrInvalidKey
	}
	return nil
}

// Available reports whether the configured key passes ValidateKey.
func (c *Client) Available() bool {
	return c != nil && ValidateKey(c.cfg.APIKey) == nil
}

// Summarize sends one chat-completion request for transcript. It never
// retries; the caller re-invokes on ErrRequestFailed.
func (c *Client) Summarize(ctx context.Context, transcript, client, assignee string) (Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return Result{}, fmt.Errorf("%w: 회의 내용을 입력해주세요.", apperr.ErrInvalidInput)
	}
	if err := ValidateKey(c.cfg.APIKey); err != nil {
		c.metrics.Summary("error")
		return Result{}, err
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.complete(ctx, transcript, client, assignee)
	})
	if err != nil {
		c.metrics.Summary("error")
		if errors.Is(err, ErrInvalidKey) {
			return Result{}, ErrInvalidKey
		}
		c.logger.Error("summarize: request failed", slog.String("error", err.Error()))
		return Result{}, &requestError{cause: err}
	}

	res, structured := c.parser.parse(out.(string))
	if structured {
		c.metrics.Summary("ok")
	} else {
		c.metrics.Summary("fallback")
	}
	return res, nil
}

func (c *Client) complete(ctx context.Context, transcript, client, assignee string) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	model := c.cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(transcript, client, assignee)},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return "", ErrInvalidKey
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusUnauthorized {
			return "", ErrInvalidKey
		}
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("summarize: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

const systemPrompt = "당신은 영업 회의 내용을 분석하고 요약하는 전문가입니다. " +
	"항상 정확한 JSON 형식으로 응답하고, stage 필드에는 반드시 lead, consultation, proposal, contract, completed 중 하나만 사용하세요."

func userPrompt(transcript, client, assignee string) string {
	return fmt.Sprintf(`다음은 %s와의 회의 내용입니다. 담당자는 %s입니다.

회의 내용:
%s

위 회의 내용을 바탕으로 다음 형식으로 요약해주세요:

1. 요약: 회의의 핵심 내용을 2-3문장으로 간결하게 요약
2. 액션 아이템: 구체적인 실행 항목들을 3-5개 리스트로 작성
3. 영업 단계: 다음 중 정확히 하나를 선택 (lead, consultation, proposal, contract, completed)
   - lead: 리드발굴 (초기 접촉, 관심 표명, 첫 미팅)
   - consultation: 상담진행 (니즈 파악, 상세 논의, 요구사항 분석)
   - proposal: 제안요청 (견적서, 제안서 요청, 데모 진행)
   - contract: 계약진행 (계약 협상, 최종 검토, 결정 단계)
   - completed: 완료/보류 (계약 완료 또는 프로젝트 보류)

**중요**: stage 필드에는 반드시 위의 5개 값 중 하나만 사용하세요 (lead, consultation, proposal, contract, completed)

응답은 반드시 다음 JSON 형식으로 해주세요:
{
  "summary": "요약 내용",
  "actionItems": ["액션 아이템 1", "액션 아이템 2", "액션 아이템 3"],
  "stage": "lead"
}
`, client, assignee, transcript)
}
