package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
	"github.com/kirillkom/property-report-analyzer/internal/infrastructure/resilience"
)

const defaultTimeout = 120 * time.Second

type Client struct {
	baseURL    string
	genModel   string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	Timeout            time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel string) *Client {
	return NewWithOptions(baseURL, genModel, Options{})
}

func NewWithOptions(baseURL, genModel string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

// PropertyAnalyzer asks the generation model for a structured assessment of
// a property report. Replies that are not a JSON object are kept as a
// free-text summary.
type PropertyAnalyzer struct {
	client *Client
}

func NewPropertyAnalyzer(client *Client) *PropertyAnalyzer {
	return &PropertyAnalyzer{client: client}
}

func (a *PropertyAnalyzer) Analyze(ctx context.Context, text, language string) (domain.AnalysisOutcome, error) {
	respText, err := a.client.generateJSON(ctx, buildAnalysisPrompt(text, language))
	if err != nil {
		return domain.AnalysisOutcome{}, err
	}
	return parseAnalysis(respText, language), nil
}

func parseAnalysis(respText, language string) domain.AnalysisOutcome {
	raw := extractJSONObject(respText)
	if strings.HasPrefix(raw, "{") {
		var analysis domain.PropertyAnalysis
		if err := json.Unmarshal([]byte(raw), &analysis); err == nil {
			if analysis.Language == "" {
				analysis.Language = language
			}
			if analysis.Strengths == nil {
				analysis.Strengths = []domain.Finding{}
			}
			if analysis.Concerns == nil {
				analysis.Concerns = []domain.Finding{}
			}
			return domain.AnalysisOutcome{Analysis: &analysis}
		}
	}
	return domain.AnalysisOutcome{Summary: strings.TrimSpace(respText)}
}

// generateJSON runs one non-streaming generation in JSON mode.
func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	payload := generateRequest{Model: c.genModel, Prompt: prompt, Format: "json"}

	var reply string
	call := func(ctx context.Context) error {
		var err error
		reply, err = c.postGenerate(ctx, payload)
		return err
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyGenerateError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", resilience.MarkTemporary("ollama generate", err, classifyGenerateError)
	}
	return reply, nil
}

// extractJSONObject strips markdown fences and prose around a JSON object.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
