package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/storage/models"
	"github.com/errorpulse/backend/pkg/circuitbreaker"
	"github.com/errorpulse/backend/pkg/logger"
	"github.com/errorpulse/backend/pkg/retry"
)

// Analysis is the structured result of AI error categorization.
type Analysis struct {
	Category   string `json:"category"`
	Severity   string `json:"severity"`
	Hypothesis string `json:"hypothesis"`
}

// Analyzer is the AI collaborator boundary. The pipeline only depends on
// this; tests substitute doubles.
type Analyzer interface {
	StreamAnalyze(ctx context.Context, event *models.ErrorEvent, onChunk func(chunk string)) (*Analysis, error)
}

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec int) *Client {
	cb := circuitbreaker.NewCircuitBreaker("ai-analysis", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("AI analysis client initialized", zap.String("model", model))

	return &Client{
		client:      openai.NewClient(apiKey),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     time.Duration(timeoutSec) * time.Second,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

// StreamAnalyze runs a streaming categorization of the error, invoking
// onChunk for every delta, and returns the parsed final analysis. Only
// stream creation is retried; once chunks have been delivered a mid-stream
// failure surfaces as an error.
func (c *Client) StreamAnalyze(ctx context.Context, event *models.ErrorEvent, onChunk func(chunk string)) (*Analysis, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(event),
			},
		},
	}

	var fullText strings.Builder

	err := c.cb.Execute(ctx, func() error {
		stream, err := retry.DoWithResult(ctx, c.retryConfig, func() (*openai.ChatCompletionStream, error) {
			s, err := c.client.CreateChatCompletionStream(ctx, req)
			if err != nil {
				return nil, fmt.Errorf("failed to create analysis stream: %w", err)
			}
			return s, nil
		})
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to receive analysis chunk: %w", err)
			}
			if len(resp.Choices) == 0 {
				continue
			}

			chunk := resp.Choices[0].Delta.Content
			if chunk == "" {
				continue
			}

			fullText.WriteString(chunk)
			if onChunk != nil {
				onChunk(chunk)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	analysis := ParseAnalysis(fullText.String())

	logger.Debug("Error analysis complete",
		zap.Int64("error_id", event.ID),
		zap.String("category", analysis.Category),
		zap.String("severity", analysis.Severity),
	)

	return analysis, nil
}

const systemPrompt = `You are an expert error analysis system. Analyze application errors and respond in the exact format requested. Be concise and technical. Focus on actionable insights.`

func buildPrompt(event *models.ErrorEvent) string {
	var b strings.Builder

	b.WriteString("Error Details:\n")
	fmt.Fprintf(&b, "- Source/Service: %s\n", event.Source)
	fmt.Fprintf(&b, "- Message: %s\n", event.Message)

	stackTrace := "Not provided"
	if event.StackTrace != nil && *event.StackTrace != "" {
		stackTrace = *event.StackTrace
	}
	fmt.Fprintf(&b, "- Stack Trace: %s\n", stackTrace)
	fmt.Fprintf(&b, "- Timestamp: %s\n", time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339))

	if event.Environment != nil && *event.Environment != "" {
		fmt.Fprintf(&b, "- Environment: %s\n", *event.Environment)
	}

	b.WriteString(`
Please provide:
1. CATEGORY: One concise category (e.g., "Database", "Authentication", "Network", "Null Reference", "Timeout", "Permission", "Configuration", "API", "Memory", "Syntax")
2. SEVERITY: One of: critical, high, medium, low
3. HYPOTHESIS: A brief 1-2 sentence root cause analysis

Format your response EXACTLY as:
CATEGORY: [category]
SEVERITY: [severity]
HYPOTHESIS: [your analysis]`)

	return b.String()
}

// ParseAnalysis extracts the CATEGORY/SEVERITY/HYPOTHESIS lines from the
// model output, falling back to safe defaults for anything missing or
// malformed.
func ParseAnalysis(text string) *Analysis {
	analysis := &Analysis{
		Category:   "Unknown",
		Severity:   models.SeverityMedium,
		Hypothesis: "Unable to analyze error",
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "CATEGORY:"):
			analysis.Category = valueAfterColon(line)
		case strings.HasPrefix(upper, "SEVERITY:"):
			severity := strings.ToLower(valueAfterColon(line))
			if severity == models.SeverityCritical || severity == models.SeverityHigh ||
				severity == models.SeverityMedium || severity == models.SeverityLow {
				analysis.Severity = severity
			}
		case strings.HasPrefix(upper, "HYPOTHESIS:"):
			analysis.Hypothesis = valueAfterColon(line)
		}
	}

	return analysis
}

func valueAfterColon(line string) string {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line
	}
	return strings.TrimSpace(line[idx+1:])
}
