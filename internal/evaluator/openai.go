package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"mailsentry/internal/model"
	"mailsentry/pkg/metrics"
)

var errNoJSONObject = errors.New("no JSON object in model reply")

const strictJSONNote = `Return ONLY ONE LINE of MINIFIED JSON with EXACT keys and values, ` +
	`no extra text, no code fences:
{"verdict":"Phishing"|"Legitimate","phishing_probability":0-1,"confidence":0-1,"reasons":"plain-language explanation"}`

const (
	contentSystemPrompt = `You are a cybersecurity expert specializing in phishing.
Focus ONLY on the email BODY text cues (lottery/donation claims, money requests, urgency, grammar anomalies).
` + strictJSONNote

	urlSystemPrompt = `You are a cybersecurity expert specializing in phishing.
Focus ONLY on the URLs contained in the email body (suspicious domains, lookalike hosts, mismatched link text, URL shorteners).
` + strictJSONNote

	metadataSystemPrompt = `You are a cybersecurity expert specializing in phishing.
Focus ONLY on the email header fields (sender/reply-to mismatch, suspicious received chain, missing or broken DKIM, forged message-id).
` + strictJSONNote

	synthesisSystemPrompt = `You are an expert in cybersecurity with deep expertise in phishing.
Your task is to take the detailed technical explanations provided by the three specialized analyses (content, URL, and metadata) for why an email is classified as phishing or legitimate, and synthesize them into one coherent, reliable, and complete explanation written in plain, everyday language. Ensure that your explanation is truthful, meaningful, and based solely on factual evidence. Avoid technical jargon, simplify complex concepts, and provide clear, concise reasons for the classification that accurately reflect the underlying data.`

	enrichSystemPrompt = `You are an email assistant. Read the email and produce a short summary and triage labels.
Return ONLY ONE LINE of MINIFIED JSON with EXACT keys, no extra text, no code fences:
{"summary":"one or two sentences","category":"free-form label","urgency":"normal"|"urgent","importance":"low"|"medium"|"high","need_schedule":true|false,"schedule_name":"event name or empty","schedule_time":"2006-01-02 15:04 or empty"}`
)

// Client evaluates email signals through an OpenAI-compatible chat
// completion endpoint. It implements SignalEvaluator, Synthesizer and
// Enricher.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxBodySize int
	logger      *zap.Logger
}

// NewClient builds an evaluator client. baseURL may point at any
// OpenAI-compatible endpoint; empty means the OpenAI default.
func NewClient(baseURL, apiKey, model string, temperature float32, maxBodySize int, logger *zap.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Client{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// EvaluateContent analyzes the email body text.
func (c *Client) EvaluateContent(ctx context.Context, body string) (Result, error) {
	if strings.TrimSpace(body) == "" {
		return Result{
			Verdict:     VerdictLegitimate,
			Probability: 0.1,
			Confidence:  0.3,
			Reasons:     "Email body is empty; no text analysis possible",
		}, nil
	}
	user := "The following is the email body. Judge from the body text only (ignore URLs and metadata):\n\n" + c.truncate(body)
	return c.evaluate(ctx, "content", contentSystemPrompt, user)
}

// EvaluateURL analyzes the URLs embedded in the email body.
func (c *Client) EvaluateURL(ctx context.Context, body string) (Result, error) {
	user := "The following is the email body. Judge from the embedded URLs only:\n\n" + c.truncate(body)
	return c.evaluate(ctx, "url", urlSystemPrompt, user)
}

// EvaluateMetadata analyzes parsed header fields.
func (c *Client) EvaluateMetadata(ctx context.Context, headers map[string]string) (Result, error) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, headers[k])
	}

	user := "The following are the email header fields. Judge from the metadata only:\n\n" + c.truncate(b.String())
	return c.evaluate(ctx, "metadata", metadataSystemPrompt, user)
}

func (c *Client) evaluate(ctx context.Context, signal, system, user string) (Result, error) {
	start := time.Now()
	reply, err := c.complete(ctx, system, user)
	if err != nil {
		metrics.RecordEvaluatorCall(signal, "error", time.Since(start))
		return Result{}, err
	}
	metrics.RecordEvaluatorCall(signal, "ok", time.Since(start))

	res, err := parseResult(reply)
	if err != nil {
		c.logger.Warn("Failed to parse evaluator reply",
			zap.String("signal", signal),
			zap.Error(err))
		return Result{}, fmt.Errorf("parse %s evaluator reply: %w", signal, err)
	}
	return res, nil
}

// Explain asks the model to reconcile the three per-signal reasons with the
// fused outcome. The caller substitutes a fixed fallback when this fails;
// the numeric verdict is never blocked on it.
func (c *Client) Explain(ctx context.Context, in SynthesisInput) (string, error) {
	var b strings.Builder
	b.WriteString("Combine the three analysis conclusions into one short plain-language explanation. Stick to the facts; do not invent details.\n\n")
	writeSection := func(name string, r *Result) {
		if r == nil {
			fmt.Fprintf(&b, "[%s]\nskipped (not applicable to this email)\n\n", name)
			return
		}
		enc, _ := json.Marshal(r)
		fmt.Fprintf(&b, "[%s]\n%s\n\n", name, enc)
	}
	writeSection("Content", in.Content)
	writeSection("URL", in.URL)
	writeSection("Metadata", in.Metadata)
	fmt.Fprintf(&b, "Fused score: %.4f, threshold: %.2f, final verdict: %s", in.Score, in.Threshold, in.Verdict)

	start := time.Now()
	reply, err := c.complete(ctx, synthesisSystemPrompt, b.String())
	if err != nil {
		metrics.RecordEvaluatorCall("synthesis", "error", time.Since(start))
		return "", err
	}
	metrics.RecordEvaluatorCall("synthesis", "ok", time.Since(start))

	return strings.TrimSpace(reply), nil
}

// Enrich extracts the stage-four summary and scheduling suggestion from the
// raw email body.
func (c *Client) Enrich(ctx context.Context, body string) (model.Enrichment, error) {
	start := time.Now()
	reply, err := c.complete(ctx, enrichSystemPrompt, c.truncate(body))
	if err != nil {
		metrics.RecordEvaluatorCall("enrichment", "error", time.Since(start))
		return model.Enrichment{}, err
	}
	metrics.RecordEvaluatorCall("enrichment", "ok", time.Since(start))

	raw, err := extractObject(reply)
	if err != nil {
		return model.Enrichment{}, fmt.Errorf("parse enrichment reply: %w", err)
	}

	var fields struct {
		Summary      string `json:"summary"`
		Category     string `json:"category"`
		Urgency      string `json:"urgency"`
		Importance   string `json:"importance"`
		NeedSchedule bool   `json:"need_schedule"`
		ScheduleName string `json:"schedule_name"`
		ScheduleTime string `json:"schedule_time"`
	}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return model.Enrichment{}, fmt.Errorf("parse enrichment reply: %w", err)
	}

	e := model.Enrichment{
		Summary:      fields.Summary,
		Category:     fields.Category,
		Urgency:      fields.Urgency,
		Importance:   fields.Importance,
		NeedSchedule: fields.NeedSchedule,
		ScheduleName: fields.ScheduleName,
	}
	if fields.ScheduleTime != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04", fields.ScheduleTime, time.Local); err == nil {
			e.ScheduleTime = &t
		}
	}
	return e, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) truncate(s string) string {
	if c.maxBodySize <= 0 || len(s) <= c.maxBodySize {
		return s
	}
	return s[:c.maxBodySize] + "\n[... truncated ...]"
}
