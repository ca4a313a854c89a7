package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chattie/internal/business"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrEmptyResponse = errors.New("model returned no text")

// Client wraps the Gemini API for reply suggestion, email triage, email
// drafting and website categorization.
type Client struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func NewClient(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Client{client: c, model: model, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SuggestReply generates the next message in a customer conversation.
// The model is asked for JSON; if it answers with anything else, the raw text
// is used as the message so the customer still gets a reply.
func (c *Client) SuggestReply(ctx context.Context, cfg business.Config, pc PromptContext, customerMessage string) (Reply, error) {
	if customerMessage == "" {
		return Reply{}, errors.New("customer message is required")
	}

	model := c.client.GenerativeModel(c.model)
	system := buildSystemPrompt(cfg)
	if known := buildKnownInfo(pc); known != "" {
		system += "\n\n" + known
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(system)},
	}

	temp := float32(0.7)
	maxTokens := int32(500)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		MaxOutputTokens:  &maxTokens,
		ResponseMIMEType: "application/json",
	}

	session := model.StartChat()
	session.History = historyToContents(pc.History)

	resp, err := session.SendMessage(ctx, genai.Text(customerMessage))
	if err != nil {
		return Reply{}, fmt.Errorf("gemini reply request failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return Reply{}, err
	}
	return parseReply(text), nil
}

// ClassifyEmail triages an inbound email. Unparseable verdicts degrade to
// OTHER so the pipeline never drafts off a garbled classification.
func (c *Client) ClassifyEmail(ctx context.Context, email InboundEmail) (Classification, error) {
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(classifyPrompt)},
	}

	temp := float32(0.2)
	maxTokens := int32(200)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		MaxOutputTokens:  &maxTokens,
		ResponseMIMEType: "application/json",
	}

	prompt := fmt.Sprintf("Van: %s\nOnderwerp: %s\n\n%s", email.From, email.Subject, email.Body)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return Classification{}, fmt.Errorf("gemini classify request failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return Classification{}, err
	}
	return parseClassification(text), nil
}

// DraftEmailReply writes a reply body for an inbound customer email.
func (c *Client) DraftEmailReply(ctx context.Context, cfg business.Config, email InboundEmail, history []Turn) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(buildEmailDraftPrompt(cfg))},
	}

	temp := float32(0.7)
	maxTokens := int32(1000)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}

	session := model.StartChat()
	session.History = historyToContents(history)

	prompt := fmt.Sprintf("Nieuwe e-mail ontvangen:\nVan: %s\nOnderwerp: %s\n\n%s\n\nSchrijf een passende reactie.", email.From, email.Subject, email.Body)
	resp, err := session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini draft request failed: %w", err)
	}
	return responseText(resp)
}

// CategorizeSite implements business.Categorizer.
func (c *Client) CategorizeSite(ctx context.Context, pages []business.ScrapedPage) (json.RawMessage, error) {
	model := c.client.GenerativeModel(c.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(categorizePrompt)},
	}

	temp := float32(0.3)
	maxTokens := int32(2000)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		MaxOutputTokens:  &maxTokens,
		ResponseMIMEType: "application/json",
	}

	resp, err := model.GenerateContent(ctx, genai.Text(pagesPrompt(pages)))
	if err != nil {
		return nil, fmt.Errorf("gemini categorize request failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	cleaned := stripCodeFence(text)
	if !json.Valid([]byte(cleaned)) {
		return nil, fmt.Errorf("categorization output is not valid JSON")
	}
	return json.RawMessage(cleaned), nil
}

const (
	maxPagePromptChars  = 3000
	maxTotalPromptChars = 15000
)

func pagesPrompt(pages []business.ScrapedPage) string {
	var b strings.Builder
	for _, p := range pages {
		content := p.Content
		if len(content) > maxPagePromptChars {
			content = content[:maxPagePromptChars]
		}
		fmt.Fprintf(&b, "## %s (%s)\n%s\n\n", p.Title, p.URL, content)
		if b.Len() > maxTotalPromptChars {
			break
		}
	}
	out := b.String()
	if len(out) > maxTotalPromptChars {
		out = out[:maxTotalPromptChars]
	}
	return out
}

func historyToContents(history []Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, t := range history {
		role := "user"
		if t.Role == RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return out
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// parseReply decodes the structured reply, falling back to the raw text.
func parseReply(text string) Reply {
	cleaned := stripCodeFence(text)
	var r Reply
	if err := json.Unmarshal([]byte(cleaned), &r); err == nil && r.Message != "" {
		if r.CollectedInfo != nil && r.CollectedInfo.Empty() {
			r.CollectedInfo = nil
		}
		return r
	}
	return Reply{Message: strings.TrimSpace(text)}
}

func parseClassification(text string) Classification {
	cleaned := stripCodeFence(text)
	var cl Classification
	if err := json.Unmarshal([]byte(cleaned), &cl); err != nil {
		return Classification{Class: ClassOther, Confidence: "low", Reason: "unparseable model output"}
	}
	switch cl.Class {
	case ClassCustomer, ClassSupplier, ClassSpam, ClassOther:
	default:
		cl.Class = ClassOther
	}
	return cl
}

// stripCodeFence removes a surrounding ```json ... ``` block when present.
func stripCodeFence(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out)
}
