package gemini

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/kavarel/gigpilot/internal/config"
	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/kavarel/gigpilot/internal/session"
	"google.golang.org/api/option"
)

// Request contains reply-generation parameters.
type Request struct {
	Prompt   string
	History  []session.Turn
	Files    []domain.FileHandle
	Model    string
	KeyIndex int
}

// Reply contains the generation result.
type Reply struct {
	Text       string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// Client talks to the Gemini API. It is configured with a ring of API
// keys; callers select a key by index, which lets a session stick to
// the key that last worked for it.
type Client struct {
	keys  []string
	model string
}

// NewClient creates a Gemini client from configuration.
func NewClient(cfg config.GeminiConfig) *Client {
	return &Client{
		keys:  cfg.APIKeys,
		model: cfg.Model,
	}
}

// IsConfigured checks whether at least one API key is present.
func (c *Client) IsConfigured() bool {
	return len(c.keys) > 0
}

// KeyCount returns the size of the API key ring.
func (c *Client) KeyCount() int {
	return len(c.keys)
}

// DefaultModel returns the configured or fallback model.
func (c *Client) DefaultModel() string {
	if c.model != "" {
		return c.model
	}
	return "gemini-2.5-flash"
}

// GenerateReply sends the prompt plus chat history and file
// attachments, returning the generated text.
func (c *Client) GenerateReply(ctx context.Context, req Request) (*Reply, error) {
	if !c.IsConfigured() {
		return nil, fmt.Errorf("gemini client is not configured (missing API key)")
	}

	model := req.Model
	if model == "" {
		model = c.DefaultModel()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.key(req.KeyIndex)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	generativeModel := client.GenerativeModel(model)

	chat := generativeModel.StartChat()
	chat.History = toHistory(req.History)

	parts := make([]genai.Part, 0, 1+len(req.Files))
	parts = append(parts, genai.Text(req.Prompt))
	for _, f := range req.Files {
		if !f.Attachable() {
			continue
		}
		parts = append(parts, genai.FileData{MIMEType: f.MimeType, URI: f.GeminiURI})
	}

	start := time.Now()
	resp, err := chat.SendMessage(ctx, parts...)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from gemini")
	}

	var output string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			output += string(text)
		}
	}

	tokensUsed := 0
	if resp.UsageMetadata != nil {
		tokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Reply{
		Text:       output,
		Model:      model,
		TokensUsed: tokensUsed,
		LatencyMs:  latency,
	}, nil
}

// Upload pushes file content through the Files API and returns the
// upload URI. It satisfies knowledge.Uploader.
func (c *Client) Upload(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	if !c.IsConfigured() {
		return "", fmt.Errorf("gemini client is not configured (missing API key)")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.key(0)))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	file, err := client.UploadFile(ctx, "", bytes.NewReader(data), &genai.UploadFileOptions{
		DisplayName: name,
		MIMEType:    mimeType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file %s: %w", name, err)
	}

	return file.URI, nil
}

func (c *Client) key(index int) string {
	if index < 0 {
		index = 0
	}
	return c.keys[index%len(c.keys)]
}

func toHistory(turns []session.Turn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts := make([]genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			parts = append(parts, genai.Text(p.Text))
		}
		history = append(history, &genai.Content{Role: turn.Role, Parts: parts})
	}
	return history
}
