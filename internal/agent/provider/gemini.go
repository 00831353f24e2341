package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider implements Provider using the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	config Config
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	cfg = cfg.withDefaults(defaultGeminiModel)
	if strings.HasPrefix(cfg.Model, "claude") {
		cfg.Model = defaultGeminiModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, config: cfg}, nil
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.config.Model }

// Chat implements Provider.Chat for Gemini.
func (p *GeminiProvider) Chat(ctx context.Context, conversation []Message, tools []ToolDefinition) (*Response, error) {
	system, rest := SplitSystem(conversation)

	contents, err := toGeminiContents(rest)
	if err != nil {
		return nil, err
	}

	gcfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.config.MaxTokens),
	}
	if system != "" {
		gcfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if p.config.Temperature > 0 {
		temp := float32(p.config.Temperature)
		gcfg.Temperature = &temp
	}
	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, tool := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.InputSchema,
			})
		}
		gcfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}
	return fromGeminiResponse(resp)
}

// toGeminiContents maps the conversation onto Gemini contents. Tool results
// are sent as function responses in a user turn, grouped per assistant turn.
func toGeminiContents(messages []Message) ([]*genai.Content, error) {
	out := make([]*genai.Content, 0, len(messages))
	var pending []*genai.Part

	flush := func() {
		if len(pending) > 0 {
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: pending})
			pending = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleTool:
			key := "output"
			if msg.IsError {
				key = "error"
			}
			pending = append(pending, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.ToolName,
				Response: map[string]any{key: msg.Content},
			}})
		case RoleAssistant:
			flush()
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var args map[string]any
				if err := json.Unmarshal(normalizeArgs(call.Arguments), &args); err != nil {
					return nil, fmt.Errorf("tool call %s has non-object arguments: %w", call.ID, err)
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: args,
				}})
			}
			out = append(out, content)
		default:
			flush()
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	flush()
	return out, nil
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	response := &Response{StopReason: StopReasonEndTurn}
	if resp.UsageMetadata != nil {
		response.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return response, nil
	}

	candidate := resp.Candidates[0]
	var text []string
	for i, part := range candidate.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return nil, fmt.Errorf("failed to encode function call args: %w", err)
			}
			id := part.FunctionCall.ID
			if id == "" {
				// The Gemini API does not always assign call ids.
				id = fmt.Sprintf("call_%d_%s", i, part.FunctionCall.Name)
			}
			response.ToolCalls = append(response.ToolCalls, ToolCall{ID: id, Name: part.FunctionCall.Name, Arguments: args})
		case part.Text != "":
			text = append(text, part.Text)
		}
	}
	response.Content = strings.Join(text, "")

	switch {
	case len(response.ToolCalls) > 0:
		response.StopReason = StopReasonToolUse
	case candidate.FinishReason == genai.FinishReasonMaxTokens:
		response.StopReason = StopReasonMaxTokens
	}
	return response, nil
}
