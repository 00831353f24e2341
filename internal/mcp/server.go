// Package mcp exposes the read-only box diagnostics and the prompt templates
// to external assistants over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/moolen/boxfixer/internal/agent/loop"
	"github.com/moolen/boxfixer/internal/agent/prompt"
	"github.com/moolen/boxfixer/internal/agent/report"
	"github.com/moolen/boxfixer/internal/agent/tools"
	"github.com/moolen/boxfixer/internal/logging"
)

const serverName = "BoxFixer MCP Server"

// Prompt names offered to clients.
const (
	AssessPromptName       = "assess_box_health"
	TroubleshootPromptName = "troubleshoot_category"
)

// ServerOptions configures the MCP server.
type ServerOptions struct {
	Version  string
	Tools    []tools.Tool
	Composer *prompt.Composer
	// Services is the monitored service list used to fill the prompts.
	Services []string
	// SafetyMode is announced in the troubleshooting prompt.
	SafetyMode string
	// ToolTimeout bounds each tool call, loop.DefaultToolTimeout if zero.
	ToolTimeout time.Duration
}

// Server wraps an mcp-go server with the BoxFixer tools and prompts.
type Server struct {
	mcpServer *server.MCPServer
	registry  *tools.Registry
	opts      ServerOptions
	logger    *logging.Logger
}

// NewServer registers every tool and prompt. Only read-only tools are
// accepted: commands on the box are never run on behalf of a remote client.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Composer == nil {
		return nil, fmt.Errorf("mcp: prompt composer is required")
	}
	for _, t := range opts.Tools {
		if !tools.IsReadOnly(t) {
			return nil, fmt.Errorf("mcp: tool %q is not read-only", t.Name())
		}
	}
	registry, err := tools.NewRegistry(opts.Tools...)
	if err != nil {
		return nil, err
	}
	if opts.SafetyMode == "" {
		opts.SafetyMode = "supervised"
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = loop.DefaultToolTimeout
	}

	s := &Server{
		mcpServer: server.NewMCPServer(
			serverName,
			opts.Version,
			server.WithToolCapabilities(false),
			server.WithPromptCapabilities(false),
			server.WithLogging(),
		),
		registry: registry,
		opts:     opts,
		logger:   logging.GetLogger("mcp"),
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	s.registerPrompts()
	return s, nil
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() error {
	for _, t := range s.registry.List() {
		schemaJSON, err := json.Marshal(t.InputSchema())
		if err != nil {
			return fmt.Errorf("failed to marshal schema for tool %s: %w", t.Name(), err)
		}
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), schemaJSON), s.toolHandler(t.Name()))
	}
	return nil
}

func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(request.Params.Arguments)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid arguments: %v", err)), nil
		}
		if string(args) == "null" {
			args = []byte("{}")
		}

		result, err := s.registry.Execute(ctx, name, args, s.opts.ToolTimeout)
		if err != nil {
			s.logger.Warn("Tool %s failed: %v", name, err)
			return mcp.NewToolResultError(fmt.Sprintf("Tool execution failed: %v", err)), nil
		}

		text, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
		}
		if !result.Success {
			return mcp.NewToolResultError(string(text)), nil
		}
		return mcp.NewToolResultText(string(text)), nil
	}
}

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.Prompt{
		Name:        AssessPromptName,
		Description: "Assess the health of the QA box and end with a machine-readable health report",
		Arguments: []mcp.PromptArgument{
			{Name: "services", Description: "Optional comma-separated services to assess instead of the configured list"},
		},
	}, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		services := s.services(request.Params.Arguments["services"])
		text, err := s.opts.Composer.Compose(prompt.Assessment, map[string]interface{}{
			"Services":     services,
			"ReportFormat": report.FormatInstructions(),
		})
		if err != nil {
			return nil, err
		}
		return s.promptResult("QA box health assessment", text)
	})

	s.mcpServer.AddPrompt(mcp.Prompt{
		Name:        TroubleshootPromptName,
		Description: "Troubleshoot failing services of one category using the category's troubleshooting steps",
		Arguments: []mcp.PromptArgument{
			{Name: "category", Description: "Troubleshooting category, e.g. passkeys or payment", Required: true},
			{Name: "services", Description: "Comma-separated failing services", Required: true},
		},
	}, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		category := strings.TrimSpace(request.Params.Arguments["category"])
		if category == "" {
			return nil, fmt.Errorf("category is required")
		}
		services := splitList(request.Params.Arguments["services"])
		if len(services) == 0 {
			return nil, fmt.Errorf("services is required")
		}
		text, err := s.opts.Composer.Compose(prompt.Troubleshoot, map[string]interface{}{
			"Category":   category,
			"Services":   services,
			"SafetyMode": s.opts.SafetyMode,
		})
		if err != nil {
			return nil, err
		}
		return s.promptResult("Troubleshooting "+category, text)
	})
}

func (s *Server) promptResult(description, text string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.NewTextContent(text),
		}},
	}, nil
}

func (s *Server) services(arg string) []string {
	if list := splitList(arg); len(list) > 0 {
		return list
	}
	return s.opts.Services
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
