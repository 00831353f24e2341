package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moolen/boxfixer/internal/agent/prompt"
	"github.com/moolen/boxfixer/internal/agent/troubleshoot"
	"github.com/moolen/boxfixer/internal/diagnostics"
	"github.com/moolen/boxfixer/internal/logging"
	"github.com/moolen/boxfixer/internal/mcp"
)

var (
	mcpTransport    string
	mcpHTTPAddr     string
	mcpEndpointPath string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the box diagnostics as MCP tools",
	Long: `Start a Model Context Protocol server that exposes the read-only box
diagnostics (service status, system resources, troubleshooting steps) and the
assessment and troubleshooting prompts to external AI assistants.

Commands are never executed on behalf of MCP clients.

Supports two transport modes:
  - stdio: Standard input/output mode (default, for subprocess-based MCP clients)
  - http:  Streamable HTTP mode with a /health endpoint`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport type: stdio or http")
	mcpCmd.Flags().StringVar(&mcpHTTPAddr, "http-addr", ":8082", "HTTP server address (host:port)")
	mcpCmd.Flags().StringVar(&mcpEndpointPath, "mcp-endpoint", mcp.DefaultEndpointPath, "HTTP endpoint path for MCP requests")
}

func runMCP(cmd *cobra.Command, args []string) error {
	logger := logging.GetLogger("mcp")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver, err := troubleshoot.NewPatternResolver(cfg.Categories.Rules, cfg.Categories.Default)
	if err != nil {
		return err
	}
	suite, err := diagnostics.NewSuite(ctx, cfg.Diagnostics, resolver.Resolve)
	if err != nil {
		return err
	}
	defer func() {
		if err := suite.Close(); err != nil {
			logger.Warn("Failed to close diagnostics clients: %v", err)
		}
	}()

	composer, err := prompt.NewComposer(cfg.Prompts)
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(mcp.ServerOptions{
		Version:     Version,
		Tools:       append(suite.ReadOnlyTools(), diagnostics.NewStepsTool(suite.Catalog)),
		Composer:    composer,
		Services:    suite.Checker.Services(),
		SafetyMode:  cfg.Safety.Mode,
		ToolTimeout: cfg.Agent.ToolTimeout,
	})
	if err != nil {
		return err
	}

	switch mcpTransport {
	case "stdio":
		err = server.ServeStdio(ctx, os.Stdin, os.Stdout)
	case "http":
		err = server.ServeHTTP(ctx, mcpHTTPAddr, mcpEndpointPath)
	default:
		return fmt.Errorf("invalid transport type: %s (must be 'stdio' or 'http')", mcpTransport)
	}
	if err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
