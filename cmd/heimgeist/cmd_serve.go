package main

import (
	"github.com/spf13/cobra"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"heimgeist/internal/logging"
	mcpserver "heimgeist/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing the engine's tools:
event ingestion, status, analysis, risk assessment and the action
state machine. Agent frontends connect via their MCP configuration.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, cleanup, err := loadConfigAndBuild()
	if err != nil {
		return err
	}
	defer cleanup()

	srv := mcpserver.NewServer(e, version)
	logging.New("mcp").Info("starting heimgeist MCP server over stdio")
	return srv.Run(cmd.Context(), &sdkmcp.StdioTransport{})
}
