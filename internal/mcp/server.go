// Package mcp exposes the engine's operations as MCP tools over stdio,
// so agent frontends can query status, inspect insights, and drive the
// action state machine without a bespoke API layer.
package mcp

import (
	"context"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"heimgeist/internal/engine"
	"heimgeist/internal/event"
	"heimgeist/internal/selfmodel"
)

// Server wraps the MCP SDK server around one engine instance.
type Server struct {
	MCPServer *sdkmcp.Server
	engine    *engine.Engine
}

// NewServer creates an MCP server exposing the engine's tool surface.
func NewServer(e *engine.Engine, version string) *Server {
	s := &Server{engine: e}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "heimgeist", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP over the given transport until the context ends.
func (s *Server) Run(ctx context.Context, transport sdkmcp.Transport) error {
	return s.MCPServer.Run(ctx, transport)
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "process_event",
		Description: "Feed one telemetry event through the Observer/Critic/Director/Archivist pipeline and return the produced insights.",
	}, s.handleProcessEvent)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_status",
		Description: "Get the engine status: counters, autonomy level, self-model state and safety gate.",
	}, s.handleGetStatus)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "analyse",
		Description: "Produce a findings report over the current insight set. Findings are observations, never commands.",
	}, s.handleAnalyse)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "explain",
		Description: "Explain the reasoning chain behind one insight or action id.",
	}, s.handleExplain)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_risk_assessment",
		Description: "Summarize the open risk picture: severity counts, risk tension, safety gate.",
	}, s.handleGetRiskAssessment)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_insights",
		Description: "List all recorded insights in arrival order.",
	}, s.handleGetInsights)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "get_planned_actions",
		Description: "List all planned actions with their state-machine status.",
	}, s.handleGetPlannedActions)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "approve_action",
		Description: "Approve a pending action.",
	}, s.handleApproveAction)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "reject_action",
		Description: "Reject a pending action.",
	}, s.handleRejectAction)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "execute_action",
		Description: "Execute an approved or unconfirmed pending action.",
	}, s.handleExecuteAction)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "set_autonomy_level",
		Description: "Change the configured autonomy ceiling (0=passive, 1=observing, 2=warning, 3=operative).",
	}, s.handleSetAutonomyLevel)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "override_autonomy",
		Description: "Manually override the self-model's autonomy mode. The only way out of dormant.",
	}, s.handleOverrideAutonomy)
}

// --- Tool input/output types ---

type processEventInput struct {
	Type    string         `json:"type" jsonschema:"event type (ci.result, deploy.result, incident.detected, pattern.good, pattern.bad, epic.update, operator.command)"`
	Source  string         `json:"source" jsonschema:"originating system"`
	Payload map[string]any `json:"payload,omitempty" jsonschema:"event payload"`
}

type processEventOutput struct {
	Insights int      `json:"insights"`
	Titles   []string `json:"titles,omitempty"`
}

type analyseInput struct {
	Request string `json:"request,omitempty" jsonschema:"optional filter; only findings mentioning it are returned"`
}

type explainInput struct {
	ID string `json:"id" jsonschema:"insight or action id"`
}

type explainOutput struct {
	Explanation string `json:"explanation"`
}

type insightsOutput struct {
	Insights []insightSummary `json:"insights"`
}

type insightSummary struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Title    string `json:"title"`
}

type actionsOutput struct {
	Actions []actionSummary `json:"actions"`
}

type actionSummary struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	Steps                int    `json:"steps"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Trigger              string `json:"trigger"`
}

type actionIDInput struct {
	ID string `json:"id" jsonschema:"action id"`
}

type okOutput struct {
	OK bool `json:"ok"`
}

type setAutonomyInput struct {
	Level int `json:"level" jsonschema:"autonomy level 0..3"`
}

type overrideAutonomyInput struct {
	Mode   string `json:"mode" jsonschema:"autonomy mode (dormant, aware, reflective, critical)"`
	Reason string `json:"reason" jsonschema:"why the override is needed"`
}

type emptyInput struct{}

// --- Tool handlers ---

func (s *Server) handleProcessEvent(ctx context.Context, _ *sdkmcp.CallToolRequest, input processEventInput) (*sdkmcp.CallToolResult, processEventOutput, error) {
	produced, err := s.engine.ProcessEvent(ctx, &event.Event{
		Type:    input.Type,
		Source:  input.Source,
		Payload: input.Payload,
	})
	if err != nil {
		return nil, processEventOutput{}, fmt.Errorf("process_event: %w", err)
	}
	out := processEventOutput{Insights: len(produced)}
	for _, in := range produced {
		out.Titles = append(out.Titles, in.Title)
	}
	return nil, out, nil
}

func (s *Server) handleGetStatus(_ context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, engine.Status, error) {
	return nil, s.engine.GetStatus(), nil
}

func (s *Server) handleAnalyse(_ context.Context, _ *sdkmcp.CallToolRequest, input analyseInput) (*sdkmcp.CallToolResult, engine.Report, error) {
	return nil, s.engine.Analyse(input.Request), nil
}

func (s *Server) handleExplain(_ context.Context, _ *sdkmcp.CallToolRequest, input explainInput) (*sdkmcp.CallToolResult, explainOutput, error) {
	text, err := s.engine.Explain(input.ID)
	if err != nil {
		return nil, explainOutput{}, err
	}
	return nil, explainOutput{Explanation: text}, nil
}

func (s *Server) handleGetRiskAssessment(_ context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, engine.RiskAssessment, error) {
	return nil, s.engine.GetRiskAssessment(), nil
}

func (s *Server) handleGetInsights(_ context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, insightsOutput, error) {
	var out insightsOutput
	for _, in := range s.engine.GetInsights() {
		out.Insights = append(out.Insights, insightSummary{
			ID:       in.ID,
			Role:     in.Role,
			Type:     string(in.Type),
			Severity: string(in.Severity),
			Title:    in.Title,
		})
	}
	return nil, out, nil
}

func (s *Server) handleGetPlannedActions(_ context.Context, _ *sdkmcp.CallToolRequest, _ emptyInput) (*sdkmcp.CallToolResult, actionsOutput, error) {
	var out actionsOutput
	for _, a := range s.engine.GetPlannedActions() {
		sum := actionSummary{
			ID:                   a.ID,
			Status:               string(a.Status),
			Steps:                len(a.Steps),
			RequiresConfirmation: a.RequiresConfirmation,
		}
		if a.Trigger != nil {
			sum.Trigger = a.Trigger.Title
		}
		out.Actions = append(out.Actions, sum)
	}
	return nil, out, nil
}

func (s *Server) handleApproveAction(_ context.Context, _ *sdkmcp.CallToolRequest, input actionIDInput) (*sdkmcp.CallToolResult, okOutput, error) {
	if err := s.engine.ApproveAction(input.ID); err != nil {
		return nil, okOutput{}, err
	}
	return nil, okOutput{OK: true}, nil
}

func (s *Server) handleRejectAction(_ context.Context, _ *sdkmcp.CallToolRequest, input actionIDInput) (*sdkmcp.CallToolResult, okOutput, error) {
	if err := s.engine.RejectAction(input.ID); err != nil {
		return nil, okOutput{}, err
	}
	return nil, okOutput{OK: true}, nil
}

func (s *Server) handleExecuteAction(ctx context.Context, _ *sdkmcp.CallToolRequest, input actionIDInput) (*sdkmcp.CallToolResult, okOutput, error) {
	ok, err := s.engine.ExecuteAction(ctx, input.ID)
	if err != nil {
		return nil, okOutput{}, err
	}
	return nil, okOutput{OK: ok}, nil
}

func (s *Server) handleSetAutonomyLevel(_ context.Context, _ *sdkmcp.CallToolRequest, input setAutonomyInput) (*sdkmcp.CallToolResult, okOutput, error) {
	if err := s.engine.SetAutonomyLevel(input.Level); err != nil {
		return nil, okOutput{}, err
	}
	return nil, okOutput{OK: true}, nil
}

func (s *Server) handleOverrideAutonomy(_ context.Context, _ *sdkmcp.CallToolRequest, input overrideAutonomyInput) (*sdkmcp.CallToolResult, okOutput, error) {
	if err := s.engine.OverrideAutonomy(selfmodel.Mode(input.Mode), input.Reason); err != nil {
		return nil, okOutput{}, err
	}
	return nil, okOutput{OK: true}, nil
}
