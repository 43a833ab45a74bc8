// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the sales pipeline to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/salesboard/internal/analytics"
	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/pipeline"
	"github.com/starford/salesboard/internal/stages"
	"github.com/starford/salesboard/internal/summarize"
)

const stagesURI = "salesboard://stages"

// Summarizer produces meeting summaries.
type Summarizer interface {
	Available() bool
	Summarize(ctx context.Context, transcript, client, assignee string) (summarize.Result, error)
}

// Server wraps the MCP server with Salesboard tools.
type Server struct {
	mcp    *server.MCPServer
	pipe   *pipeline.Manager
	stages *stages.Registry
	sum    Summarizer
	now    func() time.Time
}

// New creates a new MCP server with all Salesboard tools registered.
// sum may be nil, in which case summarize_meeting reports the missing key.
func New(pipe *pipeline.Manager, reg *stages.Registry, sum Summarizer) *Server {
	s := &Server{pipe: pipe, stages: reg, sum: sum, now: time.Now}

	s.mcp = server.NewMCPServer(
		"Salesboard",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_opportunities",
		mcp.WithDescription("List sales opportunities. All filters are optional and combined with AND."),
		mcp.WithString("search", mcp.Description("Case-insensitive text matched against client, summary, assignee and contact")),
		mcp.WithString("assignee", mcp.Description("Exact assignee name")),
		mcp.WithString("from", mcp.Description("Earliest meeting date, YYYY-MM-DD")),
		mcp.WithString("to", mcp.Description("Latest meeting date, YYYY-MM-DD")),
		mcp.WithString("stage", mcp.Description("Comma separated stage ids (see list_stages)")),
	), s.listOpportunities)

	s.mcp.AddTool(mcp.NewTool("get_opportunity",
		mcp.WithDescription("Read one opportunity including its meeting history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Opportunity id")),
	), s.getOpportunity)

	s.mcp.AddTool(mcp.NewTool("create_opportunity",
		mcp.WithDescription("Create a new opportunity. Read the salesboard://record-format resource "+
			"or call get_record_format first for the field rules."),
		mcp.WithString("client", mcp.Required(), mcp.Description("Client company name")),
		mcp.WithString("date", mcp.Required(), mcp.Description("First meeting date, YYYY-MM-DD")),
		mcp.WithString("assignee", mcp.Required(), mcp.Description("Sales person in charge")),
		mcp.WithString("summary", mcp.Description("Meeting summary")),
		mcp.WithArray("action_items", mcp.Description("Follow-up tasks"), mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("stage", mcp.Description("Stage id, defaults to lead")),
		mcp.WithNumber("estimated_value", mcp.Description("Expected deal size in KRW")),
		mcp.WithString("priority", mcp.Enum(models.PriorityHigh, models.PriorityMedium, models.PriorityLow)),
		mcp.WithString("next_meeting_date", mcp.Description("YYYY-MM-DD")),
	), s.createOpportunity)

	s.mcp.AddTool(mcp.NewTool("change_stage",
		mcp.WithDescription("Move an opportunity to another pipeline stage."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Opportunity id")),
		mcp.WithString("stage", mcp.Required(), mcp.Description("Target stage id")),
	), s.changeStage)

	s.mcp.AddTool(mcp.NewTool("add_meeting",
		mcp.WithDescription("Append a follow-up meeting to an opportunity's history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Opportunity id")),
		mcp.WithString("date", mcp.Required(), mcp.Description("Meeting date, YYYY-MM-DD")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("What was discussed")),
		mcp.WithString("type", mcp.Enum(models.MeetingTypes...)),
		mcp.WithString("outcome", mcp.Enum(models.MeetingOutcomes...)),
		mcp.WithArray("action_items", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("attendees", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("next_steps", mcp.Items(map[string]any{"type": "string"})),
	), s.addMeeting)

	s.mcp.AddTool(mcp.NewTool("pipeline_stats",
		mcp.WithDescription("Dashboard statistics: totals, conversion rate, stage distribution, top performers and monthly trend."),
		mcp.WithString("assignee", mcp.Description("Restrict to one assignee")),
	), s.pipelineStats)

	s.mcp.AddTool(mcp.NewTool("list_stages",
		mcp.WithDescription("List the configured pipeline stages in board order."),
	), s.listStages)

	s.mcp.AddTool(mcp.NewTool("summarize_meeting",
		mcp.WithDescription("Summarize a meeting transcript into a summary, action items and a suggested stage. Nothing is stored."),
		mcp.WithString("transcript", mcp.Required(), mcp.Description("Raw meeting notes or transcript")),
		mcp.WithString("client", mcp.Description("Client name, used as context")),
		mcp.WithString("assignee", mcp.Description("Assignee name, used as context")),
	), s.summarizeMeeting)

	s.mcp.AddTool(mcp.NewTool("get_record_format",
		mcp.WithDescription("Returns the field rules for opportunities and meetings."),
	), s.getRecordFormat)

	s.mcp.AddResource(
		mcp.NewResource(stagesURI, "Pipeline Stages",
			mcp.WithResourceDescription("Configured pipeline stages as JSON."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStagesResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(recordFormatURI, "Record Format",
			mcp.WithResourceDescription("Field rules for opportunities and meetings."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func stringArg(req mcp.CallToolRequest, key string) string {
	v, _ := req.GetArguments()[key].(string)
	return strings.TrimSpace(v)
}

func listArg(req mcp.CallToolRequest, key string) []string {
	switch v := req.GetArguments()[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Split(v, ",")
	}
	return nil
}

func (s *Server) listOpportunities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f := analytics.Filters{
		Search:   stringArg(req, "search"),
		Assignee: stringArg(req, "assignee"),
		DateFrom: stringArg(req, "from"),
		DateTo:   stringArg(req, "to"),
		Stages:   models.CleanList(listArg(req, "stage")),
	}
	records := analytics.Filter(s.pipe.List(), f)
	return jsonResult(map[string]any{"opportunities": records, "total": len(records)})
}

func (s *Server) getOpportunity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	o, err := s.pipe.Get(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(o)
}

func (s *Server) createOpportunity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	o := models.Opportunity{
		Client:          stringArg(req, "client"),
		Date:            stringArg(req, "date"),
		Assignee:        stringArg(req, "assignee"),
		Summary:         stringArg(req, "summary"),
		ActionItems:     listArg(req, "action_items"),
		Stage:           stringArg(req, "stage"),
		Priority:        stringArg(req, "priority"),
		NextMeetingDate: stringArg(req, "next_meeting_date"),
	}
	if v, ok := req.GetArguments()["estimated_value"].(float64); ok {
		n := int64(v)
		o.EstimatedValue = &n
	}
	id, err := s.pipe.Add(ctx, o, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", id)), nil
}

func (s *Server) changeStage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stage, err := req.RequireString("stage")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.pipe.ChangeStage(ctx, id, stage, nil); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s → %s", id, s.stages.Label(stage))), nil
}

func (s *Server) addMeeting(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.pipe.AddMeeting(ctx, id, models.MeetingEntry{
		Date:        stringArg(req, "date"),
		Type:        stringArg(req, "type"),
		Summary:     stringArg(req, "summary"),
		Outcome:     stringArg(req, "outcome"),
		ActionItems: listArg(req, "action_items"),
		Attendees:   listArg(req, "attendees"),
		NextSteps:   listArg(req, "next_steps"),
	}, nil)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry)
}

func (s *Server) pipelineStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records := analytics.Filter(s.pipe.List(), analytics.Filters{Assignee: stringArg(req, "assignee")})
	return jsonResult(analytics.Summarize(records, s.stages.List(), s.now()))
}

func (s *Server) listStages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.stages.List())
}

func (s *Server) summarizeMeeting(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transcript, err := req.RequireString("transcript")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.sum == nil {
		return mcp.NewToolResultError(summarize.ErrInvalidKey.Error()), nil
	}
	res, err := s.sum.Summarize(ctx, transcript, stringArg(req, "client"), stringArg(req, "assignee"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) getRecordFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormat), nil
}

func (s *Server) readStagesResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(s.stages.List(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      stagesURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) readRecordFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      recordFormatURI,
			MIMEType: "text/markdown",
			Text:     RecordFormat,
		},
	}, nil
}
