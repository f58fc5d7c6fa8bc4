// Package handler exposes the training desk as MCP tools so a chat bridge or
// an assistant can file and review training requests.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/errcodes"
	"github.com/tejzpr/training-desk/internal/workflow"
)

type Handler struct {
	desk   workflow.Desk
	tokens *auth.Tokens
	logger *slog.Logger
}

func New(desk workflow.Desk, tokens *auth.Tokens, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{desk: desk, tokens: tokens, logger: logger}
}

func tokenArg() mcp.ToolOption {
	return mcp.WithString("token",
		mcp.Required(),
		mcp.Description("Signed actor token identifying the member the command is run for"),
	)
}

// Register adds every training tool to s.
func (h *Handler) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("submit_training",
		mcp.WithDescription("Submit a DST training request. Requires the DST role and one request per hour."),
		tokenArg(),
		mcp.WithString("available_time",
			mcp.Required(),
			mcp.Description("When the member is available for training"),
		),
		mcp.WithBoolean("group",
			mcp.Required(),
			mcp.Description("Whether the member has been accepted into the training group"),
		),
	), h.SubmitTraining)

	s.AddTool(mcp.NewTool("submit_evoc_training",
		mcp.WithDescription("Submit an EVOC (elevated) training request. Requires the EVOC role."),
		tokenArg(),
		mcp.WithString("available_time",
			mcp.Required(),
			mcp.Description("When the member is available for training"),
		),
	), h.SubmitEvocTraining)

	s.AddTool(mcp.NewTool("accept_training",
		mcp.WithDescription("Accept a pending training request. Reviewers only."),
		tokenArg(),
		mcp.WithString("training_id",
			mcp.Required(),
			mcp.Description("Training ID, e.g. LASD-DST001"),
		),
	), h.AcceptTraining)

	s.AddTool(mcp.NewTool("log_training_results",
		mcp.WithDescription("Post the outcome of a held training session to the results channel. Reviewers only."),
		tokenArg(),
		mcp.WithString("trainee", mcp.Required(), mcp.Description("Trainee name or mention")),
		mcp.WithString("score", mcp.Required(), mcp.Description("Score, e.g. 18/20")),
		mcp.WithString("status", mcp.Required(), mcp.Enum("Passed", "Failed")),
		mcp.WithString("training_type", mcp.Required(), mcp.Enum("DST", "EVOC")),
		mcp.WithString("notes", mcp.Description("Optional notes for the trainee")),
	), h.LogTrainingResults)

	s.AddTool(mcp.NewTool("get_training",
		mcp.WithDescription("Show a training request. Members see their own, reviewers see all."),
		tokenArg(),
		mcp.WithString("training_id", mcp.Required()),
	), h.GetTraining)

	s.AddTool(mcp.NewTool("list_trainings",
		mcp.WithDescription("List training requests, newest first."),
		tokenArg(),
		mcp.WithString("status", mcp.Enum("pending", "accepted")),
		mcp.WithString("training_type", mcp.Enum("DST", "EVOC")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of requests to return")),
	), h.ListTrainings)

	s.AddTool(mcp.NewTool("error_info",
		mcp.WithDescription("Explain a LASD-E error code."),
		mcp.WithString("error_code", mcp.Required()),
	), h.ErrorInfo)

	s.AddTool(mcp.NewTool("list_error_codes",
		mcp.WithDescription("List every LASD-E error code."),
	), h.ListErrorCodes)
}

func (h *Handler) actor(request mcp.CallToolRequest) (auth.Actor, *mcp.CallToolResult) {
	token, err := request.RequireString("token")
	if err != nil {
		return auth.Actor{}, mcp.NewToolResultError("token is required")
	}
	actor, err := h.tokens.Parse(token)
	if err != nil {
		return auth.Actor{}, mcp.NewToolResultError(err.Error())
	}
	return actor, nil
}

// result turns a desk error into a tool error the member can read. Anything
// without a catalog code is internal and surfaces as a protocol error.
func (h *Handler) result(tool string, err error) (*mcp.CallToolResult, error) {
	var rej *workflow.Rejection
	if errors.As(err, &rej) {
		return mcp.NewToolResultError(workflow.Message(err)), nil
	}
	h.logger.Error("tool failed", "tool", tool, "error", err)
	return nil, fmt.Errorf("%s: %w", tool, err)
}

func (h *Handler) SubmitTraining(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, bad := h.actor(request)
	if bad != nil {
		return bad, nil
	}
	available, err := request.RequireString("available_time")
	if err != nil {
		return mcp.NewToolResultError("available_time is required"), nil
	}
	group, err := request.RequireBool("group")
	if err != nil {
		return mcp.NewToolResultError("group is required"), nil
	}

	res, err := h.desk.SubmitStandard(ctx, actor, workflow.SubmitStandard{Availability: available, Eligible: group})
	if err != nil {
		return h.result("submit_training", err)
	}
	return mcp.NewToolResultText(res.Reply()), nil
}

func (h *Handler) SubmitEvocTraining(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, bad := h.actor(request)
	if bad != nil {
		return bad, nil
	}
	available, err := request.RequireString("available_time")
	if err != nil {
		return mcp.NewToolResultError("available_time is required"), nil
	}

	res, err := h.desk.SubmitElevated(ctx, actor, workflow.SubmitElevated{Availability: available})
	if err != nil {
		return h.result("submit_evoc_training", err)
	}
	return mcp.NewToolResultText(res.Reply()), nil
}

func (h *Handler) AcceptTraining(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, bad := h.actor(request)
	if bad != nil {
		return bad, nil
	}
	id, err := request.RequireString("training_id")
	if err != nil {
		return mcp.NewToolResultError("training_id is required"), nil
	}

	res, err := h.desk.Accept(ctx, actor, workflow.Accept{ID: strings.TrimSpace(id)})
	if err != nil {
		return h.result("accept_training", err)
	}
	text := fmt.Sprintf("Training request %s has been accepted.", res.Request.ID)
	for _, w := range res.Warnings {
		text += "\n" + w.Message
	}
	return mcp.NewToolResultText(text), nil
}

func (h *Handler) LogTrainingResults(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, bad := h.actor(request)
	if bad != nil {
		return bad, nil
	}
	cmd := workflow.LogResult{
		Trainee:  request.GetString("trainee", ""),
		Score:    request.GetString("score", ""),
		Status:   request.GetString("status", ""),
		Category: strings.ToUpper(request.GetString("training_type", "")),
		Notes:    request.GetString("notes", ""),
	}

	if _, err := h.desk.LogResult(ctx, actor, cmd); err != nil {
		return h.result("log_training_results", err)
	}
	return mcp.NewToolResultText("Training results logged successfully."), nil
}

func (h *Handler) GetTraining(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, bad := h.actor(request)
	if bad != nil {
		return bad, nil
	}
	id, err := request.RequireString("training_id")
	if err != nil {
		return mcp.NewToolResultError("training_id is required"), nil
	}

	rec, err := h.desk.Get(ctx, actor, strings.TrimSpace(id))
	if err != nil {
		return h.result("get_training", err)
	}
	return jsonResult(rec)
}

func (h *Handler) ListTrainings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actor, bad := h.actor(request)
	if bad != nil {
		return bad, nil
	}
	q := workflow.ListQuery{
		Status:   db.Status(request.GetString("status", "")),
		Category: db.Category(strings.ToUpper(request.GetString("training_type", ""))),
		Limit:    request.GetInt("limit", 0),
	}
	if q.Limit < 0 {
		return mcp.NewToolResultError("limit must not be negative"), nil
	}

	requests, err := h.desk.List(ctx, actor, q)
	if err != nil {
		return h.result("list_trainings", err)
	}
	if requests == nil {
		requests = []db.Request{}
	}
	return jsonResult(requests)
}

func (h *Handler) ErrorInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("error_code")
	if err != nil {
		return mcp.NewToolResultError("error_code is required"), nil
	}
	entry, ok := errcodes.Lookup(code)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("The error code %s does not exist or is invalid.", strings.ToUpper(code))), nil
	}
	return mcp.NewToolResultText(entry.Code + ": " + entry.Description), nil
}

func (h *Handler) ListErrorCodes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	for _, e := range errcodes.All() {
		fmt.Fprintf(&b, "%s: %s\n", e.Code, e.Description)
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
