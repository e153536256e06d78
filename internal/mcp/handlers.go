package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/imaging"
	"github.com/hpungsan/intake/internal/ops"
	"github.com/hpungsan/intake/internal/payload"
	"github.com/hpungsan/intake/internal/photo"
	"github.com/hpungsan/intake/internal/record"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db         *sql.DB
	cfg        *config.Config
	compressor payload.Compressor
	log        *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{db: db, cfg: cfg, compressor: imaging.NewPipeline(log), log: log}
}

// Request types for each tool

// ValidateRequest represents the arguments for intake_validate.
type ValidateRequest struct {
	Record     record.WorkingRecord `json:"record"`
	PhotoCount int                  `json:"photo_count,omitempty"`
}

// CanonicalizeRequest represents the arguments for intake_canonicalize.
type CanonicalizeRequest struct {
	Record           record.WorkingRecord `json:"record"`
	Photos           any                  `json:"photos,omitempty"`
	SubmittedFrom    string               `json:"submitted_from,omitempty"`
	UserAgent        string               `json:"user_agent,omitempty"`
	IncludePhotoData bool                 `json:"include_photo_data,omitempty"`
}

// SessionRequest represents the arguments for tools addressing one session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// ListRequest represents the arguments for list tools.
type ListRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// PurgeRequest represents the arguments for intake_draft_purge.
type PurgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// Output types

// CanonicalizeOutput is the result of intake_canonicalize.
type CanonicalizeOutput struct {
	Payload      payload.Payload `json:"payload"`
	Photos       []PhotoSummary  `json:"photos"`
	PayloadBytes int             `json:"payload_bytes"`
	PhotoData    bool            `json:"photo_data_included"`
}

// PhotoSummary describes one compressed photo of a payload.
type PhotoSummary struct {
	OriginalName string `json:"original_name"`
	Mime         string `json:"mime"`
	EncodedBytes int    `json:"encoded_bytes"`
}

// DraftOutput is the result of intake_draft_fetch.
type DraftOutput struct {
	SessionID string         `json:"session_id"`
	Step      string         `json:"step"`
	Answers   record.Answers `json:"answers"`
	Photos    []photo.Meta   `json:"photos"`
	UpdatedAt int64          `json:"updated_at"`
}

// HandleValidate handles the intake_validate tool call.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ValidateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Record == nil {
		return errorResult(errors.NewInvalidRequest("record is required")), nil
	}
	if input.PhotoCount < 0 {
		return errorResult(errors.NewInvalidRequest("photo_count must not be negative")), nil
	}

	result := ops.Validate(ops.RulesFromConfig(h.cfg), ops.ValidateInput{
		Record:     input.Record,
		PhotoCount: input.PhotoCount,
	})
	return successResult(result)
}

// HandleCanonicalize handles the intake_canonicalize tool call.
func (h *Handlers) HandleCanonicalize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CanonicalizeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Record == nil {
		return errorResult(errors.NewInvalidRequest("record is required")), nil
	}

	refs, err := ops.ParsePhotoRefs(input.Photos)
	if err != nil {
		return errorResult(err), nil
	}

	p, err := ops.Canonicalize(ctx, h.cfg, h.compressor, ops.CanonicalizeInput{
		Record: input.Record,
		Photos: refs,
		Origin: payload.Origin{SubmittedFrom: input.SubmittedFrom, UserAgent: input.UserAgent},
	})
	if err != nil {
		return errorResult(err), nil
	}

	body, err := p.Marshal()
	if err != nil {
		return errorResult(errors.NewUnexpected(err)), nil
	}

	out := CanonicalizeOutput{
		Photos:       make([]PhotoSummary, 0, len(p.Photos)),
		PayloadBytes: len(body),
		PhotoData:    input.IncludePhotoData,
	}
	for i, ph := range p.Photos {
		out.Photos = append(out.Photos, PhotoSummary{
			OriginalName: ph.OriginalName,
			Mime:         ph.Mime,
			EncodedBytes: len(ph.Base64),
		})
		if !input.IncludePhotoData {
			p.Photos[i].Base64 = ""
		}
	}
	out.Payload = *p

	h.log.Debug("payload built",
		zap.Int("photos", len(p.Photos)),
		zap.Int("bytes", len(body)))

	return successResult(out)
}

// HandleDraftFetch handles the intake_draft_fetch tool call.
func (h *Handlers) HandleDraftFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if strings.TrimSpace(input.SessionID) == "" {
		return errorResult(errors.NewInvalidRequest("session_id is required")), nil
	}

	snap, err := ops.LoadDraft(ctx, h.db, input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	photos := snap.Photos
	if photos == nil {
		photos = []photo.Meta{}
	}
	return successResult(DraftOutput{
		SessionID: snap.SessionID,
		Step:      snap.Step.String(),
		Answers:   snap.Answers,
		Photos:    photos,
		UpdatedAt: snap.UpdatedAt.Unix(),
	})
}

// HandleDraftList handles the intake_draft_list tool call.
func (h *Handlers) HandleDraftList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListDrafts(ctx, h.db, ops.ListDraftsInput{
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDraftClear handles the intake_draft_clear tool call.
func (h *Handlers) HandleDraftClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ClearDraft(ctx, h.db, input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDraftPurge handles the intake_draft_purge tool call.
func (h *Handlers) HandleDraftPurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.PurgeDrafts(ctx, h.db, ops.PurgeDraftsInput{
		OlderThanDays: input.OlderThanDays,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSubmissionList handles the intake_submission_list tool call.
func (h *Handlers) HandleSubmissionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListSubmissions(ctx, h.db, ops.ListSubmissionsInput{
		SessionID: input.SessionID,
		Limit:     input.Limit,
		Offset:    input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Unexpected errors never carry details or their cause.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var iErr *errors.IntakeError
	if errors.As(err, &iErr) {
		message := iErr.Message
		// Keep wrapper context such as "photos[2]: "
		if prefix := strings.TrimSuffix(err.Error(), iErr.Error()); prefix != err.Error() {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":      iErr.Code,
			"message":   message,
			"status":    iErr.Status,
			"retryable": iErr.Retryable,
		}
		if iErr.Code != errors.ErrUnexpected && iErr.Details != nil {
			errorObj["details"] = iErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    string(errors.ErrUnexpected),
				"message": "an unexpected error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
