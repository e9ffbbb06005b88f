package handler

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appaudit "github.com/saaskit/backend/internal/application/audit"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/interfaces/http/dto"
)

// AuditHandler exposes the tenant audit trail and seal verification
type AuditHandler struct {
	BaseHandler
	trailService *appaudit.TrailService
}

// NewAuditHandler creates an audit handler
func NewAuditHandler(trailService *appaudit.TrailService) *AuditHandler {
	return &AuditHandler{trailService: trailService}
}

// AuditRecordResponse is the representation of one audit record
type AuditRecordResponse struct {
	ID         uuid.UUID       `json:"id"`
	ActorType  string          `json:"actor_type"`
	ActorID    *uuid.UUID      `json:"actor_id,omitempty"`
	Action     string          `json:"action"`
	TargetKind string          `json:"target_kind"`
	TargetID   uuid.UUID       `json:"target_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	TraceID    string          `json:"trace_id,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func toAuditRecordResponse(record *audit.Record) AuditRecordResponse {
	return AuditRecordResponse{
		ID:         record.ID,
		ActorType:  string(record.ActorType),
		ActorID:    record.ActorID,
		Action:     record.Action,
		TargetKind: string(record.TargetKind),
		TargetID:   record.TargetID,
		Before:     record.Before,
		After:      record.After,
		TraceID:    record.TraceID,
		RequestID:  record.RequestID,
		OccurredAt: record.OccurredAt,
	}
}

func toAuditRecordResponses(records []*audit.Record) []AuditRecordResponse {
	out := make([]AuditRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toAuditRecordResponse(record))
	}
	return out
}

// List handles GET /audit: the tenant's trail, newest first
func (h *AuditHandler) List(c *gin.Context) {
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.BadRequest(c, "Invalid pagination parameters")
		return
	}
	req.Normalize()

	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	records, err := h.trailService.ListByTenant(c.Request.Context(), tenant, req.PageSize, req.Offset())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAuditRecordResponses(records))
}

// ListByTarget handles GET /audit/targets/:kind/:id
func (h *AuditHandler) ListByTarget(c *gin.Context) {
	targetID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Target ID must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	records, err := h.trailService.ListByTarget(c.Request.Context(), tenant, audit.TargetKind(c.Param("kind")), targetID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAuditRecordResponses(records))
}

// VerifyRecord handles POST /audit/:id/verify: re-verifies one record's seal
func (h *AuditHandler) VerifyRecord(c *gin.Context) {
	recordID, ok := uuidParam(c, "id")
	if !ok {
		h.BadRequest(c, "Record ID must be a UUID")
		return
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if err := h.trailService.VerifyRecord(c.Request.Context(), tenant, recordID); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"record_id": recordID, "intact": true})
}

// VerifyTrail handles POST /audit/verify: sweeps the newest records and
// reports any broken seals
func (h *AuditHandler) VerifyTrail(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.BadRequest(c, "limit must be an integer")
			return
		}
		limit = parsed
	}
	tenant, err := tenantID(c)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	report, err := h.trailService.VerifyTrail(c.Request.Context(), tenant, limit)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{
		"checked": report.Checked,
		"broken":  report.Broken,
		"intact":  report.Intact(),
	})
}
