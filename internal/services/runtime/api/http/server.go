// Package http exposes the runtime over a JSON HTTP API.
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/cadenzahq/cadenza/internal/platform/errors"
	"github.com/cadenzahq/cadenza/internal/platform/metrics"
	"github.com/cadenzahq/cadenza/internal/services/runtime/brain"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/execution"
	"github.com/cadenzahq/cadenza/internal/services/runtime/domain/intent"
	"github.com/cadenzahq/cadenza/internal/services/runtime/journal"
	"github.com/cadenzahq/cadenza/internal/services/runtime/lifecycle"
	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

// Server routes HTTP requests into the lifecycle manager and the brain.
type Server struct {
	engine  *gin.Engine
	manager *lifecycle.Manager
	brain   *brain.Brain
	metrics *metrics.Metrics
}

// New builds the HTTP server and its routes.
func New(manager *lifecycle.Manager, dataBrain *brain.Brain, m *metrics.Metrics) (*Server, error) {
	if manager == nil {
		return nil, errors.New("lifecycle manager is required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		manager: manager,
		brain:   dataBrain,
		metrics: m,
	}
	s.registerRoutes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1")
	v1.POST("/intents", s.submitIntent)
	v1.GET("/executions/:id", s.getExecution)
	v1.POST("/operations", s.submitOperation)
	v1.GET("/operations/:id", s.getOperation)
	v1.GET("/operations/:id/status", s.getOperationStatus)
	v1.GET("/wal", s.listJournal)

	if s.brain != nil {
		v1.POST("/references", s.registerReference)
		v1.GET("/references/:id", s.getReference)
		v1.GET("/references/:id/lineage", s.getLineage)
		v1.POST("/references/:id/provenance", s.trackProvenance)
	}
}

// renderError maps application error codes onto HTTP statuses.
func renderError(c *gin.Context, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		c.JSON(appErr.Code.HTTPStatus(), gin.H{
			"code":     string(appErr.Code),
			"message":  appErr.Message,
			"metadata": appErr.Metadata,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
}

type intentRequest struct {
	IntentType     string         `json:"intent_type"`
	TenantID       string         `json:"tenant_id"`
	SessionID      string         `json:"session_id"`
	Parameters     map[string]any `json:"parameters"`
	IdempotencyKey string         `json:"idempotency_key"`
	TimeoutMillis  int64          `json:"timeout_ms"`
}

func (r intentRequest) submission() intent.Submission {
	return intent.Submission{
		IntentType:     r.IntentType,
		TenantID:       r.TenantID,
		SessionID:      r.SessionID,
		Parameters:     r.Parameters,
		IdempotencyKey: r.IdempotencyKey,
		Timeout:        time.Duration(r.TimeoutMillis) * time.Millisecond,
	}
}

type failureResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type executionResponse struct {
	ID             string               `json:"id"`
	IntentID       string               `json:"intent_id"`
	IntentType     string               `json:"intent_type"`
	TenantID       string               `json:"tenant_id"`
	SessionID      string               `json:"session_id,omitempty"`
	OperationID    string               `json:"operation_id,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	Status         string               `json:"status"`
	Failure        *failureResponse     `json:"failure,omitempty"`
	Artifacts      map[string]any       `json:"artifacts,omitempty"`
	Events         []intent.DomainEvent `json:"events,omitempty"`
	AcceptedAt     time.Time            `json:"accepted_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	FinishedAt     *time.Time           `json:"finished_at,omitempty"`
}

func toExecutionResponse(exec execution.Execution) executionResponse {
	resp := executionResponse{
		ID:             exec.ID,
		IntentID:       exec.IntentID,
		IntentType:     exec.IntentType,
		TenantID:       exec.TenantID,
		SessionID:      exec.SessionID,
		OperationID:    exec.OperationID,
		IdempotencyKey: exec.IdempotencyKey,
		Status:         string(exec.Status),
		Artifacts:      exec.Artifacts,
		Events:         exec.Events,
		AcceptedAt:     exec.AcceptedAt,
	}
	if exec.Failure != nil {
		resp.Failure = &failureResponse{Code: exec.Failure.Code, Message: exec.Failure.Message}
	}
	if !exec.StartedAt.IsZero() {
		started := exec.StartedAt
		resp.StartedAt = &started
	}
	if !exec.FinishedAt.IsZero() {
		finished := exec.FinishedAt
		resp.FinishedAt = &finished
	}
	return resp
}

func (s *Server) submitIntent(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	exec, err := s.manager.Submit(c.Request.Context(), req.submission())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResponse(exec))
}

func (s *Server) getExecution(c *gin.Context) {
	exec, err := s.manager.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toExecutionResponse(exec))
}

type operationRequest struct {
	TenantID        string          `json:"tenant_id"`
	Items           []intentRequest `json:"items"`
	BatchSize       int             `json:"batch_size"`
	OperationID     string          `json:"operation_id"`
	ResumeFromBatch int             `json:"resume_from_batch"`
}

type operationItemResponse struct {
	Index       int    `json:"index"`
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

type operationResponse struct {
	ID                 string                  `json:"id"`
	TenantID           string                  `json:"tenant_id"`
	Status             string                  `json:"status"`
	TotalItems         int                     `json:"total_items"`
	BatchSize          int                     `json:"batch_size"`
	Processed          int                     `json:"processed"`
	Succeeded          int                     `json:"succeeded"`
	Failed             int                     `json:"failed"`
	LastCompletedBatch int                     `json:"last_completed_batch"`
	FailureMessage     string                  `json:"failure_message,omitempty"`
	Items              []operationItemResponse `json:"items,omitempty"`
}

func toOperationResponse(result lifecycle.BulkResult) operationResponse {
	resp := operationResponse{
		ID:                 result.Operation.ID,
		TenantID:           result.Operation.TenantID,
		Status:             string(result.Operation.Status),
		TotalItems:         result.Operation.TotalItems,
		BatchSize:          result.Operation.BatchSize,
		Processed:          result.Operation.Processed,
		Succeeded:          result.Operation.Succeeded,
		Failed:             result.Operation.Failed,
		LastCompletedBatch: result.Operation.LastCompletedBatch,
		FailureMessage:     result.Operation.FailureMessage,
	}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, operationItemResponse{
			Index:       item.Index,
			ExecutionID: item.ExecutionID,
			Status:      string(item.Status),
			Error:       item.Error,
		})
	}
	return resp
}

func (s *Server) submitOperation(c *gin.Context) {
	var req operationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	items := make([]intent.Submission, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, item.submission())
	}

	result, err := s.manager.SubmitBulk(c.Request.Context(), lifecycle.BulkRequest{
		TenantID:        req.TenantID,
		Items:           items,
		BatchSize:       req.BatchSize,
		OperationID:     req.OperationID,
		ResumeFromBatch: req.ResumeFromBatch,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOperationResponse(result))
}

func (s *Server) getOperation(c *gin.Context) {
	result, err := s.manager.GetOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOperationResponse(result))
}

type operationStatusResponse struct {
	Status              string  `json:"status"`
	Total               int     `json:"total"`
	Processed           int     `json:"processed"`
	Succeeded           int     `json:"succeeded"`
	Failed              int     `json:"failed"`
	CurrentBatch        int     `json:"current_batch"`
	LastSuccessfulBatch int     `json:"last_successful_batch"`
	ProgressPercentage  float64 `json:"progress_percentage"`
}

func (s *Server) getOperationStatus(c *gin.Context) {
	result, err := s.manager.GetOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}

	op := result.Operation
	resp := operationStatusResponse{
		Status:              string(op.Status),
		Total:               op.TotalItems,
		Processed:           op.Processed,
		Succeeded:           op.Succeeded,
		Failed:              op.Failed,
		CurrentBatch:        op.LastCompletedBatch,
		LastSuccessfulBatch: op.LastCompletedBatch,
	}
	if op.Status == storage.OperationStatusRunning {
		resp.CurrentBatch = op.LastCompletedBatch + 1
	}
	if op.TotalItems > 0 {
		resp.ProgressPercentage = float64(op.Processed) / float64(op.TotalItems) * 100
	}
	c.JSON(http.StatusOK, resp)
}

type journalEntryResponse struct {
	EventID     string         `json:"event_id"`
	Partition   string         `json:"partition"`
	Sequence    uint64         `json:"sequence"`
	TenantID    string         `json:"tenant_id"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	RecordedAt  time.Time      `json:"recorded_at"`
}

func (s *Server) listJournal(c *gin.Context) {
	var query struct {
		Partition string `form:"partition"`
		After     uint64 `form:"after"`
		TenantID  string `form:"tenant_id"`
		From      string `form:"from"`
		To        string `form:"to"`
		EventType string `form:"event_type"`
		Limit     int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid query"})
		return
	}

	var entries []journal.Entry
	var err error
	if query.Partition != "" {
		entries, err = s.manager.ListJournal(c.Request.Context(), journal.Query{
			Partition:     query.Partition,
			AfterSequence: query.After,
			Limit:         query.Limit,
		})
	} else {
		var from, to time.Time
		if from, err = parseQueryTime(query.From); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid from time"})
			return
		}
		if to, err = parseQueryTime(query.To); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid to time"})
			return
		}
		entries, err = s.manager.ListJournalRange(c.Request.Context(), journal.RangeQuery{
			TenantID:  query.TenantID,
			From:      from,
			To:        to,
			EventType: journal.EntryType(query.EventType),
			Limit:     query.Limit,
		})
	}
	if err != nil {
		renderError(c, err)
		return
	}

	resp := make([]journalEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, journalEntryResponse{
			EventID:     entry.EventID,
			Partition:   entry.Partition,
			Sequence:    entry.Sequence,
			TenantID:    entry.TenantID,
			ExecutionID: entry.ExecutionID,
			Type:        string(entry.Type),
			Payload:     entry.Payload,
			RecordedAt:  entry.RecordedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": resp})
}

func parseQueryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
