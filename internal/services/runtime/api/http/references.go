package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadenzahq/cadenza/internal/services/runtime/storage"
)

type referenceRequest struct {
	TenantID           string         `json:"tenant_id"`
	StorageLocation    string         `json:"storage_location"`
	ProducingExecution string         `json:"producing_execution_id"`
	Metadata           map[string]any `json:"metadata"`
	DerivedFrom        []string       `json:"derived_from"`
}

type referenceResponse struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenant_id"`
	StorageLocation    string         `json:"storage_location"`
	ProducingExecution string         `json:"producing_execution_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

func toReferenceResponse(ref storage.Reference) referenceResponse {
	return referenceResponse{
		ID:                 ref.ID,
		TenantID:           ref.TenantID,
		StorageLocation:    ref.StorageLocation,
		ProducingExecution: ref.ProducingExecution,
		Metadata:           ref.Metadata,
		CreatedAt:          ref.CreatedAt,
	}
}

func (s *Server) registerReference(c *gin.Context) {
	var req referenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	ref, err := s.brain.RegisterReference(c.Request.Context(), storage.Reference{
		TenantID:           req.TenantID,
		StorageLocation:    req.StorageLocation,
		ProducingExecution: req.ProducingExecution,
		Metadata:           req.Metadata,
	}, req.DerivedFrom)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReferenceResponse(ref))
}

func (s *Server) getReference(c *gin.Context) {
	ref, err := s.brain.GetReference(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReferenceResponse(ref))
}

type lineageHopResponse struct {
	Depth      int                 `json:"depth"`
	References []referenceResponse `json:"references"`
}

func (s *Server) getLineage(c *gin.Context) {
	depth := 0
	if raw := c.Query("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "depth must be an integer"})
			return
		}
		depth = parsed
	}

	hops, err := s.brain.Lineage(c.Request.Context(), c.Param("id"), depth)
	if err != nil {
		renderError(c, err)
		return
	}

	resp := make([]lineageHopResponse, 0, len(hops))
	for _, hop := range hops {
		out := lineageHopResponse{Depth: hop.Depth}
		for _, ref := range hop.References {
			out.References = append(out.References, toReferenceResponse(ref))
		}
		resp = append(resp, out)
	}
	c.JSON(http.StatusOK, gin.H{"lineage": resp})
}

func (s *Server) trackProvenance(c *gin.Context) {
	var req struct {
		DerivedFrom []string `json:"derived_from"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	if err := s.brain.TrackProvenance(c.Request.Context(), c.Param("id"), req.DerivedFrom); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
