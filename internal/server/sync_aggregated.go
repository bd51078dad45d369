package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	syncjobdomain "github.com/smallbiznis/ordersync/internal/syncjob/domain"
)

type triggerResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

func (s *Server) StartAggregatedSync(c *gin.Context) {
	var req syncjobdomain.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	req.FromDate = strings.TrimSpace(req.FromDate)
	req.ToDate = strings.TrimSpace(req.ToDate)
	req.UserID = userIDOrHeader(c, req.UserID)

	job, err := s.syncJobs.Start(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, triggerResponse{
		Success: true,
		JobID:   job.ID,
		Message: triggerMessage("Aggregated sync", req.JobID != "", job.Status),
	})
}

func (s *Server) ListAggregatedSyncs(c *gin.Context) {
	var query syncjobdomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.syncJobs.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAggregatedSync(c *gin.Context) {
	job, err := s.syncJobs.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (s *Server) ListAggregatedSyncDetails(c *gin.Context) {
	details, err := s.syncJobs.ListDetails(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": details})
}

func (s *Server) AggregatedSyncReport(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	report, err := s.syncJobs.Report(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, report); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="sync-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

func (s *Server) PauseAggregatedSync(c *gin.Context) {
	s.aggregatedLifecycle(c, s.syncJobs.Pause)
}

func (s *Server) CancelAggregatedSync(c *gin.Context) {
	s.aggregatedLifecycle(c, s.syncJobs.Cancel)
}

func (s *Server) ResumeAggregatedSync(c *gin.Context) {
	s.aggregatedLifecycle(c, s.syncJobs.Resume)
}

func (s *Server) aggregatedLifecycle(c *gin.Context, action func(ctx context.Context, id string) (*syncjobdomain.Job, error)) {
	job, err := action(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func userIDOrHeader(c *gin.Context, userID string) string {
	if trimmed := strings.TrimSpace(userID); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}

func triggerMessage(kind string, resumed bool, status syncjobdomain.Status) string {
	switch {
	case status == syncjobdomain.StatusCompleted:
		return kind + " already completed"
	case resumed:
		return kind + " resumed"
	default:
		return kind + " started"
	}
}
