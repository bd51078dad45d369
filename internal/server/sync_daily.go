package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	dailydomain "github.com/smallbiznis/ordersync/internal/dailysync/domain"
)

func (s *Server) StartDailySync(c *gin.Context) {
	var req dailydomain.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	req.FromDate = strings.TrimSpace(req.FromDate)
	req.ToDate = strings.TrimSpace(req.ToDate)
	req.UserID = userIDOrHeader(c, req.UserID)

	job, err := s.dailyJobs.Start(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, triggerResponse{
		Success: true,
		JobID:   job.ID,
		Message: triggerMessage("Daily sync", req.JobID != "", job.Status),
	})
}

func (s *Server) ListDailySyncs(c *gin.Context) {
	var query dailydomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.dailyJobs.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDailySync(c *gin.Context) {
	job, err := s.dailyJobs.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func (s *Server) PauseDailySync(c *gin.Context) {
	s.dailyLifecycle(c, s.dailyJobs.Pause)
}

func (s *Server) CancelDailySync(c *gin.Context) {
	s.dailyLifecycle(c, s.dailyJobs.Cancel)
}

func (s *Server) ResumeDailySync(c *gin.Context) {
	s.dailyLifecycle(c, s.dailyJobs.Resume)
}

func (s *Server) dailyLifecycle(c *gin.Context, action func(ctx context.Context, id string) (*dailydomain.Job, error)) {
	job, err := action(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}
