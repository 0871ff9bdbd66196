package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rendis/flowengine/internal/store"
	"github.com/rendis/flowengine/pkg/schema"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// listRuns serves GET /runs?projectId=&status=&since=&limit=&offset=.
func (s *Server) listRuns(c *gin.Context) {
	filter := store.RunFilter{
		ProjectID: c.Query("projectId"),
		Limit:     queryInt(c, "limit", defaultPageSize),
		Offset:    queryInt(c, "offset", 0),
	}
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = defaultPageSize
	}
	if st := c.Query("status"); st != "" {
		status := schema.FlowRunStatus(st)
		filter.Status = &status
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(c, http.StatusBadRequest, "since must be an RFC3339 timestamp.")
			return
		}
		filter.Since = &t
	}

	runs, err := s.store.ListRuns(c.Request.Context(), filter)
	if err != nil {
		s.storeFailure(c, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": filter.Limit, "offset": filter.Offset})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.store.GetRun(c.Request.Context(), c.Param("runID"))
	if err != nil {
		s.storeFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// getRunEvents serves GET /runs/:runID/events?since=<sequence>.
func (s *Server) getRunEvents(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("runID")
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		s.storeFailure(c, err)
		return
	}
	events, err := s.store.GetEvents(ctx, runID, int64(queryInt(c, "since", 0)))
	if err != nil {
		s.storeFailure(c, err)
		return
	}
	if events == nil {
		events = []*store.RunEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) storeFailure(c *gin.Context, err error) {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) && engErr.Code == schema.ErrCodeNotFound {
		writeError(c, http.StatusNotFound, engErr.Message)
		return
	}
	s.logger.Error("run store query failed", "path", c.FullPath(), "error", err)
	writeError(c, http.StatusInternalServerError, "Run store query failed.")
}

// queryInt reads an integer query parameter, returning def when it is
// missing or malformed.
func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
