package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"taskminder/internal/projection"
	"taskminder/internal/repository"
	"taskminder/internal/service"
)

type projectRequest struct {
	From  time.Time         `json:"from" binding:"required"`
	To    time.Time         `json:"to" binding:"required"`
	TZ    string            `json:"tz"`
	Tasks []projection.Task `json:"tasks"`
}

type projectResponse struct {
	Occurrences []projection.Occurrence `json:"occurrences"`
	Exclusions  []projection.Exclusion  `json:"exclusions"`
}

func (s *Server) handleProject(c *gin.Context) {
	var req projectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid payload")
		return
	}
	window, loc, err := parseWindow(req.From, req.To, req.TZ)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	occurrences, exclusions := projection.ProjectAll(req.Tasks, window, loc)
	c.JSON(http.StatusOK, newProjectResponse(occurrences, exclusions))
}

func (s *Server) handleCalendar(c *gin.Context) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid to")
		return
	}
	window, loc, err := parseWindow(from, to, c.Query("tz"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var workspaceID *string
	if ws := strings.TrimSpace(c.Query("workspace")); ws != "" {
		workspaceID = &ws
	}

	occurrences, exclusions, err := s.deps.Calendar.Occurrences(c.Request.Context(), c.Param("id"), workspaceID, window, loc)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", c.Param("id")).Msg("calendar projection")
		respondError(c, http.StatusInternalServerError, "failed to load tasks")
		return
	}
	c.JSON(http.StatusOK, newProjectResponse(occurrences, exclusions))
}

func (s *Server) handleForceSend(c *gin.Context) {
	reminderID := c.Param("id")

	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" && s.deps.Guard != nil {
		first, err := s.deps.Guard.Acquire(c.Request.Context(), "force-send:"+reminderID+":"+key)
		if err != nil {
			s.log.Error().Err(err).Msg("idempotency guard")
			respondError(c, http.StatusServiceUnavailable, "idempotency store unavailable")
			return
		}
		if !first {
			respondError(c, http.StatusConflict, "duplicate request")
			return
		}
	}

	res, err := s.deps.Dispatcher.ForceSend(c.Request.Context(), reminderID, s.now())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, repository.ErrNotFound):
		respondError(c, http.StatusNotFound, "reminder not found")
	case errors.Is(err, service.ErrAlreadySent), errors.Is(err, service.ErrNotClaimed):
		respondError(c, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Str("reminder_id", reminderID).Msg("force send")
		respondError(c, http.StatusInternalServerError, "failed to send reminder")
	}
}

func parseWindow(from, to time.Time, tz string) (projection.Window, *time.Location, error) {
	if !to.After(from) {
		return projection.Window{}, nil, errors.New("window end must be after start")
	}
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return projection.Window{}, nil, errors.New("unknown time zone")
		}
		loc = l
	}
	return projection.Window{Start: from, End: to}, loc, nil
}

func newProjectResponse(occurrences []projection.Occurrence, exclusions []projection.Exclusion) projectResponse {
	if occurrences == nil {
		occurrences = []projection.Occurrence{}
	}
	if exclusions == nil {
		exclusions = []projection.Exclusion{}
	}
	return projectResponse{Occurrences: occurrences, Exclusions: exclusions}
}
