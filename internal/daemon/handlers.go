package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/mission"
	"github.com/outland-robotics/missiond/internal/tree"
	"github.com/outland-robotics/missiond/internal/types"
)

// loadRequest installs a mission: either an inline definition or the
// name of a cataloged one. Exactly one must be set.
type loadRequest struct {
	Name       string              `json:"name,omitempty"`
	Definition *mission.Definition `json:"definition,omitempty"`
	Leases     []lease.Lease       `json:"leases,omitempty"`
}

type loadResponse struct {
	MissionID   types.ID          `json:"mission_id,omitempty"`
	FailedNodes []tree.FailedNode `json:"failed_nodes,omitempty"`
}

type answerRequest struct {
	QuestionID types.ID `json:"question_id"`
	Code       int64    `json:"code"`
}

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLoad(c echo.Context) error {
	var req loadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed load request")
	}

	def := req.Definition
	if def == nil {
		if req.Name == "" {
			return badRequest(c, "load request needs a definition or a mission name")
		}
		if s.lib == nil {
			return badRequest(c, "no mission library is configured")
		}
		entry, ok := s.lib.Get(req.Name)
		if !ok {
			return c.JSON(http.StatusNotFound, errorResponse{
				Code:    "mission_not_found",
				Message: fmt.Sprintf("no mission named %q in the library", req.Name),
			})
		}
		def = entry.Definition
	}

	id, failed, err := s.svc.Load(c.Request().Context(), def, req.Leases)
	if err != nil {
		if len(failed) > 0 {
			return c.JSON(http.StatusUnprocessableEntity, loadResponse{FailedNodes: failed})
		}
		return missionError(c, err)
	}
	return c.JSON(http.StatusOK, loadResponse{MissionID: id})
}

func (s *Server) handlePlay(c echo.Context) error {
	var req mission.PlayRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed play request")
	}
	if err := s.svc.Play(c.Request().Context(), req); err != nil {
		return missionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePause(c echo.Context) error {
	if err := s.svc.Pause(c.Request().Context()); err != nil {
		return missionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStop(c echo.Context) error {
	if err := s.svc.Stop(c.Request().Context()); err != nil {
		return missionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRestart(c echo.Context) error {
	var req mission.PlayRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed restart request")
	}
	if err := s.svc.Restart(c.Request().Context(), req); err != nil {
		return missionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleState(c echo.Context) error {
	var q mission.HistoryQuery
	var err error
	if q.UpperBound, err = queryInt64(c, "upper_bound"); err != nil {
		return badRequest(c, "upper_bound must be an integer")
	}
	if q.LowerBound, err = queryInt64(c, "lower_bound"); err != nil {
		return badRequest(c, "lower_bound must be an integer")
	}
	past, err := queryInt64(c, "past_ticks")
	if err != nil {
		return badRequest(c, "past_ticks must be an integer")
	}
	q.PastTicks = int(past)

	state, err := s.svc.State(q)
	if err != nil {
		return missionError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

func (s *Server) handleInfo(c echo.Context) error {
	info, err := s.svc.Info()
	if err != nil {
		return missionError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleMission(c echo.Context) error {
	def, err := s.svc.Mission()
	if err != nil {
		return missionError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) handleUnload(c echo.Context) error {
	if err := s.svc.Unload(c.Request().Context()); err != nil {
		return missionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req answerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "malformed answer request")
	}
	if err := s.svc.AnswerQuestion(req.QuestionID, req.Code); err != nil {
		return missionError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleLibraryList(c echo.Context) error {
	if s.lib == nil {
		return c.JSON(http.StatusOK, []*struct{}{})
	}
	return c.JSON(http.StatusOK, s.lib.List())
}

// handleEvents streams mission events as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(c echo.Context) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	events, cancel := s.svc.Events().Subscribe(64)
	defer cancel()

	ctx := c.Request().Context()
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: ", ev.Type); err != nil {
				return nil
			}
			if err := enc.Encode(ev); err != nil {
				return nil
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func queryInt64(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Code: "bad_request", Message: msg})
}

// missionError maps a mission error code onto an HTTP status.
func missionError(c echo.Context, err error) error {
	var me *mission.Error
	if !errors.As(err, &me) {
		return c.JSON(http.StatusInternalServerError, errorResponse{
			Code:    string(mission.ErrInternal),
			Message: err.Error(),
		})
	}

	status := http.StatusInternalServerError
	switch me.Code {
	case mission.ErrNotLoaded, mission.ErrQuestionNotFound:
		status = http.StatusNotFound
	case mission.ErrCompile, mission.ErrValidate:
		status = http.StatusUnprocessableEntity
	case mission.ErrInvalidState, mission.ErrAlreadyAnswered:
		status = http.StatusConflict
	case mission.ErrMissingLeases:
		status = http.StatusPreconditionFailed
	case mission.ErrInvalidAnswerCode:
		status = http.StatusBadRequest
	}
	return c.JSON(status, errorResponse{
		Code:    string(me.Code),
		Message: me.Message,
		Context: me.Context,
	})
}
