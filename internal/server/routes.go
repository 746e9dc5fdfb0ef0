package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/showdeck/outline-engine/internal/outline"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)

	s.echo.POST("/containers", s.handleCreateContainer)
	s.echo.GET("/containers/:id", s.handleGetContainer)
	s.echo.DELETE("/containers/:id", s.handleDeleteContainer)
	s.echo.GET("/containers/:id/tree", s.handleGetTree)
	s.echo.GET("/containers/:id/events", s.handleGetEvents)
	s.echo.POST("/containers/:id/commands", s.handleCommand)
	s.echo.GET("/containers/:id/stream", s.handleStream)
}

// handleHealth returns basic server health information.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version": "0.1.0",
	})
}

type createContainerRequest struct {
	ID    *uuid.UUID `json:"id"`
	Label string     `json:"label"`
}

// handleCreateContainer creates an empty container. The caller may
// supply the id; one is generated otherwise.
func (s *Server) handleCreateContainer(c echo.Context) error {
	var req createContainerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	id := uuid.New()
	if req.ID != nil {
		id = *req.ID
	}
	container := &outline.Container{ID: id, Label: strings.TrimSpace(req.Label)}
	if err := s.store.CreateContainer(c.Request().Context(), container); err != nil {
		if errors.Is(err, outline.ErrConflict) {
			return c.JSON(http.StatusConflict, map[string]string{
				"error":   "ContainerExists",
				"message": "Container already exists: " + id.String(),
			})
		}
		s.log.Error().Err(err).Msg("create container failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error":   "InternalError",
			"message": "Failed to create container",
		})
	}
	return c.JSON(http.StatusOK, container)
}

// handleGetContainer returns container metadata.
func (s *Server) handleGetContainer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return invalidContainerID(c)
	}
	container, err := s.store.GetContainer(c.Request().Context(), id)
	if err != nil {
		return s.containerError(c, id, err)
	}
	return c.JSON(http.StatusOK, container)
}

// handleDeleteContainer removes a container, its nodes, and its event
// log.
func (s *Server) handleDeleteContainer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return invalidContainerID(c)
	}
	if err := s.store.DeleteContainer(c.Request().Context(), id); err != nil {
		return s.containerError(c, id, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Container removed: " + id.String(),
	})
}

type treeResponse struct {
	Container *outline.Container `json:"container"`
	Nodes     []*outline.Node    `json:"nodes"`
	Sequence  int64              `json:"sequence"`
}

// handleGetTree returns the container's nodes in flat visual order,
// each with its URL records, plus the latest event sequence. A client
// renders from Nodes and then follows the stream from Sequence.
func (s *Server) handleGetTree(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return invalidContainerID(c)
	}
	ctx := c.Request().Context()

	container, err := s.store.GetContainer(ctx, id)
	if err != nil {
		return s.containerError(c, id, err)
	}
	nodes, err := s.store.ListByContainer(ctx, id)
	if err != nil {
		return s.containerError(c, id, err)
	}
	urls, err := s.store.ListURLsByContainer(ctx, id)
	if err != nil {
		return s.containerError(c, id, err)
	}
	for _, n := range nodes {
		n.URLs = urls[n.UUID]
	}
	seq, err := s.store.LatestSequence(ctx, id)
	if err != nil {
		return s.containerError(c, id, err)
	}

	return c.JSON(http.StatusOK, treeResponse{
		Container: container,
		Nodes:     nodes,
		Sequence:  seq,
	})
}

// handleGetEvents returns the container's event log after the given
// sequence cursor.
func (s *Server) handleGetEvents(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return invalidContainerID(c)
	}
	since := parseSince(c.QueryParam("since"))
	if _, err := s.store.GetContainer(c.Request().Context(), id); err != nil {
		return s.containerError(c, id, err)
	}
	evs, err := s.store.EventsByContainer(c.Request().Context(), id, since)
	if err != nil {
		return s.containerError(c, id, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"events": evs,
	})
}

// handleCommand decodes and dispatches one command against the
// container. The committed event is echoed back to the caller.
func (s *Server) handleCommand(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return invalidContainerID(c)
	}

	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidRequest",
			"message": "Invalid JSON body",
		})
	}

	cmd, err := decodeCommand(id, &req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error":   "InvalidCommand",
			"message": err.Error(),
		})
	}

	ev, err := s.dispatcher.Dispatch(c.Request().Context(), cmd)
	if err != nil {
		return s.commandError(c, cmd, err)
	}
	return c.JSON(http.StatusOK, ev)
}

// commandError maps engine errors onto HTTP responses.
func (s *Server) commandError(c echo.Context, cmd outline.Command, err error) error {
	switch {
	case errors.Is(err, outline.ErrNoOp):
		// Valid command with nothing to do; no event was appended.
		return c.JSON(http.StatusOK, map[string]any{"noop": true})
	case errors.Is(err, outline.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "NotFound",
			"message": err.Error(),
		})
	case errors.Is(err, outline.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{
			"error":   "Conflict",
			"message": err.Error(),
		})
	case errors.Is(err, outline.ErrParentPrevInconsistent),
		errors.Is(err, outline.ErrCycle),
		errors.Is(err, outline.ErrCannotIndent),
		errors.Is(err, outline.ErrCannotOutdent),
		errors.Is(err, outline.ErrInvalidSelection):
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error":   "InvalidMutation",
			"message": err.Error(),
		})
	case errors.Is(err, outline.ErrTimeout):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error":   "Timeout",
			"message": "Command timed out waiting for its container",
		})
	default:
		s.log.Error().Err(err).Str("kind", string(cmd.Kind())).Msg("command failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error":   "Unavailable",
			"message": "Command could not be applied; retry",
		})
	}
}

func (s *Server) containerError(c echo.Context, id uuid.UUID, err error) error {
	if errors.Is(err, outline.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":   "ContainerNotFound",
			"message": "Container not found: " + id.String(),
		})
	}
	s.log.Error().Err(err).Str("container_id", id.String()).Msg("container request failed")
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "InternalError",
		"message": "Request failed",
	})
}

func invalidContainerID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{
		"error":   "InvalidRequest",
		"message": "Container id must be a UUID",
	})
}
