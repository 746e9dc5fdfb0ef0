package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/showdeck/outline-engine/internal/events"
	"github.com/showdeck/outline-engine/internal/outline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect cross-origin from the editor app.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleStream upgrades to a websocket and streams the container's
// events in sequence order. The client passes its last seen sequence as
// ?since=N; events after the cursor are replayed before live delivery
// begins. ?session=S suppresses echoes of the client's own commands.
//
// Subscription happens before replay, so an event committed during the
// replay scan is seen either in the replay or live, never lost; the
// sequence cursor deduplicates the overlap.
func (s *Server) handleStream(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return invalidContainerID(c)
	}
	if _, err := s.store.GetContainer(c.Request().Context(), id); err != nil {
		return s.containerError(c, id, err)
	}

	since := parseSince(c.QueryParam("since"))
	session := c.QueryParam("session")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil // Upgrade already wrote the error response.
	}

	var opts []events.SubscribeOption
	if session != "" {
		opts = append(opts, events.WithIgnoreOriginator(session))
	}
	sub := s.bus.Subscribe(id, opts...)

	go s.streamWriter(conn, sub, id, since)
	go streamReader(conn, sub)
	return nil
}

// streamWriter owns all writes on the connection: replay, live events,
// pings.
func (s *Server) streamWriter(conn *websocket.Conn, sub *events.Subscription, containerID uuid.UUID, since int64) {
	defer conn.Close()
	defer sub.Cancel()

	log := s.log.With().Str("container_id", containerID.String()).Logger()

	backlog, err := s.store.EventsByContainer(context.Background(), containerID, since)
	if err != nil {
		log.Error().Err(err).Msg("stream replay failed")
		return
	}

	cursor := since
	for _, ev := range backlog {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
		cursor = ev.Sequence
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				// Evicted as a slow consumer or bus shutdown; the client
				// reconnects and replays from its cursor.
				log.Warn().Msg("stream subscription closed")
				return
			}
			if ev.Sequence <= cursor {
				continue // Already delivered during replay.
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			cursor = ev.Sequence
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamReader drains client frames so pong handling works and closes
// the subscription when the client goes away.
func streamReader(conn *websocket.Conn, sub *events.Subscription) {
	defer sub.Cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev *outline.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
