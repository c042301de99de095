package realtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const sseHeartbeat = 25 * time.Second

// NewSSEHandler streams room events to clients that cannot hold a websocket.
// Rooms are chosen up front through the projectId and userId query
// parameters; both are optional but at least one is required.
func NewSSEHandler(hub *Hub, auth Authenticator, guard RoomGuard, logger *log.Logger) echo.HandlerFunc {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(c echo.Context) error {
		userID, err := auth.UserIDFromAuthHeader(authHeaderFromRequest(c.Request()))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()

		projectID := strings.TrimSpace(c.QueryParam("projectId"))
		wantUser := strings.TrimSpace(c.QueryParam("userId"))
		if projectID == "" && wantUser == "" {
			return c.String(http.StatusBadRequest, "projectId or userId required")
		}
		if wantUser != "" && wantUser != userID {
			return c.String(http.StatusForbidden, "forbidden")
		}
		if projectID != "" && guard != nil && !guard.CanJoinProject(ctx, userID, projectID) {
			return c.String(http.StatusForbidden, "forbidden")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		peer := hub.Connect(userID)
		defer hub.Disconnect(peer)
		if projectID != "" {
			hub.Join(peer, ProjectRoom(projectID))
		}
		if wantUser != "" {
			hub.Join(peer, UserRoom(wantUser))
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(sseHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case env, ok := <-peer.Out():
				if !ok {
					return nil
				}
				if err := writeSSE(c.Response(), env); err != nil {
					logger.WithField("peer", peer.ID).Debugf("write sse: %v", err)
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w *echo.Response, env Envelope) error {
	if _, err := w.Write([]byte("event: " + env.Event + "\n")); err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	payload := []byte(env.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
