package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"
)

const (
	maxDecodeErrorsPerConn = 5
	maxFrameBytes          = 16 * 1024
)

// Authenticator resolves the caller from an Authorization header value.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// RoomGuard decides whether a user may subscribe to a project room. A nil
// guard admits every join.
type RoomGuard interface {
	CanJoinProject(ctx context.Context, userID, projectID string) bool
}

type projectFrame struct {
	ProjectID string `json:"projectId"`
}

type userFrame struct {
	UserID string `json:"userId"`
}

type errorFrame struct {
	Message string `json:"message"`
}

// NewWSHandler serves the websocket endpoint. The bearer token is taken from
// the Authorization header or, for browsers, the token query parameter.
func NewWSHandler(hub *Hub, auth Authenticator, guard RoomGuard, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		userID, err := auth.UserIDFromAuthHeader(authHeaderFromRequest(r))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		srv := websocket.Server{Handler: func(conn *websocket.Conn) {
			serveConn(r.Context(), conn, hub, guard, logger, userID)
		}}
		srv.ServeHTTP(w, r)
	})
}

func authHeaderFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return h
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return "Bearer " + token
	}
	return ""
}

func serveConn(ctx context.Context, conn *websocket.Conn, hub *Hub, guard RoomGuard, logger *log.Logger, userID string) {
	defer func() {
		_ = conn.Close()
	}()
	conn.MaxPayloadBytes = maxFrameBytes

	peer := hub.Connect(userID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(conn, peer, logger)
	}()

	readLoop(ctx, conn, hub, peer, guard, logger)
	hub.Disconnect(peer)
	<-done
}

func writeLoop(conn *websocket.Conn, peer *Peer, logger *log.Logger) {
	for env := range peer.Out() {
		data, err := sonic.MarshalString(Frame{Type: env.Event, Payload: env.Payload})
		if err != nil {
			logger.WithField("peer", peer.ID).Errorf("encode frame: %v", err)
			continue
		}
		if err := websocket.Message.Send(conn, data); err != nil {
			logger.WithField("peer", peer.ID).Debugf("write frame: %v", err)
			// Keep draining so Disconnect can close the channel.
			for range peer.Out() {
			}
			return
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, hub *Hub, peer *Peer, guard RoomGuard, logger *log.Logger) {
	decodeErrors := 0
	for {
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.WithField("peer", peer.ID).Debugf("read frame: %v", err)
			}
			return
		}
		var frame Frame
		if err := sonic.UnmarshalString(raw, &frame); err != nil {
			decodeErrors++
			reply(hub, peer, SocketError, errorFrame{Message: "invalid frame"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0
		handleFrame(ctx, hub, peer, guard, frame)
	}
}

func handleFrame(ctx context.Context, hub *Hub, peer *Peer, guard RoomGuard, frame Frame) {
	switch frame.Type {
	case FrameJoin, FrameLeave:
		var p projectFrame
		if err := sonic.Unmarshal(frame.Payload, &p); err != nil || strings.TrimSpace(p.ProjectID) == "" {
			reply(hub, peer, SocketError, errorFrame{Message: "projectId is required"})
			return
		}
		projectID := strings.TrimSpace(p.ProjectID)
		if frame.Type == FrameLeave {
			hub.Leave(peer, ProjectRoom(projectID))
			return
		}
		if guard != nil && !guard.CanJoinProject(ctx, peer.UserID, projectID) {
			reply(hub, peer, SocketError, errorFrame{Message: "forbidden"})
			return
		}
		hub.Join(peer, ProjectRoom(projectID))
		reply(hub, peer, SocketJoined, projectFrame{ProjectID: projectID})
	case FrameJoinUser, FrameLeaveUser:
		var u userFrame
		if err := sonic.Unmarshal(frame.Payload, &u); err != nil || strings.TrimSpace(u.UserID) == "" {
			reply(hub, peer, SocketError, errorFrame{Message: "userId is required"})
			return
		}
		userID := strings.TrimSpace(u.UserID)
		if frame.Type == FrameLeaveUser {
			hub.Leave(peer, UserRoom(userID))
			return
		}
		if userID != peer.UserID {
			reply(hub, peer, SocketError, errorFrame{Message: "forbidden"})
			return
		}
		hub.Join(peer, UserRoom(userID))
		reply(hub, peer, SocketJoinedUser, userFrame{UserID: userID})
	default:
		reply(hub, peer, SocketError, errorFrame{Message: "unsupported frame type"})
	}
}

func reply(hub *Hub, peer *Peer, event string, payload any) {
	env, err := NewEnvelope("", event, payload)
	if err != nil {
		return
	}
	hub.Send(peer, env)
}
