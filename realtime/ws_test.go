package realtime

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/net/websocket"
)

type staticAuth map[string]string

func (a staticAuth) UserIDFromAuthHeader(h string) (string, error) {
	if id, ok := a[h]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

type memberGuard map[string]string

func (g memberGuard) CanJoinProject(_ context.Context, userID, projectID string) bool {
	return g[projectID] == userID
}

func dialWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=" + token
	conn, err := websocket.Dial(url, "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	data, err := sonic.Marshal(payload)
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	frame, err := sonic.MarshalString(Frame{Type: typ, Payload: data})
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := websocket.Message.Send(conn, frame); err != nil {
		t.Fatalf("send frame: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw string
	if err := websocket.Message.Receive(conn, &raw); err != nil {
		t.Fatalf("receive frame: %v", err)
	}
	var f Frame
	if err := sonic.UnmarshalString(raw, &f); err != nil {
		t.Fatalf("decode frame %q: %v", raw, err)
	}
	return f
}

func newWSServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger, 8)
	auth := staticAuth{"Bearer alice-token": "alice", "Bearer bob-token": "bob"}
	guard := memberGuard{"p1": "alice"}
	srv := httptest.NewServer(NewWSHandler(hub, auth, guard, logger))
	t.Cleanup(srv.Close)
	return hub, srv
}

func waitMembers(t *testing.T, hub *Hub, room Room, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Members(room) != want {
		if time.Now().After(deadline) {
			t.Fatalf("room %s has %d members, want %d", room, hub.Members(room), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSJoinAndReceiveRoomEvents(t *testing.T) {
	hub, srv := newWSServer(t)
	conn := dialWS(t, srv, "alice-token")

	sendFrame(t, conn, FrameJoin, map[string]string{"projectId": "p1"})
	ack := readFrame(t, conn)
	if ack.Type != SocketJoined {
		t.Fatalf("expected join ack, got %s", ack.Type)
	}
	waitMembers(t, hub, ProjectRoom("p1"), 1)

	hub.Emit(ProjectRoom("p1"), TaskCreated, map[string]string{"id": "t1"})
	f := readFrame(t, conn)
	if f.Type != TaskCreated {
		t.Fatalf("expected task event, got %s", f.Type)
	}
	var payload map[string]string
	if err := sonic.Unmarshal(f.Payload, &payload); err != nil || payload["id"] != "t1" {
		t.Fatalf("unexpected payload %s (%v)", f.Payload, err)
	}

	sendFrame(t, conn, FrameLeave, map[string]string{"projectId": "p1"})
	waitMembers(t, hub, ProjectRoom("p1"), 0)
}

func TestWSGuardRejectsNonMembers(t *testing.T) {
	hub, srv := newWSServer(t)
	conn := dialWS(t, srv, "bob-token")

	sendFrame(t, conn, FrameJoin, map[string]string{"projectId": "p1"})
	f := readFrame(t, conn)
	if f.Type != SocketError {
		t.Fatalf("expected socket error, got %s", f.Type)
	}
	if hub.Members(ProjectRoom("p1")) != 0 {
		t.Fatal("non-member must not be added to the room")
	}
}

func TestWSJoinUserOnlyForSelf(t *testing.T) {
	hub, srv := newWSServer(t)
	conn := dialWS(t, srv, "bob-token")

	sendFrame(t, conn, FrameJoinUser, map[string]string{"userId": "alice"})
	if f := readFrame(t, conn); f.Type != SocketError {
		t.Fatalf("expected socket error for foreign user room, got %s", f.Type)
	}

	sendFrame(t, conn, FrameJoinUser, map[string]string{"userId": "bob"})
	if f := readFrame(t, conn); f.Type != SocketJoinedUser {
		t.Fatalf("expected user join ack, got %s", f.Type)
	}
	waitMembers(t, hub, UserRoom("bob"), 1)

	hub.Emit(UserRoom("bob"), UserRemovedFromProject, map[string]string{"projectId": "p1"})
	if f := readFrame(t, conn); f.Type != UserRemovedFromProject {
		t.Fatalf("expected removal event, got %s", f.Type)
	}
}

func TestWSRejectsUnknownFrames(t *testing.T) {
	_, srv := newWSServer(t)
	conn := dialWS(t, srv, "alice-token")

	if err := websocket.Message.Send(conn, "{not json"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f := readFrame(t, conn); f.Type != SocketError {
		t.Fatalf("expected socket error for garbage, got %s", f.Type)
	}
	sendFrame(t, conn, "shout", map[string]string{})
	if f := readFrame(t, conn); f.Type != SocketError {
		t.Fatalf("expected socket error for unknown type, got %s", f.Type)
	}
}

func TestWSRequiresAuth(t *testing.T) {
	_, srv := newWSServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?token=nope"
	if _, err := websocket.Dial(url, "", srv.URL); err == nil {
		t.Fatal("expected handshake to fail without a valid token")
	}
}

func TestWSDisconnectCleansRooms(t *testing.T) {
	hub, srv := newWSServer(t)
	conn := dialWS(t, srv, "alice-token")
	sendFrame(t, conn, FrameJoin, map[string]string{"projectId": "p1"})
	readFrame(t, conn)
	waitMembers(t, hub, ProjectRoom("p1"), 1)

	_ = conn.Close()
	waitMembers(t, hub, ProjectRoom("p1"), 0)
}
