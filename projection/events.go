package projection

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/websocket"

	"prism-board/realtime"
)

const eventBuffer = 64

// Events is a websocket subscription to a project room and, optionally, the
// caller's own user room.
type Events struct {
	conn   *websocket.Conn
	out    chan realtime.Envelope
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

// Subscribe dials wsURL with token and joins the project room. A non-empty
// userID also joins the user room so membership changes reach the caller.
func Subscribe(ctx context.Context, wsURL, origin, token, projectID, userID string, logger *log.Logger) (*Events, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	cfg, err := websocket.NewConfig(wsURL, origin)
	if err != nil {
		return nil, err
	}
	cfg.Header = http.Header{"Authorization": []string{"Bearer " + token}}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	ev := &Events{conn: conn, out: make(chan realtime.Envelope, eventBuffer), done: make(chan struct{}), logger: logger}
	if err := ev.send(realtime.FrameJoin, map[string]string{"projectId": projectID}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if userID != "" {
		if err := ev.send(realtime.FrameJoinUser, map[string]string{"userId": userID}); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	go ev.readLoop(realtime.ProjectRoom(projectID))
	return ev, nil
}

// C yields events until the connection closes.
func (e *Events) C() <-chan realtime.Envelope { return e.out }

func (e *Events) Close() error {
	e.once.Do(func() { close(e.done) })
	return e.conn.Close()
}

func (e *Events) send(typ string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := sonic.MarshalString(realtime.Frame{Type: typ, Payload: data})
	if err != nil {
		return err
	}
	return websocket.Message.Send(e.conn, frame)
}

func (e *Events) readLoop(room realtime.Room) {
	defer close(e.out)
	for {
		var raw string
		if err := websocket.Message.Receive(e.conn, &raw); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				e.logger.Debugf("read event: %v", err)
			}
			return
		}
		var f realtime.Frame
		if err := sonic.UnmarshalString(raw, &f); err != nil {
			e.logger.Warnf("unable to parse frame: %v", err)
			continue
		}
		if f.Type == realtime.SocketError {
			e.logger.Warnf("socket error: %s", strings.TrimSpace(string(f.Payload)))
		}
		select {
		case e.out <- realtime.Envelope{Room: room, Event: f.Type, Payload: f.Payload}:
		case <-e.done:
			return
		}
	}
}
