package engine

import (
	"context"
	"net/url"
	"time"

	"lienzo/internal/pkg/errors"

	"github.com/gorilla/websocket"
)

// Stream is one WebSocket connection to the engine's lifecycle feed.
//
// Frames are pumped by a reader goroutine so that a receive timeout does
// not poison the connection: gorilla treats an expired read deadline as
// fatal, while a quiet stream is a normal condition here (long sampler
// steps emit nothing for a while).
type Stream struct {
	url            string
	receiveTimeout time.Duration

	conn   *websocket.Conn
	frames chan []byte
	rerr   chan error
	done   chan struct{}
}

// StreamURL returns the engine's event feed address scoped to clientID.
func StreamURL(host, clientID string) string {
	u := url.URL{Scheme: "ws", Host: host, Path: "/ws"}
	q := url.Values{}
	q.Set("clientId", clientID)
	u.RawQuery = q.Encode()
	return u.String()
}

// DialStream connects to the engine's event feed. Events for every
// client are visible on the feed; clientID scopes the ones the engine
// addresses to us.
func DialStream(ctx context.Context, host, clientID string, receiveTimeout time.Duration) (*Stream, error) {
	wsURL := StreamURL(host, clientID)
	conn, err := dialConn(ctx, wsURL, receiveTimeout)
	if err != nil {
		return nil, errors.Newf(errors.CodeUnavailable, "WebSocket communication error: %v", err)
	}

	s := &Stream{url: wsURL, receiveTimeout: receiveTimeout, conn: conn}
	s.startReader()
	return s, nil
}

func dialConn(ctx context.Context, wsURL string, handshakeTimeout time.Duration) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, res, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if res != nil {
			res.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Stream) startReader() {
	frames := make(chan []byte)
	rerr := make(chan error, 1)
	done := make(chan struct{})
	conn := s.conn

	go func() {
		defer close(frames)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				select {
				case rerr <- err:
				default:
				}
				return
			}
			// Preview frames arrive as binary; only lifecycle JSON is
			// surfaced.
			if msgType != websocket.TextMessage {
				continue
			}
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	s.frames = frames
	s.rerr = rerr
	s.done = done
}

// URL returns the feed address this stream was dialed with.
func (s *Stream) URL() string { return s.url }

// Receive blocks for the next lifecycle frame. A timeout is reported
// with errors.CodeTimeout and leaves the connection usable; the caller
// decides when a quiet stream counts as stalled. A dropped connection is
// reported with errors.CodeUnavailable.
func (s *Stream) Receive(ctx context.Context) ([]byte, error) {
	timer := time.NewTimer(s.receiveTimeout)
	defer timer.Stop()

	select {
	case data, ok := <-s.frames:
		if !ok {
			return nil, s.closedErr()
		}
		return data, nil
	case <-timer.C:
		return nil, errors.New(errors.CodeTimeout, "websocket receive timed out")
	case <-ctx.Done():
		return nil, errors.WrapWithCode(ctx.Err(), errors.CodeUnavailable, "engine.stream", "receive canceled")
	}
}

func (s *Stream) closedErr() error {
	select {
	case err := <-s.rerr:
		return errors.WrapWithCode(err, errors.CodeUnavailable, "engine.stream", "websocket connection closed")
	default:
		return errors.New(errors.CodeUnavailable, "websocket connection closed")
	}
}

// Redial replaces a dropped connection with a fresh one to the same URL
// and restarts the reader. The reconnect policy (attempts, delays,
// aborting when the engine itself is down) belongs to the caller.
func (s *Stream) Redial(ctx context.Context) error {
	_ = s.conn.Close()

	conn, err := dialConn(ctx, s.url, s.receiveTimeout)
	if err != nil {
		return err
	}
	s.conn = conn
	s.startReader()
	return nil
}

// Close sends a best-effort close frame and tears the connection down.
func (s *Stream) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
