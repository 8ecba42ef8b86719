package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydash/hostsdk/internal/wire"
)

var upgrader = websocket.Upgrader{}

// testServer speaks the framed protocol from the server side: it sends
// the "authenticated" sentinel immediately on connect and acks every
// MESSAGE it receives.
type testServer struct {
	srv  *httptest.Server
	conn chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conn: make(chan *websocket.Conn, 1)}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conn <- c

		authFrame := wire.NewMessageFrame(wire.AuthenticatedSentinel)
		b, _ := authFrame.Marshal()
		c.WriteMessage(websocket.TextMessage, b)

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.ParseFrame(raw)
			if err != nil {
				continue
			}
			if frame.Kind == wire.FrameMessage {
				ack := wire.NewAckFrame(frame.ID)
				ab, _ := ack.Marshal()
				c.WriteMessage(websocket.TextMessage, ab)
			}
		}
	}))
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) serverConn() *websocket.Conn {
	return <-ts.conn
}

func (ts *testServer) Close() {
	ts.srv.Close()
}

func dial(t *testing.T, ts *testServer, opts Options) *Socket {
	t.Helper()
	opts.URL = ts.wsURL()
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	s, err := Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return s
}

func TestDial_CompletesHandshake(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	s := dial(t, ts, Options{})
	defer s.Close()
}

func TestDial_TimesOutWithoutAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// Never sends the "authenticated" sentinel.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), Options{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSocket_SendWaitsForAck(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	s := dial(t, ts, Options{})
	defer s.Close()

	if err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSocket_Ping(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	s := dial(t, ts, Options{})
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSocket_OnMessage(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	received := make(chan string, 1)
	s, err := Dial(context.Background(), Options{
		URL:            ts.wsURL(),
		ConnectTimeout: 2 * time.Second,
		OnMessage: func(data string) {
			received <- data
		},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	conn := ts.serverConn()
	msgFrame := wire.NewMessageFrame("push from server")
	b, _ := msgFrame.Marshal()
	conn.WriteMessage(websocket.TextMessage, b)

	select {
	case got := <-received:
		if got != "push from server" {
			t.Errorf("got %q, want %q", got, "push from server")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnMessage")
	}
}

func TestSocket_SendTimesOutWithoutAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		authFrame := wire.NewMessageFrame(wire.AuthenticatedSentinel)
		b, _ := authFrame.Marshal()
		c.WriteMessage(websocket.TextMessage, b)
		// Never acks anything further.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := Dial(context.Background(), Options{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: 2 * time.Second,
		SendTimeout:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()

	if err := s.Send(context.Background(), "no-ack"); err == nil {
		t.Fatal("expected timeout error waiting for ack")
	}
}

func TestSocket_CloseFailsPendingSends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		authFrame := wire.NewMessageFrame(wire.AuthenticatedSentinel)
		b, _ := authFrame.Marshal()
		c.WriteMessage(websocket.TextMessage, b)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := Dial(context.Background(), Options{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: 2 * time.Second,
		SendTimeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Send(context.Background(), "never-acked")
	}()

	time.Sleep(50 * time.Millisecond)
	s.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error once socket closed mid-send")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Send to return")
	}
}
