package viewer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/saker-ai/lsf-avatar/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticLoader map[string]*Asset

func (l staticLoader) Load(_ context.Context, name string) (*Asset, error) {
	if a, ok := l[name]; ok {
		return a, nil
	}
	return nil, ErrAssetNotFound
}

// blockingLoader never finishes loading.
type blockingLoader struct{}

func (blockingLoader) Load(ctx context.Context, _ string) (*Asset, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type chanCaption chan string

func (c chanCaption) SetCaption(text string) { c <- text }

// commandServer accepts viewers and writes every command received on send to each of them.
type commandServer struct {
	*httptest.Server
	send  chan protocol.Command
	conns atomic.Int32
}

func newCommandServer(t *testing.T, closeAfter int) *commandServer {
	t.Helper()
	s := &commandServer{send: make(chan protocol.Command, 16)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := s.conns.Add(1)
		write := func(cmd protocol.Command) bool {
			data, err := protocol.Encode(cmd)
			if err != nil {
				return false
			}
			return conn.WriteMessage(websocket.TextMessage, data) == nil
		}
		if !write(protocol.Connected{Message: "Bienvenue"}) {
			return
		}
		if int(n) <= closeAfter {
			return
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case cmd := <-s.send:
				if !write(cmd) {
					return
				}
			case <-done:
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *commandServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func startSession(t *testing.T, session *Session) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- session.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Fatalf("Run()=%v, want nil", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("session did not stop")
		}
	}
}

func waitEvent(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func testOptions(url string) Options {
	return Options{
		ServerURL:    url,
		BaseAsset:    "avatar.glb",
		Triggers:     testTriggers(),
		FrameRate:    60,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 40 * time.Millisecond,
	}
}

func TestSessionPlaysAndCaptions(t *testing.T) {
	server := newCommandServer(t, 0)
	stage := newRecordingStage()
	captions := make(chanCaption, 8)
	loader := staticLoader{"avatar.glb": baseAsset, "hello.glb": helloAsset}

	session := NewSession(testOptions(server.wsURL()), loader, stage, captions, zap.NewNop())
	stop := startSession(t, session)
	defer stop()

	waitEvent(t, stage.notify, "show avatar.glb")

	// The transient asset may still be loading; plays before that are ignored.
	retry := time.NewTicker(50 * time.Millisecond)
	defer retry.Stop()
	deadline := time.After(5 * time.Second)
	server.send <- protocol.Play{Clip: "HELLO_LSF", Speed: 1}
	for played := false; !played; {
		select {
		case ev := <-stage.notify:
			played = ev == "play Hello x1"
		case <-retry.C:
			server.send <- protocol.Play{Clip: "HELLO_LSF", Speed: 1}
		case <-deadline:
			t.Fatal("timed out waiting for play")
		}
	}
	server.send <- protocol.Caption{Text: "Salut!"}
	select {
	case got := <-captions:
		if got != "Salut!" {
			t.Fatalf("caption=%q, want %q", got, "Salut!")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for caption")
	}
}

func TestSessionCaptionWithoutAssets(t *testing.T) {
	server := newCommandServer(t, 0)
	stage := newRecordingStage()
	captions := make(chanCaption, 8)

	session := NewSession(testOptions(server.wsURL()), blockingLoader{}, stage, captions, zap.NewNop())
	stop := startSession(t, session)
	defer stop()

	server.send <- protocol.Play{Clip: "HELLO_LSF", Speed: 1}
	server.send <- protocol.Caption{Text: "Un instant s’il vous plaît."}

	select {
	case got := <-captions:
		if got != "Un instant s’il vous plaît." {
			t.Fatalf("caption=%q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for caption")
	}
	if events := stage.snapshot(); len(events) != 0 {
		t.Fatalf("stage events=%v, want none before assets load", events)
	}
}

func TestSessionReconnects(t *testing.T) {
	server := newCommandServer(t, 2)
	stage := newRecordingStage()
	captions := make(chanCaption, 8)

	session := NewSession(testOptions(server.wsURL()), blockingLoader{}, stage, captions, zap.NewNop())
	stop := startSession(t, session)
	defer stop()

	server.send <- protocol.Caption{Text: "back"}
	select {
	case got := <-captions:
		if got != "back" {
			t.Fatalf("caption=%q, want %q", got, "back")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for caption after reconnect")
	}
	if n := server.conns.Load(); n < 3 {
		t.Fatalf("connections=%d, want at least 3", n)
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		current time.Duration
		limit   time.Duration
		want    time.Duration
	}{
		{time.Second, 30 * time.Second, 2 * time.Second},
		{16 * time.Second, 30 * time.Second, 30 * time.Second},
		{30 * time.Second, 30 * time.Second, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.current, tt.limit); got != tt.want {
			t.Fatalf("nextBackoff(%v, %v)=%v, want %v", tt.current, tt.limit, got, tt.want)
		}
	}
}

func TestAssetNamesDeduplicates(t *testing.T) {
	session := NewSession(Options{
		BaseAsset: "avatar.glb",
		Triggers:  map[string]string{"A": "hello.glb", "B": "hello.glb", "C": "avatar.glb"},
	}, staticLoader{}, newRecordingStage(), make(chanCaption, 1), nil)

	names := session.assetNames()
	if len(names) != 2 || names[0] != "avatar.glb" || names[1] != "hello.glb" {
		t.Fatalf("assetNames()=%v, want [avatar.glb hello.glb]", names)
	}
}
