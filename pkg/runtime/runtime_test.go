package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/lsf-avatar/internal/config"
	"github.com/saker-ai/lsf-avatar/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testIntents = `[
  {"intent": "greet", "examples": ["bonjour", "salut"], "reply": "Salut!", "clip": "HELLO_LSF"},
  {"id": "fallback", "examples": [], "reply": "Un instant s’il vous plaît.", "clip": "WAIT_PLEASE_LSF"}
]`

func testConfig(t *testing.T) appconfig.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "intents_lsf.json")
	if err := os.WriteFile(path, []byte(testIntents), 0o644); err != nil {
		t.Fatalf("write intents: %v", err)
	}
	return appconfig.Config{
		RootDir:     dir,
		HTTPAddr:    "127.0.0.1:0",
		IntentsPath: path,
		FrontendDir: filepath.Join(dir, "public"),
		Broadcast: appconfig.BroadcastConfig{
			QueueSize:        8,
			WriteTimeout:     time.Second,
			ConnectedMessage: "Bienvenue (WS connecté)",
		},
	}
}

func readCommand(t *testing.T, conn *websocket.Conn) protocol.Command {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	cmd, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return cmd
}

func TestServeChatReachesViewer(t *testing.T) {
	server, err := NewWithConfig(testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewWithConfig()=%v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- server.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial viewer: %v", err)
	}
	defer conn.Close()

	if got, want := readCommand(t, conn), protocol.Command(protocol.Connected{Message: "Bienvenue (WS connecté)"}); !cmp.Equal(got, want) {
		t.Fatalf("first frame=%#v, want %#v", got, want)
	}

	body, _ := json.Marshal(protocol.ChatRequest{Message: "Bonjour à tous"})
	resp, err := http.Post(base+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post chat: %v", err)
	}
	var reply protocol.ChatReply
	err = json.NewDecoder(resp.Body).Decode(&reply)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if diff := cmp.Diff(protocol.ChatReply{Reply: "Salut!", Clip: "HELLO_LSF", Caption: "Salut!"}, reply); diff != "" {
		t.Fatalf("reply mismatch (-want +got):\n%s", diff)
	}

	want := []protocol.Command{
		protocol.Play{Clip: "HELLO_LSF", Speed: 1},
		protocol.Caption{Text: "Salut!"},
	}
	got := []protocol.Command{readCommand(t, conn), readCommand(t, conn)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve()=%v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	if n := server.Hub().Len(); n != 0 {
		t.Fatalf("viewers after shutdown=%d, want 0", n)
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestNewWithConfigRejectsBadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis = appconfig.RedisConfig{URL: "not a url", Channel: "lsf-avatar:commands"}
	if _, err := NewWithConfig(cfg, zap.NewNop()); err == nil {
		t.Fatal("NewWithConfig accepted an invalid redis url")
	}
}

func TestServeSurvivesRedisOutage(t *testing.T) {
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	redisAddr := dead.Addr().String()
	dead.Close()

	cfg := testConfig(t)
	cfg.Redis = appconfig.RedisConfig{URL: "redis://" + redisAddr, Channel: "lsf-avatar:commands"}
	server, err := NewWithConfig(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWithConfig()=%v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- server.Serve(ctx, ln) }()

	select {
	case err := <-errc:
		t.Fatalf("Serve() returned %v while redis is down", err)
	case <-time.After(300 * time.Millisecond):
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial viewer: %v", err)
	}
	defer conn.Close()
	if _, ok := readCommand(t, conn).(protocol.Connected); !ok {
		t.Fatal("first frame is not connected")
	}

	body, _ := json.Marshal(protocol.ChatRequest{Message: "bonjour"})
	resp, err := http.Post("http://"+ln.Addr().String()+"/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post chat: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}

	want := []protocol.Command{
		protocol.Play{Clip: "HELLO_LSF", Speed: 1},
		protocol.Caption{Text: "Salut!"},
	}
	got := []protocol.Command{readCommand(t, conn), readCommand(t, conn)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Serve()=%v, want nil", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}
