package signaling

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	rtcsignal "github.com/damesirelord/WebRTC-single-server"
	"github.com/damesirelord/WebRTC-single-server/internal/metrics"
)

func newTestServer(t *testing.T, codec Codec, cfg ServerConfig) (*WebsocketSignalingServer, string) {
	t.Helper()
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	cfg.Log = discardLogger()
	cfg.Relay = NewRelay(cfg.Log, codec, cfg.Metrics)
	s := NewWebsocketSignalingServer(cfg)

	ts := httptest.NewServer(s.Mux)
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialTest(t *testing.T, baseURL string, userId rtcsignal.UserID, codec Codec) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, baseURL, userId, codec, discardLogger())
	if err != nil {
		t.Fatalf("dial %s: %v", userId, err)
	}
	t.Cleanup(func() { c.conn.CloseNow() })
	return c
}

func readReply(t *testing.T, c *Client) Reply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := c.ReadReply(ctx)
	if err != nil {
		t.Fatalf("%s: read reply: %v", c.UserID, err)
	}
	return r
}

func expectReply(t *testing.T, c *Client, typ string, roomId rtcsignal.RoomID, userId rtcsignal.UserID) {
	t.Helper()
	r := readReply(t, c)
	if r.Type != typ || r.RoomID != roomId || r.UserID != userId {
		t.Fatalf("%s got %+v, want type=%q room=%q user=%q", c.UserID, r, typ, roomId, userId)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerJoinLeaveScenario(t *testing.T) {
	s, url := newTestServer(t, JSONCodec{}, ServerConfig{})
	a := dialTest(t, url, "A", nil)
	b := dialTest(t, url, "B", nil)

	if err := a.Join("r1"); err != nil {
		t.Fatal(err)
	}
	expectReply(t, a, TypeJoined, "r1", "A")

	if err := b.Join("r1"); err != nil {
		t.Fatal(err)
	}
	expectReply(t, b, TypeJoined, "r1", "B")
	expectReply(t, a, TypeOtherJoin, "r1", "B")

	c := dialTest(t, url, "C", nil)
	if err := c.Join("r1"); err != nil {
		t.Fatal(err)
	}
	expectReply(t, c, TypeFull, "r1", "C")
	if got := s.Relay().Rooms.Members("r1"); !slices.Equal(got, []rtcsignal.UserID{"A", "B"}) {
		t.Fatalf("members = %v", got)
	}

	if err := a.Leave("r1"); err != nil {
		t.Fatal(err)
	}
	expectReply(t, a, TypeLeaved, "r1", "A")
	expectReply(t, b, TypeBye, "r1", "A")
	if got := s.Relay().Rooms.Members("r1"); !slices.Equal(got, []rtcsignal.UserID{"B"}) {
		t.Fatalf("members = %v", got)
	}
}

func TestServerGeneratesUserID(t *testing.T) {
	_, url := newTestServer(t, JSONCodec{}, ServerConfig{})
	c := dialTest(t, url, "", nil)

	if len(c.UserID) != 6 {
		t.Fatalf("generated user id %q, want 6 characters", c.UserID)
	}
	if err := c.Join("r1"); err != nil {
		t.Fatal(err)
	}
	expectReply(t, c, TypeJoined, "r1", c.UserID)
}

func TestServerSurvivesMalformedMessages(t *testing.T) {
	s, url := newTestServer(t, JSONCodec{}, ServerConfig{})
	a := dialTest(t, url, "A", nil)

	for _, raw := range []string{"{not json", `{"handle":"dance","data":{"roomId":"r1"}}`, `{"handle":"join"}`} {
		if err := a.SendRaw([]byte(raw)); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Join("r1"); err != nil {
		t.Fatal(err)
	}
	// the first reply is for the valid join; nothing was sent for the bad ones
	expectReply(t, a, TypeJoined, "r1", "A")
	if got := s.metrics.Get(metrics.UnknownOps); got != 1 {
		t.Fatalf("unknown_ops = %d, want 1", got)
	}
}

func TestServerDisconnectCleansUpSilently(t *testing.T) {
	s, url := newTestServer(t, JSONCodec{}, ServerConfig{})
	a := dialTest(t, url, "A", nil)
	b := dialTest(t, url, "B", nil)
	_ = a.Join("r1")
	expectReply(t, a, TypeJoined, "r1", "A")
	_ = b.Join("r1")
	expectReply(t, b, TypeJoined, "r1", "B")
	expectReply(t, a, TypeOtherJoin, "r1", "B")

	_ = a.Close()
	relay := s.Relay()
	waitFor(t, "A to be evicted", func() bool {
		_, registered := relay.Sessions.Load("A")
		return !registered && slices.Equal(relay.Rooms.Members("r1"), []rtcsignal.UserID{"B"})
	})

	// B's next message is its own chat, so no bye was queued before it.
	if err := b.Chat("r1", map[string]any{"text": "anyone?"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := b.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var chat map[string]any
	if err := b.Codec().Unmarshal(raw, &chat); err != nil {
		t.Fatal(err)
	}
	if chat["text"] != "anyone?" {
		t.Fatalf("B received %s, want its chat message", raw)
	}
}

func TestServerRoomChatJSON(t *testing.T) {
	_, url := newTestServer(t, JSONCodec{}, ServerConfig{})
	a := dialTest(t, url, "A", nil)
	b := dialTest(t, url, "B", nil)
	_ = a.Join("r1")
	expectReply(t, a, TypeJoined, "r1", "A")
	_ = b.Join("r1")
	expectReply(t, b, TypeJoined, "r1", "B")
	expectReply(t, a, TypeOtherJoin, "r1", "B")

	if err := a.Chat("r1", map[string]any{"from": "A", "text": "hi"}); err != nil {
		t.Fatal(err)
	}
	for _, c := range []*Client{a, b} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		raw, err := c.Read(ctx)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		if string(raw) != `{"from":"A","text":"hi"}` {
			t.Fatalf("%s received %s", c.UserID, raw)
		}
	}
}

func TestServerP2PMsgpack(t *testing.T) {
	_, url := newTestServer(t, MsgpackCodec{}, ServerConfig{})
	codec := MsgpackCodec{}
	a := dialTest(t, url, "A", codec)
	b := dialTest(t, url, "B", codec)
	_ = a.Join("r1")
	expectReply(t, a, TypeJoined, "r1", "A")
	_ = b.Join("r1")
	expectReply(t, b, TypeJoined, "r1", "B")
	expectReply(t, a, TypeOtherJoin, "r1", "B")

	desc := map[string]any{"type": "offer", "sdp": "v=0"}
	if err := a.SendDesc("r1", desc); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := b.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Type   string `msgpack:"type"`
		UserID string `msgpack:"userId"`
		Data   struct {
			Type string `msgpack:"type"`
			SDP  string `msgpack:"sdp"`
		} `msgpack:"data"`
	}
	if err := codec.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeP2P || got.UserID != "B" || got.Data.Type != "offer" || got.Data.SDP != "v=0" {
		t.Fatalf("B received %+v", got)
	}
}

func TestServerRateLimitClosesConnection(t *testing.T) {
	s, url := newTestServer(t, JSONCodec{}, ServerConfig{MessagesPerSecond: 0.001, MessageBurst: 1})
	a := dialTest(t, url, "A", nil)

	_ = a.SendRaw([]byte("x"))
	_ = a.SendRaw([]byte("y"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusPolicyViolation {
		t.Fatalf("close status = %v (err %v), want %v", got, err, websocket.StatusPolicyViolation)
	}
	if got := s.metrics.Get(metrics.RateLimited); got != 1 {
		t.Fatalf("rate_limited = %d, want 1", got)
	}
	waitFor(t, "A to be evicted", func() bool {
		_, ok := s.Relay().Sessions.Load("A")
		return !ok
	})
}

func TestServerShutdown(t *testing.T) {
	s, url := newTestServer(t, JSONCodec{}, ServerConfig{})
	a := dialTest(t, url, "A", nil)
	waitFor(t, "A to register", func() bool {
		_, ok := s.Relay().Sessions.Load("A")
		return ok
	})

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- s.Shutdown(ctx)
	}()

	if r := readReply(t, a); r.Type != TypeShutdown {
		t.Fatalf("got %+v, want shutdown", r)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Fatalf("close status = %v (err %v), want %v", got, err, websocket.StatusGoingAway)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}

func TestServerHealthAndMetrics(t *testing.T) {
	s, url := newTestServer(t, JSONCodec{}, ServerConfig{})
	httpURL := "http" + strings.TrimPrefix(url, "ws")
	dialTest(t, url, "A", nil)
	waitFor(t, "A to register", func() bool {
		_, ok := s.Relay().Sessions.Load("A")
		return ok
	})

	resp, err := http.Get(httpURL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(httpURL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `webrtc_signal_events_total{event="connections_opened"} 1`) {
		t.Fatalf("metrics body:\n%s", body)
	}
}
