package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	rtcsignal "github.com/damesirelord/WebRTC-single-server"
	"github.com/damesirelord/WebRTC-single-server/internal/metrics"
	"github.com/go4org/hashtriemap"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ServerConfig struct {
	Relay   *Relay
	Accept  websocket.AcceptOptions
	Log     *slog.Logger
	Metrics *metrics.Metrics

	// MaxMessageBytes caps inbound frames. 0 keeps the websocket default.
	MaxMessageBytes int64
	// MessagesPerSecond <= 0 disables rate limiting.
	MessagesPerSecond float64
	MessageBurst      int
	SendQueueSize     int
	PingInterval      time.Duration
	WriteTimeout      time.Duration
}

// Serverside implementation of the Websocket Signaling Server.
type WebsocketSignalingServer struct {
	cfg   ServerConfig
	relay *Relay
	// map connection id to peer, so shutdown can reach every connection,
	// including ones superseded in the Session Registry.
	conns   hashtriemap.HashTrieMap[uuid.UUID, *wsPeer]
	wg      sync.WaitGroup
	Mux     *http.ServeMux
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Uses Default logger if cfg.Log is nil and a JSON relay if cfg.Relay is nil.
func NewWebsocketSignalingServer(cfg ServerConfig) *WebsocketSignalingServer {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Relay == nil {
		cfg.Relay = NewRelay(cfg.Log, nil, cfg.Metrics)
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	s := &WebsocketSignalingServer{
		cfg:     cfg,
		relay:   cfg.Relay,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}
	s.Mux = new(http.ServeMux)
	s.Mux.HandleFunc("GET /websocket/{userId}", s.connect)
	s.Mux.HandleFunc("GET /websocket", s.connect)
	s.Mux.HandleFunc("GET /health", healthCheck)
	s.Mux.Handle("GET /metrics", metrics.PrometheusHandler(cfg.Metrics))
	return s
}

func (s *WebsocketSignalingServer) Relay() *Relay { return s.relay }

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Signaling server is healthy."))
}

// GET /websocket/{userId}
//
// GET /websocket assigns a generated user id and announces it with a
// "connected" message.
func (s *WebsocketSignalingServer) connect(w http.ResponseWriter, r *http.Request) {
	userId := rtcsignal.UserID(r.PathValue("userId"))
	generated := userId == ""

	conn, err := websocket.Accept(w, r, &s.cfg.Accept)
	if err != nil {
		s.log.Debug("Failed to accept connection", "user", userId, "error", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	// incase it leaks somehow
	defer conn.CloseNow()
	if s.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := newWsPeer(conn, s.relay.Codec().MessageType(), s.cfg.SendQueueSize)
	s.conns.Store(p.id, p)
	defer s.conns.Delete(p.id)
	if generated {
		userId = s.relay.ConnectGenerated(p)
	} else {
		s.relay.Connect(userId, p)
	}
	defer s.relay.Disconnect(userId, p)
	defer p.close()
	log := s.log.With("user", userId, "conn", p.id)

	go func() {
		if err := p.writePump(ctx, s.cfg.WriteTimeout); err != nil {
			s.relay.TransportError(userId, err)
			conn.CloseNow()
		}
	}()

	// Ping loop
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			pctx, pcancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				if ctx.Err() == nil {
					log.Debug("Shutting down ping loop", "error", err)
					conn.CloseNow()
				}
				return
			}
		}
	}()

	if generated {
		s.relay.Sender.Unicast(userId, msgConnected(userId))
	}

	var lim *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), max(s.cfg.MessageBurst, 1))
	}
	for {
		raw, err := ReadMsg(ctx, conn)
		if err != nil {
			if isNormalClose(err) {
				log.Debug("Connection closed by peer", "error", err)
			} else {
				s.relay.TransportError(userId, err)
			}
			return
		}
		if lim != nil && !lim.Allow() {
			s.metrics.Inc(metrics.RateLimited)
			log.Warn("Closing connection for rate limit hit")
			conn.Close(websocket.StatusPolicyViolation, "rate limit")
			return
		}
		s.relay.Receive(userId, raw)
	}
}

// Shutdown sends every connection a "shutdown" message, closes them with
// StatusGoingAway and waits for their handlers to return or ctx to expire.
func (s *WebsocketSignalingServer) Shutdown(ctx context.Context) error {
	s.relay.Shutdown()
	for _, p := range s.conns.All() {
		p.shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, p := range s.conns.All() {
			p.conn.CloseNow()
		}
		return ctx.Err()
	}
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled)
}
