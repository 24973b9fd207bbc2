package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aeolun/allchat/pkg/auth"
	"github.com/aeolun/allchat/pkg/database"
	"github.com/aeolun/allchat/pkg/protocol"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the allchat server
type Server struct {
	db        DatabaseStore
	tokens    *auth.JWTVerifier
	verifier  auth.Verifier
	directory *Directory
	presence  *Presence
	router    *Router
	metrics   *Metrics
	registry  *prometheus.Registry
	upgrader  websocket.Upgrader
	config    ServerConfig

	httpServer *http.Server
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	startTime  time.Time
}

// NewServer opens the database at dbPath and creates a server over it
func NewServer(dbPath string, config ServerConfig) (*Server, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := NewServerWithStore(db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewServerWithStore creates a server over an open store. The user directory
// is loaded before the server accepts any connection.
func NewServerWithStore(store DatabaseStore, config ServerConfig) (*Server, error) {
	secret := []byte(config.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		log.Printf("WARNING: no jwt_secret configured, using a random secret (tokens will not survive a restart)")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(registry)

	tokens := auth.NewJWTVerifier(secret, config.TokenTTL)
	directory := NewDirectory()
	presence := NewPresence()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		db:        store,
		tokens:    tokens,
		verifier:  tokens,
		directory: directory,
		presence:  presence,
		router:    NewRouter(store, presence, directory, metrics),
		metrics:   metrics,
		registry:  registry,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	if err := s.loadDirectory(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) loadDirectory() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.StoreTimeout)
	defer cancel()

	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}

	identities := make([]auth.Identity, 0, len(users))
	for _, u := range users {
		identities = append(identities, auth.Identity{ID: u.ID, Username: u.Username})
	}
	s.directory.Initialize(identities)
	log.Printf("Loaded %d registered users", len(identities))
	return nil
}

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.HandleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/api/register", s.RegisterHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/login", s.LoginHandler).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Start listens on the configured HTTP port and serves in the background
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := listen(s.ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logListenBacklog(listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitorListenOverflows(s.ctx, 10*time.Second)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every session, stops the HTTP server and closes the database
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errorLog.Printf("HTTP shutdown error: %v", err)
		}
		cancel()
	}

	for _, sess := range s.presence.Sessions() {
		sess.Close(closeGoingAway, "server shutting down")
	}

	s.cancel()

	// Wait for connection goroutines to finish
	s.wg.Wait()

	return s.db.Close()
}

// requestContext bounds a single store operation. It is not tied to the
// session, so a disconnect does not abort an in-flight write.
func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.config.StoreTimeout)
}

// sendEvent queues one event on a session
func (s *Server) sendEvent(sess *Session, event string, payload interface{}) error {
	frame, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	if !sess.Send(frame) {
		return ErrNotAuthenticated
	}
	s.metrics.RecordMessagesSent(event, 1)
	return nil
}

// sendError reports a failed request to the requesting session only
func (s *Server) sendError(sess *Session, event string, code uint16, message string) error {
	return s.sendEvent(sess, protocol.EventError, protocol.ErrorMessage{
		Event:   event,
		Code:    code,
		Message: message,
	})
}

// broadcastEvent queues one event on every online session
func (s *Server) broadcastEvent(event string, payload interface{}) {
	frame, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		errorLog.Printf("Failed to encode %s: %v", event, err)
		return
	}
	delivered := s.presence.Broadcast(frame)
	s.metrics.RecordMessagesSent(event, delivered)
}

func (s *Server) broadcastOnline() {
	s.broadcastEvent(protocol.EventUsersOnline, s.presence.ListOnline())
}

func (s *Server) broadcastUserList() {
	s.broadcastEvent(protocol.EventUsersList, s.directory.Usernames())
}
