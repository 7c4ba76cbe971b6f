package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gn10/mdnode/pkg/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	ApiPrefix        = "/api/v1"
	streamWriteWait  = 1 * time.Second
	shutdownDeadline = 2 * time.Second
)

// GatewayServer exposes the boards of a master over HTTP with a JSON api and
// a websocket stream of board updates
type GatewayServer struct {
	*gateway.BaseGateway
	logger   *log.Entry
	router   chi.Router
	upgrader websocket.Upgrader
	server   *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewGatewayServer(gw *gateway.BaseGateway, logger *log.Entry) *GatewayServer {
	if logger == nil {
		logger = log.WithField("service", "[HTTP]")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &GatewayServer{
		BaseGateway: gw,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = renderErr(w, r, ErrMethodNotAllowed)
	})

	r.Route(ApiPrefix, func(r chi.Router) {
		r.Get("/boards", s.handleBoards)
		r.Route("/boards/{id}", func(r chi.Router) {
			r.Use(s.boardCtx)
			r.Get("/", s.handleBoard)
			r.Post("/config", s.handleConfig)
			r.Post("/target", s.handleTarget)
			r.Post("/gain", s.handleGain)
			r.Post("/command", s.handleCommand)
		})
		r.Post("/groups/{group}/targets", s.handleGroupTargets)
		r.Get("/stream", s.handleStream)
	})
	s.router = r
	return s
}

func (s *GatewayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve until [GatewayServer.Shutdown] is called
func (s *GatewayServer) ListenAndServe(addr string) error {
	s.server = &http.Server{Addr: addr, Handler: s}
	s.logger.Infof("listening on %v", addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop the server and close the websocket streams
func (s *GatewayServer) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownDeadline)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *GatewayServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.WithFields(log.Fields{
			"request": middleware.GetReqID(r.Context()),
			"status":  ww.Status(),
			"elapsed": time.Since(start),
		}).Debugf("%v %v", r.Method, r.URL.Path)
	})
}
