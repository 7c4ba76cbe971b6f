package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gn10/mdnode/pkg/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
)

type ctxKey struct{ name string }

var boardIdKey = &ctxKey{"board"}

func renderErr(w http.ResponseWriter, r *http.Request, v render.Renderer) error {
	return render.Render(w, r, v)
}

// Parse the board id of the route once for every board handler
func (s *GatewayServer) boardCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := gateway.ParseBoardId(chi.URLParam(r, "id"))
		if err != nil {
			_ = renderErr(w, r, ErrInvalidRequest(err))
			return
		}
		ctx := context.WithValue(r.Context(), boardIdKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func boardId(r *http.Request) uint8 {
	id, _ := r.Context().Value(boardIdKey).(uint8)
	return id
}

func (s *GatewayServer) reply(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		_ = renderErr(w, r, errorFor(err))
		return
	}
	_ = render.Render(w, r, ack)
}

func (s *GatewayServer) handleBoards(w http.ResponseWriter, r *http.Request) {
	boards := s.Boards()
	list := make([]render.Renderer, len(boards))
	for i := range boards {
		list[i] = &BoardResponse{BoardStatus: boards[i]}
	}
	_ = render.RenderList(w, r, list)
}

func (s *GatewayServer) handleBoard(w http.ResponseWriter, r *http.Request) {
	status, err := s.Board(boardId(r))
	if err != nil {
		_ = renderErr(w, r, errorFor(err))
		return
	}
	_ = render.Render(w, r, &BoardResponse{BoardStatus: status})
}

func (s *GatewayServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	req := &ConfigRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = renderErr(w, r, ErrInvalidRequest(err))
		return
	}
	s.reply(w, r, s.Configure(boardId(r), req.MotorConfig))
}

func (s *GatewayServer) handleTarget(w http.ResponseWriter, r *http.Request) {
	req := &TargetRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = renderErr(w, r, ErrInvalidRequest(err))
		return
	}
	s.reply(w, r, s.Target(boardId(r), *req.Value))
}

func (s *GatewayServer) handleGain(w http.ResponseWriter, r *http.Request) {
	req := &GainRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = renderErr(w, r, ErrInvalidRequest(err))
		return
	}
	s.reply(w, r, s.Gain(boardId(r), req.channel, *req.Value))
}

func (s *GatewayServer) handleCommand(w http.ResponseWriter, r *http.Request) {
	req := &CommandRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = renderErr(w, r, ErrInvalidRequest(err))
		return
	}
	s.reply(w, r, s.Command(boardId(r), req.command, req.Argument))
}

func (s *GatewayServer) handleGroupTargets(w http.ResponseWriter, r *http.Request) {
	group, err := s.ParseGroup(chi.URLParam(r, "group"))
	if err != nil {
		_ = renderErr(w, r, ErrInvalidRequest(err))
		return
	}
	req := &GroupTargetRequest{}
	if err := render.Bind(r, req); err != nil {
		_ = renderErr(w, r, ErrInvalidRequest(err))
		return
	}
	s.reply(w, r, s.GroupTargets(group, req.Values))
}

// Stream the status of every board then every update as JSON text messages
func (s *GatewayServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("websocket upgrade failed : %v", err)
		return
	}
	defer conn.Close()
	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	write := func(status gateway.BoardStatus) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(status)
	}
	for _, status := range s.Boards() {
		if err := write(status); err != nil {
			return
		}
	}

	// Incoming messages are ignored, reading detects the closure
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(streamWriteWait))
			return
		case <-closed:
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			if err := write(status); err != nil {
				s.logger.Debugf("stream closed : %v", err)
				return
			}
		}
	}
}
