// Package http is relayd's REST surface: presence operations for clients
// that manage membership outside of a live websocket, plus room inspection.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
	"github.com/sammcarthur07/CloudCounter-sub003/relay"
)

const (
	defaultShutdownDeadline = 10 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

// PresenceStore is the slice of the relay the REST surface needs: the
// presence operations plus a synchronous snapshot read.
type PresenceStore interface {
	relay.Relay
	ActiveSnapshot(roomID string) model.Snapshot
}

type PresenceRequest struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type GenericResponse struct {
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type Server struct {
	logger zerolog.Logger
	store  PresenceStore
	*http.Server
}

type Config struct {
	Logger     *zerolog.Logger
	Store      PresenceStore
	ListenAddr string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		store:  cfg.Store,
	}

	r := http.NewServeMux()
	r.HandleFunc("POST /api/room/join", srv.presenceHandler(srv.store.Join))
	r.HandleFunc("POST /api/room/rejoin", srv.presenceHandler(srv.store.Rejoin))
	r.HandleFunc("POST /api/room/leave", srv.leaveRoom)
	r.HandleFunc("GET /api/room/{roomID}", srv.roomSnapshot)
	r.HandleFunc("OPTIONS /", corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

func (srv *Server) readPresenceRequest(w http.ResponseWriter, r *http.Request) (PresenceRequest, bool) {
	var req PresenceRequest
	body, _ := io.ReadAll(r.Body)
	defer func() {
		_ = r.Body.Close()
	}()
	if err := json.Unmarshal(body, &req); err != nil || req.RoomID == "" || req.UserID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (srv *Server) presenceHandler(
	op func(ctx context.Context, roomID, userID, userName string) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		req, ok := srv.readPresenceRequest(w, r)
		if !ok {
			return
		}
		srv.logger.Trace().Any("request", req).Msg("got presence request")

		if err := op(r.Context(), req.RoomID, req.UserID, req.UserName); err != nil {
			srv.writeResponse(w, http.StatusConflict, &GenericResponse{Error: err.Error()})
			return
		}
		srv.writeResponse(w, http.StatusOK, &GenericResponse{Message: "OK"})
	}
}

func (srv *Server) leaveRoom(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	req, ok := srv.readPresenceRequest(w, r)
	if !ok {
		return
	}

	if err := srv.store.Leave(r.Context(), req.RoomID, req.UserID); err != nil {
		srv.writeResponse(w, http.StatusConflict, &GenericResponse{Error: err.Error()})
		return
	}
	srv.writeResponse(w, http.StatusOK, &GenericResponse{Message: "OK"})
}

func (srv *Server) roomSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	roomID := r.PathValue("roomID")
	if roomID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	snap := srv.store.ActiveSnapshot(roomID)
	srv.writeResponse(w, http.StatusOK, &GenericResponse{Data: snap})
}

func (srv *Server) writeResponse(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
