// Package websocket serves the relayd signaling endpoint. Each connection
// binds one participant to one room: the server pushes presence snapshots
// and mailbox messages down, and accepts join/rejoin/leave/signal frames up.
// Dropping the connection counts as a graceful leave.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sammcarthur07/CloudCounter-sub003/model"
	"github.com/sammcarthur07/CloudCounter-sub003/relay"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultLeaveTimeout = 2 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketMaxMessageSize     = 65536
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	Config struct {
		Logger     *zerolog.Logger
		Relay      relay.Relay
		ListenAddr string
	}

	Server struct {
		relay relay.Relay
		ws    *websocket.Upgrader
		*http.Server

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "websocket-server").Logger(),
		relay:  cfg.Relay,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/relay/room/{roomID}/user/{userID}", srv.serveRelay)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return srv
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-errSrv:
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

func (srv *Server) serveRelay(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	userID := r.PathValue("userID")
	if roomID == "" || userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := srv.logger.With().
		Str("roomID", roomID).
		Str("userID", userID).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())

	snapshots, err := srv.relay.SubscribeActiveParticipants(ctx, roomID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to subscribe presence")
		cancel()
		webSocketCloser(conn, &logger)
		return
	}
	signals, err := srv.relay.SubscribeSignals(ctx, roomID, userID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to subscribe signals")
		cancel()
		webSocketCloser(conn, &logger)
		return
	}

	logger.Debug().Msg("relay session connected")
	go srv.handleWSConn(ctx, cancel, conn, roomID, userID, snapshots, signals, &logger)
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	roomID string,
	userID string,
	snapshots <-chan model.Snapshot,
	signals <-chan model.SignalMessage,
	logger *zerolog.Logger,
) {
	wg := &sync.WaitGroup{}

	wg.Add(2)
	go func() {
		srv.webSocketReceiver(ctx, wg, conn, roomID, userID, logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, snapshots, signals, logger)
		cancel()
	}()

	wg.Wait()
	webSocketCloser(conn, logger)

	// Losing the connection is a graceful leave: presence must not show a
	// participant that cannot receive signals anymore.
	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), defaultLeaveTimeout)
	defer leaveCancel()
	if err := srv.relay.Leave(leaveCtx, roomID, userID); err != nil {
		logger.Error().Err(err).Msg("failed to mark participant inactive")
	}
	logger.Debug().Msg("relay session ended")
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	snapshots <-chan model.Snapshot,
	signals <-chan model.SignalMessage,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()

	writeEnvelope := func(env *model.Envelope) bool {
		if wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
			return false
		}
		if wsErr := conn.WriteJSON(env); wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to write envelope")
			return false
		}
		return true
	}

SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			if wsErr = conn.WriteMessage(websocket.PingMessage, []byte{}); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case snap, ok := <-snapshots:
			if !ok {
				break SendLoop
			}
			if !writeEnvelope(&model.Envelope{Kind: model.EnvelopeSnapshot, Snapshot: &snap}) {
				break SendLoop
			}

		case msg, ok := <-signals:
			if !ok {
				break SendLoop
			}
			if !writeEnvelope(&model.Envelope{Kind: model.EnvelopeSignal, Signal: &msg}) {
				break SendLoop
			}
		}
	}
}

func (srv *Server) webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	roomID string,
	userID string,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(defaultWebSocketMaxMessageSize)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	if err := readDeadLineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			var env model.Envelope
			if wsErr := conn.ReadJSON(&env); wsErr != nil {
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}
			srv.handleEnvelope(ctx, roomID, userID, &env, logger)
		}
	}
}

func (srv *Server) handleEnvelope(ctx context.Context, roomID, userID string, env *model.Envelope, logger *zerolog.Logger) {
	var err error
	switch env.Kind {
	case model.EnvelopeJoin:
		err = srv.relay.Join(ctx, roomID, userID, env.UserName)
	case model.EnvelopeRejoin:
		err = srv.relay.Rejoin(ctx, roomID, userID, env.UserName)
	case model.EnvelopeLeave:
		err = srv.relay.Leave(ctx, roomID, userID)
	case model.EnvelopeSignal:
		if env.Signal == nil {
			logger.Warn().Msg("signal envelope without payload")
			return
		}
		msg := *env.Signal
		// Server assigns the sender based on the connection identity.
		msg.SenderID = userID
		err = srv.relay.SendSignal(ctx, roomID, msg)
	default:
		logger.Warn().Str("kind", env.Kind).Msg("unknown envelope kind")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("kind", env.Kind).Msg("relay operation failed")
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to set websocket write deadline during closing")
	} else {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
		if wsErr != nil {
			logger.Error().Err(wsErr).Msg("failed to close websocket connection")
		}
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
