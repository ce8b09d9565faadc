// callbot is a headless call participant for exercising the full stack:
// it joins a room over the chosen relay, negotiates with every active peer
// through the pion engine, and logs track lifecycle events.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sammcarthur07/CloudCounter-sub003/call"
	"github.com/sammcarthur07/CloudCounter-sub003/engine"
	"github.com/sammcarthur07/CloudCounter-sub003/engine/pion"
	"github.com/sammcarthur07/CloudCounter-sub003/relay"
	redisRelay "github.com/sammcarthur07/CloudCounter-sub003/relay/redis"
	wsRelay "github.com/sammcarthur07/CloudCounter-sub003/relay/ws"
)

const defaultLeaveTimeout = 5 * time.Second

type trackLogger struct {
	logger zerolog.Logger
}

func (t *trackLogger) RemoteTrackAvailable(peerID string, track engine.RemoteTrack) {
	t.logger.Info().
		Str("peerID", peerID).
		Str("kind", string(track.Kind())).
		Msg("remote track available")
}

func (t *trackLogger) RemoteTrackRemoved(peerID string) {
	t.logger.Info().Str("peerID", peerID).Msg("remote track removed")
}

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("callbot", pflag.ContinueOnError)

	var (
		relayURL  = fs.String("relay-url", "", "relayd websocket base URL, e.g. ws://localhost:8888")
		redisAddr = fs.String("redis-addr", "", "redis address, e.g. localhost:6379 (alternative to --relay-url)")
		roomID    = fs.StringP("room", "r", "", "room to join")
		userID    = fs.StringP("user", "u", "", "participant id (random when empty)")
		userName  = fs.StringP("name", "n", "callbot", "display name")
		muteAudio = fs.Bool("mute-audio", false, "start with audio muted")
		hideVideo = fs.Bool("hide-video", false, "start with video hidden")
		logLevel  = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *roomID == "" {
		logger.Fatal().Msg("--room is required")
	}
	if *userID == "" {
		*userID = uuid.New().String()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rl, cleanup, err := buildRelay(ctx, &logger, *relayURL, *redisAddr, *roomID, *userID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build relay")
	}
	defer cleanup()

	eng, err := pion.NewEngine(pion.Config{Logger: &logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}

	audioTrack, err := pion.NewLocalTrack(engine.TrackAudio, "audio-"+*userID, "stream-"+*userID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create audio track")
	}
	videoTrack, err := pion.NewLocalTrack(engine.TrackVideo, "video-"+*userID, "stream-"+*userID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create video track")
	}

	session, err := call.Join(ctx, call.Config{
		Relay:       rl,
		Engine:      eng,
		RoomID:      *roomID,
		SelfID:      *userID,
		SelfName:    *userName,
		LocalTracks: []engine.LocalTrack{audioTrack, videoTrack},
		Handler:     &trackLogger{logger: logger},
		Logger:      &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to join call")
	}

	if *muteAudio {
		session.Media().SetSelfAudio(false)
	}
	if *hideVideo {
		session.Media().SetSelfVideo(false)
	}

	logger.Info().
		Str("roomID", *roomID).
		Str("userID", *userID).
		Msg("in call, press ctrl-c to leave")
	<-ctx.Done()

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), defaultLeaveTimeout)
	defer leaveCancel()
	if err = session.Leave(leaveCtx); err != nil {
		logger.Error().Err(err).Msg("failed to leave cleanly")
	}
}

func buildRelay(
	ctx context.Context,
	logger *zerolog.Logger,
	relayURL, redisAddr, roomID, userID string,
) (relay.Relay, func(), error) {
	switch {
	case relayURL != "":
		rl, err := wsRelay.Dial(ctx, wsRelay.Config{
			URL:    relayURL,
			RoomID: roomID,
			UserID: userID,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return rl, func() { _ = rl.Close() }, nil
	case redisAddr != "":
		rl, err := redisRelay.NewRelay(ctx, redisRelay.Config{
			Addr:   redisAddr,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return rl, func() { _ = rl.Close() }, nil
	default:
		logger.Fatal().Msg("one of --relay-url or --redis-addr is required")
		return nil, nil, nil
	}
}
