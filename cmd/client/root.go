package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Huddle/internal/adapters/media"
	"github.com/dkeye/Huddle/internal/adapters/rtc"
	signalclient "github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app/mesh"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/logging"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "huddle-client",
		Short: "Headless participant for Huddle mesh calls",
		Long: `huddle-client joins a Huddle room, negotiates a direct WebRTC link with
every other member and sends synthetic audio and video. Lines typed on stdin
are posted to the room chat; /mute, /unmute, /peers and /quit are commands.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.StringP("room", "r", "", "room id to join")
	f.StringP("name", "n", "", "display name")
	f.String("server-url", "", "signaling WebSocket URL")
	f.StringSlice("ice-servers", nil, "STUN/TURN server URLs")
	f.Bool("audio", true, "send audio")
	f.Bool("video", true, "send video")
	f.String("log-level", "", "log level")
	f.Bool("pretty", true, "console log output")
	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient(cmd.Flags())
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel, cfg.Pretty)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	factory, err := rtc.NewFactory(cfg.ICEServers)
	if err != nil {
		return err
	}
	relay, err := signalclient.Dial(ctx, cfg.ServerURL)
	if err != nil {
		return err
	}

	out := newConsole(os.Stdout)
	sinks := media.NewSinkManager()
	device := media.SyntheticDevice{Audio: cfg.Audio, Video: cfg.Video}

	coord := mesh.NewCoordinator(mesh.Options{
		Room:     domain.RoomID(cfg.Room),
		Name:     cfg.Name,
		Relay:    relay,
		Factory:  factory,
		Media:    mesh.NewLocalMedia(device, core.Constraints{Audio: cfg.Audio, Video: cfg.Video}),
		Renderer: sinks,
		Presence: out,
	})
	defer coord.Leave()

	go func() {
		readInput(ctx, os.Stdin, coord, sinks, out)
		cancel()
	}()

	log.Info().Str("room", cfg.Room).Str("server", cfg.ServerURL).Msg("joining")
	if err := coord.Run(ctx, relay.Events()); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
