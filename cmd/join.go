package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/candrapwr/meet-datasiber/internal/config"
	"github.com/candrapwr/meet-datasiber/internal/meeting"
	"github.com/candrapwr/meet-datasiber/internal/peer"
	"github.com/candrapwr/meet-datasiber/internal/protocol"
	"github.com/candrapwr/meet-datasiber/internal/roomname"
	"github.com/candrapwr/meet-datasiber/internal/signalclient"
	"github.com/candrapwr/meet-datasiber/internal/ui"
)

var (
	flagName         string
	flagSTUN         string
	flagTURN         string
	flagTURNUser     string
	flagTURNPass     string
	flagRelay        bool
	flagCodec        string
	flagOfferTimeout time.Duration
	flagJoinTimeout  time.Duration
	flagAutoApprove  bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room]",
	Aliases: []string{"j"},
	Short:   "Join a meeting room, creating it if it does not exist",
	Long: `Join a meeting room. Without a room argument a memorable room id is
generated and you become the host of a new room.

Examples:
  meet join
  meet join kitten-waffle-stardust-happy
  meet join standup --name Alice --domain meet.example.com
  meet join standup --relay --turn turn.example.com --turn-user u --turn-pass p`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := ""
		if len(args) == 1 {
			roomID = args[0]
		}
		return joinRoom(cmd.Context(), roomID)
	},
}

func joinRoom(ctx context.Context, roomID string) error {
	cfg, err := loadConfig(config.Options{
		Name:         flagName,
		STUNServer:   flagSTUN,
		TURNServer:   flagTURN,
		TURNUser:     flagTURNUser,
		TURNPass:     flagTURNPass,
		ForceRelay:   flagRelay,
		Codec:        flagCodec,
		OfferTimeout: flagOfferTimeout,
	})
	if err != nil {
		return err
	}

	if roomID == "" {
		if roomID, err = roomname.Generate(); err != nil {
			return &commandError{op: "generate room id", err: err}
		}
		fmt.Println(ui.RoomInfoView(roomID, "meet join "+roomID))
		fmt.Println()
	}

	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return &commandError{op: "select codec", err: err}
	}

	logger := slog.Default().With("room", roomID)

	sp := ui.NewConnectionSpinner("Connecting to " + cfg.ServerURL + "...")
	sp.Start()
	client := signalclient.NewClient(cfg.WithCodec(), signalclient.Options{Codec: codec, Logger: logger})
	if err := client.Connect(ctx); err != nil {
		sp.Error("Could not reach the signaling server")
		return &commandError{op: "connect to server", err: err}
	}
	defer client.Close()
	sp.Stop()

	factory, err := peer.NewFactory(cfg, peer.Hooks{
		OnState: func(remote string, state webrtc.PeerConnectionState) {
			logger.Info("media connection", "remote", remote, "state", state)
		},
	}, logger)
	if err != nil {
		return &commandError{op: "set up media", err: err}
	}

	session := meeting.New(client, meeting.Options{
		RoomID:       roomID,
		Name:         cfg.Name,
		NewEndpoint:  factory.New,
		OfferTimeout: cfg.OfferTimeout,
		JoinTimeout:  flagJoinTimeout,
		AutoApprove:  flagAutoApprove,
		Logger:       logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ended := make(chan error, 1)
	go func() { ended <- session.Run(runCtx) }()

	admitted, err := awaitAdmission(ctx, session, ended)
	if err != nil {
		return &commandError{op: "join room", err: err}
	}
	if !admitted {
		return nil
	}

	if err := ui.RunConference(ctx, session, ended); err != nil {
		return &commandError{op: "meeting", err: err}
	}
	return nil
}

// admission is what the pre-conference wait watches of a meeting session.
type admission interface {
	Status() meeting.Status
}

const admissionPoll = 100 * time.Millisecond

// awaitAdmission blocks until the session is in the room. A session parked in
// the waiting room shows a spinner until the host lets it in. It reports false
// when the session ended first, with the reason it ended.
func awaitAdmission(ctx context.Context, s admission, ended <-chan error) (bool, error) {
	ticker := time.NewTicker(admissionPoll)
	defer ticker.Stop()

	var (
		sp    *ui.SimpleSpinner
		since time.Time
	)
	stop := func() {
		if sp != nil {
			sp.Stop()
		}
	}

	for {
		switch s.Status() {
		case meeting.InRoom:
			if sp != nil {
				sp.Success("The host let you in")
			}
			return true, nil
		case meeting.Waiting:
			if sp == nil {
				ui.PrintWarning("This room needs the host's approval, you are in the waiting room")
				sp = ui.NewWaitingSpinner("Waiting for the host to let you in...")
				sp.Start()
				since = time.Now()
			} else {
				sp.UpdateMessage(fmt.Sprintf("Waiting for the host to let you in (%s)...",
					time.Since(since).Round(time.Second)))
			}
		}

		select {
		case err := <-ended:
			if err != nil {
				if sp != nil {
					sp.Error("Left the waiting room")
				}
				return false, err
			}
			stop()
			return false, nil
		case <-ctx.Done():
			stop()
			// Run leaves the room on cancellation; let it finish before the client closes.
			return false, <-ended
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name (env MEET_NAME)")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	joinCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
	joinCmd.Flags().StringVar(&flagCodec, "codec", "", "Signaling codec: json or msgpack (env MEET_CODEC)")
	joinCmd.Flags().DurationVar(&flagOfferTimeout, "offer-timeout", 0, "Retry offers left unanswered this long (env MEET_OFFER_TIMEOUT)")
	joinCmd.Flags().DurationVar(&flagJoinTimeout, "join-timeout", 15*time.Second, "Give up if the server does not admit or queue you in time")
	joinCmd.Flags().BoolVar(&flagAutoApprove, "auto-approve", false, "Let everyone in automatically while you are host")
}
