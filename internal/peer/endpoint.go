// Package peer is the pion/webrtc side of a meeting: one PeerConnection per
// remote session, driven by the negotiation engine.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/candrapwr/meet-datasiber/internal/config"
	"github.com/candrapwr/meet-datasiber/internal/negotiation"
)

// ErrWrongType is returned when a description of the wrong type is applied.
var ErrWrongType = errors.New("unexpected session description type")

// Hooks receive media events from every endpoint a Factory creates.
type Hooks struct {
	OnTrack func(remote string, track *webrtc.TrackRemote)
	OnState func(remote string, state webrtc.PeerConnectionState)
}

// Factory creates Endpoints sharing one pion API and one outbound screen track.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	hooks  Hooks
	log    *slog.Logger

	screen *webrtc.TrackLocalStaticSample
}

// NewFactory builds the pion API used for every peer connection.
func NewFactory(cfg *config.Config, hooks Hooks, logger *slog.Logger) (*Factory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger)}

	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "meet-screen")
	if err != nil {
		return nil, fmt.Errorf("create screen track: %w", err)
	}

	return &Factory{
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)),
		config: Configuration(cfg),
		hooks:  hooks,
		log:    logger,
		screen: screen,
	}, nil
}

// ScreenTrack is the outbound screen-share track. A capture source writes
// samples into it; SetSharing attaches it to each connection.
func (f *Factory) ScreenTrack() *webrtc.TrackLocalStaticSample { return f.screen }

// New satisfies negotiation.EndpointFactory.
func (f *Factory) New(remote string, onCandidate func(json.RawMessage)) (negotiation.Endpoint, error) {
	ep := &Endpoint{
		remote:      remote,
		factory:     f,
		onCandidate: onCandidate,
		log:         f.log.With("remote", remote),
	}
	pc, _, err := ep.connect(false)
	if err != nil {
		return nil, err
	}
	ep.pc.Store(pc)
	return ep, nil
}

// Endpoint wraps the PeerConnection for one remote session. The connection
// is replaced on Rollback, so callbacks from a replaced one are dropped.
type Endpoint struct {
	remote      string
	factory     *Factory
	onCandidate func(json.RawMessage)
	log         *slog.Logger

	pc atomic.Pointer[webrtc.PeerConnection]

	// mu serializes connection replacement and screen track changes.
	mu     sync.Mutex
	sender *webrtc.RTPSender
}

var _ negotiation.Endpoint = (*Endpoint)(nil)

// connect creates a PeerConnection with the receive transceivers and, when
// sharing, the screen track attached.
func (e *Endpoint) connect(sharing bool) (*webrtc.PeerConnection, *webrtc.RTPSender, error) {
	f := e.factory
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	var sender *webrtc.RTPSender
	if sharing {
		if sender, err = pc.AddTrack(f.screen); err != nil {
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add screen track: %w", err)
		}
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || e.pc.Load() != pc {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			e.log.Warn("encoding local candidate failed", "err", err)
			return
		}
		e.onCandidate(data)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if e.pc.Load() != pc {
			return
		}
		e.log.Debug("remote track", "kind", track.Kind(), "id", track.ID())
		if f.hooks.OnTrack != nil {
			f.hooks.OnTrack(e.remote, track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if e.pc.Load() != pc {
			return
		}
		e.log.Debug("connection state", "state", state)
		if f.hooks.OnState != nil {
			f.hooks.OnState(e.remote, state)
		}
	})
	return pc, sender, nil
}

func (e *Endpoint) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	pc := e.pc.Load()
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(pc.LocalDescription())
}

func (e *Endpoint) AcceptOffer(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
	offer, err := decodeDescription(data, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	pc := e.pc.Load()
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return json.Marshal(pc.LocalDescription())
}

func (e *Endpoint) AcceptAnswer(ctx context.Context, data json.RawMessage) error {
	answer, err := decodeDescription(data, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := e.pc.Load().SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (e *Endpoint) AddCandidate(data json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	if err := e.pc.Load().AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// Rollback returns the endpoint to stable by discarding the local offer.
// pion cannot roll back a local description, so the connection is replaced
// by a fresh one carrying the same transceivers and screen track. Media on
// the old connection stops until the next exchange completes.
func (e *Endpoint) Rollback() error {
	e.mu.Lock()
	old := e.pc.Load()
	if old.SignalingState() == webrtc.SignalingStateStable {
		e.mu.Unlock()
		return nil
	}
	pc, sender, err := e.connect(e.sender != nil)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("rollback: %w", err)
	}
	e.pc.Store(pc)
	e.sender = sender
	e.mu.Unlock()

	e.log.Debug("local offer discarded, connection replaced")
	if err := old.Close(); err != nil {
		e.log.Debug("closing replaced connection failed", "err", err)
	}
	return nil
}

func (e *Endpoint) Close() error {
	return e.pc.Load().Close()
}

// SetSharing attaches or detaches the factory's screen track. The caller
// renegotiates afterwards.
func (e *Endpoint) SetSharing(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case on && e.sender == nil:
		sender, err := e.pc.Load().AddTrack(e.factory.screen)
		if err != nil {
			return fmt.Errorf("add screen track: %w", err)
		}
		e.sender = sender
		go drainRTCP(sender)
	case !on && e.sender != nil:
		if err := e.pc.Load().RemoveTrack(e.sender); err != nil {
			return fmt.Errorf("remove screen track: %w", err)
		}
		e.sender = nil
	}
	return nil
}

// SignalingState reports the underlying signaling state.
func (e *Endpoint) SignalingState() webrtc.SignalingState {
	return e.pc.Load().SignalingState()
}

func decodeDescription(data json.RawMessage, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return desc, fmt.Errorf("parse session description: %w", err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: got %s, want %s", ErrWrongType, desc.Type, want)
	}
	return desc, nil
}

// drainRTCP reads incoming RTCP so interceptors keep working until the
// sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
