package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/candrapwr/meet-datasiber/internal/config"
)

// Configuration builds the ICE configuration for every peer connection of a
// meeting. Relay-only transport is used when forced or when the host looks
// like it sits behind a VPN or CGNAT, and only if a TURN server exists.
func Configuration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); len(stun) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}
