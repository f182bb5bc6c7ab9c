package callkit

import (
	"os"

	"github.com/pion/webrtc/v4"
)

// GetFullRTCConfiguration builds the ICE server set from the environment.
// Servers whose variable is unset are skipped; TURN over UDP, TCP and TLS
// share one credential pair. NewClient falls back to this when no
// configuration option is given.
func GetFullRTCConfiguration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, 4)

	if url := os.Getenv("STUN_SERVER_URL"); url != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	for _, env := range []string{"TURN_UDP_SERVER_URL", "TURN_TCP_SERVER_URL", "TURN_TLS_SERVER_URL"} {
		url := os.Getenv(env)
		if url == "" {
			continue
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{url},
			Username:       os.Getenv("TURN_SERVER_USERNAME"),
			Credential:     os.Getenv("TURN_SERVER_PASSWORD"),
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}

	return webrtc.Configuration{ICEServers: servers}
}

// GetSTUNOnlyRTCConfiguration skips the TURN relays; sessions fail on
// networks where no direct path exists.
func GetSTUNOnlyRTCConfiguration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, 1)
	if url := os.Getenv("STUN_SERVER_URL"); url != "" {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return webrtc.Configuration{ICEServers: servers}
}
