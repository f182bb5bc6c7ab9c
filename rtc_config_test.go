package callkit

import "testing"

func TestFullRTCConfigurationFromEnvironment(t *testing.T) {
	t.Setenv("STUN_SERVER_URL", "stun:stun.example.org:3478")
	t.Setenv("TURN_UDP_SERVER_URL", "turn:turn.example.org:3478")
	t.Setenv("TURN_TCP_SERVER_URL", "")
	t.Setenv("TURN_TLS_SERVER_URL", "turns:turn.example.org:5349")
	t.Setenv("TURN_SERVER_USERNAME", "user")
	t.Setenv("TURN_SERVER_PASSWORD", "pass")

	config := GetFullRTCConfiguration()
	if len(config.ICEServers) != 3 {
		t.Fatalf("expected 3 ice servers, got %d", len(config.ICEServers))
	}
	if config.ICEServers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("stun server wrong: %+v", config.ICEServers[0])
	}
	for _, server := range config.ICEServers[1:] {
		if server.Username != "user" || server.Credential != "pass" {
			t.Fatalf("turn credentials wrong: %+v", server)
		}
	}
}

func TestSTUNOnlyRTCConfigurationSkipsTURN(t *testing.T) {
	t.Setenv("STUN_SERVER_URL", "stun:stun.example.org:3478")
	t.Setenv("TURN_UDP_SERVER_URL", "turn:turn.example.org:3478")

	config := GetSTUNOnlyRTCConfiguration()
	if len(config.ICEServers) != 1 {
		t.Fatalf("expected 1 ice server, got %d", len(config.ICEServers))
	}
}

func TestEmptyEnvironmentYieldsNoICEServers(t *testing.T) {
	for _, env := range []string{
		"STUN_SERVER_URL",
		"TURN_UDP_SERVER_URL",
		"TURN_TCP_SERVER_URL",
		"TURN_TLS_SERVER_URL",
	} {
		t.Setenv(env, "")
	}

	if got := len(GetFullRTCConfiguration().ICEServers); got != 0 {
		t.Fatalf("empty environment produced %d ice servers", got)
	}
}
