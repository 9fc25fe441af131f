package control

import "testing"

func TestParseAdminCommandKillSession(t *testing.T) {
	cmd, ok := parseAdminCommand("kill-session>mychannel")
	if !ok || cmd.Kind != CommandForceStop || cmd.Channel != "mychannel" {
		t.Fatalf("unexpected parse result: %+v, ok=%v", cmd, ok)
	}
}

func TestParseAdminCommandForceReconnect(t *testing.T) {
	cmd, ok := parseAdminCommand("force-reconnect>mychannel|extra")
	if !ok || cmd.Kind != CommandForceReconnect || cmd.Channel != "mychannel" {
		t.Fatalf("unexpected parse result: %+v, ok=%v", cmd, ok)
	}
}

func TestParseAdminCommandInvalid(t *testing.T) {
	if _, ok := parseAdminCommand("not-a-command"); ok {
		t.Fatalf("expected parse failure for malformed command")
	}
	if _, ok := parseAdminCommand("unknown-verb>chan"); ok {
		t.Fatalf("expected parse failure for unknown verb")
	}
}
