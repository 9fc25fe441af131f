package endpoint

import "testing"

func TestParseRTMPSDefaultsTo443(t *testing.T) {
	ep, err := Parse("rtmps://a.rtmps.youtube.com/rtmp2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ep.UseTLS || ep.Port != 443 || ep.Host != "a.rtmps.youtube.com" || ep.App != "rtmp2" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
}

func TestParseRTMPDefaultsTo1935(t *testing.T) {
	ep, err := Parse("rtmp://ingest.example.com/live")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.UseTLS || ep.Port != 1935 || ep.App != "live" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
}

func TestParseExplicitPort(t *testing.T) {
	ep, err := Parse("rtmp://ingest.example.com:19350/live")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Port != 19350 {
		t.Fatalf("expected explicit port to override default, got %d", ep.Port)
	}
}

func TestParseRejectsUnsupportedScheme(t *testing.T) {
	if _, err := Parse("http://example.com/live"); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}

func TestAddrFormatsHostPort(t *testing.T) {
	ep := Endpoint{Host: "example.com", Port: 1935}
	if got, want := ep.Addr(), "example.com:1935"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}
