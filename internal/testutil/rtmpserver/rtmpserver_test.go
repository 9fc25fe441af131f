package rtmpserver

import "testing"

func TestWhitelistWildcardAllowsEverything(t *testing.T) {
	w := NewWhitelist("*")
	addr := fakeAddr("203.0.113.9:1935")
	if !w.Allows(addr) {
		t.Fatalf("wildcard whitelist must allow any address")
	}
}

func TestWhitelistRejectsOutsideRange(t *testing.T) {
	w := NewWhitelist("127.0.0.1/32")
	if !w.Allows(fakeAddr("127.0.0.1:1935")) {
		t.Fatalf("127.0.0.1 must be allowed by its own /32")
	}
	if w.Allows(fakeAddr("10.0.0.5:1935")) {
		t.Fatalf("10.0.0.5 must not be allowed by a disjoint /32")
	}
}

func TestWhitelistEmptySpecDeniesAll(t *testing.T) {
	w := NewWhitelist("")
	if w.Allows(fakeAddr("127.0.0.1:1935")) {
		t.Fatalf("an empty whitelist spec must deny everything, matching isIPExempted's no-env-var default")
	}
}

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }
