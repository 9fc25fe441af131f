package rtmpserver

import (
	"net"
	"strings"

	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// Whitelist gates which source addresses the test server accepts,
// grounded on the teacher's isIPExempted (rtmp_server.go): a comma
// separated list of CIDR/range entries, or "*" to allow everything.
type Whitelist struct {
	ranges []iprange.Range
	allow  bool
}

// NewWhitelist parses a comma separated list of IP ranges/CIDRs, the same
// format the teacher reads from CONCURRENT_LIMIT_WHITELIST. "*" allows any
// source. An empty spec produces a Whitelist that allows nothing, matching
// the teacher's "no env var set" default of isIPExempted returning false —
// callers that want "allow everything" should simply not set Options.Whitelist.
func NewWhitelist(spec string) *Whitelist {
	if spec == "*" {
		return &Whitelist{allow: true}
	}
	w := &Whitelist{}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, err := iprange.ParseRange(part)
		if err != nil {
			continue
		}
		w.ranges = append(w.ranges, r)
	}
	return w
}

// Allows reports whether addr's IP is covered by the whitelist.
func (w *Whitelist) Allows(addr net.Addr) bool {
	if w == nil || w.allow {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, r := range w.ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}
