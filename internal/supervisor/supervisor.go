// Package supervisor is the Supervisor (spec C7): it orchestrates
// start/stop, applies reconnect backoff, owns the keep-alive timer, and
// surfaces metrics upward. Grounded on the teacher's control_connection.go
// reconnect loop shape (Connect/Reconnect/OnDisconnect) and rtmp_server.go's
// SendPings ticker, repurposed from "ping every connected inbound session"
// into "ping the one outbound session this client owns".
package supervisor

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/config"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/control"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/endpoint"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/flvtag"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/handshake"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/log"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/mediapump"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/metrics"
	"github.com/AgustinSRG/rtmp-ingest-client/internal/rtmpclient"
)

// Callbacks mirrors spec §6's callback surface exposed to external
// controllers, owned by the Supervisor rather than the Protocol Engine
// directly (the engine's own Callbacks are wired internally by Supervisor).
type Callbacks struct {
	OnPublishStarted func()
	OnDisconnected   func(error)
	OnMetrics        func(metrics.Snapshot)
}

// ProducerFactory builds the two per-attempt media producers. A new pair is
// requested for every reconnect attempt, since a previous attempt's
// producers may have been torn down along with the failed session.
type ProducerFactory func() (video, audio mediapump.Producer)

// Supervisor owns one streaming attempt end-to-end, across reconnects, for
// the lifetime of the calling goroutine's Run call.
type Supervisor struct {
	ep        endpoint.Endpoint
	streamKey string
	cfg       config.Config
	stereo    bool
	producers ProducerFactory
	callbacks Callbacks

	collector *metrics.Collector
	ctrlLink  *control.Link
	ctrlBus   *control.AdminBus

	mu           sync.Mutex
	shuttingDown bool
	forceReconnect chan struct{}
	currentSess  *rtmpclient.Session
}

// New builds a Supervisor. channel identifies this stream for the control
// plane (spec §4.8); it is typically the app-level stream name, distinct
// from the (secret) stream key.
func New(ep endpoint.Endpoint, streamKey string, cfg config.Config, stereo bool, channel string, producers ProducerFactory, callbacks Callbacks) *Supervisor {
	collector := metrics.NewCollector()

	sv := &Supervisor{
		ep:             ep,
		streamKey:      streamKey,
		cfg:            cfg,
		stereo:         stereo,
		producers:      producers,
		callbacks:      callbacks,
		collector:      collector,
		forceReconnect: make(chan struct{}, 1),
	}

	if cfg.ControlPlane != nil {
		sv.ctrlLink = control.NewLink(cfg.ControlPlane.CoordinatorURL, cfg.ControlPlane.SharedSecret, channel, sv.onAdminCommand)
		sv.ctrlBus = control.NewAdminBus(cfg.ControlPlane.RedisAddr, "", false, cfg.ControlPlane.RedisChannel, channel, sv.onAdminCommand)
	}

	return sv
}

func (sv *Supervisor) onAdminCommand(cmd control.Command) {
	switch cmd.Kind {
	case control.CommandForceStop:
		sv.Stop()
	case control.CommandForceReconnect:
		sv.requestReconnect()
	}
}

func (sv *Supervisor) requestReconnect() {
	select {
	case sv.forceReconnect <- struct{}{}:
	default:
	}
}

// Run drives the connect/publish/stream/reconnect lifecycle until Stop is
// called, a terminal error occurs, or max_reconnect_attempts is exhausted.
// It returns the terminal error, or nil if Stop ended it cleanly.
func (sv *Supervisor) Run(ctx context.Context) error {
	if sv.ctrlLink != nil {
		sv.ctrlLink.Start()
		defer sv.ctrlLink.Stop()
	}
	if sv.ctrlBus != nil {
		busCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go sv.ctrlBus.Run(busCtx)
	}

	if sv.callbacks.OnMetrics != nil {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go sv.runMetricsTicker(metricsCtx)
	}

	maxAttempts := sv.cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := sv.cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		if sv.isShuttingDown() {
			return nil
		}

		err := sv.runAttempt(ctx)

		if sv.isShuttingDown() {
			return nil
		}
		switch e := err.(type) {
		case *rtmpclient.UserCancelledError:
			return nil
		case *rtmpclient.CommandRejectionError:
			if e.BadName {
				return err // terminal, spec §7: do not retry a bad stream key
			}
		case *rtmpclient.ProtocolInvariantError:
			return err // terminal per spec §7
		}

		sv.collector.RecordReconnect()
		if sv.callbacks.OnDisconnected != nil {
			sv.callbacks.OnDisconnected(err)
		}
		sv.sendControlEvent(control.EventReconnecting)

		// attempt counts reconnects already made; the initial connect is
		// not one of them.
		if attempt >= maxAttempts {
			return err
		}

		delay := backoff << uint(attempt)
		log.Info("reconnecting in " + delay.String())
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop requests a clean shutdown. Idempotent; safe to call before Run, mid
// Run, or after Run has returned.
func (sv *Supervisor) Stop() {
	sv.mu.Lock()
	sv.shuttingDown = true
	sess := sv.currentSess
	sv.mu.Unlock()
	if sess != nil {
		sess.Stop()
	}
}

func (sv *Supervisor) isShuttingDown() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.shuttingDown
}

// Metrics returns the current snapshot, for callers polling rather than
// using OnMetrics.
func (sv *Supervisor) Metrics() metrics.Snapshot {
	return sv.collector.Snapshot()
}

func (sv *Supervisor) sendControlEvent(kind control.EventKind) {
	if sv.ctrlLink == nil {
		return
	}
	sv.ctrlLink.Send(control.Event{
		Kind:           kind,
		StreamIDMasked: log.MaskStreamKey(sv.streamKey),
		At:             time.Now(),
	})
}

// runAttempt performs one full session: dial, handshake, connect/publish,
// run the media pump and keep-alive until the session ends. Each attempt
// resets the session-start epoch, per spec §4.7 ("the session-start epoch
// is reset — peer sees a new stream").
func (sv *Supervisor) runAttempt(ctx context.Context) error {
	conn, err := sv.dial(ctx)
	if err != nil {
		return &rtmpclient.TransportError{Cause: err}
	}
	defer conn.Close()

	disconnected := make(chan error, 1)

	var sess *rtmpclient.Session
	sess = rtmpclient.NewSession(conn, sv.ep, sv.streamKey, sv.cfg, rtmpclient.Callbacks{
		OnPublishStarted: func() {
			sv.collector.SessionStarted()
			// Per spec §4.5/§4.4/§5: the onMetaData tag is enqueued
			// synchronously within this callback, before Start() returns
			// and before the Media Pump begins producing, so it always
			// precedes any media message on the wire.
			if err := sess.SendDataMessage(flvtag.BuildOnMetaData(sv.metadataParams())); err != nil {
				log.Error(err)
			}
			if sv.callbacks.OnPublishStarted != nil {
				sv.callbacks.OnPublishStarted()
			}
			sv.sendControlEvent(control.EventStarted)
		},
		OnDisconnected: func(err error) {
			select {
			case disconnected <- err:
			default:
			}
		},
	}, sv.collector)

	sv.mu.Lock()
	sv.currentSess = sess
	sv.mu.Unlock()
	defer func() {
		sv.mu.Lock()
		sv.currentSess = nil
		sv.mu.Unlock()
	}()

	startCtx, cancelStart := context.WithTimeout(ctx, sv.publishTimeout())
	defer cancelStart()

	if err := sess.Start(startCtx, func(c net.Conn) error {
		if hsErr := handshake.Do(c); hsErr != nil {
			return &rtmpclient.HandshakeProtocolError{Cause: hsErr}
		}
		return nil
	}); err != nil {
		return err
	}

	sessionStartUs := uint64(time.Now().UnixMicro())
	var video, audio mediapump.Producer
	if sv.producers != nil {
		video, audio = sv.producers()
	}
	pump := mediapump.New(sess, video, audio, sv.stereo, sessionStartUs, sv.collector)
	pump.Start(ctx, 500*time.Millisecond, func(stallErr error) {
		select {
		case disconnected <- stallErr:
		default:
		}
		sess.Stop()
	})
	defer pump.Stop()

	keepAliveDone := make(chan struct{})
	go sv.runKeepAlive(sess, keepAliveDone)
	defer close(keepAliveDone)

	select {
	case err := <-disconnected:
		return err
	case <-sv.forceReconnect:
		sess.Stop()
		return <-disconnected
	case <-ctx.Done():
		sess.Stop()
		return ctx.Err()
	}
}

// metricsTickInterval matches spec §6's "periodic (e.g., 1Hz)" example
// cadence for on_metrics; there is no configuration knob for it because the
// spec leaves the exact cadence as an example, not a tunable.
const metricsTickInterval = 1 * time.Second

func (sv *Supervisor) runMetricsTicker(ctx context.Context) {
	ticker := time.NewTicker(metricsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := sv.collector.Snapshot()
			sv.callbacks.OnMetrics(snap)
			sv.sendControlEvent(control.EventMetricsTick)
		}
	}
}

// metadataParams derives the onMetaData fields from the configured preset,
// per spec §4.4's fixed field set (width/height/framerate/bitrates plus the
// AVC/AAC codec ids).
func (sv *Supervisor) metadataParams() flvtag.MetadataParams {
	p := sv.cfg.Preset
	return flvtag.MetadataParams{
		Width:            p.Width,
		Height:           p.Height,
		FrameRate:        p.FPS,
		VideoBitrateKbps: p.VideoBitrateKbps,
		AudioBitrateKbps: p.AudioBitrateKbps,
		AudioSampleRate:  48000,
		AudioSampleSize:  16,
		AudioStereo:      sv.stereo,
		Encoder:          "rtmp-ingest-client",
	}
}

func (sv *Supervisor) publishTimeout() time.Duration {
	if sv.cfg.PublishStartTimeout > 0 {
		return sv.cfg.PublishStartTimeout
	}
	return 60 * time.Second
}

// runKeepAlive mirrors the teacher's SendPings ticker (rtmp_server.go),
// generalized from "ping every connected inbound session on a fixed tick"
// to "ping this one outbound session only when it's actually been idle",
// per spec §4.7/§6's keep_alive_interval_ms / keep_alive_idle_threshold_ms.
func (sv *Supervisor) runKeepAlive(sess *rtmpclient.Session, done <-chan struct{}) {
	interval := sv.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	idleThreshold := sv.cfg.KeepAliveIdleThreshold
	if idleThreshold <= 0 {
		idleThreshold = 8 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if sess.IdleFor() >= idleThreshold {
				ts := uint32(time.Now().Unix())
				if err := sess.SendPingRequest(ts); err != nil {
					return
				}
			}
		}
	}
}

func (sv *Supervisor) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: 15 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", sv.ep.Addr())
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
	}

	if !sv.ep.UseTLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: sv.ep.Host,
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}
