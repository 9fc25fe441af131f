// Package config holds the client's configuration as a plain value
// constructed once at session construction, per spec §9 ("No global
// mutable state. The original codebase used a process-wide configuration
// object. In the redesign, configuration is a value passed at session
// construction"). Generalized from the teacher's env-var-driven
// CreateRTMPServer defaults (rtmp_server.go) into functional options over a
// struct, since this is a library invoked by a host app rather than a
// standalone process reading its own environment.
package config

import "time"

// Preset describes an encoder target, matching spec §6's preset option.
type Preset struct {
	Width            int
	Height           int
	FPS              int
	VideoBitrateKbps int
	AudioBitrateKbps int
	Profile          string
	Level            string
	GOPSeconds       float64
	BFrames          int
}

// Preset720p60 is the spec §6 default preset.
var Preset720p60 = Preset{
	Width: 1280, Height: 720, FPS: 60,
	VideoBitrateKbps: 6000, AudioBitrateKbps: 160,
	Profile: "high", Level: "4.2", GOPSeconds: 2, BFrames: 0,
}

var Preset1080p30 = Preset{
	Width: 1920, Height: 1080, FPS: 30,
	VideoBitrateKbps: 6000, AudioBitrateKbps: 160,
	Profile: "high", Level: "4.2", GOPSeconds: 2, BFrames: 0,
}

// ControlPlane configures the optional control-plane uplink (internal/control).
type ControlPlane struct {
	// CoordinatorURL is the websocket endpoint of an external controller.
	// Empty disables the websocket uplink.
	CoordinatorURL string
	// SharedSecret signs outbound JWT bearer tokens. Empty means no
	// x-control-auth-token header is sent, matching the teacher's behavior when
	// CONTROL_SECRET is unset.
	SharedSecret string
	// RedisAddr, if set, enables the independent Redis admin command bus.
	RedisAddr    string
	RedisChannel string
}

// Config is the full set of knobs from spec §6's configuration table, plus
// the ambient additions this expanded spec introduces (preset, control
// plane). Zero value is invalid; use New.
type Config struct {
	ChunkSize              int
	AckWindowThreshold     float64
	MaxReconnectAttempts   int
	InitialBackoff         time.Duration
	PublishStartTimeout    time.Duration
	KeepAliveInterval      time.Duration
	KeepAliveIdleThreshold time.Duration
	Preset                 Preset
	ControlPlane           *ControlPlane
}

// Option mutates a Config during construction.
type Option func(*Config)

func WithChunkSize(n int) Option                 { return func(c *Config) { c.ChunkSize = n } }
func WithAckWindowThreshold(f float64) Option     { return func(c *Config) { c.AckWindowThreshold = f } }
func WithMaxReconnectAttempts(n int) Option       { return func(c *Config) { c.MaxReconnectAttempts = n } }
func WithInitialBackoff(d time.Duration) Option   { return func(c *Config) { c.InitialBackoff = d } }
func WithPublishStartTimeout(d time.Duration) Option {
	return func(c *Config) { c.PublishStartTimeout = d }
}
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *Config) { c.KeepAliveInterval = d }
}
func WithKeepAliveIdleThreshold(d time.Duration) Option {
	return func(c *Config) { c.KeepAliveIdleThreshold = d }
}
func WithPreset(p Preset) Option             { return func(c *Config) { c.Preset = p } }
func WithControlPlane(cp ControlPlane) Option { return func(c *Config) { c.ControlPlane = &cp } }

// New builds a Config from spec §6's defaults, then applies opts in order.
func New(opts ...Option) Config {
	c := Config{
		ChunkSize:              4096,
		AckWindowThreshold:     0.6,
		MaxReconnectAttempts:   5,
		InitialBackoff:         500 * time.Millisecond,
		PublishStartTimeout:    60 * time.Second,
		KeepAliveInterval:      10 * time.Second,
		KeepAliveIdleThreshold: 8 * time.Second,
		Preset:                 Preset720p60,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
