package control

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AgustinSRG/rtmp-ingest-client/internal/log"
)

const adminReconnectDelay = 10 * time.Second

// AdminBus is the independent Redis pub/sub admin command path, for
// operators running a fleet of clients who want one fan-out channel
// instead of per-client websockets, per spec §4.8. Directly grounded on
// the teacher's redis_cmds.go (setupRedisCommandReceiver/parseRedisCommand).
type AdminBus struct {
	addr      string
	useTLS    bool
	password  string
	channel   string
	streamKey string // this client's own channel name, to filter commands addressed elsewhere
	onCommand CommandHandler
}

// NewAdminBus builds a bus listening on redisChannel at addr for commands
// addressed to streamChannel. A zero-value addr disables it.
func NewAdminBus(addr, password string, useTLS bool, redisChannel, streamChannel string, onCommand CommandHandler) *AdminBus {
	return &AdminBus{
		addr:      addr,
		useTLS:    useTLS,
		password:  password,
		channel:   redisChannel,
		streamKey: streamChannel,
		onCommand: onCommand,
	}
}

// Run subscribes and dispatches commands until ctx is done. Reconnects on
// error after a fixed 10s delay, matching the teacher's retry cadence for
// this lane (independent of the RTMP session's own exponential backoff).
func (b *AdminBus) Run(ctx context.Context) {
	if b.addr == "" {
		return
	}

	opts := &redis.Options{Addr: b.addr, Password: b.password}
	if b.useTLS {
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)
	defer client.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sub := client.Subscribe(ctx, b.channel)
		log.Info("[ADMIN-BUS] listening on channel '" + b.channel + "'")
		b.readLoop(ctx, sub)
		sub.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(adminReconnectDelay):
		}
	}
}

func (b *AdminBus) readLoop(ctx context.Context, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(msg.Payload)
		}
	}
}

func (b *AdminBus) handleMessage(payload string) {
	cmd, ok := parseAdminCommand(payload)
	if !ok {
		log.Warning("[ADMIN-BUS] could not parse message: " + payload)
		return
	}
	if cmd.Channel != "" && cmd.Channel != b.streamKey {
		return
	}
	if b.onCommand != nil {
		b.onCommand(cmd)
	}
}

// parseAdminCommand parses the "COMMAND>arg1|arg2" wire shape from
// redis_cmds.go's parseRedisCommand: kill-session>channel and
// force-reconnect>channel map onto this client's force-stop and
// force-reconnect respectively; any further |-separated arguments are
// ignored (this client only ever has one stream, so both admin verbs
// address it by channel).
func parseAdminCommand(payload string) (Command, bool) {
	parts := strings.SplitN(payload, ">", 2)
	if len(parts) != 2 {
		return Command{}, false
	}
	name := parts[0]
	args := strings.Split(parts[1], "|")
	if len(args) < 1 || args[0] == "" {
		return Command{}, false
	}
	channel := args[0]

	switch name {
	case "kill-session":
		return Command{Kind: CommandForceStop, Channel: channel}, true
	case "force-reconnect":
		return Command{Kind: CommandForceReconnect, Channel: channel}, true
	default:
		return Command{}, false
	}
}
