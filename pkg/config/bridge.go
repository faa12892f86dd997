package config

import (
	"strings"
	"time"

	"relaypool.dev/pkg/crypto/p256k"
	"relaypool.dev/pkg/interfaces/signer"
	"relaypool.dev/pkg/protocol/gossip"
	"relaypool.dev/pkg/protocol/transport"
	"relaypool.dev/pkg/protocol/ws"
	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/errorf"
)

// Mode maps the ConnectionMode string onto a transport mode. Unrecognised
// values fall back to direct.
func (cfg *C) Mode() transport.Mode {
	switch strings.ToLower(cfg.ConnectionMode) {
	case "socks5":
		return transport.Socks5
	case "tor":
		return transport.EmbeddedTor
	}
	return transport.Direct
}

// Signer builds a signer from SecretKey. An empty key yields nil without
// error, meaning auth challenges go unanswered.
func (cfg *C) Signer() (sign signer.I, err error) {
	if cfg.SecretKey == "" {
		return nil, nil
	}
	if sign, err = p256k.NewSecFromHex(cfg.SecretKey); chk.E(err) {
		return nil, errorf.E("invalid RELAYPOOL_SECRET_KEY: %s", err.Error())
	}
	return
}

// RelayOptions translates the per-relay settings. The option switches are
// negative where the config flags are positive, so the defaults of both
// agree.
func (cfg *C) RelayOptions() ws.RelayOptions {
	return ws.RelayOptions{
		RetryBase:      cfg.RetryBase,
		RetryMax:       cfg.RetryMax,
		PingInterval:   cfg.PingInterval,
		WriteTimeout:   cfg.WriteTimeout,
		PublishTimeout: cfg.PublishTimeout,
		MaxMessageSize: int64(cfg.MaxMessageSize),
		QueueCapacity:  cfg.QueueCapacity,
		NoReconnect:    !cfg.ReconnectOnDrop,
		Transport: transport.Options{
			Mode:          cfg.Mode(),
			ProxyAddr:     cfg.ProxyAddr,
			NoCompression: cfg.NoCompression,
		},
	}
}

// PoolOptions translates the pool-wide settings, building the signer from
// the configured secret key.
func (cfg *C) PoolOptions() (opt ws.PoolOptions, err error) {
	var sign signer.I
	if sign, err = cfg.Signer(); err != nil {
		return
	}
	opt = ws.PoolOptions{
		MaxRelays:          cfg.MaxRelays,
		NotificationBuffer: cfg.NotificationBuffer,
		NoAutoAuth:         !cfg.AutoAuthenticate,
		NoVerify:           !cfg.VerifySubscriptions,
		BanOnMismatch:      cfg.BanOnMismatch,
		SleepWhenIdle:      cfg.SleepWhenIdle,
		IdleTimeout:        cfg.IdleTimeout,
		Gossip:             cfg.Gossip,
		GossipOptions: gossip.Options{
			MaxRelaysPerMarker: cfg.GossipMaxPerMarker,
		},
		Signer:        sign,
		RelayDefaults: cfg.RelayOptions(),
	}
	return
}

// Durations below zero or above a day are almost certainly operator typos in
// the .env; Validate catches them before they turn into stalled relays.
func (cfg *C) Validate() (err error) {
	const dayCap = 24 * time.Hour
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"RELAYPOOL_RETRY_BASE", cfg.RetryBase},
		{"RELAYPOOL_RETRY_MAX", cfg.RetryMax},
		{"RELAYPOOL_PING_INTERVAL", cfg.PingInterval},
		{"RELAYPOOL_WRITE_TIMEOUT", cfg.WriteTimeout},
		{"RELAYPOOL_PUBLISH_TIMEOUT", cfg.PublishTimeout},
		{"RELAYPOOL_IDLE_TIMEOUT", cfg.IdleTimeout},
	} {
		if d.v < 0 || d.v > dayCap {
			return errorf.E("%s out of range: %v", d.name, d.v)
		}
	}
	if cfg.RetryMax > 0 && cfg.RetryBase > cfg.RetryMax {
		return errorf.E(
			"RELAYPOOL_RETRY_BASE %v exceeds RELAYPOOL_RETRY_MAX %v",
			cfg.RetryBase, cfg.RetryMax,
		)
	}
	switch strings.ToLower(cfg.ConnectionMode) {
	case "", "direct", "socks5", "tor":
	default:
		return errorf.E(
			"unknown RELAYPOOL_CONNECTION_MODE %q", cfg.ConnectionMode,
		)
	}
	if cfg.Mode() == transport.Socks5 && cfg.ProxyAddr == "" {
		return errorf.E("RELAYPOOL_PROXY_ADDR required for socks5 mode")
	}
	return
}
