package ws

import (
	"time"

	"relaypool.dev/pkg/interfaces/admission"
	"relaypool.dev/pkg/interfaces/signer"
	"relaypool.dev/pkg/interfaces/store"
	"relaypool.dev/pkg/interfaces/verifier"
	"relaypool.dev/pkg/protocol/gossip"
	"relaypool.dev/pkg/protocol/transport"
	"relaypool.dev/pkg/utils/units"
)

// The relay timing defaults.
const (
	DefaultRetryBase      = 10 * time.Second
	DefaultRetryMax       = 10 * time.Minute
	DefaultPingInterval   = 55 * time.Second
	DefaultWriteTimeout   = time.Minute
	DefaultPublishTimeout = 10 * time.Second
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultDialTimeout    = 7 * time.Second
	DefaultInfoTTL        = time.Hour
)

// DefaultMaxMessageSize caps websocket messages in both directions.
const DefaultMaxMessageSize = 5 * units.Mb

// RelayOptions configures one relay connection. The zero value works: every
// field has a default, and the boolean switches are named so false selects
// it.
type RelayOptions struct {
	// Capabilities gates which pool operations reach this relay. Zero
	// means DefaultCapabilities.
	Capabilities Capability
	// RetryBase is the first reconnect backoff interval.
	RetryBase time.Duration
	// RetryMax caps the backoff growth.
	RetryMax time.Duration
	// PingInterval spaces keepalive pings; it also paces idle checks.
	PingInterval time.Duration
	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration
	// PublishTimeout bounds the wait for an OK after sending an event.
	PublishTimeout time.Duration
	// MaxMessageSize caps message size in both directions.
	MaxMessageSize int64
	// QueueCapacity bounds the outgoing queue; a full queue refuses with
	// Busy.
	QueueCapacity int
	// NoReconnect disables automatic redial with backoff after a dropped
	// connection.
	NoReconnect bool
	// AutoClose, when set, is applied to subscriptions that do not carry
	// their own exit rules.
	AutoClose *ExitRules
	// Transport carries the connection mode, proxy address, TLS and
	// handshake header configuration.
	Transport transport.Options
	// Dialer overrides the transport dialer; nil builds one from the
	// Transport options.
	Dialer transport.Dialer
}

func (o *RelayOptions) capabilities() Capability {
	if o.Capabilities == 0 {
		return DefaultCapabilities
	}
	return o.Capabilities
}

func (o *RelayOptions) retryBase() time.Duration {
	if o.RetryBase <= 0 {
		return DefaultRetryBase
	}
	return o.RetryBase
}

func (o *RelayOptions) retryMax() time.Duration {
	if o.RetryMax <= 0 {
		return DefaultRetryMax
	}
	return o.RetryMax
}

func (o *RelayOptions) pingInterval() time.Duration {
	if o.PingInterval <= 0 {
		return DefaultPingInterval
	}
	return o.PingInterval
}

func (o *RelayOptions) writeTimeout() time.Duration {
	if o.WriteTimeout <= 0 {
		return DefaultWriteTimeout
	}
	return o.WriteTimeout
}

func (o *RelayOptions) publishTimeout() time.Duration {
	if o.PublishTimeout <= 0 {
		return DefaultPublishTimeout
	}
	return o.PublishTimeout
}

func (o *RelayOptions) maxMessageSize() int64 {
	if o.MaxMessageSize <= 0 {
		return DefaultMaxMessageSize
	}
	return o.MaxMessageSize
}

func (o *RelayOptions) queueCapacity() int {
	if o.QueueCapacity <= 0 {
		return DefaultQueueCapacity
	}
	return o.QueueCapacity
}

// PoolOptions configures a pool and the shared collaborators its relays
// use.
type PoolOptions struct {
	// MaxRelays caps the pool map; zero means unlimited. Adding past the
	// cap refuses with Busy.
	MaxRelays int
	// NotificationBuffer is each bus receiver's channel capacity.
	NotificationBuffer int
	// NoAutoAuth disables signing auth events in response to challenges;
	// publishes rejected with an auth-required reason then fail without
	// the retry.
	NoAutoAuth bool
	// NoVerify disables checking received events against the
	// subscription's filter.
	NoVerify bool
	// BanOnMismatch bans a relay after repeated filter mismatches or
	// verification failures.
	BanOnMismatch bool
	// SleepWhenIdle closes connections with no subscriptions and no
	// queued traffic after IdleTimeout; the next operation redials.
	SleepWhenIdle bool
	// IdleTimeout is how long a connection may idle before sleeping.
	IdleTimeout time.Duration
	// Gossip routes publishes and fetches through NIP-65 relay lists.
	// Requires Database.
	Gossip bool
	// GossipOptions tunes the router.
	GossipOptions gossip.Options
	// Admission, when set, is consulted before connections are opened and
	// before received events are forwarded.
	Admission admission.I
	// Signer, when set, answers auth challenges and signs uploads that
	// need it.
	Signer signer.I
	// Database backs gossip relay lists and reconciliation.
	Database store.I
	// Verifier checks received events; nil uses the built-in id and
	// signature check.
	Verifier verifier.I
	// VerifyCacheSize bounds the shared verification cache.
	VerifyCacheSize int
	// RelayDefaults seeds the options of relays added without their own.
	RelayDefaults RelayOptions
}

func (o *PoolOptions) idleTimeout() time.Duration {
	if o.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return o.IdleTimeout
}
