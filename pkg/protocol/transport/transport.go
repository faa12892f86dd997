// Package transport opens websocket connections to relays and frames
// message send and receive over them.
//
// The package knows nothing about nostr: it delivers complete messages in
// arrival order, handles control frames internally, enforces the write
// timeout and the incoming message size cap, and performs the closing
// handshake. Retry and reconnection live above it.
//
// Two implementations are provided: the gobwas/ws one (the default, with
// permessage-deflate negotiation) and a coder/websocket one. Both are
// selected through a Dialer carried in the connection options.
package transport

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/errorf"
	"relaypool.dev/pkg/utils/units"
)

const (
	// DefaultMaxMessageSize caps incoming messages; relays serving large
	// events stay under this in practice.
	DefaultMaxMessageSize = 5 * units.Mb

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 60 * time.Second

	// CloseGrace is how long a closing side waits for the peer's close
	// frame before dropping the socket.
	CloseGrace = 5 * time.Second

	// DefaultTorProxyAddr is the standard socks listener of a local tor
	// daemon, used by the EmbeddedTor mode when no address is given.
	DefaultTorProxyAddr = "127.0.0.1:9050"
)

// Mode selects how the underlying TCP connection is opened.
type Mode int

const (
	// Direct dials the relay straight over TCP.
	Direct Mode = iota
	// Socks5 routes through the SOCKS5 proxy at ProxyAddr.
	Socks5
	// EmbeddedTor routes through the socks listener of a tor process,
	// ProxyAddr or the standard 127.0.0.1:9050.
	EmbeddedTor
	// Custom uses the caller-supplied NetDial function.
	Custom
)

// String returns the mode name for logs.
func (m Mode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Socks5:
		return "socks5"
	case EmbeddedTor:
		return "tor"
	case Custom:
		return "custom"
	}
	return "unknown"
}

// NetDialFunc opens the raw network connection for Custom mode.
type NetDialFunc func(c context.T, network, addr string) (net.Conn, error)

// Options configures a Dialer. The zero value dials directly with the
// defaults above.
type Options struct {
	// Mode selects the connection mode.
	Mode Mode
	// ProxyAddr is the socks5 host:port for the Socks5 and EmbeddedTor
	// modes.
	ProxyAddr string
	// NetDial is the dial function for Custom mode.
	NetDial NetDialFunc
	// TLS overrides the TLS configuration used for wss urls. Certificate
	// verification stays on unless the caller turns it off here.
	TLS *tls.Config
	// Header is added to the websocket handshake request.
	Header http.Header
	// MaxMessageSize caps incoming messages; zero means the default.
	MaxMessageSize int64
	// WriteTimeout bounds each frame write; zero means the default.
	WriteTimeout time.Duration
	// NoCompression turns off permessage-deflate negotiation where the
	// implementation supports it.
	NoCompression bool
	// OnPong is called each time a pong frame arrives.
	OnPong func()
}

func (o Options) maxMessageSize() int64 {
	if o.MaxMessageSize > 0 {
		return o.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

func (o Options) writeTimeout() time.Duration {
	if o.WriteTimeout > 0 {
		return o.WriteTimeout
	}
	return DefaultWriteTimeout
}

// netDial resolves the dial function the mode calls for, nil meaning the
// implementation's own default dialer.
func (o Options) netDial() (dial NetDialFunc, err error) {
	switch o.Mode {
	case Direct:
		return nil, nil
	case Socks5, EmbeddedTor:
		addr := o.ProxyAddr
		if addr == "" {
			if o.Mode == Socks5 {
				err = errorf.E("socks5 mode needs a proxy address")
				return
			}
			addr = DefaultTorProxyAddr
		}
		var d proxy.Dialer
		if d, err = proxy.SOCKS5("tcp", addr, nil, proxy.Direct); chk.E(err) {
			return
		}
		cd := d.(proxy.ContextDialer)
		dial = func(c context.T, network, address string) (net.Conn, error) {
			return cd.DialContext(c, network, address)
		}
		return
	case Custom:
		if o.NetDial == nil {
			err = errorf.E("custom mode needs a net dial function")
			return
		}
		return o.NetDial, nil
	}
	err = errorf.E("unknown connection mode %d", o.Mode)
	return
}

// HTTPClient returns an http client that dials under the same connection
// mode, for out-of-band document fetches. Lifetimes come from request
// contexts, not a client timeout.
func (o Options) HTTPClient() (client *http.Client, err error) {
	var netDial NetDialFunc
	if netDial, err = o.netDial(); chk.E(err) {
		return
	}
	tr := &http.Transport{TLSClientConfig: o.TLS}
	if netDial != nil {
		tr.DialContext = func(c context.T, network, addr string) (
			net.Conn, error,
		) {
			return netDial(c, network, addr)
		}
	}
	client = &http.Client{Transport: tr}
	return
}

// checkURL rejects urls the mode cannot reach before any dialing happens.
func (o Options) checkURL(url string) (err error) {
	if strings.Contains(url, ".onion") &&
		(o.Mode == Direct || o.Mode == Custom) {
		err = errorf.E("onion url %s requires a proxy connection mode", url)
	}
	return
}

// Conn is one open websocket. Implementations deliver complete text and
// binary messages in arrival order, reply to pings themselves and report a
// broken or closed connection through the read error exactly once.
type Conn interface {
	// ReadMessage copies the next complete message into buf, blocking
	// until one arrives, the context ends or the connection is done.
	ReadMessage(c context.T, buf io.Writer) (err error)
	// WriteMessage sends one text message under the write timeout.
	WriteMessage(c context.T, data []byte) (err error)
	// Ping sends a ping frame. Pong receipt surfaces through the OnPong
	// option.
	Ping(c context.T) (err error)
	// Close runs the closing handshake, waiting up to CloseGrace for the
	// peer before the socket is dropped.
	Close() (err error)
	// RemoteAddr labels the peer for logs.
	RemoteAddr() string
}

// Dialer opens websocket connections under a fixed set of Options.
type Dialer interface {
	Dial(c context.T, url string) (conn Conn, err error)
}

// New returns the default gobwas-backed dialer.
func New(opt Options) Dialer { return NewGobwas(opt) }
