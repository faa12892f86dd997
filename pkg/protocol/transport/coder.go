package transport

import (
	"io"
	"net"
	"net/http"

	"github.com/coder/websocket"

	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/errorf"
)

// CoderDialer opens connections over coder/websocket. Its Ping waits for
// the matching pong, so pong callbacks fire with the round trip already
// complete.
type CoderDialer struct {
	opt Options
}

var _ Dialer = (*CoderDialer)(nil)

// NewCoder returns a dialer over coder/websocket.
func NewCoder(opt Options) *CoderDialer { return &CoderDialer{opt: opt} }

// Dial opens the websocket.
func (d *CoderDialer) Dial(c context.T, url string) (conn Conn, err error) {
	if err = d.opt.checkURL(url); chk.E(err) {
		return
	}
	var netDial NetDialFunc
	if netDial, err = d.opt.netDial(); chk.E(err) {
		return
	}
	tr := &http.Transport{TLSClientConfig: d.opt.TLS}
	if netDial != nil {
		tr.DialContext = func(dc context.T, network, addr string) (
			net.Conn, error,
		) {
			return netDial(dc, network, addr)
		}
	}
	compression := websocket.CompressionContextTakeover
	if d.opt.NoCompression {
		compression = websocket.CompressionDisabled
	}
	cc, _, err := websocket.Dial(
		c, url, &websocket.DialOptions{
			HTTPClient:      &http.Client{Transport: tr},
			HTTPHeader:      d.opt.Header,
			CompressionMode: compression,
		},
	)
	if err != nil {
		return nil, errorf.E("dial %s: %w", url, err)
	}
	cc.SetReadLimit(d.opt.maxMessageSize())
	return &coderConn{opt: d.opt, conn: cc, remote: url}, nil
}

type coderConn struct {
	opt    Options
	conn   *websocket.Conn
	remote string
}

var _ Conn = (*coderConn)(nil)

// ReadMessage picks up the next incoming message.
func (cn *coderConn) ReadMessage(c context.T, buf io.Writer) (err error) {
	var data []byte
	if _, data, err = cn.conn.Read(c); err != nil {
		return errorf.E(
			"%s failed to read message: %s", cn.remote, err.Error(),
		)
	}
	_, err = buf.Write(data)
	return
}

// WriteMessage sends one text message under the write timeout.
func (cn *coderConn) WriteMessage(c context.T, data []byte) (err error) {
	wc, cancel := context.Timeout(c, cn.opt.writeTimeout())
	defer cancel()
	if err = cn.conn.Write(wc, websocket.MessageText, data); err != nil {
		return errorf.E(
			"%s failed to write message: %s", cn.remote, err.Error(),
		)
	}
	return
}

// Ping sends a ping and waits for the pong.
func (cn *coderConn) Ping(c context.T) (err error) {
	wc, cancel := context.Timeout(c, cn.opt.writeTimeout())
	defer cancel()
	if err = cn.conn.Ping(wc); err != nil {
		return errorf.E("%s ping failed: %s", cn.remote, err.Error())
	}
	if cn.opt.OnPong != nil {
		cn.opt.OnPong()
	}
	return
}

// Close runs the closing handshake.
func (cn *coderConn) Close() (err error) {
	return cn.conn.Close(websocket.StatusNormalClosure, "")
}

// RemoteAddr labels the peer for logs.
func (cn *coderConn) RemoteAddr() string { return cn.remote }
