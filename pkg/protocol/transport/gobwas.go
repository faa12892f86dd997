package transport

import (
	"bytes"
	"compress/flate"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/atomic"

	"relaypool.dev/pkg/utils/chk"
	"relaypool.dev/pkg/utils/context"
	"relaypool.dev/pkg/utils/errorf"
	"relaypool.dev/pkg/utils/log"
)

// GobwasDialer opens connections over gobwas/ws with permessage-deflate
// negotiated when the relay supports it.
type GobwasDialer struct {
	opt Options
}

var _ Dialer = (*GobwasDialer)(nil)

// NewGobwas returns a dialer over gobwas/ws.
func NewGobwas(opt Options) *GobwasDialer { return &GobwasDialer{opt: opt} }

// Dial opens the websocket and negotiates extensions.
func (d *GobwasDialer) Dial(c context.T, url string) (conn Conn, err error) {
	if err = d.opt.checkURL(url); chk.E(err) {
		return
	}
	var netDial NetDialFunc
	if netDial, err = d.opt.netDial(); chk.E(err) {
		return
	}
	dialer := ws.Dialer{
		Header:    ws.HandshakeHeaderHTTP(d.opt.Header),
		TLSConfig: d.opt.TLS,
	}
	if !d.opt.NoCompression {
		dialer.Extensions = []httphead.Option{
			wsflate.DefaultParameters.Option(),
		}
	}
	if netDial != nil {
		dialer.NetDial = func(dc context.T, network, addr string) (
			net.Conn, error,
		) {
			return netDial(dc, network, addr)
		}
	}
	raw, _, hs, err := dialer.Dial(c, url)
	if err != nil {
		return nil, errorf.E("dial %s: %w", url, err)
	}
	compressed := false
	state := ws.StateClientSide
	for _, extension := range hs.Extensions {
		if string(extension.Name) == wsflate.ExtensionName {
			compressed = true
			state |= ws.StateExtended
			break
		}
	}
	cn := &gobwasConn{opt: d.opt, conn: raw, compressed: compressed}
	if compressed {
		cn.msgStateR.SetCompressed(true)
		cn.flateReader = wsflate.NewReader(
			nil, func(r io.Reader) wsflate.Decompressor {
				return flate.NewReader(r)
			},
		)
		cn.msgStateW.SetCompressed(true)
		cn.flateWriter = wsflate.NewWriter(
			nil, func(w io.Writer) wsflate.Compressor {
				fw, ferr := flate.NewWriter(w, 4)
				if ferr != nil {
					log.E.F("failed to create flate writer: %v", ferr)
				}
				return fw
			},
		)
	}
	cn.controlHandler = wsutil.ControlFrameHandler(raw, ws.StateClientSide)
	cn.reader = &wsutil.Reader{
		Source:         raw,
		State:          state,
		OnIntermediate: cn.controlHandler,
		CheckUTF8:      false,
		MaxFrameSize:   d.opt.maxMessageSize(),
		Extensions:     []wsutil.RecvExtension{&cn.msgStateR},
	}
	cn.writer = wsutil.NewWriter(raw, state, ws.OpText)
	cn.writer.SetExtensions(&cn.msgStateW)
	return cn, nil
}

// gobwasConn is one open connection. Reads happen from one goroutine;
// writes are serialized by a mutex so pings and close frames can interleave
// with messages.
type gobwasConn struct {
	opt            Options
	conn           net.Conn
	compressed     bool
	controlHandler wsutil.FrameHandlerFunc
	flateReader    *wsflate.Reader
	reader         *wsutil.Reader
	flateWriter    *wsflate.Writer
	writer         *wsutil.Writer
	msgStateR      wsflate.MessageState
	msgStateW      wsflate.MessageState
	writeMx        sync.Mutex
	closed         atomic.Bool
}

var _ Conn = (*gobwasConn)(nil)

// WriteMessage sends one text message under the write timeout.
func (cn *gobwasConn) WriteMessage(c context.T, data []byte) (err error) {
	select {
	case <-c.Done():
		return errorf.E("%s context canceled", cn.RemoteAddr())
	default:
	}
	cn.writeMx.Lock()
	defer cn.writeMx.Unlock()
	if err = cn.conn.SetWriteDeadline(
		time.Now().Add(cn.opt.writeTimeout()),
	); chk.E(err) {
		return
	}
	if cn.msgStateW.IsCompressed() && cn.compressed {
		cn.flateWriter.Reset(cn.writer)
		if _, err = io.Copy(
			cn.flateWriter, bytes.NewReader(data),
		); chk.T(err) {
			return errorf.E(
				"%s failed to write message: %w", cn.RemoteAddr(), err,
			)
		}
		if err = cn.flateWriter.Close(); chk.T(err) {
			return errorf.E(
				"%s failed to close flate writer: %w", cn.RemoteAddr(), err,
			)
		}
	} else {
		if _, err = io.Copy(cn.writer, bytes.NewReader(data)); chk.T(err) {
			return errorf.E(
				"%s failed to write message: %w", cn.RemoteAddr(), err,
			)
		}
	}
	if err = cn.writer.Flush(); chk.T(err) {
		return errorf.E(
			"%s failed to flush writer: %w", cn.RemoteAddr(), err,
		)
	}
	return
}

// Ping sends a ping control frame.
func (cn *gobwasConn) Ping(c context.T) (err error) {
	select {
	case <-c.Done():
		return errorf.E("%s context canceled", cn.RemoteAddr())
	default:
	}
	cn.writeMx.Lock()
	defer cn.writeMx.Unlock()
	if err = cn.conn.SetWriteDeadline(
		time.Now().Add(cn.opt.writeTimeout()),
	); chk.E(err) {
		return
	}
	if err = wsutil.WriteClientMessage(
		cn.conn, ws.OpPing, nil,
	); chk.T(err) {
		return errorf.E("%s failed to write ping: %w", cn.RemoteAddr(), err)
	}
	return
}

// ReadMessage picks up the next incoming message, replying to control
// frames along the way.
func (cn *gobwasConn) ReadMessage(c context.T, buf io.Writer) (err error) {
	for {
		select {
		case <-c.Done():
			return errorf.D("%s context canceled", cn.RemoteAddr())
		default:
		}
		var h ws.Header
		if h, err = cn.reader.NextFrame(); err != nil {
			cn.conn.Close()
			return errorf.E(
				"%s failed to advance frame: %s", cn.RemoteAddr(),
				err.Error(),
			)
		}
		if h.OpCode.IsControl() {
			if h.OpCode == ws.OpPong && cn.opt.OnPong != nil {
				cn.opt.OnPong()
			}
			if err = cn.controlHandler(h, cn.reader); chk.T(err) {
				return errorf.E(
					"%s failed to handle control frame: %w",
					cn.RemoteAddr(), err,
				)
			}
			continue
		}
		if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err = cn.reader.Discard(); chk.T(err) {
			return errorf.E(
				"%s failed to discard: %w", cn.RemoteAddr(), err,
			)
		}
	}
	// Fragmented and compressed messages can exceed the per-frame cap, so
	// the total is capped here as well.
	max := cn.opt.maxMessageSize()
	var src io.Reader = cn.reader
	if cn.msgStateR.IsCompressed() && cn.compressed {
		cn.flateReader.Reset(cn.reader)
		src = cn.flateReader
	}
	var n int64
	if n, err = io.Copy(buf, io.LimitReader(src, max+1)); chk.T(err) {
		return errorf.E(
			"%s failed to read message: %w", cn.RemoteAddr(), err,
		)
	}
	if n > max {
		cn.conn.Close()
		return errorf.E(
			"%s message exceeds %d byte limit", cn.RemoteAddr(), max,
		)
	}
	return
}

// Close sends the close frame and leaves the peer CloseGrace to answer
// before the socket is forced shut. The blocked reader observes either the
// peer's close frame or the read deadline.
func (cn *gobwasConn) Close() (err error) {
	if !cn.closed.CompareAndSwap(false, true) {
		return
	}
	cn.writeMx.Lock()
	cn.conn.SetWriteDeadline(time.Now().Add(CloseGrace))
	err = ws.WriteFrame(
		cn.conn, ws.MaskFrameInPlace(
			ws.NewCloseFrame(
				ws.NewCloseFrameBody(ws.StatusNormalClosure, ""),
			),
		),
	)
	cn.writeMx.Unlock()
	if err != nil {
		return cn.conn.Close()
	}
	cn.conn.SetReadDeadline(time.Now().Add(CloseGrace))
	time.AfterFunc(CloseGrace, func() { cn.conn.Close() })
	return
}

// RemoteAddr labels the peer for logs.
func (cn *gobwasConn) RemoteAddr() string {
	return cn.conn.RemoteAddr().String()
}
