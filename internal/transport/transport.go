// Package transport owns the socket underneath an AMQP 0.9.1 connection:
// it dials (plain TCP or TLS), sends the protocol header, and moves whole
// frames in and out with single-frame atomicity across goroutines.
// Everything above it (method encoding, channel routing, negotiation)
// consumes *amqp091.Frame values and never touches the socket.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/edevhub/amqp-transport/internal/amqp091"
)

// DefaultFrameMax sizes the read buffer when Config.FrameMax is zero.
// It matches the frame-max this stack negotiates upstream.
const DefaultFrameMax = 131072

type Config struct {
	Host string
	Port int

	// ConnectTimeout bounds each candidate TCP connect. Zero means the
	// OS default. Once connected, frame I/O blocks indefinitely.
	ConnectTimeout time.Duration

	// FrameMax caps a single frame's payload and sizes the reused read
	// buffer. Defaults to DefaultFrameMax.
	FrameMax int

	// TLS, when non-nil, upgrades the socket with a handshake before any
	// frame traffic. ServerName defaults to Host.
	TLS *tls.Config

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.FrameMax <= 0 {
		c.FrameMax = DefaultFrameMax
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Transport is one physical connection. Frame reads and frame writes are
// serialized independently, so a reader and a writer may run concurrently
// but two readers (or two writers) cannot interleave partial frames.
type Transport struct {
	conn net.Conn

	// rbuf is the scratch buffer for readExact; it is reused across
	// reads and only touched under rmu.
	rbuf []byte

	rmu sync.Mutex
	wmu sync.Mutex

	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error

	readErrnos []syscall.Errno
	logger     *slog.Logger
}

// Dial resolves cfg.Host, tries each resolved address in order, and
// returns a connected Transport that has already sent the AMQP protocol
// header. All-candidate failure is reported as a *ConnectionError wrapping
// the most recent underlying error.
func Dial(cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()
	hostport := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	addrs, err := resolveCandidates(cfg.Host, cfg.Port)
	if err != nil {
		return nil, &ConnectionError{Addr: hostport, Err: err}
	}

	conn, err := dialCandidates(addrs, cfg.ConnectTimeout)
	if err != nil {
		return nil, &ConnectionError{Addr: hostport, Err: err}
	}

	t := newTransport(conn, cfg)
	if err := t.setup(cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	t.connected.Store(true)
	t.logger.Debug("transport connected",
		slog.String("remote", t.conn.RemoteAddr().String()),
		slog.Bool("tls", cfg.TLS != nil))
	return t, nil
}

func resolveCandidates(host string, port int) ([]string, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
	if err != nil {
		return nil, err
	}
	p := strconv.Itoa(port)
	addrs := make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, net.JoinHostPort(ip.String(), p))
	}
	return addrs, nil
}

// dialCandidates commits to the first address that completes a TCP
// connect; the rest are discarded. A failed candidate's socket is closed
// by the dialer before the next attempt.
func dialCandidates(addrs []string, timeout time.Duration) (net.Conn, error) {
	var lastErr error
	for _, addr := range addrs {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.Dial("tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no addresses resolved")
	}
	return nil, lastErr
}

func newTransport(conn net.Conn, cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		conn:       conn,
		rbuf:       make([]byte, cfg.FrameMax),
		readErrnos: tcpReadErrnos,
		logger: cfg.Logger.With(
			slog.String("conn_id", uuid.NewString())),
	}
}

// setup runs after the TCP connect: clear the connect deadline so frame
// I/O blocks indefinitely, switch off send coalescing, enable keep-alive
// probing, upgrade to TLS when configured, then announce the protocol.
// Failures here are classified like frame-path failures: a transient code
// does not force-clear a connected flag that was never set.
func (t *Transport) setup(cfg Config) error {
	if err := t.conn.SetDeadline(time.Time{}); err != nil {
		return t.classify(err)
	}
	if tc, ok := t.conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			return t.classify(err)
		}
		if err := tc.SetKeepAlive(true); err != nil {
			return t.classify(err)
		}
	}

	if cfg.TLS != nil {
		tcfg := cfg.TLS.Clone()
		if tcfg.ServerName == "" && !tcfg.InsecureSkipVerify {
			tcfg.ServerName = cfg.Host
		}
		tlsConn := tls.Client(t.conn, tcfg)
		if err := tlsConn.Handshake(); err != nil {
			return &ConnectionError{Addr: t.conn.RemoteAddr().String(), Err: err}
		}
		t.conn = tlsConn
		t.readErrnos = tlsReadErrnos
	}

	if err := t.write(amqp091.ProtocolHeader); err != nil {
		return t.classify(err)
	}
	return nil
}

// IsConnected reports whether the transport is still usable. It flips to
// false on Close and on any fatal I/O failure; upper layers use it to
// decide whether to dial a replacement.
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// Close is idempotent and safe to call while a read or write is blocked;
// closing the socket is the only way to unblock one. The in-flight
// operation then fails with a classified error. Close does not take the
// frame mutexes, so its result may race a concurrent frame operation
// during shutdown; this window is accepted.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		// half-close the write side first so frames already handed to
		// the kernel reach the broker even when the process exits right
		// after. Covers both *net.TCPConn and *tls.Conn (close_notify).
		type closeWriter interface{ CloseWrite() error }
		if cw, ok := t.conn.(closeWriter); ok {
			_ = cw.CloseWrite()
		}
		t.closeErr = t.conn.Close()
		t.logger.Debug("transport closed")
	})
	return t.closeErr
}

// ReadFrame reads one whole frame off the wire: 7-byte header, declared
// payload, terminator. Frames for different channels may interleave; this
// method only guarantees that the bytes of one frame are contiguous.
func (t *Transport) ReadFrame() (*amqp091.Frame, error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()

	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	f, err := t.readFrame()
	if err != nil {
		return nil, t.classify(err)
	}
	return f, nil
}

func (t *Transport) readFrame() (*amqp091.Frame, error) {
	hdr, err := t.readExact(amqp091.HeaderLen, true)
	if err != nil {
		return nil, err
	}
	ftype, channel, size, err := amqp091.ParseHeader(hdr)
	if err != nil {
		return nil, err
	}
	// compare as unsigned: on 32-bit platforms int(size) can go negative
	// and would slip past the buffer guard in readExact
	if size > uint32(len(t.rbuf)) {
		return nil, ErrFrameOverflow
	}

	body, err := t.readExact(int(size), false)
	if err != nil {
		return nil, err
	}
	// rbuf is overwritten by the terminator read, so the payload must be
	// copied out first.
	payload := make([]byte, size)
	copy(payload, body)

	term, err := t.readExact(1, false)
	if err != nil {
		return nil, err
	}
	if term[0] != amqp091.FrameEnd {
		return nil, &UnexpectedFrameError{Byte: term[0]}
	}

	return &amqp091.Frame{Type: ftype, Channel: channel, Payload: payload}, nil
}

// WriteFrame sends the frame's full byte image, looping on partial writes
// until every byte is out. A TLS write may accept less than the full
// buffer per call; a write that accepts nothing means the peer is gone.
func (t *Transport) WriteFrame(f *amqp091.Frame) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if !t.connected.Load() {
		return ErrNotConnected
	}
	if err := t.write(f.Marshal()); err != nil {
		return t.classify(err)
	}
	return nil
}

func (t *Transport) write(buf []byte) error {
	for len(buf) > 0 {
		n, err := t.conn.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrPeerClosed
		}
		buf = buf[n:]
	}
	return nil
}

// readExact fills the first n bytes of the scratch buffer from the socket
// and returns a view over them, valid only until the next read. A single
// TLS read returns at most one record (16 KiB), so short reads are normal
// and the loop keeps going until n bytes arrived. Transient codes are
// retried unless this is the initial read of a frame, where they propagate
// so the caller can tell "no frame yet" from "interrupted mid-frame".
func (t *Transport) readExact(n int, initial bool) ([]byte, error) {
	if n > len(t.rbuf) {
		return nil, ErrFrameOverflow
	}
	buf := t.rbuf[:n]
	off := 0
	for off < n {
		nr, err := t.conn.Read(buf[off:])
		off += nr
		if off == n {
			break
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrPeerClosed
			}
			if !initial && errnoIn(err, t.readErrnos) {
				continue
			}
			return nil, err
		}
		if nr == 0 {
			return nil, ErrPeerClosed
		}
	}
	return buf, nil
}

// classify decides what a failure means for the connection: timeouts and
// transient codes pass through and leave the connected flag alone;
// everything else (peer closed, terminator mismatch, hard I/O errors) is
// fatal and clears it.
func (t *Transport) classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(err) || errnoIn(err, unavailErrnos) {
		return err
	}
	if t.connected.CompareAndSwap(true, false) {
		t.logger.Debug("transport disconnected", slog.Any("error", err))
	}
	return err
}
