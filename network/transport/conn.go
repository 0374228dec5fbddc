package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linchenxuan/conduit/lifecycle"
	"github.com/linchenxuan/conduit/log"
	"github.com/linchenxuan/conduit/network/codec"
	"github.com/linchenxuan/conduit/network/framing"
	"github.com/linchenxuan/conduit/network/message"
	"github.com/linchenxuan/conduit/utils/pool"
)

// framedConn runs the frame protocol over one connection. One read and
// one write may be in progress at a time; each direction has its own lock,
// its own dictionary session and its own deadline.
type framedConn struct {
	conn    net.Conn
	s       *settings
	mode    framing.Mode
	framer  framing.Framer
	encoder codec.Encoder

	readSem  chan struct{}
	r        *bufio.Reader
	in       *framing.Session
	inEnded  bool
	writeSem chan struct{}
	w        *bufio.Writer
	out      *framing.Session
	outEnded bool

	broken    atomic.Bool
	closeOnce sync.Once
}

func newFramedConn(conn net.Conn, s *settings, mode framing.Mode) *framedConn {
	c := &framedConn{
		conn:     conn,
		s:        s,
		mode:     mode,
		framer:   framing.Framer{Limits: s.cfg.Limits, Dictionary: s.encoder.UsesDictionary(), ChunkSize: s.cfg.ChunkSize},
		readSem:  make(chan struct{}, 1),
		r:        bufio.NewReaderSize(conn, s.cfg.MaxBufferSize),
		writeSem: make(chan struct{}, 1),
		w:        bufio.NewWriterSize(conn, s.cfg.MaxBufferSize),
	}
	if c.framer.Dictionary {
		c.in = framing.NewSession(s.cfg.Limits.MaxDictionaryStrings)
		c.out = framing.NewSession(s.cfg.Limits.MaxDictionaryStrings)
		c.encoder = s.encoder.SessionEncoder(c.in, c.out)
	} else {
		c.encoder = s.encoder.Encoder()
	}
	return c
}

func (c *framedConn) remoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *framedConn) localAddr() net.Addr  { return c.conn.LocalAddr() }

func (c *framedConn) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		statConnClose(c.s.scheme())
	})
}

func acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return lifecycle.FromContext("lock", ctx)
	}
}

func release(sem chan struct{}) { <-sem }

// bind applies the deadline of ctx to one direction of the connection and
// interrupts it when ctx is cancelled. The returned func undoes both.
func bind(ctx context.Context, set func(time.Time) error) func() {
	dl, _ := ctx.Deadline()
	_ = set(dl)
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Unix(1, 0))
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
		}
		_ = set(time.Time{})
	}
}

// ioError converts an I/O error caused by the deadline of ctx.
func ioError(ctx context.Context, op string, err error) error {
	if err == nil || !errors.Is(err, os.ErrDeadlineExceeded) {
		return err
	}
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
		return ctxErr
	}
	return lifecycle.Timeout(op, context.DeadlineExceeded)
}

// fail marks the connection unusable after a partial record.
func (c *framedConn) fail(err error) {
	if c.broken.CompareAndSwap(false, true) {
		log.Warn().Str("remote", c.remoteAddr().String()).Err(err).Msg("connection broken")
	}
}

// handshakeClient sends the preamble for via and waits for the ack.
func (c *framedConn) handshakeClient(ctx context.Context, via string) error {
	defer bind(ctx, c.conn.SetDeadline)()
	p := framing.Preamble{Version: framing.Version1, Mode: c.mode, Via: via, ContentType: c.s.encoder.ContentType()}
	err := framing.WritePreamble(c.w, p, c.s.cfg.Limits)
	if err == nil {
		err = c.w.Flush()
	}
	if err == nil {
		err = framing.ReadAck(c.r, c.s.cfg.Limits)
	}
	if err != nil {
		c.fail(err)
		return ioError(ctx, "preamble", err)
	}
	return nil
}

// handshakeServer reads the peer's preamble and accepts it when it asks
// for our mode and content type at path. A refused preamble is answered
// with a fault record.
func (c *framedConn) handshakeServer(ctx context.Context, path string) (framing.Preamble, error) {
	defer bind(ctx, c.conn.SetDeadline)()
	p, err := framing.ReadPreamble(c.r, c.s.cfg.Limits)
	if err == nil {
		err = c.checkPreamble(p, path)
	}
	if err != nil {
		c.fail(err)
		if fault := framing.FaultOf(err); fault != "" {
			if framing.WriteFault(c.w, fault) == nil {
				_ = c.w.Flush()
			}
		}
		statConnReject(c.s.scheme(), framing.FaultOf(err))
		return p, ioError(ctx, "preamble", err)
	}
	if err := framing.WriteAck(c.w); err != nil {
		return p, ioError(ctx, "preamble ack", err)
	}
	return p, ioError(ctx, "preamble ack", c.w.Flush())
}

func (c *framedConn) checkPreamble(p framing.Preamble, path string) error {
	if p.Mode != c.mode {
		return framing.Violation(framing.FaultUnsupportedMode, "mode %s, want %s", p.Mode, c.mode)
	}
	if p.ContentType != c.s.encoder.ContentType() {
		return framing.Violation(framing.FaultContentTypeInvalid, "content type %q, want %q", p.ContentType, c.s.encoder.ContentType())
	}
	via, err := url.Parse(p.Via)
	if err != nil || (path != "" && !samePath(via.Path, path)) {
		return framing.Violation(framing.FaultEndpointNotFound, "no endpoint at %q", p.Via)
	}
	return nil
}

// readMessage reads the next message. It returns io.EOF once the peer has
// sent its End record. A timeout before the first byte of a record leaves
// the connection usable.
func (c *framedConn) readMessage(ctx context.Context) (*message.Message, error) {
	if err := acquire(ctx, c.readSem); err != nil {
		return nil, err
	}
	defer release(c.readSem)
	if c.broken.Load() {
		return nil, ErrConnectionLost
	}
	if c.inEnded {
		return nil, io.EOF
	}
	defer bind(ctx, c.conn.SetReadDeadline)()

	head, err := c.r.Peek(1)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ioError(ctx, "receive", err)
		}
		c.fail(err)
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch rec := framing.RecordType(head[0]); {
	case rec == framing.RecordSizedEnvelope && !c.mode.Sized(),
		rec == framing.RecordUnsizedEnvelope && c.mode.Sized():
		err := framing.Violation("", "%s in %s mode", rec, c.mode)
		c.fail(err)
		return nil, err
	}

	env, err := c.framer.ReadEnvelope(c.r)
	if err == nil && c.mode == framing.ModeSingletonSized {
		err = framing.ReadEnd(c.r, c.s.cfg.Limits)
	}
	if errors.Is(err, io.EOF) {
		c.inEnded = true
		return nil, io.EOF
	}
	if err != nil {
		c.fail(err)
		return nil, ioError(ctx, "receive", err)
	}
	if c.mode.Singleton() {
		c.inEnded = true
	}

	if c.in != nil {
		if err := c.in.Replay(env.Dictionary); err != nil {
			c.fail(err)
			return nil, err
		}
	}
	msg, err := c.encoder.ReadMessage(bytes.NewReader(env.Payload), c.s.maxSizeOfHeaders)
	if err != nil {
		err = framing.WrapViolation("", "decode message", err)
		c.fail(err)
		return nil, err
	}
	statRecv(c.s.scheme(), c.mode, len(env.Payload))
	return msg, nil
}

// waitReadable reports whether readMessage would return without blocking.
func (c *framedConn) waitReadable(ctx context.Context) (bool, error) {
	if err := acquire(ctx, c.readSem); err != nil {
		if lifecycle.IsTimeout(err) {
			return false, nil
		}
		return false, err
	}
	defer release(c.readSem)
	if c.inEnded || c.broken.Load() {
		return true, nil
	}
	defer bind(ctx, c.conn.SetReadDeadline)()
	if _, err := c.r.Peek(1); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			if err := ioError(ctx, "wait", err); !lifecycle.IsTimeout(err) {
				return false, err
			}
			return false, nil
		}
	}
	return true, nil
}

// writeMessage encodes and sends msg. New dictionary strings are committed
// only once the envelope carrying them was written.
func (c *framedConn) writeMessage(ctx context.Context, msg *message.Message) error {
	if err := acquire(ctx, c.writeSem); err != nil {
		return err
	}
	defer release(c.writeSem)
	if c.broken.Load() {
		return ErrConnectionLost
	}
	if c.outEnded {
		return lifecycle.ErrDisposed
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := c.encoder.WriteMessage(msg, buf); err != nil {
		c.rollback()
		return err
	}
	env := framing.Envelope{Payload: buf.Bytes()}
	if c.out != nil {
		env.Dictionary = c.out.Pending()
	}

	defer bind(ctx, c.conn.SetWriteDeadline)()
	var err error
	if c.mode.Sized() {
		err = c.framer.WriteSized(c.w, env)
	} else {
		err = c.framer.WriteUnsized(c.w, env)
	}
	if errors.Is(err, framing.ErrMessageTooLarge) {
		c.rollback()
		return err
	}
	if err == nil && c.out != nil {
		c.out.Commit()
	}
	if err == nil && c.mode == framing.ModeSingletonSized {
		err = framing.WriteEnd(c.w)
	}
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		c.fail(err)
		return ioError(ctx, "send", err)
	}
	if c.mode.Singleton() {
		c.outEnded = true
	}
	statSend(c.s.scheme(), c.mode, len(env.Payload))
	return nil
}

func (c *framedConn) rollback() {
	if c.out != nil {
		c.out.Rollback()
	}
}

// writeEnd ends the outbound half of the session. It is a no-op when the
// last message already ended it.
func (c *framedConn) writeEnd(ctx context.Context) error {
	if err := acquire(ctx, c.writeSem); err != nil {
		return err
	}
	defer release(c.writeSem)
	if c.outEnded {
		return nil
	}
	if c.broken.Load() {
		return ErrConnectionLost
	}
	defer bind(ctx, c.conn.SetWriteDeadline)()
	err := framing.WriteEnd(c.w)
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		c.fail(err)
		return ioError(ctx, "end", err)
	}
	c.outEnded = true
	return nil
}

// drain reads up to the peer's End record, discarding messages.
func (c *framedConn) drain(ctx context.Context) error {
	for {
		msg, err := c.readMessage(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Debug().Str("action", msg.Headers.Action()).Msg("discarding message received while closing")
		msg.Close()
	}
}
