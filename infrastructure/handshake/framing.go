package handshake

import (
	"encoding/binary"
	"io"
	"net"
	"time"
)

const (
	// maxFrameLength bounds a single handshake frame. Classic McEliece
	// public keys are the largest payload carried (≈256 KiB).
	maxFrameLength = 1 << 20

	// DefaultMessageTimeout bounds each framed read.
	DefaultMessageTimeout = 10 * time.Second

	// DefaultOverallTimeout bounds the whole handshake.
	DefaultOverallTimeout = 30 * time.Second
)

// framedConn exchanges u32-BE length-prefixed frames over a TCP connection,
// refreshing a per-message read deadline capped by the overall handshake
// deadline.
type framedConn struct {
	conn           net.Conn
	messageTimeout time.Duration
	deadline       time.Time
}

func newFramedConn(conn net.Conn, messageTimeout, overallTimeout time.Duration) *framedConn {
	return &framedConn{
		conn:           conn,
		messageTimeout: messageTimeout,
		deadline:       time.Now().Add(overallTimeout),
	}
}

func (f *framedConn) readDeadline() time.Time {
	d := time.Now().Add(f.messageTimeout)
	if d.After(f.deadline) {
		return f.deadline
	}
	return d
}

func (f *framedConn) readFrame() ([]byte, *Error) {
	if err := f.conn.SetReadDeadline(f.readDeadline()); err != nil {
		return nil, transportError(err)
	}

	var length [4]byte
	if _, err := io.ReadFull(f.conn, length[:]); err != nil {
		return nil, transportError(err)
	}
	frameLen := binary.BigEndian.Uint32(length[:])
	if frameLen == 0 || frameLen > maxFrameLength {
		return nil, failf(FailMalformed, "frame length %d out of range", frameLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(f.conn, frame); err != nil {
		return nil, transportError(err)
	}
	return frame, nil
}

func (f *framedConn) writeFrame(payload []byte) *Error {
	if len(payload) == 0 || len(payload) > maxFrameLength {
		return failf(FailMalformed, "frame length %d out of range", len(payload))
	}
	if err := f.conn.SetWriteDeadline(f.readDeadline()); err != nil {
		return transportError(err)
	}

	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	if _, err := f.conn.Write(out); err != nil {
		return transportError(err)
	}
	return nil
}
