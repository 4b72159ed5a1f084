// Package session implements per-socket client state: credential
// capture, frame reassembly, and the read-batching strategy used to limit
// head-of-line blocking across clients sharing one event loop.
package session

import (
	"time"

	"golang.org/x/sys/unix"

	apperrors "github.com/buxton-project/buxtond/pkg/errors"
	"github.com/buxton-project/buxtond/internal/wire"
)

// BatchLimit bounds how many complete frames one poll-readable event
// processes for a single client before yielding to the rest of the
// loop, mirroring daemon.c's handle_client message_limit.
const BatchLimit = 16

// MaxFrame bounds accepted frame size; anything larger terminates the
// client rather than growing its receive buffer unbounded.
const MaxFrame = wire.MaxFrame

// Client is one accepted connection's state.
type Client struct {
	FD  int
	UID uint32
	PID uint32
	// Label is the peer's security label, or empty if the host provides
	// none — an absent label is not treated as an error.
	Label string

	credentialsCaptured bool
	recv                []byte

	// partialSince is when the receive buffer first held an incomplete
	// frame; zero while the buffer is empty or frame-aligned. The loop
	// terminates clients stuck mid-frame past its read timeout so a
	// stalled peer cannot pin daemon memory.
	partialSince time.Time
}

// New wraps an accepted connection's file descriptor.
func New(fd int) *Client {
	return &Client{FD: fd, recv: make([]byte, 0, wire.HeaderLen)}
}

// CaptureCredentials reads SO_PEERCRED and the peer's security label
// once per connection, on the first readable event. A platform that
// does not support the security-label syscall (ENOPROTOOPT, matching
// the original's SMACK detection) yields an empty label, not an error.
func (c *Client) CaptureCredentials() error {
	if c.credentialsCaptured {
		return nil
	}
	ucred, err := unix.GetsockoptUcred(c.FD, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return apperrors.Wrap(apperrors.IoError, "reading peer credentials", err)
	}
	c.UID = ucred.Uid
	c.PID = uint32(ucred.Pid)

	label, err := unix.GetsockoptString(c.FD, unix.SOL_SOCKET, unix.SO_PEERSEC)
	switch err {
	case nil:
		c.Label = label
	case unix.ENOPROTOOPT, unix.EOPNOTSUPP:
		c.Label = ""
	default:
		return apperrors.Wrap(apperrors.IoError, "reading peer security label", err)
	}

	c.credentialsCaptured = true
	return nil
}

// Feed appends newly-read bytes to the client's receive buffer and
// extracts as many complete frames as are present, up to BatchLimit.
// The returned frames are raw buffers ready for wire.DecodeFrame;
// remaining partial data stays buffered for the next read. more
// reports whether the batch limit was hit with at least a frame
// header's worth of bytes still buffered (whether or not they form a
// complete frame yet), so the caller can re-arm the loop without
// blocking instead of starving other clients.
func (c *Client) Feed(data []byte) (frames [][]byte, more bool, err error) {
	c.recv = append(c.recv, data...)

	for len(frames) < BatchLimit {
		if uint32(len(c.recv)) < wire.HeaderLen {
			c.markPartial()
			return frames, false, nil
		}
		length := wire.FrameSize(c.recv)
		if length < wire.HeaderLen || length > MaxFrame {
			return frames, false, apperrors.New(apperrors.MalformedFrame, "frame length out of bounds")
		}
		if uint32(len(c.recv)) < length {
			c.markPartial()
			return frames, false, nil
		}
		frame := make([]byte, length)
		copy(frame, c.recv[:length])
		c.recv = c.recv[length:]
		frames = append(frames, frame)
	}
	c.markPartial()
	return frames, uint32(len(c.recv)) >= wire.HeaderLen, nil
}

// markPartial stamps the moment an incomplete frame first appeared in
// the receive buffer, and clears the stamp once the buffer drains.
func (c *Client) markPartial() {
	if len(c.recv) == 0 {
		c.partialSince = time.Time{}
	} else if c.partialSince.IsZero() {
		c.partialSince = time.Now()
	}
}

// MidFrame reports whether the receive buffer currently holds an
// incomplete frame.
func (c *Client) MidFrame() bool {
	return !c.partialSince.IsZero()
}

// Stalled reports whether the client has sat mid-frame for longer than
// timeout.
func (c *Client) Stalled(now time.Time, timeout time.Duration) bool {
	return !c.partialSince.IsZero() && now.Sub(c.partialSince) > timeout
}

// Close closes the underlying file descriptor.
func (c *Client) Close() error {
	return unix.Close(c.FD)
}
