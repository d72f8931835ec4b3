//go:build linux

package process

import (
	"fmt"
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

// Descriptor is a file descriptor whose mode can be changed, given either as
// a raw number (RawDescriptor) or as an object owning one (WrappedDescriptor).
type Descriptor interface {
	SetBlocking(blocking bool) error
	CloseOnExec() error
	Close() error
}

var (
	_ Descriptor = RawDescriptor(0)
	_ Descriptor = WrappedDescriptor{}
)

// RawDescriptor is a bare descriptor number.
type RawDescriptor int

// SetBlocking clears (blocking) or sets (non-blocking) O_NONBLOCK.
func (d RawDescriptor) SetBlocking(blocking bool) error {
	if err := unix.SetNonblock(int(d), !blocking); err != nil {
		return fmt.Errorf("failed to set blocking=%t on fd %d: %w", blocking, int(d), err)
	}
	return nil
}

// Blocking reports whether O_NONBLOCK is clear.
func (d RawDescriptor) Blocking() (bool, error) {
	flags, err := unix.FcntlInt(uintptr(d), unix.F_GETFL, 0)
	if err != nil {
		return false, fmt.Errorf("failed to read status flags of fd %d: %w", int(d), err)
	}
	return flags&unix.O_NONBLOCK == 0, nil
}

// CloseOnExec sets FD_CLOEXEC. It cannot be cleared.
func (d RawDescriptor) CloseOnExec() error {
	flags, err := unix.FcntlInt(uintptr(d), unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("failed to read descriptor flags of fd %d: %w", int(d), err)
	}
	if _, err := unix.FcntlInt(uintptr(d), unix.F_SETFD, flags|unix.FD_CLOEXEC); err != nil {
		return fmt.Errorf("failed to set close-on-exec on fd %d: %w", int(d), err)
	}
	return nil
}

// IsCloseOnExec reports whether FD_CLOEXEC is set.
func (d RawDescriptor) IsCloseOnExec() (bool, error) {
	flags, err := unix.FcntlInt(uintptr(d), unix.F_GETFD, 0)
	if err != nil {
		return false, fmt.Errorf("failed to read descriptor flags of fd %d: %w", int(d), err)
	}
	return flags&unix.FD_CLOEXEC != 0, nil
}

// Close closes the descriptor.
func (d RawDescriptor) Close() error {
	if err := unix.Close(int(d)); err != nil {
		return fmt.Errorf("failed to close fd %d: %w", int(d), err)
	}
	return nil
}

// WrappedDescriptor is an object that owns a descriptor, such as *os.File or
// *net.TCPConn. Capabilities the object offers itself take precedence over
// operating on its descriptor.
type WrappedDescriptor struct {
	conn syscall.Conn
}

// Wrap returns a Descriptor for c.
func Wrap(c syscall.Conn) WrappedDescriptor {
	return WrappedDescriptor{conn: c}
}

type blockingSetter interface {
	SetBlocking(blocking bool) error
}

// SetBlocking uses the object's own SetBlocking when it has one.
func (w WrappedDescriptor) SetBlocking(blocking bool) error {
	if s, ok := w.conn.(blockingSetter); ok {
		return s.SetBlocking(blocking)
	}
	return w.control(func(fd RawDescriptor) error {
		return fd.SetBlocking(blocking)
	})
}

// Blocking reports whether the wrapped descriptor is in blocking mode.
func (w WrappedDescriptor) Blocking() (bool, error) {
	var blocking bool
	err := w.control(func(fd RawDescriptor) error {
		var err error
		blocking, err = fd.Blocking()
		return err
	})
	return blocking, err
}

// CloseOnExec sets FD_CLOEXEC on the wrapped descriptor.
func (w WrappedDescriptor) CloseOnExec() error {
	return w.control(RawDescriptor.CloseOnExec)
}

// Close delegates to the object's Close when it has one.
func (w WrappedDescriptor) Close() error {
	if c, ok := w.conn.(io.Closer); ok {
		return c.Close()
	}
	return w.control(RawDescriptor.Close)
}

func (w WrappedDescriptor) control(fn func(RawDescriptor) error) error {
	rc, err := w.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to access descriptor: %w", err)
	}
	var opErr error
	if err := rc.Control(func(fd uintptr) {
		opErr = fn(RawDescriptor(fd))
	}); err != nil {
		return fmt.Errorf("failed to access descriptor: %w", err)
	}
	return opErr
}
