package transport

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/channeld/internal/domain"
)

// fdWriter performs bounded writability polls and single non-blocking
// writes on a pollable descriptor.
type fdWriter struct {
	rc syscall.RawConn
}

func newFDWriter(sc syscall.Conn) (fdWriter, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return fdWriter{}, fmt.Errorf("raw conn: %w", err)
	}
	return fdWriter{rc: rc}, nil
}

// WaitWritable polls for POLLOUT for at most d. Error conditions on the
// descriptor report true so the following Write surfaces the error.
func (w fdWriter) WaitWritable(d time.Duration) (bool, error) {
	ms := int(d / time.Millisecond)
	if d > 0 && ms == 0 {
		ms = 1
	}
	var (
		ready   bool
		pollErr error
	)
	err := w.rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, ms)
		switch {
		case errors.Is(err, unix.EINTR):
		case err != nil:
			pollErr = err
		case n > 0:
			ready = fds[0].Revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
		}
	})
	if err != nil {
		return false, err
	}
	return ready, pollErr
}

// Write makes one write attempt. A full pipe or socket buffer is reported
// as domain.ErrWouldBlock.
func (w fdWriter) Write(p []byte) (int, error) {
	var (
		n    int
		werr error
	)
	err := w.rc.Write(func(fd uintptr) bool {
		n, werr = unix.Write(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	if errors.Is(werr, unix.EAGAIN) || errors.Is(werr, unix.EINTR) {
		return n, domain.ErrWouldBlock
	}
	return n, werr
}
