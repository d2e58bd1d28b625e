//go:build linux && (amd64 || arm64)

package sysv

import (
	"bytes"
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// Semaphore numbers within the set.
const (
	semBoardBusy   = 0
	semGoClient    = 1
	semClientCount = 2
)

const (
	ipcNoWait = 0x800
	semUndo   = 0x1000
)

// sembuf mirrors struct sembuf.
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

// Channel is a registered reader of one producer channel.
type Channel struct {
	id     domain.ChannelID
	key    int
	shmid  int
	semid  int
	shm    []byte
	logger ports.Logger
	closed bool
}

// Open attaches to the channel id under home and registers as a reader.
// It returns an error wrapping domain.ErrChannelNotReady when the producer
// has not created the channel yet.
func Open(home string, id domain.ChannelID, logger ports.Logger) (*Channel, error) {
	key, err := Ftok(home, int(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrChannelNotReady, err)
	}

	shmid, err := unix.SysvShmGet(key, 0, 0)
	if err != nil {
		return nil, classifyOpen("shmget", err)
	}
	shm, err := unix.SysvShmAttach(shmid, 0, unix.SHM_RDONLY)
	if err != nil {
		return nil, classifyOpen("shmat", err)
	}

	semid, err := semget(key)
	if err != nil {
		_ = unix.SysvShmDetach(shm)
		return nil, classifyOpen("semget", err)
	}

	if err := semop(semid, []sembuf{{num: semClientCount, op: 1, flg: semUndo}}, 0); err != nil {
		_ = unix.SysvShmDetach(shm)
		return nil, fmt.Errorf("register reader: %w: %v", domain.ErrChannelFatal, err)
	}

	logger.Info("attached to producer channel",
		ports.String("channel", id.String()),
		ports.String("key", fmt.Sprintf("0x%08x", uint32(key))),
		ports.Int("size", len(shm)))
	if want := id.BufferSize(); len(shm) < want {
		logger.Debug("producer segment smaller than expected",
			ports.Int("size", len(shm)),
			ports.Int("expected", want))
	}

	return &Channel{
		id:     id,
		key:    key,
		shmid:  shmid,
		semid:  semid,
		shm:    shm,
		logger: logger,
	}, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.id.String() }

// Receive waits on GOCLIENT and copies the message out.
func (c *Channel) Receive(wait time.Duration) ([]byte, error) {
	if c.closed {
		return nil, domain.ErrChannelClosed
	}
	op := sembuf{num: semGoClient, op: -1}
	var err error
	if wait <= 0 {
		op.flg = ipcNoWait
		err = semop(c.semid, []sembuf{op}, 0)
	} else {
		err = semop(c.semid, []sembuf{op}, wait)
	}
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, domain.ErrNoMessage
		}
		return nil, fmt.Errorf("wait for message: %w: %v", domain.ErrChannelFatal, err)
	}

	n := bytes.IndexByte(c.shm, 0)
	if n < 0 {
		n = len(c.shm)
	}
	msg := make([]byte, n)
	copy(msg, c.shm[:n])
	return msg, nil
}

// Done waits for every co-reader to pick up the message, at most timeout,
// then releases BOARDBUSY. A timeout is reported as
// domain.ErrHandshakeTimeout after BOARDBUSY was released anyway.
func (c *Channel) Done(timeout time.Duration) error {
	if c.closed {
		return domain.ErrChannelClosed
	}

	var waitErr error
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			waitErr = domain.ErrHandshakeTimeout
			break
		}
		err := semop(c.semid, []sembuf{{num: semGoClient, op: 0}}, left)
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			waitErr = domain.ErrHandshakeTimeout
			break
		}
		return fmt.Errorf("wait for readers: %w: %v", domain.ErrChannelFatal, err)
	}

	var err error
	for {
		err = semop(c.semid, []sembuf{{num: semBoardBusy, op: -1, flg: ipcNoWait}}, 0)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, unix.EIDRM), errors.Is(err, unix.EINVAL):
		return fmt.Errorf("release board: %w: %v", domain.ErrChannelFatal, err)
	default:
		c.logger.Warn("cannot release producer board", ports.Err(err))
	}
	return waitErr
}

// Close unregisters the reader and detaches the segment. Calling it again
// is a no-op.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	// Decrementing with SEM_UNDO cancels the adjustment made at Open.
	if err := semop(c.semid, []sembuf{{num: semClientCount, op: -1, flg: semUndo | ipcNoWait}}, 0); err != nil {
		errs = append(errs, fmt.Errorf("unregister reader: %w", err))
	}
	if err := unix.SysvShmDetach(c.shm); err != nil {
		errs = append(errs, fmt.Errorf("shmdt: %w", err))
	}
	c.shm = nil
	return errors.Join(errs...)
}

func classifyOpen(op string, err error) error {
	if errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%s: %w", op, domain.ErrChannelNotReady)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrChannelFatal, err)
}

func semget(key int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), 0, 0)
	if errno != 0 {
		return -1, errno
	}
	return int(id), nil
}

// semop applies ops atomically. A positive timeout uses semtimedop.
func semop(semid int, ops []sembuf, timeout time.Duration) error {
	var errno syscall.Errno
	if timeout > 0 {
		ts := unix.NsecToTimespec(int64(timeout))
		_, _, errno = unix.Syscall6(unix.SYS_SEMTIMEDOP,
			uintptr(semid), uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)),
			uintptr(unsafe.Pointer(&ts)), 0, 0)
	} else {
		_, _, errno = unix.Syscall(unix.SYS_SEMOP,
			uintptr(semid), uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)))
	}
	if errno != 0 {
		return errno
	}
	return nil
}
