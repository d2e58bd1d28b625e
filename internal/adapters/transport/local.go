package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// LocalTransport feeds a worker process through a pipe on its stdin.
type LocalTransport struct {
	fdWriter
	peer   string
	cmd    *exec.Cmd
	w      *os.File
	exited chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// LocalOptions configures worker processes.
type LocalOptions struct {
	// Env is appended to the broker's own environment.
	Env []string
	// Output receives the worker's stdout and stderr. Nil means the
	// broker's stderr.
	Output io.Writer
	// Exits receives one event per reaped worker. Sends never block.
	Exits  chan<- ports.ChildExit
	Logger ports.Logger
}

// StartLocal spawns the peer's command with a fresh pipe on stdin.
func StartLocal(peer *domain.Peer, opts LocalOptions) (*LocalTransport, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	cmd := exec.Command(peer.Command, peer.Args...)
	cmd.Stdin = r
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), opts.Env...)

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("start %s: %w", peer.Command, err)
	}
	// The worker holds its own copy of the read end.
	_ = r.Close()

	fw, err := newFDWriter(w)
	if err != nil {
		_ = w.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, err
	}

	t := &LocalTransport{
		fdWriter: fw,
		peer:     peer.Name,
		cmd:      cmd,
		w:        w,
		exited:   make(chan struct{}),
	}
	go t.reap(opts.Exits, opts.Logger)
	return t, nil
}

func (t *LocalTransport) reap(exits chan<- ports.ChildExit, logger ports.Logger) {
	err := t.cmd.Wait()
	close(t.exited)

	ev := ports.ChildExit{Peer: t.peer, PID: t.cmd.Process.Pid}
	var ee *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &ee):
		ev.Code = ee.ExitCode()
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			ev.Signal = ws.Signal().String()
		}
	default:
		ev.Code = -1
		ev.Signal = err.Error()
	}

	if exits == nil {
		return
	}
	select {
	case exits <- ev:
	default:
		if logger != nil {
			logger.Warn("worker exit event dropped",
				ports.String("peer", t.peer),
				ports.Int("pid", ev.PID))
		}
	}
}

// PID returns the worker's process id.
func (t *LocalTransport) PID() int { return t.cmd.Process.Pid }

// Signal delivers sig to the worker.
func (t *LocalTransport) Signal(sig os.Signal) error { return t.cmd.Process.Signal(sig) }

// Kill terminates the worker forcibly.
func (t *LocalTransport) Kill() error { return t.cmd.Process.Kill() }

// Exited is closed once the worker has been reaped.
func (t *LocalTransport) Exited() <-chan struct{} { return t.exited }

// Close closes the pipe and asks the worker to terminate.
func (t *LocalTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.w.Close()
		select {
		case <-t.exited:
		default:
			if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
				t.closeErr = errors.Join(t.closeErr, err)
			}
		}
	})
	return t.closeErr
}
