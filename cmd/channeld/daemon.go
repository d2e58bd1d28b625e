package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/bft-labs/channeld/internal/adapters/fs"
	"github.com/bft-labs/channeld/internal/cliconfig"
	"github.com/bft-labs/channeld/internal/ports"
)

// daemonEnv marks the detached copy of the process.
const daemonEnv = "CHANNELD_DAEMONIZED"

func isDaemonChild() bool { return os.Getenv(daemonEnv) == "1" }

// daemonize starts a detached copy of this process in a new session with
// the same arguments, records its pid and returns. The copy logs to the
// configured log file; its stdio is /dev/null.
func daemonize(cfg cliconfig.Config, logger ports.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}
	defer devnull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}

	pid := cmd.Process.Pid
	if cfg.PIDFile != "" {
		if err := fs.NewPIDFile(cfg.PIDFile).Write(pid); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
	}
	logger.Info("started in background", ports.Int("pid", pid))
	return cmd.Process.Release()
}
