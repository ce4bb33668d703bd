// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package launch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/skirmish/lib/process"
)

// TerminateGrace is how long a child may take to exit after SIGTERM
// before the whole process group is killed.
const TerminateGrace = 5 * time.Second

// Spec describes a child to start.
type Spec struct {
	Path string
	Args []string
	Dir  string

	// LogPath receives stdout and stderr. Empty discards them.
	LogPath string

	// Console keeps a pipe to the child's stdin.
	Console bool
}

// Child is a running process. It implements the orchestrator's
// Process interface.
type Child struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	done     chan struct{}
	exitCode int
	waitErr  error

	consoleMu sync.Mutex
}

// Start runs a child in its own process group and reaps it in the
// background.
func Start(s Spec, logger *slog.Logger) (*Child, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if s.LogPath != "" {
		var err error
		logFile, err = os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log %s: %w", s.LogPath, err)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	var stdin io.WriteCloser
	if s.Console {
		var err error
		stdin, err = cmd.StdinPipe()
		if err != nil {
			closeLog(logFile)
			return nil, fmt.Errorf("creating console pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		closeLog(logFile)
		return nil, fmt.Errorf("starting %s: %w", s.Path, err)
	}

	child := &Child{
		name:   filepath.Base(s.Path),
		cmd:    cmd,
		stdin:  stdin,
		logger: logger.With("process", filepath.Base(s.Path), "pid", cmd.Process.Pid),
		done:   make(chan struct{}),
	}

	// Reap in the background so the process never lingers as a zombie.
	go func() {
		code, err := process.ExitCode(cmd.Wait())
		closeLog(logFile)
		child.exitCode = code
		child.waitErr = err
		close(child.done)
		child.logger.Debug("child exited", "exit_code", code, "error", err)
	}()

	child.logger.Info("child started", "args", s.Args)
	return child, nil
}

func closeLog(file *os.File) {
	if file != nil {
		file.Close()
	}
}

// Name is the executable's file name.
func (c *Child) Name() string { return c.name }

// PID is the process identifier.
func (c *Child) PID() int { return c.cmd.Process.Pid }

// Done is closed once the child has been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Wait blocks until exit and returns the exit code.
func (c *Child) Wait() (int, error) {
	<-c.done
	return c.exitCode, c.waitErr
}

// Terminate sends SIGTERM to the child's process group and SIGKILL
// after TerminateGrace if it is still running.
func (c *Child) Terminate() error {
	group := -c.cmd.Process.Pid
	if err := unix.Kill(group, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return fmt.Errorf("terminating %s: %w", c.name, err)
	}
	go func() {
		select {
		case <-c.done:
		case <-time.After(TerminateGrace):
			c.logger.Warn("child ignored SIGTERM, killing process group")
			if err := unix.Kill(group, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				c.logger.Warn("killing process group failed", "error", err)
			}
		}
	}()
	return nil
}

// writeConsole sends one command line to the child's stdin.
func (c *Child) writeConsole(command string) error {
	if c.stdin == nil {
		return fmt.Errorf("%s has no console", c.name)
	}
	select {
	case <-c.done:
		return fmt.Errorf("%s has exited", c.name)
	default:
	}
	c.consoleMu.Lock()
	defer c.consoleMu.Unlock()
	if _, err := io.WriteString(c.stdin, command+"\n"); err != nil {
		return fmt.Errorf("writing console command: %w", err)
	}
	return nil
}
