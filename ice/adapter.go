// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/skirmish/launch"
	"github.com/bureau-foundation/skirmish/lib/clock"
	"github.com/bureau-foundation/skirmish/lib/netutil"
)

const (
	// DefaultStartupTimeout bounds how long the helper may take to
	// open its control port.
	DefaultStartupTimeout = 10 * time.Second

	pollInterval = 100 * time.Millisecond
	dialTimeout  = 200 * time.Millisecond

	serversFile = "ice-servers.json"
)

// ErrHelperExited is returned by Start when the helper exits before
// its control port comes up.
var ErrHelperExited = errors.New("ice helper exited during startup")

// Config configures an Adapter.
type Config struct {
	// Binary is the helper executable.
	Binary string

	Servers []webrtc.ICEServer

	// StateDir receives the server list file.
	StateDir string

	// LogDir receives ice-adapter_<id>.log. Empty discards output.
	LogDir string

	StartupTimeout time.Duration
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Adapter runs one helper at a time. It implements the orchestrator's
// ICE interface.
type Adapter struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	child *launch.Child
}

// New returns an Adapter.
func New(config Config) (*Adapter, error) {
	if config.Binary == "" {
		return nil, fmt.Errorf("ice: Binary is required")
	}
	if config.StateDir == "" {
		return nil, fmt.Errorf("ice: StateDir is required")
	}
	if config.StartupTimeout <= 0 {
		config.StartupTimeout = DefaultStartupTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{config: config, logger: logger.With("component", "ice")}, nil
}

// ValidateServers checks that pion accepts the server list. It builds
// and immediately closes a peer connection; nothing is dialed.
func ValidateServers(servers []webrtc.ICEServer) error {
	api := webrtc.NewAPI()
	connection, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return fmt.Errorf("invalid ICE server list: %w", err)
	}
	return connection.Close()
}

// Start launches the helper for playerID and returns the GPGNet port
// the game should connect to. A helper left over from an earlier
// launch is stopped first.
func (a *Adapter) Start(ctx context.Context, playerID int, login string) (int, error) {
	a.Stop()

	if err := ValidateServers(a.config.Servers); err != nil {
		return 0, err
	}
	gpgnetPort, err := netutil.FreeLoopbackPort()
	if err != nil {
		return 0, fmt.Errorf("allocating GPGNet port: %w", err)
	}
	rpcPort, err := netutil.FreeLoopbackPort()
	if err != nil {
		return 0, fmt.Errorf("allocating RPC port: %w", err)
	}
	serversPath, err := a.writeServers()
	if err != nil {
		return 0, err
	}

	spec := launch.Spec{
		Path: a.config.Binary,
		Args: []string{
			"--id", strconv.Itoa(playerID),
			"--login", login,
			"--rpc-port", strconv.Itoa(rpcPort),
			"--gpgnet-port", strconv.Itoa(gpgnetPort),
			"--ice-servers", serversPath,
		},
	}
	if a.config.LogDir != "" {
		spec.LogPath = filepath.Join(a.config.LogDir, fmt.Sprintf("ice-adapter_%d.log", playerID))
	}
	child, err := launch.Start(spec, a.logger)
	if err != nil {
		return 0, err
	}

	if err := a.awaitReady(ctx, child, rpcPort); err != nil {
		child.Terminate()
		return 0, err
	}

	a.mu.Lock()
	a.child = child
	a.mu.Unlock()
	a.logger.Info("ice helper ready", "gpgnet_port", gpgnetPort, "rpc_port", rpcPort)
	return gpgnetPort, nil
}

// Stop terminates the running helper, if any.
func (a *Adapter) Stop() {
	a.mu.Lock()
	child := a.child
	a.child = nil
	a.mu.Unlock()
	if child == nil {
		return
	}
	if err := child.Terminate(); err != nil {
		a.logger.Warn("stopping ice helper failed", "error", err)
	}
}

func (a *Adapter) writeServers() (string, error) {
	data, err := json.Marshal(a.config.Servers)
	if err != nil {
		return "", fmt.Errorf("encoding ICE servers: %w", err)
	}
	if err := os.MkdirAll(a.config.StateDir, 0o755); err != nil {
		return "", fmt.Errorf("creating state directory: %w", err)
	}
	path := filepath.Join(a.config.StateDir, serversFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing ICE servers: %w", err)
	}
	return path, nil
}

// awaitReady polls the control port until it accepts a connection.
func (a *Adapter) awaitReady(ctx context.Context, child *launch.Child, rpcPort int) error {
	address := net.JoinHostPort("127.0.0.1", strconv.Itoa(rpcPort))
	deadline := a.config.Clock.After(a.config.StartupTimeout)
	ticker := a.config.Clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if dialable(address) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-child.Done():
			code, _ := child.Wait()
			return fmt.Errorf("%w (exit code %d)", ErrHelperExited, code)
		case <-deadline:
			return fmt.Errorf("ice helper did not open port %d within %s", rpcPort, a.config.StartupTimeout)
		case <-ticker.C:
		}
	}
}

func dialable(address string) bool {
	connection, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return false
	}
	connection.Close()
	return true
}
