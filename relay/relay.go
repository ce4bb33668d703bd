// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/skirmish/lib/binhash"
	"github.com/bureau-foundation/skirmish/lib/netutil"
)

// Compression of the local replay copy.
type Compression string

const (
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
	CompressionNone Compression = "none"
)

// Extension is the file suffix the compression adds to a recording.
func (c Compression) Extension() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	}
	return ""
}

// ParseCompression maps a configuration value to a Compression. Empty
// selects zstd.
func ParseCompression(value string) (Compression, error) {
	switch Compression(value) {
	case "":
		return CompressionZstd, nil
	case CompressionZstd, CompressionLZ4, CompressionNone:
		return Compression(value), nil
	}
	return "", fmt.Errorf("unknown replay compression %q", value)
}

const upstreamDialTimeout = 5 * time.Second

// Config configures a Server.
type Config struct {
	// Upstream is the replay server's host:port. Empty keeps the
	// local copy only.
	Upstream string

	// Dir receives the local copies.
	Dir string

	Compression Compression
	Logger      *slog.Logger
}

// Recording describes one finished replay stream.
type Recording struct {
	SessionID int
	Path      string

	// Size and Digest cover the raw stream, before compression.
	Size   int64
	Digest binhash.Digest

	// Forwarded is false when the upstream was unreachable or dropped
	// before the stream ended.
	Forwarded bool
}

// Server relays one stream at a time. It implements the
// orchestrator's Relay interface.
type Server struct {
	config Config
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	done     chan struct{}
	last     *Recording
}

// New returns a Server.
func New(config Config) (*Server, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("relay: Dir is required")
	}
	if config.Compression == "" {
		config.Compression = CompressionZstd
	}
	if _, err := ParseCompression(string(config.Compression)); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{config: config, logger: logger.With("component", "relay")}, nil
}

// Start listens for the game's stream of sessionID and returns the
// loopback port. A relay still running from an earlier session is
// stopped first.
func (s *Server) Start(ctx context.Context, sessionID int) (int, error) {
	s.Stop()
	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating replay directory: %w", err)
	}
	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("listening for replay stream: %w", err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.listener = listener
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.serve(listener, sessionID)
	}()

	port := netutil.LoopbackPort(listener)
	s.logger.Info("replay relay listening", "session_id", sessionID, "port", port)
	return port, nil
}

// Stop closes the listener and any stream in progress and waits for
// the recording to be finalized.
func (s *Server) Stop() {
	s.mu.Lock()
	listener, conn, done := s.listener, s.conn, s.done
	s.listener, s.conn, s.done = nil, nil, nil
	s.mu.Unlock()

	if listener == nil {
		return
	}
	listener.Close()
	if conn != nil {
		conn.Close()
	}
	<-done
}

// Last returns the most recently finished recording.
func (s *Server) Last() (Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Recording{}, false
	}
	return *s.last, true
}

// RecordingPath is where the local copy of sessionID is written.
func (s *Server) RecordingPath(sessionID int) string {
	name := strconv.Itoa(sessionID) + ".scfareplay" + s.config.Compression.Extension()
	return filepath.Join(s.config.Dir, name)
}

func (s *Server) serve(listener net.Listener, sessionID int) {
	conn, err := listener.Accept()
	if err != nil {
		if !netutil.IsExpectedCloseError(err) {
			s.logger.Warn("accepting replay stream failed", "session_id", sessionID, "error", err)
		}
		return
	}
	// One stream per session.
	listener.Close()

	s.mu.Lock()
	if s.listener != listener {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	recording, err := s.record(conn, sessionID)
	if err != nil {
		s.logger.Warn("recording replay failed", "session_id", sessionID, "error", err)
		return
	}
	s.mu.Lock()
	s.last = &recording
	s.mu.Unlock()
	s.logger.Info("replay stream finished",
		"session_id", sessionID,
		"bytes", recording.Size,
		"digest", recording.Digest,
		"forwarded", recording.Forwarded,
	)
}

func (s *Server) record(stream io.Reader, sessionID int) (Recording, error) {
	path := s.RecordingPath(sessionID)
	file, err := os.Create(path)
	if err != nil {
		return Recording{}, fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	local, err := s.compressor(file)
	if err != nil {
		return Recording{}, err
	}

	upstream := s.dialUpstream(sessionID)
	hash := binhash.NewWriter()
	writers := []io.Writer{local, hash}
	if upstream != nil {
		defer upstream.Close()
		writers = append(writers, upstream)
	}

	_, copyErr := io.Copy(io.MultiWriter(writers...), stream)
	if err := local.Close(); err != nil {
		return Recording{}, fmt.Errorf("finishing %s: %w", path, err)
	}
	if copyErr != nil && !netutil.IsExpectedCloseError(copyErr) {
		return Recording{}, fmt.Errorf("copying replay stream: %w", copyErr)
	}

	return Recording{
		SessionID: sessionID,
		Path:      path,
		Size:      hash.Len(),
		Digest:    hash.Digest(),
		Forwarded: upstream != nil && upstream.healthy(),
	}, nil
}

func (s *Server) compressor(file *os.File) (io.WriteCloser, error) {
	switch s.config.Compression {
	case CompressionLZ4:
		return lz4.NewWriter(file), nil
	case CompressionNone:
		return nopCloser{file}, nil
	}
	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return encoder, nil
}

func (s *Server) dialUpstream(sessionID int) *upstreamWriter {
	if s.config.Upstream == "" {
		return nil
	}
	conn, err := net.DialTimeout("tcp", s.config.Upstream, upstreamDialTimeout)
	if err != nil {
		s.logger.Warn("replay server unreachable, keeping local copy only",
			"session_id", sessionID, "upstream", s.config.Upstream, "error", err)
		return nil
	}
	upstream := &upstreamWriter{conn: conn, logger: s.logger.With("session_id", sessionID)}
	if _, err := fmt.Fprintf(upstream, "P/%d/\n", sessionID); err != nil {
		conn.Close()
		return nil
	}
	return upstream
}

// upstreamWriter swallows write errors after the first so a dropped
// replay server never stops the local copy.
type upstreamWriter struct {
	conn   net.Conn
	logger *slog.Logger
	failed bool
}

func (u *upstreamWriter) Write(p []byte) (int, error) {
	if u.failed {
		return len(p), nil
	}
	if _, err := u.conn.Write(p); err != nil {
		u.failed = true
		if !netutil.IsExpectedCloseError(err) {
			u.logger.Warn("replay server write failed", "error", err)
		} else {
			u.logger.Info("replay server closed the stream")
		}
	}
	return len(p), nil
}

func (u *upstreamWriter) healthy() bool { return !u.failed }

func (u *upstreamWriter) Close() error { return u.conn.Close() }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
