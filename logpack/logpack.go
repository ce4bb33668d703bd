// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logpack bundles the logs of a finished game and uploads
// them for diagnosis.
//
// The newest log of each kind (client, ICE helper, launcher helper,
// game, replay) is deflated into game_logs_<session>.zip in the log
// directory, digested with BLAKE3 and POSTed to the upload endpoint.
// The archive is removed whether or not the upload succeeds. Uploads
// are serialized: a second Submit waits for the first to finish.
package logpack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/skirmish/lib/binhash"
	"github.com/bureau-foundation/skirmish/lib/netutil"
	"github.com/bureau-foundation/skirmish/lib/version"
)

// Prefixes are the log kinds included in an archive, in archive order.
var Prefixes = []string{"client", "ice-adapter", "launcher", "game", "replay"}

// Upload request headers.
const (
	HeaderSessionID = "X-Session-Id"
	HeaderDigest    = "X-Content-Digest"
)

// Config configures a Packer.
type Config struct {
	LogDir string

	// UploadURL receives the archive. Empty packs and discards.
	UploadURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Packer implements the orchestrator's LogSubmitter.
type Packer struct {
	config Config
	logger *slog.Logger

	uploadMu sync.Mutex
}

// New returns a Packer.
func New(config Config) (*Packer, error) {
	if config.LogDir == "" {
		return nil, fmt.Errorf("logpack: LogDir is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Packer{config: config, logger: logger.With("component", "logpack")}, nil
}

// ArchivePath is where the archive of sessionID is built.
func (p *Packer) ArchivePath(sessionID int) string {
	return filepath.Join(p.config.LogDir, "game_logs_"+strconv.Itoa(sessionID)+".zip")
}

// Submit packs and uploads the logs of sessionID.
func (p *Packer) Submit(ctx context.Context, sessionID int) error {
	p.uploadMu.Lock()
	defer p.uploadMu.Unlock()

	files, err := Latest(p.config.LogDir, Prefixes)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		p.logger.Info("no logs to submit", "session_id", sessionID)
		return nil
	}

	archive := p.ArchivePath(sessionID)
	defer os.Remove(archive)
	if err := writeArchive(archive, files); err != nil {
		return err
	}
	digest, err := binhash.HashFile(archive)
	if err != nil {
		return fmt.Errorf("digesting log archive: %w", err)
	}

	if p.config.UploadURL == "" {
		p.logger.Debug("log upload disabled", "session_id", sessionID, "digest", digest)
		return nil
	}
	if err := p.upload(ctx, sessionID, archive, digest); err != nil {
		return err
	}
	p.logger.Info("game logs uploaded", "session_id", sessionID, "files", len(files), "digest", digest)
	return nil
}

func (p *Packer) upload(ctx context.Context, sessionID int, archive string, digest binhash.Digest) error {
	data, err := os.ReadFile(archive)
	if err != nil {
		return fmt.Errorf("reading log archive: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.UploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	request.Header.Set("Content-Type", "application/zip")
	request.Header.Set("User-Agent", version.UserAgent())
	request.Header.Set(HeaderSessionID, strconv.Itoa(sessionID))
	request.Header.Set(HeaderDigest, "blake3:"+digest.String())

	response, err := p.config.HTTPClient.Do(request)
	if err != nil {
		return fmt.Errorf("uploading logs: %w", err)
	}
	defer response.Body.Close()
	if err := netutil.CheckStatus(response); err != nil {
		return fmt.Errorf("uploading logs: %w", err)
	}
	netutil.Drain(response.Body)
	return nil
}

// Latest returns the most recently modified "<prefix>*.log" file in
// dir for each prefix that has one.
func Latest(dir string, prefixes []string) ([]string, error) {
	var files []string
	for _, prefix := range prefixes {
		matches, err := filepath.Glob(filepath.Join(dir, prefix+"*.log"))
		if err != nil {
			return nil, fmt.Errorf("listing %s logs: %w", prefix, err)
		}
		newest := ""
		var newestInfo os.FileInfo
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if newestInfo == nil || info.ModTime().After(newestInfo.ModTime()) {
				newest, newestInfo = match, info
			}
		}
		if newest != "" {
			files = append(files, newest)
		}
	}
	return files, nil
}

func writeArchive(path string, files []string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating log archive: %w", err)
	}
	writer := zip.NewWriter(out)
	for _, file := range files {
		if err := addFile(writer, file); err != nil {
			writer.Close()
			out.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finishing log archive: %w", err)
	}
	return out.Close()
}

func addFile(writer *zip.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer in.Close()
	entry, err := writer.CreateHeader(&zip.FileHeader{
		Name:   filepath.Base(path),
		Method: zip.Deflate,
	})
	if err != nil {
		return fmt.Errorf("adding %s to archive: %w", path, err)
	}
	if _, err := io.Copy(entry, in); err != nil {
		return fmt.Errorf("compressing %s: %w", path, err)
	}
	return nil
}
