// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assets

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/skirmish/orchestrator"
)

type executables map[string]string

func (e executables) Executable(featuredMod string) (string, bool) {
	path, ok := e[featuredMod]
	return path, ok
}

const setonsYAML = `name: setons
archive: setons.zip
crc: ABC123
description: Two islands
size: 10x10
players: 8
wind: 0-20
tide: 5
gravity: 100
`

func newStore(t *testing.T, configure ...func(*Config)) *Store {
	t.Helper()
	config := Config{Executables: executables{}, MapsDir: t.TempDir()}
	for _, fn := range configure {
		fn(&config)
	}
	store, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func installMap(t *testing.T, store *Store, featuredMod, name, metadata string) {
	t.Helper()
	dir := store.mapDir(featuredMod, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), []byte(metadata), 0o644); err != nil {
		t.Fatal(err)
	}
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for name, content := range files {
		entry, err := writer.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		entry.Write([]byte(content))
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

func TestMapDetails(t *testing.T) {
	store := newStore(t)
	installMap(t, store, "tacc", "setons", setonsYAML)

	details, err := store.MapDetails("tacc", "setons")
	if err != nil {
		t.Fatalf("MapDetails: %v", err)
	}
	want := []string{"setons", "setons.zip", "ABC123", "Two islands", "10x10", "8", "0-20", "5", "100"}
	if !slices.Equal(details, want) {
		t.Errorf("MapDetails = %q, want %q", details, want)
	}

	if _, err := store.MapDetails("tacc", "missing"); !errors.Is(err, ErrMapMissing) {
		t.Errorf("MapDetails(missing) error = %v, want ErrMapMissing", err)
	}
	if _, err := store.MapDetails("tacc", "../escape"); err == nil {
		t.Error("MapDetails accepted a path traversal")
	}
}

func TestEnsureMapInstalled(t *testing.T) {
	store := newStore(t)
	installMap(t, store, "tacc", "setons", setonsYAML)

	descriptor := orchestrator.MapDescriptor{Name: "setons", Checksum: "abc123"}
	if err := store.EnsureMap(context.Background(), "tacc", descriptor); err != nil {
		t.Errorf("EnsureMap: %v", err)
	}
}

func TestEnsureMapDownloadsDisabled(t *testing.T) {
	store := newStore(t)
	err := store.EnsureMap(context.Background(), "tacc", orchestrator.MapDescriptor{Name: "setons"})
	if !errors.Is(err, ErrMapMissing) {
		t.Errorf("EnsureMap error = %v, want ErrMapMissing", err)
	}
}

func TestEnsureMapDownloads(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"setons/map.yaml":   setonsYAML,
		"setons/setons.ota": "terrain",
	})
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/maps/setons.zip" {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	t.Cleanup(server.Close)
	store := newStore(t, func(c *Config) { c.MapsURL = server.URL + "/maps" })

	descriptor := orchestrator.MapDescriptor{Name: "setons", Archive: "setons.zip", Checksum: "ABC123"}
	if err := store.EnsureMap(context.Background(), "tacc", descriptor); err != nil {
		t.Fatalf("EnsureMap: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.mapDir("tacc", "setons"), "setons.ota")); err != nil {
		t.Errorf("map file not unpacked: %v", err)
	}

	// Installed now.
	if err := store.EnsureMap(context.Background(), "tacc", descriptor); err != nil {
		t.Fatalf("second EnsureMap: %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}

	leftovers, _ := filepath.Glob(filepath.Join(store.config.MapsDir, "tacc", ".download-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary downloads left behind: %v", leftovers)
	}
}

func TestEnsureMapChecksumMismatch(t *testing.T) {
	archive := zipArchive(t, map[string]string{"setons/map.yaml": setonsYAML})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	t.Cleanup(server.Close)
	store := newStore(t, func(c *Config) { c.MapsURL = server.URL })

	err := store.EnsureMap(context.Background(), "tacc", orchestrator.MapDescriptor{Name: "setons", Checksum: "FFFF"})
	if err == nil || !strings.Contains(err.Error(), "server expects FFFF") {
		t.Errorf("EnsureMap error = %v, want a crc mismatch", err)
	}
}

func TestEnsureMapRejectsEscapingArchive(t *testing.T) {
	archive := zipArchive(t, map[string]string{"../../evil/map.yaml": setonsYAML})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	t.Cleanup(server.Close)
	store := newStore(t, func(c *Config) { c.MapsURL = server.URL })

	err := store.EnsureMap(context.Background(), "tacc", orchestrator.MapDescriptor{Name: "evil"})
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Errorf("EnsureMap error = %v, want an escaping entry rejection", err)
	}
}

func TestFeaturedModWithoutCatalog(t *testing.T) {
	store := newStore(t)
	mod, err := store.FeaturedMod(context.Background(), "tacc")
	if err != nil {
		t.Fatalf("FeaturedMod: %v", err)
	}
	if mod.TechnicalName != "tacc" || mod.DisplayName != "tacc" {
		t.Errorf("FeaturedMod = %+v", mod)
	}
}

func TestFeaturedModCatalog(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		if r.URL.Path != "/api/featured_mods" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"technical_name":"tacc","display_name":"Total Annihilation","version":3}]`))
	}))
	t.Cleanup(server.Close)
	store := newStore(t, func(c *Config) { c.APIURL = server.URL + "/api" })

	mod, err := store.FeaturedMod(context.Background(), "tacc")
	if err != nil {
		t.Fatalf("FeaturedMod: %v", err)
	}
	want := orchestrator.FeaturedMod{TechnicalName: "tacc", DisplayName: "Total Annihilation", Version: 3}
	if mod != want {
		t.Errorf("FeaturedMod = %+v, want %+v", mod, want)
	}
	if _, err := store.FeaturedMod(context.Background(), "tacc"); err != nil {
		t.Fatalf("cached FeaturedMod: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Errorf("catalog fetched %d times, want 1", got)
	}

	if _, err := store.FeaturedMod(context.Background(), "unknown"); !errors.Is(err, ErrUnknownMod) {
		t.Errorf("FeaturedMod(unknown) error = %v, want ErrUnknownMod", err)
	}
}

func TestExecutableValid(t *testing.T) {
	dir := t.TempDir()
	game := filepath.Join(dir, "game")
	if err := os.WriteFile(game, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	store := newStore(t, func(c *Config) {
		c.Executables = executables{"tacc": game, "gone": filepath.Join(dir, "missing")}
	})

	if !store.ExecutableValid("tacc") {
		t.Error("ExecutableValid(tacc) = false, want true")
	}
	if store.ExecutableValid("gone") {
		t.Error("ExecutableValid(gone) = true for a missing file")
	}
	if store.ExecutableValid("unset") {
		t.Error("ExecutableValid(unset) = true")
	}
}
