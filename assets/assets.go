// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package assets answers what game content is installed and fetches
// what is missing.
//
// Maps live under <maps>/<featured mod>/<map name>/, each with a
// map.yaml describing it. A missing map is downloaded as a zip archive
// from the configured maps URL and unpacked in place. Featured mods are
// resolved against the server's catalog when an API URL is configured.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/skirmish/lib/netutil"
	"github.com/bureau-foundation/skirmish/lib/version"
	"github.com/bureau-foundation/skirmish/orchestrator"
	"github.com/bureau-foundation/skirmish/prefs"
)

var (
	// ErrMapMissing is returned when a map is not installed and cannot
	// be downloaded.
	ErrMapMissing = errors.New("map not installed")

	// ErrUnknownMod is returned for a featured mod the catalog does
	// not list.
	ErrUnknownMod = errors.New("unknown featured mod")
)

// metadataFile describes an installed map.
const metadataFile = "map.yaml"

// MapInfo is the content of map.yaml.
type MapInfo struct {
	Name        string `yaml:"name"`
	Archive     string `yaml:"archive"`
	CRC         string `yaml:"crc"`
	Description string `yaml:"description"`
	Size        string `yaml:"size"`
	Players     int    `yaml:"players"`
	Wind        string `yaml:"wind"`
	Tide        int    `yaml:"tide"`
	Gravity     int    `yaml:"gravity"`
}

// Details is the field list the game console takes for a map change.
func (m MapInfo) Details() []string {
	return []string{
		m.Name,
		m.Archive,
		m.CRC,
		m.Description,
		m.Size,
		strconv.Itoa(m.Players),
		m.Wind,
		strconv.Itoa(m.Tide),
		strconv.Itoa(m.Gravity),
	}
}

// Executables looks up configured game executables.
type Executables interface {
	Executable(featuredMod string) (string, bool)
}

// Config configures a Store.
type Config struct {
	Executables Executables
	MapsDir     string

	// APIURL serves GET /featured_mods. Empty accepts any name.
	APIURL string

	// MapsURL is the base URL of map archives. Empty disables
	// downloads.
	MapsURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Store implements the orchestrator's Assets interface.
type Store struct {
	config Config
	logger *slog.Logger

	catalogMu sync.Mutex
	catalog   map[string]orchestrator.FeaturedMod

	// Serializes downloads so two launches never unpack the same map
	// concurrently.
	downloadMu sync.Mutex
}

// New returns a Store.
func New(config Config) (*Store, error) {
	if config.Executables == nil {
		return nil, fmt.Errorf("assets: Executables is required")
	}
	if config.MapsDir == "" {
		return nil, fmt.Errorf("assets: MapsDir is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{config: config, logger: logger.With("component", "assets")}, nil
}

// ExecutableValid reports whether featuredMod has a runnable game
// executable configured.
func (s *Store) ExecutableValid(featuredMod string) bool {
	path, ok := s.config.Executables.Executable(featuredMod)
	return ok && prefs.CheckExecutable(path) == nil
}

type catalogEntry struct {
	TechnicalName string `json:"technical_name"`
	DisplayName   string `json:"display_name"`
	Version       int    `json:"version"`
}

// FeaturedMod resolves technicalName against the catalog. The catalog
// is fetched once and refetched when a name is not in it.
func (s *Store) FeaturedMod(ctx context.Context, technicalName string) (orchestrator.FeaturedMod, error) {
	if s.config.APIURL == "" {
		return orchestrator.FeaturedMod{TechnicalName: technicalName, DisplayName: technicalName}, nil
	}
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	if mod, ok := s.catalog[technicalName]; ok {
		return mod, nil
	}
	if err := s.fetchCatalogLocked(ctx); err != nil {
		return orchestrator.FeaturedMod{}, err
	}
	if mod, ok := s.catalog[technicalName]; ok {
		return mod, nil
	}
	return orchestrator.FeaturedMod{}, fmt.Errorf("%w: %s", ErrUnknownMod, technicalName)
}

func (s *Store) fetchCatalogLocked(ctx context.Context) error {
	endpoint, err := url.JoinPath(s.config.APIURL, "featured_mods")
	if err != nil {
		return fmt.Errorf("building catalog URL: %w", err)
	}
	response, err := s.get(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("fetching featured mods: %w", err)
	}
	defer response.Body.Close()

	var entries []catalogEntry
	if err := netutil.DecodeJSON(response, &entries); err != nil {
		return fmt.Errorf("featured mods: %w", err)
	}
	s.catalog = make(map[string]orchestrator.FeaturedMod, len(entries))
	for _, entry := range entries {
		s.catalog[entry.TechnicalName] = orchestrator.FeaturedMod{
			TechnicalName: entry.TechnicalName,
			DisplayName:   entry.DisplayName,
			Version:       entry.Version,
		}
	}
	s.logger.Debug("featured mod catalog fetched", "mods", len(entries))
	return nil
}

func (s *Store) get(ctx context.Context, endpoint string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("User-Agent", version.UserAgent())
	response, err := s.config.HTTPClient.Do(request)
	if err != nil {
		return nil, err
	}
	if err := netutil.CheckStatus(response); err != nil {
		response.Body.Close()
		return nil, err
	}
	return response, nil
}

func (s *Store) mapDir(featuredMod, mapName string) string {
	return filepath.Join(s.config.MapsDir, featuredMod, mapName)
}

// Map reads the metadata of an installed map.
func (s *Store) Map(featuredMod, mapName string) (MapInfo, error) {
	if !validName(mapName) || !validName(featuredMod) {
		return MapInfo{}, fmt.Errorf("invalid map %q for %q", mapName, featuredMod)
	}
	data, err := os.ReadFile(filepath.Join(s.mapDir(featuredMod, mapName), metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return MapInfo{}, fmt.Errorf("%w: %s", ErrMapMissing, mapName)
	}
	if err != nil {
		return MapInfo{}, fmt.Errorf("reading map %s: %w", mapName, err)
	}
	var info MapInfo
	if err := yaml.Unmarshal(data, &info); err != nil {
		return MapInfo{}, fmt.Errorf("parsing %s metadata: %w", mapName, err)
	}
	if info.Name == "" {
		info.Name = mapName
	}
	return info, nil
}

// MapDetails returns the console fields of an installed map.
func (s *Store) MapDetails(featuredMod, mapName string) ([]string, error) {
	info, err := s.Map(featuredMod, mapName)
	if err != nil {
		return nil, err
	}
	return info.Details(), nil
}

// EnsureMap installs descriptor's map if it is missing. An installed
// map whose CRC differs from a non-empty descriptor checksum is
// reinstalled.
func (s *Store) EnsureMap(ctx context.Context, featuredMod string, descriptor orchestrator.MapDescriptor) error {
	s.downloadMu.Lock()
	defer s.downloadMu.Unlock()

	info, err := s.Map(featuredMod, descriptor.Name)
	switch {
	case err == nil && (descriptor.Checksum == "" || strings.EqualFold(info.CRC, descriptor.Checksum)):
		return nil
	case err != nil && !errors.Is(err, ErrMapMissing):
		return err
	}
	if s.config.MapsURL == "" {
		return fmt.Errorf("%w: %s (downloads disabled)", ErrMapMissing, descriptor.Name)
	}

	archive := descriptor.Archive
	if archive == "" {
		archive = descriptor.Name + ".zip"
	}
	if err := s.download(ctx, featuredMod, archive); err != nil {
		return fmt.Errorf("downloading map %s: %w", descriptor.Name, err)
	}

	info, err = s.Map(featuredMod, descriptor.Name)
	if err != nil {
		return fmt.Errorf("map %s not in archive %s: %w", descriptor.Name, archive, err)
	}
	if descriptor.Checksum != "" && !strings.EqualFold(info.CRC, descriptor.Checksum) {
		return fmt.Errorf("map %s: crc %s, server expects %s", descriptor.Name, info.CRC, descriptor.Checksum)
	}
	s.logger.Info("map installed", "map", descriptor.Name, "featured_mod", featuredMod)
	return nil
}

func (s *Store) download(ctx context.Context, featuredMod, archive string) error {
	endpoint, err := url.JoinPath(s.config.MapsURL, archive)
	if err != nil {
		return err
	}
	response, err := s.get(ctx, endpoint)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	target := filepath.Join(s.config.MapsDir, featuredMod)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	temporary, err := os.CreateTemp(target, ".download-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(temporary.Name())
	defer temporary.Close()

	size, err := io.Copy(temporary, response.Body)
	if err != nil {
		return fmt.Errorf("receiving archive: %w", err)
	}
	return unpack(temporary, size, target)
}

// unpack extracts a zip archive under target, rejecting entries that
// would land outside it.
func unpack(archive io.ReaderAt, size int64, target string) error {
	reader, err := zip.NewReader(archive, size)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	root := filepath.Clean(target) + string(filepath.Separator)
	for _, file := range reader.File {
		path := filepath.Join(target, file.Name)
		if !strings.HasPrefix(path, root) {
			return fmt.Errorf("archive entry %q escapes the maps directory", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := extract(file, path); err != nil {
			return err
		}
	}
	return nil
}

func extract(file *zip.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	in, err := file.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", file.Name, err)
	}
	defer in.Close()
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", file.Name, err)
	}
	return out.Close()
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
