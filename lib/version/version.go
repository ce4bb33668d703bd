// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/skirmish/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Values left unset are filled from the VCS stamp the go tool embeds.
var (
	GitCommit = ""
	GitDirty  = ""
	BuildTime = ""
	Version   = "0.1.0-dev"
)

// Build is the resolved build identity.
type Build struct {
	Commit string
	Dirty  bool
	Time   string
}

var stamped = sync.OnceValue(func() Build {
	build := Build{Commit: "unknown", Time: "unknown"}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return build
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			build.Commit = setting.Value
			if len(build.Commit) > 12 {
				build.Commit = build.Commit[:12]
			}
		case "vcs.modified":
			build.Dirty = setting.Value == "true"
		case "vcs.time":
			build.Time = setting.Value
		}
	}
	return build
})

// Current merges the -ldflags values over the embedded VCS stamp.
func Current() Build {
	build := stamped()
	if GitCommit != "" {
		build.Commit = GitCommit
	}
	if GitDirty != "" {
		build.Dirty = GitDirty == "true"
	}
	if BuildTime != "" {
		build.Time = BuildTime
	}
	return build
}

// Info returns "version (commit[-dirty], build time)".
func Info() string {
	build := Current()
	commit := build.Commit
	if build.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Version, commit, build.Time)
}

// Full is Info plus the toolchain and platform, for `skirmish version`.
func Full() string {
	return fmt.Sprintf("skirmish %s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the client to the lobby, map and upload servers.
func UserAgent() string {
	return fmt.Sprintf("skirmish/%s (%s/%s; %s)", Version, runtime.GOOS, runtime.GOARCH, Current().Commit)
}
