// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ice

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/skirmish/lib/clock"
)

// helperEnv switches the test binary into a stand-in for the helper.
const helperEnv = "SKIRMISH_ICE_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "listen":
		listener, err := net.Listen("tcp", "127.0.0.1:"+argument(os.Args, "--rpc-port"))
		if err != nil {
			os.Exit(2)
		}
		defer listener.Close()
		for {
			connection, err := listener.Accept()
			if err != nil {
				os.Exit(0)
			}
			connection.Close()
		}
	case "exit":
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
}

func argument(args []string, name string) string {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

var stunServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}}

func newAdapter(t *testing.T, mode string, configure ...func(*Config)) *Adapter {
	t.Helper()
	t.Setenv(helperEnv, mode)
	config := Config{
		Binary:   os.Args[0],
		Servers:  stunServers,
		StateDir: t.TempDir(),
		LogDir:   t.TempDir(),
	}
	for _, fn := range configure {
		fn(&config)
	}
	adapter, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(adapter.Stop)
	return adapter
}

func TestStartReturnsGPGNetPort(t *testing.T) {
	adapter := newAdapter(t, "listen")

	port, err := adapter.Start(context.Background(), 42, "alice")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if port <= 0 {
		t.Errorf("port = %d, want a positive port", port)
	}

	data, err := os.ReadFile(filepath.Join(adapter.config.StateDir, serversFile))
	if err != nil {
		t.Fatalf("reading servers file: %v", err)
	}
	var servers []webrtc.ICEServer
	if err := json.Unmarshal(data, &servers); err != nil {
		t.Fatalf("decoding servers file: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Errorf("servers = %+v, want the configured STUN server", servers)
	}

	if _, err := os.Stat(filepath.Join(adapter.config.LogDir, "ice-adapter_42.log")); err != nil {
		t.Errorf("helper log: %v", err)
	}
}

func TestStartFailsWhenHelperExits(t *testing.T) {
	adapter := newAdapter(t, "exit")

	_, err := adapter.Start(context.Background(), 1, "alice")
	if !errors.Is(err, ErrHelperExited) {
		t.Fatalf("Start error = %v, want ErrHelperExited", err)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Errorf("error = %q, want the exit code", err)
	}
}

func TestStartTimesOut(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	adapter := newAdapter(t, "hang", func(c *Config) {
		c.Clock = fake
		c.StartupTimeout = 5 * time.Second
	})

	result := make(chan error, 1)
	go func() {
		_, err := adapter.Start(context.Background(), 1, "alice")
		result <- err
	}()

	// Deadline and poll ticker.
	fake.WaitForTimers(2)
	fake.Advance(5 * time.Second)

	select {
	case err := <-result:
		if err == nil || !strings.Contains(err.Error(), "did not open port") {
			t.Errorf("Start error = %v, want a startup timeout", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after the startup timeout")
	}
}

func TestStartHonorsContext(t *testing.T) {
	adapter := newAdapter(t, "hang")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := adapter.Start(ctx, 1, "alice"); !errors.Is(err, context.Canceled) {
		t.Errorf("Start error = %v, want context.Canceled", err)
	}
}

func TestInvalidServersLaunchNothing(t *testing.T) {
	adapter := newAdapter(t, "listen", func(c *Config) {
		// TURN requires credentials.
		c.Servers = []webrtc.ICEServer{{URLs: []string{"turn:turn.example.org:3478"}}}
	})

	if _, err := adapter.Start(context.Background(), 1, "alice"); err == nil {
		t.Fatal("Start succeeded with an invalid TURN server")
	}
	if _, err := os.Stat(filepath.Join(adapter.config.StateDir, serversFile)); !os.IsNotExist(err) {
		t.Errorf("servers file stat = %v, want not exist", err)
	}
}

func TestValidateServers(t *testing.T) {
	tests := []struct {
		name    string
		servers []webrtc.ICEServer
		wantErr bool
	}{
		{"empty", nil, false},
		{"stun", stunServers, false},
		{"turn with credentials", []webrtc.ICEServer{{
			URLs:       []string{"turn:turn.example.org:3478"},
			Username:   "user",
			Credential: "secret",
		}}, false},
		{"turn without credentials", []webrtc.ICEServer{{URLs: []string{"turn:turn.example.org:3478"}}}, true},
		{"bad scheme", []webrtc.ICEServer{{URLs: []string{"http://example.org"}}}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := ValidateServers(test.servers)
			if (err != nil) != test.wantErr {
				t.Errorf("ValidateServers() error = %v, wantErr %v", err, test.wantErr)
			}
		})
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{StateDir: t.TempDir()}); err == nil {
		t.Error("New without Binary succeeded")
	}
	if _, err := New(Config{Binary: "helper"}); err == nil {
		t.Error("New without StateDir succeeded")
	}
}
