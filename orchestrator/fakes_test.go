// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/skirmish/lib/clock"
	"github.com/bureau-foundation/skirmish/lib/runstate"
	"github.com/bureau-foundation/skirmish/lib/testutil"
	"github.com/bureau-foundation/skirmish/session"
)

const waitTimeout = 5 * time.Second

var testEpoch = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

// fakeProcess exits when exit or Terminate is called.
type fakeProcess struct {
	name string
	pid  int

	once sync.Once
	done chan struct{}
	code int

	mu         sync.Mutex
	terminated bool
}

func newFakeProcess(name string, pid int) *fakeProcess {
	return &fakeProcess{name: name, pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.code = code
		close(p.done)
	})
}

func (p *fakeProcess) Name() string          { return p.name }
func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *fakeProcess) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	p.mu.Unlock()
	p.exit(0)
	return nil
}

func (p *fakeProcess) wasTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

type fakeServer struct {
	mu sync.Mutex

	hostDescriptor LaunchDescriptor
	hostErr        error
	hostRequests   []HostRequest
	hostGate       chan struct{}

	joinDescriptor LaunchDescriptor
	joinErr        error
	joins          []int

	// match delivers the matchmaker's answer.
	match        chan LaunchDescriptor
	searches     int
	stops        int
	gameEnded    int
	restoredIDs  []int
	searchActive chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		hostDescriptor: LaunchDescriptor{
			SessionID:   1234,
			FeaturedMod: "faf",
			Args:        []string{"/ratingcolor d8d8d8d8", "/numgames 3"},
		},
		joinDescriptor: LaunchDescriptor{SessionID: 30, FeaturedMod: "faf"},
		match:          make(chan LaunchDescriptor, 1),
		searchActive:   make(chan struct{}, 1),
	}
}

func (s *fakeServer) RequestHost(ctx context.Context, request HostRequest) (LaunchDescriptor, error) {
	s.mu.Lock()
	s.hostRequests = append(s.hostRequests, request)
	gate := s.hostGate
	descriptor, err := s.hostDescriptor, s.hostErr
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return LaunchDescriptor{}, ctx.Err()
		}
	}
	return descriptor, err
}

func (s *fakeServer) RequestJoin(ctx context.Context, sessionID int, password string) (LaunchDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins = append(s.joins, sessionID)
	descriptor := s.joinDescriptor
	descriptor.SessionID = sessionID
	return descriptor, s.joinErr
}

func (s *fakeServer) StartMatchmaking(ctx context.Context, featuredMod string) (LaunchDescriptor, error) {
	s.mu.Lock()
	s.searches++
	s.mu.Unlock()
	s.searchActive <- struct{}{}
	select {
	case descriptor := <-s.match:
		return descriptor, nil
	case <-ctx.Done():
		return LaunchDescriptor{}, errors.New("search aborted")
	}
}

func (s *fakeServer) StopMatchmaking() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return nil
}

func (s *fakeServer) NotifyGameEnded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gameEnded++
	return nil
}

func (s *fakeServer) RestoreSession(sessionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoredIDs = append(s.restoredIDs, sessionID)
	return nil
}

func (s *fakeServer) hostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hostRequests)
}

func (s *fakeServer) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *fakeServer) searchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches
}

func (s *fakeServer) restored() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.restoredIDs)
}

func (s *fakeServer) gameEndedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameEnded
}

func (s *fakeServer) joinedIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.joins)
}

type fakeAssets struct {
	mu       sync.Mutex
	invalid  bool
	modErr   error
	mapErr   error
	maps     []MapDescriptor
	details  []string
	detailed []string
}

func (a *fakeAssets) ExecutableValid(string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.invalid
}

func (a *fakeAssets) setValid(valid bool) {
	a.mu.Lock()
	a.invalid = !valid
	a.mu.Unlock()
}

func (a *fakeAssets) FeaturedMod(_ context.Context, technicalName string) (FeaturedMod, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return FeaturedMod{TechnicalName: technicalName}, a.modErr
}

func (a *fakeAssets) EnsureMap(_ context.Context, _ string, descriptor MapDescriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maps = append(a.maps, descriptor)
	return a.mapErr
}

func (a *fakeAssets) MapDetails(_, mapName string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detailed = append(a.detailed, mapName)
	return a.details, nil
}

func (a *fakeAssets) ensuredMaps() []MapDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.maps)
}

type fakeLauncher struct {
	mu       sync.Mutex
	nextPID  int
	gameErr  error
	launches []GameLaunch
	replays  []ReplayLaunch
	helpers  []*fakeProcess
	game     *fakeProcess
	commands []string
}

func (l *fakeLauncher) StartHelper(context.Context, string, int) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextPID++
	helper := newFakeProcess("launcher", 100+l.nextPID)
	l.helpers = append(l.helpers, helper)
	return helper, nil
}

func (l *fakeLauncher) StartGame(_ context.Context, launch GameLaunch) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gameErr != nil {
		return nil, l.gameErr
	}
	l.nextPID++
	l.launches = append(l.launches, launch)
	l.game = newFakeProcess("game.exe", 1000+l.nextPID)
	return l.game, nil
}

func (l *fakeLauncher) StartReplay(_ context.Context, launch ReplayLaunch) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextPID++
	l.replays = append(l.replays, launch)
	l.game = newFakeProcess("game.exe", 1000+l.nextPID)
	return l.game, nil
}

// SendConsole records command; "/quit" exits the running game.
func (l *fakeLauncher) SendConsole(command string) error {
	l.mu.Lock()
	l.commands = append(l.commands, command)
	game := l.game
	l.mu.Unlock()
	if command == "/quit" && game != nil {
		game.exit(0)
	}
	return nil
}

func (l *fakeLauncher) lastLaunch() (GameLaunch, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launches) == 0 {
		return GameLaunch{}, false
	}
	return l.launches[len(l.launches)-1], true
}

func (l *fakeLauncher) runningGame() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.game
}

func (l *fakeLauncher) consoleCommands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.commands)
}

func (l *fakeLauncher) launchCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launches)
}

func (l *fakeLauncher) replayCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.replays)
}

// fakeService stands in for both the relay and the ICE helper.
type fakeService struct {
	mu     sync.Mutex
	port   int
	err    error
	starts int
	stops  int
}

func (s *fakeService) start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return s.port, s.err
}

func (s *fakeService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeService) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeRelay struct{ fakeService }

func (r *fakeRelay) Start(context.Context, int) (int, error) { return r.start() }

type fakeICE struct{ fakeService }

func (i *fakeICE) Start(context.Context, int, string) (int, error) { return i.start() }

type fakePreferences struct {
	mu       sync.Mutex
	behavior Behavior
}

func (p *fakePreferences) Behavior() Behavior {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.behavior
}

type fakeNotifier struct {
	notifications chan Notification
	mu            sync.Mutex
	all           []Notification
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notifications: make(chan Notification, 64)}
}

func (n *fakeNotifier) Notify(notification Notification) {
	n.mu.Lock()
	n.all = append(n.all, notification)
	n.mu.Unlock()
	n.notifications <- notification
}

func (n *fakeNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := make([]string, 0, len(n.all))
	for _, notification := range n.all {
		keys = append(keys, notification.Key)
	}
	return keys
}

// next returns the next notification, failing after waitTimeout.
func (n *fakeNotifier) next(t *testing.T) Notification {
	t.Helper()
	return testutil.RequireReceive(t, n.notifications, waitTimeout, "waiting for notification")
}

type fakeChat struct {
	mu       sync.Mutex
	channels []string
	joined   []string
	left     []string
}

func (c *fakeChat) UserChannels(string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.channels)
}

func (c *fakeChat) JoinChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, channel)
}

func (c *fakeChat) LeaveChannel(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, channel)
}

type fakePlatform struct {
	mu      sync.Mutex
	focused bool
	focuses int
}

func (p *fakePlatform) IsWindowFocused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.focused
}

func (p *fakePlatform) FocusWindow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.focuses++
	p.focused = true
}

type fakeRunState struct {
	mu     sync.Mutex
	saved  []runstate.State
	clears int
}

func (r *fakeRunState) Save(state runstate.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, state)
	return nil
}

func (r *fakeRunState) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	return nil
}

type fakeHistory struct {
	mu       sync.Mutex
	recorded []session.Session
}

func (h *fakeHistory) Record(_ context.Context, played session.Session, _ time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorded = append(h.recorded, played)
	return nil
}

func (h *fakeHistory) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recorded)
}

type fakeLogs struct {
	mu        sync.Mutex
	submitted []int
}

func (l *fakeLogs) Submit(_ context.Context, sessionID int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted = append(l.submitted, sessionID)
	return nil
}

type fakeChooser struct {
	mu     sync.Mutex
	assets *fakeAssets
	accept bool
	calls  int
	// gate, when set, holds the chooser open until closed.
	gate chan struct{}
}

func (c *fakeChooser) ChooseExecutable(context.Context, string) (string, bool) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if !c.accept {
		return "", false
	}
	c.assets.setValid(true)
	return "/games/faf/bin/game.exe", true
}

type harness struct {
	t        *testing.T
	orch     *Orchestrator
	server   *fakeServer
	assets   *fakeAssets
	launcher *fakeLauncher
	relay    *fakeRelay
	ice      *fakeICE
	prefs    *fakePreferences
	notifier *fakeNotifier
	chat     *fakeChat
	platform *fakePlatform
	runState *fakeRunState
	history  *fakeHistory
	logs     *fakeLogs
}

func newHarness(t *testing.T, configure ...func(*harness, *Options)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		server:   newFakeServer(),
		assets:   &fakeAssets{},
		launcher: &fakeLauncher{},
		relay:    &fakeRelay{fakeService{port: 41000}},
		ice:      &fakeICE{fakeService{port: 42000}},
		prefs:    &fakePreferences{},
		notifier: newFakeNotifier(),
		chat:     &fakeChat{},
		platform: &fakePlatform{},
		runState: &fakeRunState{},
		history:  &fakeHistory{},
		logs:     &fakeLogs{},
	}
	opts := Options{
		Server:      h.server,
		Assets:      h.assets,
		Launcher:    h.launcher,
		Relay:       h.relay,
		ICE:         h.ice,
		Preferences: h.prefs,
		Notifier:    h.notifier,
		Chat:        h.chat,
		Platform:    h.platform,
		RunState:    h.runState,
		History:     h.history,
		Logs:        h.logs,
		Clock:       clock.Fake(testEpoch),
	}
	for _, fn := range configure {
		fn(h, &opts)
	}

	orch, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		orch.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return h
}

// sync waits until everything queued on the loop so far has run.
func (h *harness) sync() {
	h.t.Helper()
	if err := h.orch.onLoop(func() error { return nil }); err != nil {
		h.t.Fatalf("sync: %v", err)
	}
}

// inspect runs fn on the loop.
func (h *harness) inspect(fn func()) {
	h.t.Helper()
	if err := h.orch.onLoop(func() error { fn(); return nil }); err != nil {
		h.t.Fatalf("inspect: %v", err)
	}
}

func (h *harness) setBehavior(behavior Behavior) {
	h.prefs.mu.Lock()
	h.prefs.behavior = behavior
	h.prefs.mu.Unlock()
}

func (h *harness) player(name string, sessionID int) {
	h.orch.HandleLocalPlayer(LocalPlayer{ID: 7, Name: name, Alias: name + "-alias", SessionID: sessionID})
}

func (h *harness) snapshot(snapshots ...session.Snapshot) {
	h.orch.HandleSnapshots(snapshots...)
	h.sync()
}

// await waits for future and returns its error.
func (h *harness) await(future *Future) error {
	h.t.Helper()
	testutil.RequireClosed(h.t, future.Done(), waitTimeout, "launch did not settle")
	return future.Err()
}

// hostRunning hosts session 1234 and waits until its game runs.
func (h *harness) hostRunning() *fakeProcess {
	h.t.Helper()
	if err := h.await(h.orch.HostGame(HostRequest{Title: "Friday night", FeaturedMod: "faf", MapName: "setons"})); err != nil {
		h.t.Fatalf("HostGame: %v", err)
	}
	h.sync()
	return h.launcher.runningGame()
}

func (h *harness) eventually(condition func() bool, message string) {
	h.t.Helper()
	testutil.Eventually(h.t, waitTimeout, condition, message)
}

func snapshot(id int, host string, status session.Status, players ...string) session.Snapshot {
	return session.Snapshot{
		ID:          id,
		Host:        host,
		Title:       "Game " + host,
		MapName:     "setons",
		MapFilePath: "setons.zip/setons/abc123",
		FeaturedMod: "faf",
		NumPlayers:  len(players),
		MaxPlayers:  8,
		Status:      status,
		Kind:        session.KindCustom,
		Teams:       map[string][]string{"1": players},
	}
}
