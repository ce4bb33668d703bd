// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/skirmish/lib/clock"
	"github.com/bureau-foundation/skirmish/lib/version"
	"github.com/bureau-foundation/skirmish/orchestrator"
	"github.com/bureau-foundation/skirmish/session"
)

var (
	// ErrNotConnected is returned by requests made while no
	// connection is up.
	ErrNotConnected = errors.New("not connected to the lobby server")

	// ErrDisconnected fails a request whose answer was lost with the
	// connection.
	ErrDisconnected = errors.New("lobby connection lost")

	// ErrRequestPending is returned when a launch request is made
	// while another is unanswered.
	ErrRequestPending = errors.New("another launch request is pending")

	// ErrSearchStopped fails a matchmaking request the server ended.
	ErrSearchStopped = errors.New("matchmaking stopped by the server")
)

// ServerError is an error notice from the server.
type ServerError struct {
	Text string
}

func (e *ServerError) Error() string { return "lobby server: " + e.Text }

// Handler receives what the server reports. The orchestrator
// implements it.
type Handler interface {
	HandleSnapshots(snapshots ...session.Snapshot)
	HandleLocalPlayer(player orchestrator.LocalPlayer)
	HandleLoggedIn()
	HandleDisconnected()
	HandleUserOffline(name string)
}

const (
	defaultReconnectInterval = 5 * time.Second
	defaultReconnectBurst    = 3

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	maxMessageSize   = 4 << 20
)

// Config configures a Client.
type Config struct {
	// URL is the server's websocket endpoint (ws:// or wss://).
	URL string

	Login string
	Token string

	// ReconnectInterval and ReconnectBurst bound how often the client
	// dials.
	ReconnectInterval time.Duration
	ReconnectBurst    int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client is a lobby server connection.
type Client struct {
	config  Config
	clock   clock.Clock
	logger  *slog.Logger
	limiter *rate.Limiter
	dialer  websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	player   orchestrator.LocalPlayer
	loggedIn bool
	ratings  map[string]map[string]int
	waiter   *waiter
}

// waiter is the single outstanding launch request.
type waiter struct {
	matchmaking bool
	result      chan launchResult
}

type launchResult struct {
	descriptor orchestrator.LaunchDescriptor
	err        error
}

// New returns a Client. Call Run to connect.
func New(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("lobby: URL is required")
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = defaultReconnectInterval
	}
	if config.ReconnectBurst <= 0 {
		config.ReconnectBurst = defaultReconnectBurst
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		config:  config,
		clock:   config.Clock,
		logger:  logger.With("component", "lobby"),
		limiter: rate.NewLimiter(rate.Every(config.ReconnectInterval), config.ReconnectBurst),
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		ratings: make(map[string]map[string]int),
	}, nil
}

// Run connects and serves the connection until ctx ends, reconnecting
// whenever it drops.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	for {
		if err := c.waitToDial(ctx); err != nil {
			return err
		}
		err := c.session(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("lobby connection ended, reconnecting", "error", err)
	}
}

func (c *Client) waitToDial(ctx context.Context) error {
	now := c.clock.Now()
	reservation := c.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-c.clock.After(delay):
		return nil
	}
}

// session dials, logs in and reads until the connection fails.
func (c *Client) session(ctx context.Context, handler Handler) error {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if c.config.Token != "" {
		header.Set("Authorization", "Bearer "+c.config.Token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.config.URL, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.logger.Info("connected to lobby server", "url", c.config.URL)

	// Unblock the read loop on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer c.disconnected(conn, handler)

	if err := c.send(helloMessage{
		Command:   commandHello,
		Login:     c.config.Login,
		UserAgent: version.UserAgent(),
	}); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.dispatch(data, handler); err != nil {
			c.logger.Warn("ignoring malformed lobby message", "error", err)
		}
	}
}

func (c *Client) disconnected(conn *websocket.Conn, handler Handler) {
	c.writeMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.writeMu.Unlock()
	conn.Close()

	c.mu.Lock()
	wasLoggedIn := c.loggedIn
	c.loggedIn = false
	c.failWaiterLocked(ErrDisconnected)
	c.mu.Unlock()

	if wasLoggedIn {
		handler.HandleDisconnected()
	}
}

func (c *Client) dispatch(data []byte, handler Handler) error {
	header, err := decode[envelope](data)
	if err != nil {
		return err
	}
	switch header.Command {
	case commandWelcome:
		message, err := decode[welcomeMessage](data)
		if err != nil {
			return err
		}
		c.welcome(message, handler)
	case commandGameInfo:
		message, err := decode[gameInfoMessage](data)
		if err != nil {
			return err
		}
		c.gameInfo(message.snapshots(), handler)
	case commandPlayerInfo:
		message, err := decode[playerInfoMessage](data)
		if err != nil {
			return err
		}
		c.playerInfo(message.Players)
	case commandUserOffline:
		message, err := decode[userOfflineMessage](data)
		if err != nil {
			return err
		}
		handler.HandleUserOffline(message.Login)
	case commandGameLaunch:
		message, err := decode[gameLaunchMessage](data)
		if err != nil {
			return err
		}
		c.resolve(launchResult{descriptor: descriptorOf(message)}, false)
	case commandSearchInfo:
		message, err := decode[searchInfoMessage](data)
		if err != nil {
			return err
		}
		if message.State == "stop" {
			c.resolve(launchResult{err: ErrSearchStopped}, true)
		}
	case commandNotice:
		message, err := decode[noticeMessage](data)
		if err != nil {
			return err
		}
		if message.Style == "error" {
			c.resolve(launchResult{err: &ServerError{Text: message.Text}}, false)
		} else {
			c.logger.Info("lobby notice", "style", message.Style, "text", message.Text)
		}
	default:
		c.logger.Debug("unhandled lobby command", "command", header.Command)
	}
	return nil
}

func (c *Client) welcome(message welcomeMessage, handler Handler) {
	alias := message.Me.Alias
	if alias == "" {
		alias = message.Me.Login
	}
	c.mu.Lock()
	c.player = orchestrator.LocalPlayer{ID: message.Me.ID, Name: message.Me.Login, Alias: alias}
	c.loggedIn = true
	player := c.player
	c.mu.Unlock()

	c.logger.Info("logged in", "player_id", player.ID, "login", player.Name)
	handler.HandleLocalPlayer(player)
	handler.HandleLoggedIn()
}

// gameInfo forwards snapshots and then the local player if the
// snapshots moved them to another session.
func (c *Client) gameInfo(snapshots []session.Snapshot, handler Handler) {
	if len(snapshots) == 0 {
		return
	}
	c.mu.Lock()
	before := c.player.SessionID
	if c.loggedIn {
		for _, snapshot := range snapshots {
			c.player.SessionID = playerSession(c.player.Name, c.player.SessionID, snapshot)
		}
	}
	player, changed := c.player, c.player.SessionID != before
	c.mu.Unlock()

	handler.HandleSnapshots(snapshots...)
	if changed {
		handler.HandleLocalPlayer(player)
	}
}

// playerSession is the session name is in after snapshot, given the
// session they were in before.
func playerSession(name string, current int, snapshot session.Snapshot) int {
	listed := false
	for _, players := range snapshot.Teams {
		for _, player := range players {
			if player == name {
				listed = true
			}
		}
	}
	switch {
	case listed && snapshot.Status != session.StatusEnded:
		return snapshot.ID
	case snapshot.ID == current:
		return 0
	}
	return current
}

func (c *Client) playerInfo(players []playerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, player := range players {
		ratings := make(map[string]int, len(player.Ratings))
		for ratingType, rating := range player.Ratings {
			ratings[ratingType] = displayedRating(rating.Rating[0], rating.Rating[1])
		}
		c.ratings[player.Login] = ratings
	}
}

// Rating implements the orchestrator's PlayerDirectory.
func (c *Client) Rating(player, ratingType string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rating, ok := c.ratings[player][ratingType]
	return rating, ok
}

func descriptorOf(message gameLaunchMessage) orchestrator.LaunchDescriptor {
	descriptor := orchestrator.LaunchDescriptor{
		SessionID:       message.UID,
		FeaturedMod:     message.Mod,
		Args:            message.Args,
		Team:            message.Team,
		ExpectedPlayers: message.ExpectedPlayers,
		MapPosition:     message.MapPosition,
	}
	descriptor.Map.Name = message.MapName
	if archive, name, checksum, ok := session.ParseMapPath(message.MapFilePath); ok {
		descriptor.Map = orchestrator.MapDescriptor{Name: name, Checksum: checksum, Archive: archive}
	}
	return descriptor
}

// resolve answers the outstanding request. With matchmakingOnly, a
// host or join request is left alone.
func (c *Client) resolve(result launchResult, matchmakingOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiter == nil {
		if result.err == nil {
			c.logger.Warn("unrequested game launch", "session_id", result.descriptor.SessionID)
		}
		return
	}
	if matchmakingOnly && !c.waiter.matchmaking {
		return
	}
	c.waiter.result <- result
	c.waiter = nil
}

func (c *Client) failWaiterLocked(err error) {
	if c.waiter != nil {
		c.waiter.result <- launchResult{err: err}
		c.waiter = nil
	}
}

func (c *Client) send(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding lobby message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:realclock socket deadline
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing lobby message: %w", err)
	}
	return nil
}

// request sends message and waits for the launch it causes.
func (c *Client) request(ctx context.Context, message any, matchmaking bool) (orchestrator.LaunchDescriptor, error) {
	w := &waiter{matchmaking: matchmaking, result: make(chan launchResult, 1)}
	c.mu.Lock()
	if c.waiter != nil {
		c.mu.Unlock()
		return orchestrator.LaunchDescriptor{}, ErrRequestPending
	}
	c.waiter = w
	c.mu.Unlock()

	if err := c.send(message); err != nil {
		c.abandon(w)
		return orchestrator.LaunchDescriptor{}, err
	}
	select {
	case result := <-w.result:
		return result.descriptor, result.err
	case <-ctx.Done():
		c.abandon(w)
		return orchestrator.LaunchDescriptor{}, ctx.Err()
	}
}

func (c *Client) abandon(w *waiter) {
	c.mu.Lock()
	if c.waiter == w {
		c.waiter = nil
	}
	c.mu.Unlock()
}

// RequestHost asks the server to host a session.
func (c *Client) RequestHost(ctx context.Context, request orchestrator.HostRequest) (orchestrator.LaunchDescriptor, error) {
	return c.request(ctx, gameHostMessage{
		Command:            commandGameHost,
		Title:              request.Title,
		Password:           request.Password,
		Mod:                request.FeaturedMod,
		MapName:            request.MapName,
		SimMods:            request.SimMods,
		Visibility:         request.Visibility,
		RatingMin:          request.MinRating,
		RatingMax:          request.MaxRating,
		EnforceRatingRange: request.EnforceRating,
	}, false)
}

// RequestJoin asks the server to join sessionID.
func (c *Client) RequestJoin(ctx context.Context, sessionID int, password string) (orchestrator.LaunchDescriptor, error) {
	return c.request(ctx, gameJoinMessage{Command: commandGameJoin, UID: sessionID, Password: password}, false)
}

// StartMatchmaking enters the matchmaker queue and waits for a match.
func (c *Client) StartMatchmaking(ctx context.Context, featuredMod string) (orchestrator.LaunchDescriptor, error) {
	return c.request(ctx, matchmakingMessage{Command: commandMatchmaking, State: "start", Mod: featuredMod}, true)
}

// StopMatchmaking leaves the matchmaker queue.
func (c *Client) StopMatchmaking() error {
	return c.send(matchmakingMessage{Command: commandMatchmaking, State: "stop"})
}

// NotifyGameEnded tells the server the local game process exited.
func (c *Client) NotifyGameEnded() error {
	return c.send(gameStateMessage{Command: commandGameState, State: "ended"})
}

// RestoreSession reattaches a running game to its session after a
// reconnect.
func (c *Client) RestoreSession(sessionID int) error {
	return c.send(restoreMessage{Command: commandRestore, GameID: sessionID})
}
