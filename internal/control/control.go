// Print Worker Core is a desktop print bridge service.
//
// Copyright (C) 2026  Print Worker Core Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package control implements the Core singleton that owns all mutable
// agent state and exposes the operations the hosting shell calls:
// saveConfig, syncSession, clearSession, startService/stopService, the
// two discovery operations, testRtReceipt and getPublicState. Every
// mutator runs under Core's single mutex so a control operation observes
// and changes the public snapshot atomically, then broadcasts the result.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"printbridge/internal/discovery"
	"printbridge/internal/jobpump"
	"printbridge/internal/render"
	"printbridge/internal/store"
	"printbridge/internal/transport"
	"printbridge/pkg/bridge"
)

// Store is the subset of store.Store Core needs.
type Store interface {
	Load() (bridge.AgentConfig, bridge.SessionSnapshot)
	Save(cfg bridge.AgentConfig, session bridge.SessionSnapshot) error
}

var _ Store = (*store.Store)(nil)

// Pump is the subset of jobpump.Pump Core drives on its own ticker.
type Pump interface {
	Tick(ctx context.Context, cfg jobpump.Config, restaurantID string, session bridge.SessionSnapshot) (bridge.SessionSnapshot, error)
	Stats() bridge.RuntimeStats
	RpcAvailability() bridge.RpcAvailability
	AssignedPrinterID() string
	CurrentAuth() (*bridge.User, *bridge.RestaurantScope)
}

var _ Pump = (*jobpump.Pump)(nil)

// PublicAuth is the narrow view of authentication reported in the public
// snapshot: the user and scope the Job Pump last resolved, never aliasing
// Core's internal state.
type PublicAuth struct {
	SignedIn bool                    `json:"signedIn"`
	User     *bridge.User            `json:"user,omitempty"`
	Scope    *bridge.RestaurantScope `json:"scope,omitempty"`
}

// PublicState is the full snapshot pushed to the shell after every
// mutation.
type PublicState struct {
	Config            bridge.AgentConfig     `json:"config"`
	Auth              PublicAuth             `json:"auth"`
	ServiceRunning    bool                   `json:"serviceRunning"`
	Stats             bridge.RuntimeStats    `json:"stats"`
	RpcAvailability   bridge.RpcAvailability `json:"rpcAvailability"`
	AssignedPrinterID string                 `json:"assignedPrinterId"`
}

// RtTarget identifies a fiscal device for a test receipt.
type RtTarget struct {
	Host    string
	Port    int
	Brand   string
	APIPath string
}

// Core owns the single-worker agent state: config, session/auth, service
// run flags, and the Job Pump. It is the only mutator of that state: one
// struct, narrow mutexed fields, every change behind a method.
type Core struct {
	mu sync.Mutex

	cfg     bridge.AgentConfig
	session bridge.SessionSnapshot

	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	store    Store
	pump     Pump
	platform string
	logRing  *bridge.LogRing
	logger   *slog.Logger

	onState func(PublicState)
	onLog   func(bridge.LogRow)
}

// New constructs a Core, loading persisted config and session from s.
// onState and onLog may be nil, in which case broadcasts are dropped.
func New(s Store, pump Pump, logRing *bridge.LogRing, platform string, logger *slog.Logger, onState func(PublicState), onLog func(bridge.LogRow)) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, session := s.Load()
	c := &Core{
		cfg:      cfg,
		session:  session,
		store:    s,
		pump:     pump,
		platform: platform,
		logRing:  logRing,
		logger:   logger,
		onState:  onState,
		onLog:    onLog,
	}
	return c
}

func (c *Core) log(level bridge.LogLevel, msg string) {
	row := c.logRing.Append(bridge.LogRow{At: time.Now(), Level: level, Message: msg})
	if c.onLog != nil {
		c.onLog(row)
	}
}

// snapshotLocked builds the public state from Core's current fields. The
// caller must hold c.mu.
func (c *Core) snapshotLocked() PublicState {
	var stats bridge.RuntimeStats
	var avail bridge.RpcAvailability
	var assigned string
	var user *bridge.User
	var scope *bridge.RestaurantScope
	if c.pump != nil {
		stats = c.pump.Stats()
		avail = c.pump.RpcAvailability()
		assigned = c.pump.AssignedPrinterID()
		if !c.session.Empty() {
			user, scope = c.pump.CurrentAuth()
		}
	} else {
		avail = bridge.DefaultRpcAvailability()
	}

	return PublicState{
		Config: c.cfg,
		Auth: PublicAuth{
			SignedIn: user != nil,
			User:     user,
			Scope:    scope,
		},
		ServiceRunning:    c.running,
		Stats:             stats,
		RpcAvailability:   avail,
		AssignedPrinterID: assigned,
	}
}

func (c *Core) broadcastLocked() PublicState {
	state := c.snapshotLocked()
	if c.onState != nil {
		c.onState(state)
	}
	return state
}

// GetPublicState returns the current snapshot without mutating anything.
func (c *Core) GetPublicState() PublicState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// SaveConfig merges patch into the persisted config, sanitizes, persists,
// and broadcasts the result.
func (c *Core) SaveConfig(patch bridge.AgentConfigPatch) (PublicState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cfg.Merge(patch, c.platform)
	if err := c.store.Save(next, c.session); err != nil {
		return c.snapshotLocked(), fmt.Errorf("control: save config: %w", err)
	}
	wasAutoStart := c.cfg.AutoStart
	c.cfg = next

	if c.cfg.AutoStart && !wasAutoStart && !c.running && !c.session.Empty() {
		c.startLocked()
	}
	return c.broadcastLocked(), nil
}

// SyncSession accepts a new session snapshot from the shell. Empty tokens
// are rejected; an unchanged snapshot is a no-op with no disk write.
func (c *Core) SyncSession(raw bridge.SessionSnapshot) (PublicState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if raw.Empty() {
		return c.snapshotLocked(), fmt.Errorf("control: syncSession: %w", bridge.ErrSessionInvalid)
	}
	if bridge.SameSession(c.session, raw) {
		return c.snapshotLocked(), nil
	}

	if err := c.store.Save(c.cfg, raw); err != nil {
		return c.snapshotLocked(), fmt.Errorf("control: persist session: %w", err)
	}
	c.session = raw

	if c.cfg.AutoStart && !c.running {
		c.startLocked()
	}
	return c.broadcastLocked(), nil
}

// ClearSession wipes auth state, stops the service, and persists an empty
// session.
func (c *Core) ClearSession() (PublicState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.session = bridge.SessionSnapshot{}
	if err := c.store.Save(c.cfg, c.session); err != nil {
		return c.snapshotLocked(), fmt.Errorf("control: clear session: %w", err)
	}
	return c.broadcastLocked(), nil
}

// StartService is idempotent: starting an already-running service is a
// no-op.
func (c *Core) StartService() PublicState {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
	return c.broadcastLocked()
}

func (c *Core) startLocked() {
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.runLoop(c.stopCh, c.doneCh)
}

// StopService is idempotent: it cancels the next-tick timer and waits for
// an in-flight tick to finish before returning.
func (c *Core) StopService() PublicState {
	c.mu.Lock()
	c.stopLocked()
	state := c.broadcastLocked()
	c.mu.Unlock()
	return state
}

func (c *Core) stopLocked() {
	if !c.running {
		return
	}
	c.running = false
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()
	close(stopCh)
	<-doneCh
	c.mu.Lock()
}

// runLoop drives the Job Pump with a one-shot timer per iteration. It
// holds no lock across a tick; Core's fields it reads (cfg, session) are
// captured at the top of each iteration under the mutex.
func (c *Core) runLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		c.mu.Lock()
		cfg := jobpump.Config{
			ConsumerID: c.cfg.ConsumerID,
			DeviceName: c.cfg.DeviceName,
			ClaimLimit: c.cfg.ClaimLimit,
		}
		session := c.session
		pollMs := c.cfg.PollMs
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		newSession, err := c.pump.Tick(ctx, cfg, "", session)
		cancel()

		c.mu.Lock()
		if err != nil {
			c.logger.Warn("control: tick failed", "error", err)
			c.log(bridge.LogWarn, "tick failed: "+err.Error())
		} else if !bridge.SameSession(session, newSession) {
			c.session = newSession
			if saveErr := c.store.Save(c.cfg, c.session); saveErr != nil {
				c.logger.Warn("control: persist refreshed session", "error", saveErr)
			}
		}
		c.broadcastLocked()
		c.mu.Unlock()

		timer := time.NewTimer(time.Duration(pollMs) * time.Millisecond)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// DiscoverPrinters runs a bounded LAN scan for kitchen/receipt printers.
func (c *Core) DiscoverPrinters(ctx context.Context, timeoutMs int) ([]discovery.PrinterRecord, error) {
	targets, err := enumerateLAN()
	if err != nil {
		return nil, fmt.Errorf("control: enumerate interfaces: %w", err)
	}
	timeout := discovery.ClampTimeout(timeoutMs)
	return discovery.DiscoverPrinters(ctx, targets, timeout), nil
}

// DiscoverRtDevices runs a bounded LAN scan for fiscal devices.
func (c *Core) DiscoverRtDevices(ctx context.Context, timeoutMs int) ([]discovery.FiscalRecord, error) {
	targets, err := enumerateLAN()
	if err != nil {
		return nil, fmt.Errorf("control: enumerate interfaces: %w", err)
	}
	timeout := discovery.ClampTimeout(timeoutMs)
	return discovery.DiscoverRtDevices(ctx, targets, timeout), nil
}

func enumerateLAN() ([]discovery.Target, error) {
	ifaces, addrsOf, err := discovery.LiveInterfaces()
	if err != nil {
		return nil, err
	}
	return discovery.EnumerateTargets(ifaces, addrsOf)
}

// TestRtReceipt sends a minimal FPMate test document to target and
// returns the extracted receipt id, if any.
func (c *Core) TestRtReceipt(ctx context.Context, target RtTarget) (string, error) {
	if target.Host == "" {
		return "", bridge.ErrPhysicalRTHostMissing
	}
	port := target.Port
	if port <= 0 {
		port = 8008
	}
	apiPath := target.APIPath
	if apiPath == "" {
		apiPath = "/cgi-bin/fpmate.cgi"
	}

	doc := render.RenderFiscalTestReceipt()
	result, err := transport.DeliverFiscalHTTP(ctx, target.Host, port, apiPath, doc, transport.TestFiscalTimeout)
	if err != nil {
		return "", fmt.Errorf("control: test rt receipt: %w", err)
	}
	return result.ReceiptID, nil
}
