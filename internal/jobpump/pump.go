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

// Package jobpump implements the Job Pump tick loop: one serial tick per
// invocation that signs in, heartbeats, claims every job family in turn,
// renders, delivers, and acks. Config carries its own defaulting, and a
// bool re-entrancy guard (rather than a channel) keeps overlapping ticks
// from running concurrently.
package jobpump

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"printbridge/internal/backend"
	"printbridge/internal/heartbeat"
	"printbridge/internal/metrics"
	"printbridge/internal/render"
	"printbridge/internal/route"
	"printbridge/internal/transport"
	"printbridge/pkg/bridge"
)

// Backend is the subset of backend.Client the Job Pump needs.
type Backend interface {
	Call(ctx context.Context, fn string, args map[string]any, out any) error
	SelectOne(ctx context.Context, table string, query url.Values, out any) (bool, error)
}

var _ Backend = (*backend.Client)(nil)

// SessionProvider is the subset of session.Manager the Job Pump needs.
type SessionProvider interface {
	EnsureSignedIn(ctx context.Context, session bridge.SessionSnapshot) (*bridge.User, bridge.SessionSnapshot, error)
	ResolveRestaurantForCurrentUser(ctx context.Context, userID string) (*bridge.RestaurantScope, error)
}

// Config controls Job Pump identity and claim behavior.
type Config struct {
	ConsumerID string
	DeviceName string
	AppVersion string
	ClaimLimit int
}

func (c Config) withDefaults() Config {
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = bridge.DefaultClaimLimit
	}
	if c.AppVersion == "" {
		c.AppVersion = "dev"
	}
	return c
}

// Pump owns the mutable runtime state of one service run: rpc
// availability flags, stats, and the current printer assignment.
type Pump struct {
	backend Backend
	session SessionProvider
	logRing *bridge.LogRing
	logger  *slog.Logger
	now     func() time.Time

	mu                sync.Mutex
	processing        bool
	rpcAvail          bridge.RpcAvailability
	stats             bridge.RuntimeStats
	assignedPrinterID string
	lastUser          *bridge.User
	lastScope         *bridge.RestaurantScope
}

// New constructs a Pump with fresh-run RPC availability flags.
func New(b Backend, sess SessionProvider, logRing *bridge.LogRing, logger *slog.Logger, now func() time.Time) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Pump{
		backend:  b,
		session:  sess,
		logRing:  logRing,
		logger:   logger,
		now:      now,
		rpcAvail: bridge.DefaultRpcAvailability(),
	}
}

// Stats returns a copy of the current runtime counters.
func (p *Pump) Stats() bridge.RuntimeStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// RpcAvailability returns a copy of the current degradation flags.
func (p *Pump) RpcAvailability() bridge.RpcAvailability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rpcAvail
}

// AssignedPrinterID returns the printer id the backend last assigned to
// this agent via heartbeat.
func (p *Pump) AssignedPrinterID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.assignedPrinterID
}

// CurrentAuth returns the user and restaurant scope resolved by the most
// recent successful tick, or nil, nil before the first successful tick.
func (p *Pump) CurrentAuth() (*bridge.User, *bridge.RestaurantScope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUser, p.lastScope
}

// beginTick enforces that at most one tick runs at a time; it returns
// false if a tick is already running.
func (p *Pump) beginTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.processing {
		return false
	}
	p.processing = true
	return true
}

func (p *Pump) endTick() {
	p.mu.Lock()
	p.processing = false
	p.mu.Unlock()
}

func (p *Pump) log(level bridge.LogLevel, msg string) {
	if p.logRing == nil {
		return
	}
	p.logRing.Append(bridge.LogRow{At: p.now(), Level: level, Message: msg})
}

// Tick runs one Job Pump cycle. It returns the (possibly refreshed)
// session snapshot; the caller persists it if it observes a change (the
// SessionProvider already does so internally on refresh). If no tick
// could be started because one is already in flight, it returns
// immediately with the input session and a nil error.
func (p *Pump) Tick(ctx context.Context, cfg Config, restaurantID string, session bridge.SessionSnapshot) (bridge.SessionSnapshot, error) {
	if !p.beginTick() {
		return session, nil
	}
	defer p.endTick()

	cfg = cfg.withDefaults()
	start := p.now()
	err := p.runTick(ctx, cfg, restaurantID, &session)
	metrics.ObserveTickDuration(p.now().Sub(start))

	p.mu.Lock()
	now := p.now()
	p.stats.LastRunAt = &now
	if err != nil {
		p.stats.LastError = err.Error()
	} else {
		p.stats.LastError = ""
	}
	p.mu.Unlock()

	return session, err
}

func (p *Pump) runTick(ctx context.Context, cfg Config, restaurantID string, session *bridge.SessionSnapshot) error {
	user, newSession, err := p.session.EnsureSignedIn(ctx, *session)
	if err != nil {
		p.mu.Lock()
		p.lastUser, p.lastScope = nil, nil
		p.mu.Unlock()
		return fmt.Errorf("jobpump: ensure signed in: %w", err)
	}
	*session = newSession

	scope, err := p.session.ResolveRestaurantForCurrentUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("jobpump: resolve restaurant: %w", err)
	}
	p.mu.Lock()
	p.lastUser, p.lastScope = user, scope
	p.mu.Unlock()
	if scope == nil {
		return nil
	}
	if restaurantID == "" {
		restaurantID = scope.ID
	}

	printerID, err := heartbeat.Send(ctx, p.backend, heartbeat.Beat{
		RestaurantID:    restaurantID,
		ConsumerID:      cfg.ConsumerID,
		CachedPrinterID: p.AssignedPrinterID(),
		DeviceName:      cfg.DeviceName,
		AppVersion:      cfg.AppVersion,
		IsActive:        true,
	})
	if err != nil {
		p.log(bridge.LogWarn, "heartbeat failed: "+err.Error())
	} else {
		p.mu.Lock()
		p.assignedPrinterID = printerID
		p.mu.Unlock()
	}

	if err := p.processKitchenJobs(ctx, cfg, restaurantID); err != nil {
		return err
	}

	if p.RpcAvailability().PhysicalReceiptRPCAvailable {
		p.processFiscalJobs(ctx, cfg, restaurantID)
	}
	if p.RpcAvailability().NonFiscalReceiptRPCAvailable {
		p.processNonFiscalJobs(ctx, cfg, restaurantID)
	}

	return nil
}

func (p *Pump) processKitchenJobs(ctx context.Context, cfg Config, restaurantID string) error {
	var jobs []bridge.KitchenJob
	err := p.backend.Call(ctx, "print_claim_jobs", map[string]any{
		"p_restaurant_id": restaurantID,
		"p_consumer_id":   cfg.ConsumerID,
		"p_limit":         cfg.ClaimLimit,
	}, &jobs)
	if err != nil {
		return fmt.Errorf("jobpump: claim kitchen jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}
	metrics.IncClaimed(metrics.FamilyKitchen, len(jobs))
	p.addClaimed(len(jobs))

	live, err := p.fetchLiveRoutes(ctx, restaurantID)
	if err != nil {
		p.log(bridge.LogWarn, "fetch live routes failed: "+err.Error())
		live = bridge.LiveRoutes{ByID: map[string]bridge.LivePrinter{}, ByDepartment: map[string]bridge.LivePrinter{}}
	}

	for _, job := range jobs {
		p.handleKitchenJob(ctx, cfg, job, live)
	}
	return nil
}

func (p *Pump) handleKitchenJob(ctx context.Context, cfg Config, job bridge.KitchenJob, live bridge.LiveRoutes) {
	target, err := route.Resolve(job, live)
	if err != nil {
		p.completeKitchenJob(ctx, cfg, job.ID, false, err.Error())
		return
	}

	buf := render.RenderKitchenTicket(job, job.Payload.RestaurantName)
	if err := transport.DeliverTCP(ctx, target.Host, target.Port, buf, transport.DefaultTCPTimeout); err != nil {
		p.completeKitchenJob(ctx, cfg, job.ID, false, err.Error())
		return
	}
	p.completeKitchenJob(ctx, cfg, job.ID, true, "")
}

func (p *Pump) completeKitchenJob(ctx context.Context, cfg Config, jobID string, success bool, errMsg string) {
	if success {
		metrics.IncPrinted(metrics.FamilyKitchen)
		p.addPrinted()
	} else {
		metrics.IncFailed(metrics.FamilyKitchen)
		p.addFailed()
	}
	args := map[string]any{
		"p_job_id":      jobID,
		"p_consumer_id": cfg.ConsumerID,
		"p_success":     success,
		"p_error":       errOrNil(errMsg),
	}
	var ignored json.RawMessage
	if err := p.backend.Call(ctx, "print_complete_job", args, &ignored); err != nil {
		p.log(bridge.LogWarn, "ack failed for kitchen job "+jobID+": "+err.Error())
	}
}

func (p *Pump) processFiscalJobs(ctx context.Context, cfg Config, restaurantID string) {
	var jobs []bridge.FiscalJob
	err := p.backend.Call(ctx, "physical_receipt_claim_jobs", map[string]any{
		"p_restaurant_id": restaurantID,
		"p_consumer_id":   cfg.ConsumerID,
		"p_limit":         cfg.ClaimLimit,
	}, &jobs)
	if err != nil {
		p.degradeOnMissingFunction(backend.IsFunctionNotFound(err), &p.rpcAvail.PhysicalReceiptRPCAvailable, "physical_receipt_claim_jobs")
		return
	}
	metrics.IncClaimed(metrics.FamilyFiscal, len(jobs))
	p.addClaimed(len(jobs))

	for _, job := range jobs {
		doc := render.RenderFiscalReceipt(job)
		result, err := transport.DeliverFiscalHTTP(ctx, job.Payload.Route.Host, job.Payload.Route.Port, job.Payload.Route.APIPath, doc, transport.DefaultFiscalTimeout)
		if err != nil {
			p.completeFiscalJob(ctx, cfg, job.ID, false, "", err.Error())
			continue
		}
		receiptID := result.ReceiptID
		if receiptID == "" {
			receiptID = syntheticReceiptID(p.now())
		}
		p.completeFiscalJob(ctx, cfg, job.ID, true, receiptID, "")
	}
}

func (p *Pump) completeFiscalJob(ctx context.Context, cfg Config, jobID string, success bool, receiptID, errMsg string) {
	if success {
		metrics.IncPrinted(metrics.FamilyFiscal)
		p.addPrinted()
	} else {
		metrics.IncFailed(metrics.FamilyFiscal)
		p.addFailed()
	}
	args := map[string]any{
		"p_job_id":      jobID,
		"p_consumer_id": cfg.ConsumerID,
		"p_success":     success,
		"p_receipt_id":  errOrNil(receiptID),
		"p_error":       errOrNil(errMsg),
	}
	var ignored json.RawMessage
	if err := p.backend.Call(ctx, "physical_receipt_complete_job", args, &ignored); err != nil {
		p.degradeOnMissingFunction(backend.IsFunctionNotFound(err), &p.rpcAvail.PhysicalReceiptRPCAvailable, "physical_receipt_complete_job")
	}
}

func (p *Pump) processNonFiscalJobs(ctx context.Context, cfg Config, restaurantID string) {
	var jobs []bridge.NonFiscalReceiptJob
	err := p.backend.Call(ctx, "non_fiscal_receipt_claim_jobs", map[string]any{
		"p_restaurant_id": restaurantID,
		"p_consumer_id":   cfg.ConsumerID,
		"p_limit":         cfg.ClaimLimit,
	}, &jobs)
	if err != nil {
		p.degradeOnMissingFunction(backend.IsFunctionNotFound(err), &p.rpcAvail.NonFiscalReceiptRPCAvailable, "non_fiscal_receipt_claim_jobs")
		return
	}
	metrics.IncClaimed(metrics.FamilyNonFiscal, len(jobs))
	p.addClaimed(len(jobs))

	for _, job := range jobs {
		buf := render.RenderNonFiscalReceipt(job)
		err := transport.DeliverTCP(ctx, job.Payload.Route.Host, job.Payload.Route.Port, buf, transport.DefaultTCPTimeout)
		if err != nil {
			p.completeNonFiscalJob(ctx, cfg, job.ID, false, err.Error())
			continue
		}
		p.completeNonFiscalJob(ctx, cfg, job.ID, true, "")
	}
}

func (p *Pump) completeNonFiscalJob(ctx context.Context, cfg Config, jobID string, success bool, errMsg string) {
	if success {
		metrics.IncPrinted(metrics.FamilyNonFiscal)
		p.addPrinted()
	} else {
		metrics.IncFailed(metrics.FamilyNonFiscal)
		p.addFailed()
	}
	args := map[string]any{
		"p_job_id":      jobID,
		"p_consumer_id": cfg.ConsumerID,
		"p_success":     success,
		"p_error":       errOrNil(errMsg),
	}
	var ignored json.RawMessage
	if err := p.backend.Call(ctx, "non_fiscal_receipt_complete_job", args, &ignored); err != nil {
		p.degradeOnMissingFunction(backend.IsFunctionNotFound(err), &p.rpcAvail.NonFiscalReceiptRPCAvailable, "non_fiscal_receipt_complete_job")
	}
}

// degradeOnMissingFunction flips the given availability flag off exactly
// once and logs a one-time warning.
func (p *Pump) degradeOnMissingFunction(missing bool, flag *bool, fn string) {
	if !missing {
		return
	}
	p.mu.Lock()
	wasAvailable := *flag
	*flag = false
	p.mu.Unlock()
	if wasAvailable {
		p.log(bridge.LogWarn, fmt.Sprintf("backend function %s not found, disabling this job family for the run", fn))
	}
}

type restaurantSettingsRow struct {
	Settings struct {
		Printing struct {
			Printers         []bridge.LivePrinter `json:"printers"`
			DefaultPrinterID string               `json:"default_printer_id"`
		} `json:"printing"`
	} `json:"settings"`
}

func (p *Pump) fetchLiveRoutes(ctx context.Context, restaurantID string) (bridge.LiveRoutes, error) {
	var row restaurantSettingsRow
	ok, err := p.backend.SelectOne(ctx, "restaurants", url.Values{"id": {"eq." + restaurantID}}, &row)
	if err != nil {
		return bridge.LiveRoutes{}, err
	}
	if !ok {
		return bridge.BuildLiveRoutes(nil, ""), nil
	}
	return bridge.BuildLiveRoutes(row.Settings.Printing.Printers, row.Settings.Printing.DefaultPrinterID), nil
}

func (p *Pump) addClaimed(n int) {
	p.mu.Lock()
	p.stats.Claimed += n
	p.mu.Unlock()
}

func (p *Pump) addPrinted() {
	p.mu.Lock()
	p.stats.Printed++
	p.mu.Unlock()
}

func (p *Pump) addFailed() {
	p.mu.Lock()
	p.stats.Failed++
	p.mu.Unlock()
}

// syntheticReceiptID builds an RT-<id8>-<now> fallback id, used when a
// fiscal device's response carries no recognizable receipt identifier.
func syntheticReceiptID(now time.Time) string {
	id8 := uuid.New().String()[:8]
	return fmt.Sprintf("RT-%s-%d", id8, now.UnixMilli())
}

func errOrNil(s string) any {
	if s == "" {
		return nil
	}
	return bridge.TruncateError(s)
}
