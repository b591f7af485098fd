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

// Package heartbeat implements the agent registration calls the Job Pump
// folds into every tick: read the server's current printer assignment,
// then register presence.
package heartbeat

import (
	"context"
	"fmt"

	"printbridge/internal/metrics"
)

// Backend is the subset of backend.Client the heartbeat needs.
type Backend interface {
	Call(ctx context.Context, fn string, args map[string]any, out any) error
}

// Beat describes one heartbeat call.
type Beat struct {
	RestaurantID        string
	ConsumerID          string
	CachedPrinterID     string
	DeviceName          string
	AppVersion          string
	IsActive            bool
}

type listAgentsRow struct {
	AgentID   string `json:"agent_id"`
	PrinterID string `json:"printer_id"`
}

type registerResponse struct {
	PrinterID string `json:"printer_id"`
}

// Send performs one heartbeat: optionally reads the server's current
// assignment for this consumer via printing_list_agents, preferring that
// value over the cached one, then calls printing_register_agent. It
// returns the printer id the server considers assigned to this agent.
func Send(ctx context.Context, backend Backend, beat Beat) (string, error) {
	printerID := beat.CachedPrinterID

	var agents []listAgentsRow
	if err := backend.Call(ctx, "printing_list_agents", map[string]any{
		"p_restaurant_id": beat.RestaurantID,
	}, &agents); err == nil {
		for _, a := range agents {
			if a.AgentID == beat.ConsumerID && a.PrinterID != "" {
				printerID = a.PrinterID
				break
			}
		}
	}

	var resp registerResponse
	args := map[string]any{
		"p_restaurant_id": beat.RestaurantID,
		"p_agent_id":      beat.ConsumerID,
		"p_printer_id":    nilIfEmpty(printerID),
		"p_device_name":   beat.DeviceName,
		"p_app_version":   beat.AppVersion,
		"p_is_active":     beat.IsActive,
	}
	if err := backend.Call(ctx, "printing_register_agent", args, &resp); err != nil {
		metrics.IncHeartbeat("error")
		return printerID, fmt.Errorf("heartbeat: register agent: %w", err)
	}
	metrics.IncHeartbeat("ok")

	if resp.PrinterID != "" {
		printerID = resp.PrinterID
	}
	return printerID, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
