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

// Package route resolves a kitchen job to a physical printer target: a
// short ordered list of sources tried in turn, first enabled match wins.
package route

import (
	"printbridge/pkg/bridge"
)

// DefaultPort is substituted whenever a route's port is outside 1-65535.
const DefaultPort = 9100

// Target is the resolved physical printer for a kitchen job.
type Target struct {
	ID   string
	Name string
	Host string
	Port int
}

// ErrNoPrinterHost is returned when no step of the fallback chain yields
// a usable target.
var ErrNoPrinterHost = bridge.ErrNoPrinterHost

// Resolve walks the five-step fallback chain in order and returns the
// first enabled, addressable target.
func Resolve(job bridge.KitchenJob, live bridge.LiveRoutes) (Target, error) {
	if job.Route != nil && job.Route.ID != "" {
		if printer, ok := live.ByID[job.Route.ID]; ok && printer.Enabled && printer.Host != "" {
			return fromLivePrinter(printer), nil
		}
	}

	dept := bridge.NormalizeDepartment(job.Department)
	if printer, ok := live.ByDepartment[dept]; ok && printer.Enabled && printer.Host != "" {
		return fromLivePrinter(printer), nil
	}

	if live.DefaultPrinterID != "" {
		if printer, ok := live.ByID[live.DefaultPrinterID]; ok && printer.Enabled && printer.Host != "" {
			return fromLivePrinter(printer), nil
		}
	}

	if job.Route != nil && job.Route.Host != "" {
		return Target{
			ID:   job.Route.ID,
			Name: job.Route.Name,
			Host: job.Route.Host,
			Port: normalizePort(job.Route.Port),
		}, nil
	}

	return Target{}, ErrNoPrinterHost
}

func fromLivePrinter(p bridge.LivePrinter) Target {
	return Target{ID: p.ID, Name: p.Name, Host: p.Host, Port: normalizePort(p.Port)}
}

// normalizePort collapses any non-positive or implausible port to
// DefaultPort — the job queue cannot guarantee upstream validation.
func normalizePort(port int) int {
	if port <= 0 || port > 65535 {
		return DefaultPort
	}
	return port
}
