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

package bridge

import "time"

// RouteSnapshot is the route hint embedded in a kitchen job at claim time —
// either a printer id to look up in LiveRoutes, or an inline host/port the
// backend resolved when the job was enqueued.
type RouteSnapshot struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// KitchenItem is one line of a kitchen ticket.
type KitchenItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

// KitchenPayload is the opaque job payload for a kitchen ticket.
type KitchenPayload struct {
	RestaurantName string        `json:"restaurant_name"`
	TableNumber    string        `json:"table_number"`
	OrderNumber    int           `json:"order_number"`
	CreatedAt      string        `json:"created_at"`
	Items          []KitchenItem `json:"items"`
}

// KitchenJob is a claimed kitchen-ticket print job.
type KitchenJob struct {
	ID         string         `json:"id"`
	Department string         `json:"department"`
	Payload    KitchenPayload `json:"payload"`
	Route      *RouteSnapshot `json:"route,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FiscalRoute is the inline route carried by fiscal and non-fiscal-receipt
// job payloads — these job families have no live routing table, the
// backend always embeds the resolved device.
type FiscalRoute struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Brand   string `json:"brand"`
	APIPath string `json:"api_path"`
}

// FiscalPayload is the opaque job payload for a fiscal receipt job.
type FiscalPayload struct {
	Route         FiscalRoute `json:"route"`
	TotalAmount   float64     `json:"total_amount"`
	PaymentMethod string      `json:"payment_method"`
	TableNumber   string      `json:"table_number"`
}

// FiscalJob is a claimed fiscal-receipt print job.
type FiscalJob struct {
	ID        string        `json:"id"`
	Payload   FiscalPayload `json:"payload"`
	CreatedAt time.Time     `json:"created_at"`
}

// PricedLine is one priced row of a non-fiscal receipt.
type PricedLine struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// NonFiscalPayload is the opaque job payload for a non-fiscal receipt job.
type NonFiscalPayload struct {
	Route          FiscalRoute  `json:"route"`
	RestaurantName string       `json:"restaurant_name"`
	TableNumber    string       `json:"table_number"`
	Ayce           float64      `json:"ayce"`
	Coperto        float64      `json:"coperto"`
	Extra          float64      `json:"extra"`
	Total          float64      `json:"total"`
	PaymentMethod  string       `json:"payment_method"`
	Lines          []PricedLine `json:"lines,omitempty"`
}

// NonFiscalReceiptJob is a claimed non-fiscal-receipt print job.
type NonFiscalReceiptJob struct {
	ID        string           `json:"id"`
	Payload   NonFiscalPayload `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
}

// JobOutcome is the diagnostic metadata attached to a completion ack,
// truncated to MaxErrorMessageLen before it leaves the process.
type JobOutcome struct {
	Success   bool
	Error     string
	ReceiptID string
	Meta      map[string]any
}

// LivePrinter is one entry of the restaurant's printing settings.
type LivePrinter struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	Enabled     bool     `json:"enabled"`
	Departments []string `json:"departments"`
}

// LiveRoutes indexes the restaurant's printer table the way the route
// resolver needs it: by id, and by department with "first enabled wins".
type LiveRoutes struct {
	ByID             map[string]LivePrinter
	ByDepartment     map[string]LivePrinter
	DefaultPrinterID string
}

// BuildLiveRoutes indexes a flat printer list for routing lookups: the
// first enabled printer for a department wins, later ones are ignored.
func BuildLiveRoutes(printers []LivePrinter, defaultPrinterID string) LiveRoutes {
	lr := LiveRoutes{
		ByID:             make(map[string]LivePrinter, len(printers)),
		ByDepartment:     make(map[string]LivePrinter),
		DefaultPrinterID: defaultPrinterID,
	}
	for _, p := range printers {
		lr.ByID[p.ID] = p
		if !p.Enabled {
			continue
		}
		for _, dept := range p.Departments {
			key := normalizeDepartment(dept)
			if _, exists := lr.ByDepartment[key]; !exists {
				lr.ByDepartment[key] = p
			}
		}
	}
	return lr
}

func normalizeDepartment(dept string) string {
	if dept == "" {
		return "cucina"
	}
	out := make([]byte, 0, len(dept))
	for i := 0; i < len(dept); i++ {
		c := dept[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// NormalizeDepartment exposes the department normalization rule (lowercase,
// default "cucina") used by both the routing table and the resolver.
func NormalizeDepartment(dept string) string { return normalizeDepartment(dept) }

// RuntimeStats are the monotonic-within-a-run counters surfaced in the
// public state snapshot.
type RuntimeStats struct {
	Claimed   int        `json:"claimed"`
	Printed   int        `json:"printed"`
	Failed    int        `json:"failed"`
	LastRunAt *time.Time `json:"lastRunAt"`
	LastError string     `json:"lastError"`
}

// LogLevel is the severity of a LogRow.
type LogLevel string

const (
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// LogRow is one entry of the bounded log ring buffer.
type LogRow struct {
	At      time.Time `json:"at"`
	Level   LogLevel  `json:"level"`
	Message string    `json:"message"`
}

// RpcAvailability tracks which optional backend RPC families are known to
// exist. Flags start true and are only ever cleared, never re-set, for the
// life of a service run.
type RpcAvailability struct {
	PhysicalReceiptRPCAvailable  bool `json:"physicalReceiptRpcAvailable"`
	NonFiscalReceiptRPCAvailable bool `json:"nonFiscalReceiptRpcAvailable"`
}

// DefaultRpcAvailability returns both flags set to true, the state at the
// start of every service run.
func DefaultRpcAvailability() RpcAvailability {
	return RpcAvailability{PhysicalReceiptRPCAvailable: true, NonFiscalReceiptRPCAvailable: true}
}
