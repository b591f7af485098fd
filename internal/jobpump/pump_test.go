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

package jobpump

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"printbridge/internal/backend"
	"printbridge/pkg/bridge"
)

type fakeSession struct {
	user  *bridge.User
	scope *bridge.RestaurantScope
}

func (f *fakeSession) EnsureSignedIn(ctx context.Context, session bridge.SessionSnapshot) (*bridge.User, bridge.SessionSnapshot, error) {
	return f.user, session, nil
}

func (f *fakeSession) ResolveRestaurantForCurrentUser(ctx context.Context, userID string) (*bridge.RestaurantScope, error) {
	return f.scope, nil
}

type fakeBackend struct {
	mu sync.Mutex

	kitchenJobs    []bridge.KitchenJob
	settingsRow    string
	claimErrors    map[string]error
	completeCalls  []string
	printerIDCache string
}

func (f *fakeBackend) Call(ctx context.Context, fn string, args map[string]any, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.claimErrors[fn]; ok {
		return err
	}

	switch fn {
	case "printing_list_agents":
		return json.Unmarshal([]byte(`[]`), out)
	case "printing_register_agent":
		return json.Unmarshal([]byte(`{"printer_id":""}`), out)
	case "print_claim_jobs":
		raw, _ := json.Marshal(f.kitchenJobs)
		f.kitchenJobs = nil // jobs are claimed once
		return json.Unmarshal(raw, out)
	case "print_complete_job", "physical_receipt_complete_job", "non_fiscal_receipt_complete_job":
		f.completeCalls = append(f.completeCalls, fn)
		return nil
	case "physical_receipt_claim_jobs", "non_fiscal_receipt_claim_jobs":
		return json.Unmarshal([]byte(`[]`), out)
	}
	return nil
}

func (f *fakeBackend) SelectOne(ctx context.Context, table string, query url.Values, out any) (bool, error) {
	if f.settingsRow == "" {
		return false, nil
	}
	return true, json.Unmarshal([]byte(f.settingsRow), out)
}

func TestTickHappyKitchenPath(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	job := bridge.KitchenJob{
		ID:         "abc",
		Department: "cucina",
		Payload: bridge.KitchenPayload{
			RestaurantName: "Aoyama",
			TableNumber:    "7",
			OrderNumber:    42,
			CreatedAt:      "2024-01-15T12:30:00Z",
			Items: []bridge.KitchenItem{
				{Name: "TUNA ROLL", Quantity: 2},
				{Name: "salmon nigiri", Quantity: 1, Notes: "no wasabi"},
			},
		},
		Route: &bridge.RouteSnapshot{ID: "p1"},
	}

	settingsJSON, _ := json.Marshal(map[string]any{
		"settings": map[string]any{
			"printing": map[string]any{
				"printers": []bridge.LivePrinter{
					{ID: "p1", Enabled: true, Host: host, Port: port},
				},
			},
		},
	})

	fb := &fakeBackend{kitchenJobs: []bridge.KitchenJob{job}, settingsRow: string(settingsJSON)}
	fs := &fakeSession{
		user:  &bridge.User{ID: "u1"},
		scope: &bridge.RestaurantScope{ID: "r1"},
	}

	p := New(fb, fs, bridge.NewLogRing(), nil, nil)
	_, err = p.Tick(context.Background(), Config{ConsumerID: "c1"}, "r1", bridge.SessionSnapshot{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case buf := <-received:
		if !bytesContain(buf, "COMANDA CUCINA #42") || !bytesContain(buf, "Salmon Nigiri") {
			t.Fatalf("unexpected rendered buffer: %s", buf)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("printer never received the ticket")
	}

	if len(fb.completeCalls) != 1 || fb.completeCalls[0] != "print_complete_job" {
		t.Fatalf("expected exactly one print_complete_job ack, got %v", fb.completeCalls)
	}
	stats := p.Stats()
	if stats.Claimed != 1 || stats.Printed != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// S4: a "function not found" error from a claim call flips the
// corresponding availability flag and stops further claims for the run.
func TestTickDegradesRpcAvailabilityOnFunctionNotFound(t *testing.T) {
	fb := &fakeBackend{
		claimErrors: map[string]error{
			"physical_receipt_claim_jobs": &backend.FunctionNotFoundError{Function: "physical_receipt_claim_jobs"},
		},
	}
	fs := &fakeSession{user: &bridge.User{ID: "u1"}, scope: &bridge.RestaurantScope{ID: "r1"}}
	p := New(fb, fs, bridge.NewLogRing(), nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := p.Tick(context.Background(), Config{ConsumerID: "c1"}, "r1", bridge.SessionSnapshot{}); err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
	}

	avail := p.RpcAvailability()
	if avail.PhysicalReceiptRPCAvailable {
		t.Fatal("expected physicalReceiptRpcAvailable to be false after a function-not-found error")
	}
	if !avail.NonFiscalReceiptRPCAvailable {
		t.Fatal("non-fiscal flag should be unaffected")
	}
}

func TestTickAbortsWithoutRestaurantScope(t *testing.T) {
	fb := &fakeBackend{}
	fs := &fakeSession{user: &bridge.User{ID: "u1"}, scope: nil}
	p := New(fb, fs, bridge.NewLogRing(), nil, nil)

	_, err := p.Tick(context.Background(), Config{ConsumerID: "c1"}, "", bridge.SessionSnapshot{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Stats().Claimed != 0 {
		t.Fatal("expected no claims when there is no restaurant scope")
	}
}

func TestTickReentrancyGuardSkipsOverlappingTick(t *testing.T) {
	fb := &fakeBackend{}
	fs := &fakeSession{user: &bridge.User{ID: "u1"}, scope: &bridge.RestaurantScope{ID: "r1"}}
	p := New(fb, fs, bridge.NewLogRing(), nil, nil)

	p.processing = true
	_, err := p.Tick(context.Background(), Config{ConsumerID: "c1"}, "r1", bridge.SessionSnapshot{})
	if err != nil {
		t.Fatalf("unexpected error from a skipped tick: %v", err)
	}
}

func bytesContain(haystack []byte, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack []byte, needle string) int {
	n := []byte(needle)
	for i := 0; i+len(n) <= len(haystack); i++ {
		match := true
		for j := range n {
			if haystack[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
