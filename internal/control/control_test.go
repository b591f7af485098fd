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

package control

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"printbridge/internal/jobpump"
	"printbridge/pkg/bridge"
)

type fakeStore struct {
	mu      sync.Mutex
	cfg     bridge.AgentConfig
	session bridge.SessionSnapshot
	saves   int
}

func (f *fakeStore) Load() (bridge.AgentConfig, bridge.SessionSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.session
}

func (f *fakeStore) Save(cfg bridge.AgentConfig, session bridge.SessionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.session = session
	f.saves++
	return nil
}

type fakePump struct {
	mu       sync.Mutex
	ticks    int
	tickErr  error
	nextSess bridge.SessionSnapshot
	user     *bridge.User
	scope    *bridge.RestaurantScope
}

func (f *fakePump) Tick(ctx context.Context, cfg jobpump.Config, restaurantID string, session bridge.SessionSnapshot) (bridge.SessionSnapshot, error) {
	f.mu.Lock()
	f.ticks++
	f.mu.Unlock()
	if f.tickErr != nil {
		return session, f.tickErr
	}
	if !f.nextSess.Empty() {
		return f.nextSess, nil
	}
	return session, nil
}

func (f *fakePump) Stats() bridge.RuntimeStats                     { return bridge.RuntimeStats{Claimed: f.ticks} }
func (f *fakePump) RpcAvailability() bridge.RpcAvailability        { return bridge.DefaultRpcAvailability() }
func (f *fakePump) AssignedPrinterID() string                      { return "p1" }
func (f *fakePump) CurrentAuth() (*bridge.User, *bridge.RestaurantScope) { return f.user, f.scope }

func newTestCore(t *testing.T) (*Core, *fakeStore, *fakePump) {
	t.Helper()
	fs := &fakeStore{cfg: bridge.DefaultAgentConfig("test"), session: bridge.SessionSnapshot{}}
	fp := &fakePump{user: &bridge.User{ID: "u1"}, scope: &bridge.RestaurantScope{ID: "r1"}}
	c := New(fs, fp, bridge.NewLogRing(), "test", nil, nil, nil)
	return c, fs, fp
}

func TestSaveConfigPersistsAndSanitizes(t *testing.T) {
	c, fs, _ := newTestCore(t)
	name := "Sala 1"
	state, err := c.SaveConfig(bridge.AgentConfigPatch{DeviceName: &name})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Config.DeviceName != "Sala 1" {
		t.Fatalf("expected device name to be persisted, got %q", state.Config.DeviceName)
	}
	if fs.saves != 1 {
		t.Fatalf("expected exactly one save, got %d", fs.saves)
	}
}

func TestSyncSessionRejectsEmptyTokens(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.SyncSession(bridge.SessionSnapshot{})
	if err == nil {
		t.Fatal("expected an error for empty session tokens")
	}
}

func TestSyncSessionNoOpOnUnchangedSnapshot(t *testing.T) {
	c, fs, _ := newTestCore(t)
	token := "tok-1"
	sess := bridge.SessionSnapshot{AccessToken: token, RefreshToken: "ref-1"}

	if _, err := c.SyncSession(sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	savesAfterFirst := fs.saves

	if _, err := c.SyncSession(sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.saves != savesAfterFirst {
		t.Fatalf("expected no additional disk write for an unchanged session, saves went from %d to %d", savesAfterFirst, fs.saves)
	}
}

func TestStartStopServiceIsIdempotent(t *testing.T) {
	c, _, fp := newTestCore(t)

	state := c.StartService()
	if !state.ServiceRunning {
		t.Fatal("expected service to report running after start")
	}
	state = c.StartService()
	if !state.ServiceRunning {
		t.Fatal("expected second start to remain a no-op, not crash")
	}

	time.Sleep(20 * time.Millisecond)

	state = c.StopService()
	if state.ServiceRunning {
		t.Fatal("expected service to report stopped after stop")
	}
	state = c.StopService()
	if state.ServiceRunning {
		t.Fatal("expected second stop to remain a no-op")
	}

	if fp.ticks == 0 {
		t.Fatal("expected at least one tick to have run")
	}
}

func TestClearSessionStopsServiceAndWipesTokens(t *testing.T) {
	c, fs, _ := newTestCore(t)
	if _, err := c.SyncSession(bridge.SessionSnapshot{AccessToken: "a", RefreshToken: "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.StartService()
	time.Sleep(10 * time.Millisecond)

	state, err := c.ClearSession()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.ServiceRunning {
		t.Fatal("expected clearSession to stop the service")
	}
	if !fs.session.Empty() {
		t.Fatal("expected persisted session to be wiped")
	}
}

func TestTestRtReceiptRequiresHost(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.TestRtReceipt(context.Background(), RtTarget{})
	if err == nil {
		t.Fatal("expected an error when host is missing")
	}
}

func TestTestRtReceiptDeliversAndExtractsReceiptID(t *testing.T) {
	c, _, _ := newTestCore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<response receipt_id="RT-ab12cd34-1700000000000" status="ok"/>`))
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	id, err := c.TestRtReceipt(context.Background(), RtTarget{Host: host, Port: port, APIPath: "/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "RT-ab12cd34-1700000000000" {
		t.Fatalf("unexpected receipt id: %q", id)
	}
}
