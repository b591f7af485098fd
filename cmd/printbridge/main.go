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

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"printbridge/internal/backend"
	"printbridge/internal/config"
	"printbridge/internal/control"
	"printbridge/internal/cryptoenc"
	"printbridge/internal/heartbeat"
	"printbridge/internal/jobpump"
	"printbridge/internal/logging"
	"printbridge/internal/metrics"
	"printbridge/internal/pushhub"
	"printbridge/internal/session"
	"printbridge/internal/store"
	"printbridge/pkg/bridge"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("config: failed to load", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	enc, err := cryptoenc.New(cfg.EncryptionKey)
	if err != nil {
		logger.Error("cryptoenc: failed to derive key", "error", err)
		os.Exit(1)
	}
	if enc == nil {
		logger.Warn("no encryption key provided, session tokens will be stored in plaintext; use --encryption-key or PRINTBRIDGE_ENCRYPTION_KEY")
	}

	st := store.Open(cfg.UserDataDir, enc, cfg.PlatformPrefix, logger)

	bc := backend.New(backend.Config{
		BaseURL: cfg.BackendURL,
		APIKey:  cfg.BackendAPIKey,
		Logger:  logger,
	})

	agentCfg, _ := st.Load()
	var liveCfg atomic.Value
	liveCfg.Store(agentCfg)
	sessMgr := session.New(bc, st, func() bridge.AgentConfig { return liveCfg.Load().(bridge.AgentConfig) })

	logRing := bridge.NewLogRing()
	pump := jobpump.New(bc, sessMgr, logRing, logger, time.Now)

	hub := pushhub.New()

	core := control.New(st, pump, logRing, cfg.PlatformPrefix, logger,
		func(state control.PublicState) {
			liveCfg.Store(state.Config)
			hub.Publish(pushhub.TopicPrinterState, state)
		},
		func(row bridge.LogRow) { hub.Publish(pushhub.TopicPrinterLog, row) },
	)

	shutdownCtx, cancelShutdown := context.WithCancel(context.Background())
	go hub.Run(shutdownCtx)

	mux := http.NewServeMux()
	registerRoutes(mux, core, hub)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("printbridge: starting control surface", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("printbridge: control surface failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("printbridge: shutting down")

	final := core.GetPublicState()
	if final.ServiceRunning {
		var restaurantID string
		if final.Auth.Scope != nil {
			restaurantID = final.Auth.Scope.ID
		}
		beatCtx, beatCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _ = heartbeat.Send(beatCtx, bc, heartbeat.Beat{
			RestaurantID:    restaurantID,
			ConsumerID:      final.Config.ConsumerID,
			CachedPrinterID: final.AssignedPrinterID,
			DeviceName:      final.Config.DeviceName,
			IsActive:        false,
		})
		beatCancel()
		core.StopService()
	}
	cancelShutdown()

	shutdownTimeout, cancelTimeout := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelTimeout()
	if err := server.Shutdown(shutdownTimeout); err != nil {
		logger.Error("printbridge: forced shutdown", "error", err)
	}
	logger.Info("printbridge: exited")
}

func registerRoutes(mux *http.ServeMux, core *control.Core, hub *pushhub.Hub) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/control/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, core.GetPublicState())
	})

	mux.HandleFunc("/control/config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var patch bridge.AgentConfigPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		state, err := core.SaveConfig(patch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, state)
	})

	mux.HandleFunc("/control/session/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var raw bridge.SessionSnapshot
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		state, err := core.SyncSession(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, state)
	})

	mux.HandleFunc("/control/session/clear", func(w http.ResponseWriter, r *http.Request) {
		state, err := core.ClearSession()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, state)
	})

	mux.HandleFunc("/control/service/start", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, core.StartService())
	})

	mux.HandleFunc("/control/service/stop", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, core.StopService())
	})

	mux.HandleFunc("/control/discover/printers", func(w http.ResponseWriter, r *http.Request) {
		timeoutMs := queryInt(r, "timeoutMs")
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		records, err := core.DiscoverPrinters(ctx, timeoutMs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})

	mux.HandleFunc("/control/discover/rt-devices", func(w http.ResponseWriter, r *http.Request) {
		timeoutMs := queryInt(r, "timeoutMs")
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		records, err := core.DiscoverRtDevices(ctx, timeoutMs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	})

	mux.HandleFunc("/control/rt/test-receipt", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var target control.RtTarget
		if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
		defer cancel()
		receiptID, err := core.TestRtReceipt(ctx, target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]string{"receiptId": receiptID})
	})

	mux.HandleFunc("/stream/printer-state", hub.ServeHTTP([]string{pushhub.TopicPrinterState}))
	mux.HandleFunc("/stream/printer-log", hub.ServeHTTP([]string{pushhub.TopicPrinterLog}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
