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

// Package config resolves the process-level settings the agent needs
// before it can talk to the backend: the user-data directory, the
// optional at-rest encryption passphrase, the backend URL/key, the log
// level and the local control-surface HTTP port. An explicit flag always
// wins, falling back to an environment variable and then a default.
package config

import (
	"flag"
	"fmt"
	"os"
)

// Process is the fully-resolved process configuration.
type Process struct {
	UserDataDir   string
	EncryptionKey string
	BackendURL    string
	BackendAPIKey string
	LogLevel      string
	ListenAddr    string
	PlatformPrefix string
}

// Load parses flags, falling back to environment variables and then
// built-in defaults, in that order of precedence.
func Load(args []string) (Process, error) {
	fs := flag.NewFlagSet("printbridge", flag.ContinueOnError)
	var (
		userDataDir   = fs.String("user-data-dir", "", "directory for the persisted {config, session} document (PRINTBRIDGE_USER_DATA_DIR)")
		encryptionKey = fs.String("encryption-key", "", "passphrase for session token encryption at rest (PRINTBRIDGE_ENCRYPTION_KEY)")
		backendURL    = fs.String("backend-url", "", "base URL of the cloud ordering backend (PRINTBRIDGE_BACKEND_URL)")
		backendAPIKey = fs.String("backend-api-key", "", "anonymous/public API key for the backend (PRINTBRIDGE_BACKEND_API_KEY)")
		logLevel      = fs.String("log-level", "", "log level: debug, info, warn, error (PRINTBRIDGE_LOG_LEVEL)")
		listenAddr    = fs.String("listen", "", "address for the local control-surface HTTP server (PRINTBRIDGE_LISTEN_ADDR)")
	)
	if err := fs.Parse(args); err != nil {
		return Process{}, err
	}

	p := Process{
		UserDataDir:    firstNonEmpty(*userDataDir, os.Getenv("PRINTBRIDGE_USER_DATA_DIR"), defaultUserDataDir()),
		EncryptionKey:  firstNonEmpty(*encryptionKey, os.Getenv("PRINTBRIDGE_ENCRYPTION_KEY"), ""),
		BackendURL:     firstNonEmpty(*backendURL, os.Getenv("PRINTBRIDGE_BACKEND_URL"), ""),
		BackendAPIKey:  firstNonEmpty(*backendAPIKey, os.Getenv("PRINTBRIDGE_BACKEND_API_KEY"), ""),
		LogLevel:       firstNonEmpty(*logLevel, os.Getenv("PRINTBRIDGE_LOG_LEVEL"), "info"),
		ListenAddr:     firstNonEmpty(*listenAddr, os.Getenv("PRINTBRIDGE_LISTEN_ADDR"), "127.0.0.1:8733"),
		PlatformPrefix: "printbridge",
	}

	if p.BackendURL == "" {
		return p, fmt.Errorf("config: PRINTBRIDGE_BACKEND_URL (or --backend-url) is required")
	}
	return p, nil
}

func defaultUserDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "."
	}
	return dir + "/printbridge"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
