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

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	MinPollMs          = 1000
	MaxPollMs          = 10000
	DefaultPollMs      = 2500
	MinClaimLimit      = 1
	MaxClaimLimit      = 20
	DefaultClaimLimit  = 5
	MaxConsumerIDLen   = 64
	MaxDeviceNameLen   = 80
	DefaultPrinterPort = 9100
)

var consumerIDDisallowed = regexp.MustCompile(`[^a-z0-9._:-]+`)

// AgentConfig is the persistent configuration for one agent process.
// Every mutator goes through Sanitize so its invariants hold regardless
// of where the struct came from (disk, a partial patch from the control
// surface, or test fixtures).
type AgentConfig struct {
	ConsumerID string `json:"consumerId"`
	DeviceName string `json:"deviceName"`
	PollMs     int    `json:"pollMs"`
	ClaimLimit int    `json:"claimLimit"`
	AutoStart  bool   `json:"autoStart"`
}

// DefaultAgentConfig returns the zero-value-free default configuration,
// deriving a fallback consumer id from the local hostname.
func DefaultAgentConfig(platformPrefix string) AgentConfig {
	return AgentConfig{
		ConsumerID: fallbackConsumerID(platformPrefix),
		DeviceName: "",
		PollMs:     DefaultPollMs,
		ClaimLimit: DefaultClaimLimit,
		AutoStart:  false,
	}
}

func fallbackConsumerID(platformPrefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "agent"
	}
	return SanitizeConsumerID(fmt.Sprintf("%s-bridge-%s", platformPrefix, host))
}

// SanitizeConsumerID lowercases, replaces every run of characters outside
// [a-z0-9._:-] with "-", truncates to MaxConsumerIDLen, trims leading and
// trailing "-", and never returns empty —
// an empty result falls back to "bridge-agent". Idempotent: calling it
// twice yields the same string.
func SanitizeConsumerID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = consumerIDDisallowed.ReplaceAllString(s, "-")
	if len(s) > MaxConsumerIDLen {
		s = s[:MaxConsumerIDLen]
	}
	s = strings.Trim(s, "-")
	if s == "" {
		return "bridge-agent"
	}
	return s
}

// SanitizeDeviceName trims and truncates to MaxDeviceNameLen.
func SanitizeDeviceName(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > MaxDeviceNameLen {
		s = s[:MaxDeviceNameLen]
	}
	return s
}

// SanitizePollMs clamps to [MinPollMs, MaxPollMs], defaulting a
// non-positive value to DefaultPollMs.
func SanitizePollMs(v int) int {
	if v <= 0 {
		return DefaultPollMs
	}
	if v < MinPollMs {
		return MinPollMs
	}
	if v > MaxPollMs {
		return MaxPollMs
	}
	return v
}

// SanitizeClaimLimit clamps to [MinClaimLimit, MaxClaimLimit], defaulting
// a non-positive value to DefaultClaimLimit.
func SanitizeClaimLimit(v int) int {
	if v <= 0 {
		return DefaultClaimLimit
	}
	if v < MinClaimLimit {
		return MinClaimLimit
	}
	if v > MaxClaimLimit {
		return MaxClaimLimit
	}
	return v
}

// SanitizePrinterPort collapses any non-positive or out-of-range port to
// DefaultPrinterPort.
func SanitizePrinterPort(port int) int {
	if port < 1 || port > 65535 {
		return DefaultPrinterPort
	}
	return port
}

// Sanitize returns a copy of c with every field normalized. Calling
// Sanitize on an already-sanitized config is a no-op.
func (c AgentConfig) Sanitize(platformPrefix string) AgentConfig {
	out := AgentConfig{
		ConsumerID: SanitizeConsumerID(c.ConsumerID),
		DeviceName: SanitizeDeviceName(c.DeviceName),
		PollMs:     SanitizePollMs(c.PollMs),
		ClaimLimit: SanitizeClaimLimit(c.ClaimLimit),
		AutoStart:  c.AutoStart,
	}
	if out.ConsumerID == "bridge-agent" && strings.TrimSpace(c.ConsumerID) == "" {
		out.ConsumerID = fallbackConsumerID(platformPrefix)
	}
	return out
}

// Merge applies a partial patch on top of c, sanitizing the result.
// Only the fields whose pointers are non-nil in patch are applied, so an
// explicitly set zero value (false, 0, "") overrides c.
func (c AgentConfig) Merge(patch AgentConfigPatch, platformPrefix string) AgentConfig {
	out := c
	if patch.ConsumerID != nil {
		out.ConsumerID = *patch.ConsumerID
	}
	if patch.DeviceName != nil {
		out.DeviceName = *patch.DeviceName
	}
	if patch.PollMs != nil {
		out.PollMs = *patch.PollMs
	}
	if patch.ClaimLimit != nil {
		out.ClaimLimit = *patch.ClaimLimit
	}
	if patch.AutoStart != nil {
		out.AutoStart = *patch.AutoStart
	}
	return out.Sanitize(platformPrefix)
}

// AgentConfigPatch is the partial-update shape accepted by the control
// surface's saveConfig operation.
type AgentConfigPatch struct {
	ConsumerID *string `json:"consumerId,omitempty"`
	DeviceName *string `json:"deviceName,omitempty"`
	PollMs     *int    `json:"pollMs,omitempty"`
	ClaimLimit *int    `json:"claimLimit,omitempty"`
	AutoStart  *bool   `json:"autoStart,omitempty"`
}
