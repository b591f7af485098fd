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

// Package bridge holds the data model shared by every component of the
// print worker core: configuration, session state, job variants, and the
// live printer routing table. Types here are plain data — the packages
// under internal/ own the behavior that produces and consumes them.
package bridge

import "errors"

// Named error codes surfaced to the control surface. Callers should use
// errors.Is against these sentinels rather than matching on message text.
var (
	ErrSessionAbsent         = errors.New("SESSION_ABSENT")
	ErrSessionInvalid        = errors.New("SESSION_INVALID")
	ErrPhysicalRTHostMissing = errors.New("PHYSICAL_RT_HOST_MISSING")
	ErrPrintWorkerUnavailable = errors.New("PRINT_WORKER_UNAVAILABLE")
	ErrNoPrinterHost         = errors.New("NO_PRINTER_HOST")
)

// MaxErrorMessageLen is the truncation limit applied to any error string
// before it is sent in ack metadata.
const MaxErrorMessageLen = 500

// TruncateError truncates msg to MaxErrorMessageLen runes, the shared rule
// for every diagnostic string that crosses the wire to the backend.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorMessageLen {
		return msg
	}
	return string(r[:MaxErrorMessageLen])
}
