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

// Package render turns job payloads into printer wire formats: ESC/POS
// byte streams for kitchen and non-fiscal-receipt tickets, and Epson
// FPMate XML documents for fiscal receipts. Each function is a pure
// transform from payload to bytes — no I/O, no clock reads beyond what
// the caller passes in — so every format can be unit-tested without a
// network.
package render

import (
	"fmt"
	"strings"
	"time"

	"printbridge/pkg/bridge"
)

const (
	escInit          = "\x1b\x40"     // ESC @
	escFontB         = "\x1b\x4d\x01" // ESC M 1
	escCharSpacing2  = "\x1b\x20\x02" // ESC SP 2
	ticketWidth      = 42
	notesWrapWidth   = 40
	sizeNormal  byte = 0x00
	sizeDouble  byte = 0x11
)

// lineClass describes how a rendered line is emphasized.
type lineClass struct {
	bold bool
	size byte
}

var (
	classPlain = lineClass{bold: false, size: sizeNormal}
	classBig   = lineClass{bold: true, size: sizeDouble}
)

// RenderKitchenTicket builds the ESC/POS byte stream for a kitchen job.
func RenderKitchenTicket(job bridge.KitchenJob, restaurantName string) []byte {
	var buf strings.Builder
	buf.WriteString(escInit)
	buf.WriteString(escFontB)
	buf.WriteString(escCharSpacing2)

	dept := strings.ToUpper(bridge.NormalizeDepartment(job.Department))
	writeLine(&buf, fmt.Sprintf("COMANDA %s #%d", dept, job.Payload.OrderNumber), classPlain)
	writeLine(&buf, fmt.Sprintf("TAVOLO: %s", strings.ToUpper(job.Payload.TableNumber)), classBig)

	if ts, ok := parseTicketTimestamp(job.Payload.CreatedAt); ok {
		writeLine(&buf, fmt.Sprintf("DATA: %d/%d/%d %02d:%02d", ts.Year(), int(ts.Month()), ts.Day(), ts.Hour(), ts.Minute()), classPlain)
	}

	writeLine(&buf, strings.Repeat("-", ticketWidth), classPlain)

	for _, item := range job.Payload.Items {
		name := prettifyDishName(item.Name)
		itemLine := fmt.Sprintf("%dx %s", item.Quantity, name)
		for _, wrapped := range wrapText(itemLine, ticketWidth) {
			writeLine(&buf, wrapped, classBig)
		}
		if strings.TrimSpace(item.Notes) != "" {
			noteLine := "Nota: " + item.Notes
			for _, wrapped := range wrapText(noteLine, notesWrapWidth) {
				writeLine(&buf, " "+wrapped, classPlain)
			}
		}
	}

	writeLine(&buf, fmt.Sprintf("-- %s --", restaurantName), classPlain)

	buf.WriteString("\x1b\x64\x07") // ESC d 7 — feed 7 lines
	buf.WriteString("\x1d\x56\x00") // GS V 0 — partial cut

	return []byte(buf.String())
}

func writeLine(buf *strings.Builder, text string, class lineClass) {
	if class.bold {
		buf.WriteString("\x1b\x45\x01")
	} else {
		buf.WriteString("\x1b\x45\x00")
	}
	buf.WriteString("\x1d\x21")
	buf.WriteByte(class.size)
	buf.WriteString(text)
	buf.WriteByte('\n')
}

// wrapText breaks text into lines no longer than width, breaking on
// whitespace where possible.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() == 0 {
			cur.WriteString(w)
			continue
		}
		if cur.Len()+1+len(w) > width {
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(w)
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// prettifyDishName title-cases names that are monocase (all-uppercase or
// all-lowercase letters) and leaves already mixed-case names untouched:
// "TUNA ROLL" and "salmon nigiri" both render as title case, while a name
// a menu editor already typed with intentional mixed case is left alone.
func prettifyDishName(name string) string {
	hasUpper, hasLower := false, false
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		}
	}
	if hasUpper && hasLower {
		return name
	}
	words := strings.Fields(strings.ToLower(name))
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func parseTicketTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
