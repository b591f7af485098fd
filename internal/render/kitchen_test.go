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

package render

import (
	"bytes"
	"testing"
	"time"

	"printbridge/pkg/bridge"
)

func TestRenderKitchenTicketHappyPath(t *testing.T) {
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
	}

	buf := RenderKitchenTicket(job, "Aoyama")

	prefix := []byte{0x1b, 0x40, 0x1b, 0x4d, 0x01, 0x1b, 0x20, 0x02}
	if !bytes.HasPrefix(buf, prefix) {
		t.Fatalf("expected buffer to start with init sequence, got % x", buf[:min(len(buf), 12)])
	}

	suffix := []byte{0x1b, 0x64, 0x07, 0x1d, 0x56, 0x00}
	if !bytes.HasSuffix(buf, suffix) {
		t.Fatalf("expected buffer to end with feed+cut sequence, got % x", buf[max(0, len(buf)-10):])
	}

	for _, want := range []string{
		"COMANDA CUCINA #42",
		"TAVOLO: 7",
		"2x Tuna Roll",
		"1x Salmon Nigiri",
		" Nota: no wasabi",
		"-- Aoyama --",
	} {
		if !bytes.Contains(buf, []byte(want)) {
			t.Fatalf("expected rendered ticket to contain %q, got:\n% x", want, buf)
		}
	}
}

func TestRenderKitchenTicketIncludesTimestampWhenPresent(t *testing.T) {
	job := bridge.KitchenJob{
		Department: "bar",
		Payload: bridge.KitchenPayload{
			TableNumber: "3",
			OrderNumber: 1,
			CreatedAt:   "2024-03-02T09:05:00Z",
			Items:       []bridge.KitchenItem{{Name: "Mojito", Quantity: 1}},
		},
	}
	buf := RenderKitchenTicket(job, "Aoyama")
	if !bytes.Contains(buf, []byte("DATA: 2024/3/2 09:05")) {
		t.Fatalf("expected a DATA line, got:\n% x\n%s", buf, buf)
	}
}

func TestPrettifyDishName(t *testing.T) {
	cases := map[string]string{
		"TUNA ROLL":     "Tuna Roll",
		"salmon nigiri": "Salmon Nigiri",
		"Spicy Tuna":    "Spicy Tuna",
		"edamame":       "Edamame",
	}
	for in, want := range cases {
		if got := prettifyDishName(in); got != want {
			t.Errorf("prettifyDishName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWrapTextBreaksOnWidth(t *testing.T) {
	lines := wrapText("this is a somewhat long line of item text to wrap", 20)
	for _, l := range lines {
		if len(l) > 20 {
			t.Errorf("line %q exceeds width 20", l)
		}
	}
	if len(lines) < 2 {
		t.Fatalf("expected wrapping to produce multiple lines, got %v", lines)
	}
}

func TestParseTicketTimestampRejectsGarbage(t *testing.T) {
	if _, ok := parseTicketTimestamp("not-a-date"); ok {
		t.Fatal("expected garbage timestamp to be rejected")
	}
	if _, ok := parseTicketTimestamp(""); ok {
		t.Fatal("expected empty timestamp to be rejected")
	}
	if _, ok := parseTicketTimestamp(time.Now().Format(time.RFC3339)); !ok {
		t.Fatal("expected RFC3339 timestamp to parse")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
