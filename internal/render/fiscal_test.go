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
	"encoding/xml"
	"strings"
	"testing"

	"printbridge/pkg/bridge"
)

func TestRenderFiscalReceiptStructure(t *testing.T) {
	job := bridge.FiscalJob{
		ID: "f1",
		Payload: bridge.FiscalPayload{
			TotalAmount:   12.34,
			PaymentMethod: "card",
			TableNumber:   "9",
			Route: bridge.FiscalRoute{
				Host: "10.0.0.10", Port: 8008, Brand: "epson", APIPath: "/cgi-bin/fpmate.cgi",
			},
		},
	}

	doc := RenderFiscalReceipt(job)
	text := string(doc)

	if !strings.HasPrefix(text, xmlHeader) {
		t.Fatalf("expected document to start with XML header, got %q", text[:min(len(text), 60)])
	}

	var parsed fpMessage
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("document did not parse as XML: %v\n%s", err, text)
	}

	if parsed.Begin.Operator != "1" {
		t.Errorf("expected operator=1, got %q", parsed.Begin.Operator)
	}
	if parsed.Item == nil {
		t.Fatal("expected a printRecItem")
	}
	if parsed.Item.Description != "Sushiamo Tavolo 9" {
		t.Errorf("unexpected item description: %q", parsed.Item.Description)
	}
	if parsed.Item.Price != "1234" {
		t.Errorf("expected price in cents 1234, got %q", parsed.Item.Price)
	}
	if parsed.Item.Quantity != "1" || parsed.Item.Department != "1" || parsed.Item.VatCode != "1" {
		t.Errorf("unexpected item attrs: %+v", parsed.Item)
	}
	if parsed.Total == nil || parsed.Total.Description != "ELETTRONICO" || parsed.Total.Payment != "1234" {
		t.Errorf("unexpected total: %+v", parsed.Total)
	}
	if parsed.End == nil {
		t.Error("expected endFiscalReceipt element")
	}
}

func TestRenderFiscalReceiptMinimumOneCent(t *testing.T) {
	job := bridge.FiscalJob{Payload: bridge.FiscalPayload{TotalAmount: 0, TableNumber: "1"}}
	doc := RenderFiscalReceipt(job)
	var parsed fpMessage
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Item.Price != "1" {
		t.Errorf("expected price floored to 1 cent, got %q", parsed.Item.Price)
	}
}

func TestRenderFiscalReceiptEscapesSpecialCharacters(t *testing.T) {
	job := bridge.FiscalJob{Payload: bridge.FiscalPayload{TotalAmount: 5, TableNumber: `7 & <sala "B"> 'd'`}}
	doc := RenderFiscalReceipt(job)
	text := string(doc)
	for _, raw := range []string{"7 & ", "<sala", `"B"`, "'d'"} {
		if strings.Contains(text, raw) {
			t.Errorf("expected %q to be escaped, found raw in document:\n%s", raw, text)
		}
	}
	var parsed fpMessage
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("document should still parse: %v", err)
	}
	if parsed.Item.Description != `Sushiamo Tavolo 7 & <sala "B"> 'd'` {
		t.Errorf("round-tripped description mismatch: %q", parsed.Item.Description)
	}
}

func TestRenderFiscalTestReceiptIsNotAFiscalReceipt(t *testing.T) {
	doc := RenderFiscalTestReceipt()
	var parsed fpMessage
	if err := xml.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Begin != nil || parsed.Item != nil || parsed.End != nil {
		t.Error("test receipt should not open or close a fiscal receipt")
	}
	if parsed.Normal == nil || parsed.Normal.Message == "" {
		t.Error("expected a printNormal test message")
	}
}
