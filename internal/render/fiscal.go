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
	"fmt"
	"strings"

	"printbridge/pkg/bridge"
)

// fpMessage is the Epson FPMate command envelope. encoding/xml escapes
// '&', '<', '>', '"' and '\'' in both element text and attribute values,
// which covers every character a dish name or item label might contain.
type fpMessage struct {
	XMLName xml.Name            `xml:"FPMessage"`
	Begin   *beginFiscalReceipt `xml:"beginFiscalReceipt,omitempty"`
	Item    *printRecItem       `xml:"printRecItem,omitempty"`
	Normal  *printNormal        `xml:"printNormal,omitempty"`
	Total   *printRecTotal      `xml:"printRecTotal,omitempty"`
	End     *struct{}           `xml:"endFiscalReceipt,omitempty"`
}

type beginFiscalReceipt struct {
	Operator string `xml:"operator,attr"`
}

type printRecItem struct {
	Description string `xml:"description,attr"`
	Price       string `xml:"price,attr"`
	Quantity    string `xml:"quantity,attr"`
	Department  string `xml:"department,attr"`
	VatCode     string `xml:"vatCode,attr"`
}

type printRecTotal struct {
	Description string `xml:"description,attr"`
	Payment     string `xml:"payment,attr"`
}

type printNormal struct {
	Operator string `xml:"operator,attr"`
	Message  string `xml:"message,attr"`
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// RenderFiscalReceipt builds the Epson FPMate XML document for a fiscal
// receipt job. The price is expressed in integer cents of the total's
// absolute value, floored at 1 so a zero total never produces an empty
// printRecItem.
func RenderFiscalReceipt(job bridge.FiscalJob) []byte {
	cents := amountToCents(job.Payload.TotalAmount)

	msg := fpMessage{
		Begin: &beginFiscalReceipt{Operator: "1"},
		Item: &printRecItem{
			Description: fmt.Sprintf("Sushiamo Tavolo %s", job.Payload.TableNumber),
			Price:       fmt.Sprintf("%d", cents),
			Quantity:    "1",
			Department:  "1",
			VatCode:     "1",
		},
		Total: &printRecTotal{
			Description: fiscalPaymentLabel(job.Payload.PaymentMethod),
			Payment:     fmt.Sprintf("%d", cents),
		},
		End: &struct{}{},
	}
	return marshalFPMessage(msg)
}

// RenderFiscalTestReceipt builds a minimal non-fiscal FPMate document used
// to verify connectivity to a fiscal device without opening a real
// fiscal receipt.
func RenderFiscalTestReceipt() []byte {
	msg := fpMessage{
		Normal: &printNormal{Operator: "1", Message: "TEST CONNESSIONE RT"},
	}
	return marshalFPMessage(msg)
}

func marshalFPMessage(msg fpMessage) []byte {
	body, err := xml.Marshal(msg)
	if err != nil {
		// fpMessage is a fixed, statically-typed shape with no cyclic or
		// unsupported fields; Marshal cannot fail for it.
		panic(fmt.Sprintf("render: marshal fiscal document: %v", err))
	}
	return append([]byte(xmlHeader), body...)
}

func fiscalPaymentLabel(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "card", "carta", "electronic":
		return "ELETTRONICO"
	default:
		return "CONTANTI"
	}
}

// amountToCents converts the absolute value of a decimal euro amount into
// integer cents, floored at 1 so the fiscal device never receives a
// zero-value line item.
func amountToCents(amount float64) int64 {
	if amount < 0 {
		amount = -amount
	}
	cents := int64(amount*100 + 0.5)
	if cents < 1 {
		cents = 1
	}
	return cents
}
