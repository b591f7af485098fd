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
	"fmt"
	"strings"
	"unicode/utf8"

	"printbridge/pkg/bridge"
)

// RenderNonFiscalReceipt builds the ESC/POS byte stream for a non-fiscal
// (informal) receipt — same control-byte vocabulary as the kitchen
// ticket, with a centered/framed layout.
func RenderNonFiscalReceipt(job bridge.NonFiscalReceiptJob) []byte {
	var buf strings.Builder
	buf.WriteString(escInit)
	buf.WriteString(escFontB)
	buf.WriteString(escCharSpacing2)

	rule := strings.Repeat("=", ticketWidth)
	writeLine(&buf, rule, classPlain)
	writeLine(&buf, center(job.Payload.RestaurantName, ticketWidth), classBig)
	writeLine(&buf, rule, classPlain)

	if job.Payload.Ayce > 0 {
		writeLine(&buf, priceRow("AYCE", job.Payload.Ayce), classPlain)
	}
	if job.Payload.Coperto > 0 {
		writeLine(&buf, priceRow("Coperto", job.Payload.Coperto), classPlain)
	}
	if job.Payload.Extra > 0 {
		writeLine(&buf, priceRow("Extra", job.Payload.Extra), classPlain)
	}
	for _, line := range job.Payload.Lines {
		writeLine(&buf, priceRow(line.Label, line.Amount), classPlain)
	}

	writeLine(&buf, priceRow("TOTALE", job.Payload.Total), classBig)
	writeLine(&buf, center(paymentLabel(job.Payload.PaymentMethod), ticketWidth), classPlain)

	writeLine(&buf, rule, classPlain)
	writeLine(&buf, center("Grazie per la visita!", ticketWidth), classPlain)
	writeLine(&buf, center("*** NON FISCALE ***", ticketWidth), classPlain)

	buf.WriteString("\x1b\x64\x07")
	buf.WriteString("\x1d\x56\x00")

	return []byte(buf.String())
}

// paymentLabel maps a payment method code to the Italian label printed on
// the receipt; anything other than a recognized card method prints as cash.
func paymentLabel(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case "card", "carta", "electronic":
		return "Carta"
	default:
		return "Contanti"
	}
}

// priceRow right-justifies a comma-decimal euro amount against a label.
func priceRow(label string, amount float64) string {
	if amount < 0 {
		amount = -amount
	}
	amountStr := fmt.Sprintf("€ %s", euroString(amount))
	pad := ticketWidth - utf8.RuneCountInString(label) - utf8.RuneCountInString(amountStr)
	if pad < 1 {
		pad = 1
	}
	return label + strings.Repeat(" ", pad) + amountStr
}

// euroString formats amount with a comma decimal separator, Italian style.
func euroString(amount float64) string {
	return strings.Replace(fmt.Sprintf("%.2f", amount), ".", ",", 1)
}

// center pads text with leading/trailing spaces to approximately center it
// within width, giving the extra space to the trailing side on an odd
// remainder.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	total := width - len(text)
	left := total / 2
	right := total - left
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", right)
}
