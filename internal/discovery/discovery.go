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

// Package discovery implements the bounded LAN scan used to find kitchen
// printers and fiscal RT devices on the local network.
package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"printbridge/internal/metrics"
)

const (
	maxConcurrency = 96
	maxHosts       = 1024

	minTimeout     = 120 * time.Millisecond
	maxTimeout     = 2000 * time.Millisecond
	defaultTimeout = 350 * time.Millisecond
	minFingerprint = 300 * time.Millisecond

	fingerprintBodyLimit = 3000

	sourceLanScan = "lan_scan"
)

var printerPorts = []int{9100, 515, 631}
var fiscalPorts = []int{8008, 80, 443}

// Target is one host to probe, annotated with the interface it was
// enumerated from.
type Target struct {
	Host           string
	InterfaceName  string
	InterfaceIP    string
	ConnectionType string
}

// PrinterRecord describes a discovered kitchen/receipt printer.
type PrinterRecord struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Label          string `json:"label"`
	ConnectionType string `json:"connection_type"`
	InterfaceName  string `json:"interface_name"`
	InterfaceIP    string `json:"interface_ip"`
	Source         string `json:"source"`
}

// FiscalRecord describes a discovered fiscal (RT) device.
type FiscalRecord struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Brand          string `json:"brand"`
	APIPath        string `json:"api_path"`
	ConnectionType string `json:"connection_type"`
	InterfaceName  string `json:"interface_name"`
	InterfaceIP    string `json:"interface_ip"`
	Source         string `json:"source"`
	Label          string `json:"label"`
}

// ClampTimeout applies the [120, 2000] ms clamp with a 350 ms default when
// ms is zero.
func ClampTimeout(ms int) time.Duration {
	if ms == 0 {
		return defaultTimeout
	}
	d := time.Duration(ms) * time.Millisecond
	if d < minTimeout {
		return minTimeout
	}
	if d > maxTimeout {
		return maxTimeout
	}
	return d
}

// EnumerateTargets walks all non-internal IPv4 interfaces and produces the
// /24 host list, excluding the local octet, link-local and loopback ranges,
// capped at maxHosts.
func EnumerateTargets(ifaces []net.Interface, addrsOf func(net.Interface) ([]net.Addr, error)) ([]Target, error) {
	var targets []Target
	for _, iface := range ifaces {
		addrs, err := addrsOf(iface)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			ones, bits := ipNet.Mask.Size()
			if bits != 32 || ones < 24 {
				continue
			}
			base := fmt.Sprintf("%d.%d.%d.", ip4[0], ip4[1], ip4[2])
			localOctet := int(ip4[3])
			class := connectionClass(iface.Name)
			for host := 1; host <= 254; host++ {
				if host == localOctet {
					continue
				}
				candidate := base + strconv.Itoa(host)
				if isLinkLocalOrLoopbackString(candidate) {
					continue
				}
				targets = append(targets, Target{
					Host:           candidate,
					InterfaceName:  iface.Name,
					InterfaceIP:    ip4.String(),
					ConnectionType: class,
				})
				if len(targets) >= maxHosts {
					return targets, nil
				}
			}
		}
	}
	return targets, nil
}

func isLinkLocalOrLoopbackString(s string) bool {
	return strings.HasPrefix(s, "169.254.") || strings.HasPrefix(s, "127.")
}

func connectionClass(ifaceName string) string {
	name := strings.ToLower(ifaceName)
	switch {
	case containsAny(name, "ethernet", "lan", "eth"):
		return "ethernet"
	case containsAny(name, "wifi", "wi-fi", "wireless", "wlan"):
		return "wifi"
	default:
		return "unknown"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// LiveInterfaces is the production addrsOf/ifaces source for EnumerateTargets.
func LiveInterfaces() ([]net.Interface, func(net.Interface) ([]net.Addr, error), error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}
	return ifaces, func(iface net.Interface) ([]net.Addr, error) {
		return iface.Addrs()
	}, nil
}

func runBounded(targets []Target, timeout time.Duration, probe func(Target)) {
	capN := maxConcurrency
	if capN > len(targets) {
		capN = len(targets)
	}
	if capN == 0 {
		return
	}
	sem := make(chan struct{}, capN)
	var wg sync.WaitGroup
	for _, t := range targets {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			probe(t)
		}()
	}
	wg.Wait()
}

// DiscoverPrinters probes printerPorts on every target, first open port wins
// per host.
func DiscoverPrinters(ctx context.Context, targets []Target, timeout time.Duration) []PrinterRecord {
	results := make([]PrinterRecord, 0, len(targets))
	var mu sync.Mutex

	runBounded(targets, timeout, func(t Target) {
		for _, port := range printerPorts {
			if probeTCP(ctx, t.Host, port, timeout) {
				mu.Lock()
				results = append(results, PrinterRecord{
					Host:           t.Host,
					Port:           port,
					Label:          "Stampante di rete",
					ConnectionType: t.ConnectionType,
					InterfaceName:  t.InterfaceName,
					InterfaceIP:    t.InterfaceIP,
					Source:         sourceLanScan,
				})
				mu.Unlock()
				return
			}
		}
	})

	return sortPrinters(dedupPrinters(results))
}

// DiscoverRtDevices probes fiscalPorts on every target, collecting all open
// ports, then picks the preferred port and infers brand by port and
// optionally by HTTP fingerprint.
func DiscoverRtDevices(ctx context.Context, targets []Target, timeout time.Duration) []FiscalRecord {
	results := make([]FiscalRecord, 0, len(targets))
	var mu sync.Mutex

	runBounded(targets, timeout, func(t Target) {
		var open []int
		for _, port := range fiscalPorts {
			if probeTCP(ctx, t.Host, port, timeout) {
				open = append(open, port)
			}
		}
		if len(open) == 0 {
			return
		}
		port := preferredFiscalPort(open)
		brand := brandFromPort(port)

		fpTimeout := timeout
		if fpTimeout < minFingerprint {
			fpTimeout = minFingerprint
		}
		if fp, ok := fingerprintBrand(ctx, t.Host, open, fpTimeout); ok {
			brand = fp
		}

		rec := FiscalRecord{
			Host:           t.Host,
			Port:           port,
			Brand:          brand,
			APIPath:        apiPathForBrand(brand),
			ConnectionType: t.ConnectionType,
			InterfaceName:  t.InterfaceName,
			InterfaceIP:    t.InterfaceIP,
			Source:         sourceLanScan,
			Label:          "Registratore di cassa",
		}
		mu.Lock()
		results = append(results, rec)
		mu.Unlock()
	})

	return sortFiscal(dedupFiscal(results))
}

func preferredFiscalPort(open []int) int {
	for _, p := range fiscalPorts {
		for _, o := range open {
			if o == p {
				return p
			}
		}
	}
	return open[0]
}

func brandFromPort(port int) string {
	if port == 8008 {
		return "epson"
	}
	return "other"
}

func apiPathForBrand(brand string) string {
	if brand == "epson" {
		return "/cgi-bin/fpmate.cgi"
	}
	return "/"
}

func probeTCP(ctx context.Context, host string, port int, timeout time.Duration) bool {
	start := time.Now()
	defer func() { metrics.ObserveProbeDuration("tcp", time.Since(start)) }()

	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

var fingerprintClient = &http.Client{}

func fingerprintBrand(ctx context.Context, host string, openPorts []int, timeout time.Duration) (string, bool) {
	port, ok := firstHTTPLikePort(openPorts)
	if !ok {
		return "", false
	}

	start := time.Now()
	defer func() { metrics.ObserveProbeDuration("http_fingerprint", time.Since(start)) }()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d/", scheme, host, port)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", false
	}

	resp, err := fingerprintClient.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, fingerprintBodyLimit))
	haystack := strings.ToLower(string(body) + " " + resp.Header.Get("Server") + " " + resp.Header.Get("X-Powered-By"))

	switch {
	case containsAny(haystack, "epson", "fpmate", "fp90"):
		return "epson", true
	case strings.Contains(haystack, "custom"):
		return "custom", true
	case strings.Contains(haystack, "olivetti"):
		return "olivetti", true
	case strings.Contains(haystack, "axon"):
		return "axon", true
	case strings.Contains(haystack, "rch"):
		return "rch", true
	}
	return "", false
}

func firstHTTPLikePort(open []int) (int, bool) {
	for _, p := range []int{8008, 80, 443} {
		for _, o := range open {
			if o == p {
				return p, true
			}
		}
	}
	return 0, false
}

func dedupPrinters(in []PrinterRecord) []PrinterRecord {
	seen := make(map[string]bool, len(in))
	out := make([]PrinterRecord, 0, len(in))
	for _, r := range in {
		key := r.Host + ":" + strconv.Itoa(r.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func dedupFiscal(in []FiscalRecord) []FiscalRecord {
	seen := make(map[string]bool, len(in))
	out := make([]FiscalRecord, 0, len(in))
	for _, r := range in {
		key := r.Host + ":" + strconv.Itoa(r.Port)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

func sortPrinters(in []PrinterRecord) []PrinterRecord {
	sort.Slice(in, func(i, j int) bool { return numericHostLess(in[i].Host, in[j].Host) })
	return in
}

func sortFiscal(in []FiscalRecord) []FiscalRecord {
	sort.Slice(in, func(i, j int) bool { return numericHostLess(in[i].Host, in[j].Host) })
	return in
}

// numericHostLess compares two dotted-quad hosts octet by octet as numbers,
// falling back to ASCII ordering for non-numeric components.
func numericHostLess(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if an != bn {
				return an < bn
			}
			continue
		}
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}
