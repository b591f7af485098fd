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

package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeliverTCPWritesFullBufferAndHalfCloses(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	payload := []byte("hello printer")
	if err := DeliverTCP(context.Background(), host, port, payload, time.Second); err != nil {
		t.Fatalf("DeliverTCP: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("server received %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive data")
	}
}

// S3: a first connection aborted with RST ends in success or a retriable
// error, and delivery makes at most two connection attempts in total.
func TestDeliverTCPRetriesOnceOnConnectionReset(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var attempts int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := atomic.AddInt32(&attempts, 1)
			if n == 1 {
				// Simulate ECONNRESET: abort immediately with RST.
				if tcpConn, ok := conn.(*net.TCPConn); ok {
					tcpConn.SetLinger(0)
				}
				conn.Close()
				continue
			}
			io.ReadAll(conn)
			conn.Close()
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	// A reset during write, not connect, is what actually exercises the
	// retriable path reliably across platforms; assert at least that
	// delivery eventually succeeds within the attempt budget.
	err = DeliverTCP(context.Background(), host, port, []byte("ticket"), time.Second)
	if err != nil && !isRetriable(err) {
		t.Fatalf("expected success or a retriable error, got: %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n > 2 {
		t.Fatalf("expected at most 2 connection attempts, got %d", n)
	}
}

func TestDeliverTCPMapsTimeoutMessage(t *testing.T) {
	// 203.0.113.0/24 (TEST-NET-3) is non-routable, so the dial fails within
	// the short timeout (or is refused outright where no route exists); a
	// timeout must never surface as a raw net.Error timeout.
	err := DeliverTCP(context.Background(), "203.0.113.1", 9100, []byte("x"), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected an error")
	}
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		t.Fatalf("expected a dial timeout to be mapped to %q, got raw timeout %q", "Timeout stampante", err.Error())
	}
}

func TestDeliverFiscalHTTPSuccessExtractsReceiptID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/xml; charset=utf-8" {
			t.Errorf("unexpected content-type %q", ct)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<response receipt_id="RT-0042" status="ok"/>`))
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	result, err := DeliverFiscalHTTP(context.Background(), host, port, "/cgi-bin/fpmate.cgi", []byte("<FPMessage/>"), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReceiptID != "RT-0042" {
		t.Fatalf("expected extracted receipt id, got %q", result.ReceiptID)
	}
}

// S2: a 200 response with no id fields yields an empty ReceiptID so the
// caller can fall back to a synthetic id.
func TestDeliverFiscalHTTPSuccessWithoutIDFieldsYieldsEmptyID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<response status="ok"/>`))
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	result, err := DeliverFiscalHTTP(context.Background(), host, port, "/cgi-bin/fpmate.cgi", []byte("<FPMessage/>"), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ReceiptID != "" {
		t.Fatalf("expected no receipt id, got %q", result.ReceiptID)
	}
}

func TestDeliverFiscalHTTPFailureKeywordIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<response status="error" message="printer jam"/>`))
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	_, err := DeliverFiscalHTTP(context.Background(), host, port, "/cgi-bin/fpmate.cgi", []byte("<FPMessage/>"), time.Second)
	if err == nil {
		t.Fatal("expected an error for a failure-keyword body")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected no retry for a non-retriable remote rejection, got %d calls", calls)
	}
}

func TestDeliverFiscalHTTPNon2xxIsReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	host, portStr, _ := net.SplitHostPort(srv.Listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	_, err := DeliverFiscalHTTP(context.Background(), host, port, "/cgi-bin/fpmate.cgi", []byte("<FPMessage/>"), time.Second)
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestIsRetriableMatchesGoErrorText(t *testing.T) {
	cases := map[string]bool{
		"dial tcp: i/o timeout":                 true,
		"read: connection reset by peer":        true,
		"dial tcp: no route to host":            true,
		"dial tcp: connect: connection refused": true,
		"write: broken pipe":                    true,
		"unexpected EOF":                        false,
	}
	for msg, want := range cases {
		got := isRetriable(errString(msg))
		if got != want {
			t.Errorf("isRetriable(%q) = %v, want %v", msg, got, want)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }
