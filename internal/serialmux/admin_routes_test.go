package serialmux

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

type fakeCommander struct {
	replies map[string]string
	err     error
	queries []string
}

func (f *fakeCommander) Query(ctx context.Context, command string) (string, error) {
	f.queries = append(f.queries, command)
	if f.err != nil {
		return "", f.err
	}
	return f.replies[command], nil
}

func (f *fakeCommander) AllowCommand(command string) bool {
	return command != "CR1"
}

func (f *fakeCommander) Status() any {
	return map[string]any{"mode": "sampling", "ensembles": 3}
}

func newAdminMux(c Commander) (*SerialMux[*TestableSerialPort], *http.ServeMux) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, c)
	return mux, httpMux
}

func postCommand(httpMux *http.ServeMux, command string) *httptest.ResponseRecorder {
	form := url.Values{"command": {command}}
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutes_SendCommandAPI(t *testing.T) {
	cmd := &fakeCommander{replies: map[string]string{"PS0": "Serial Number: 8812"}}
	_, httpMux := newAdminMux(cmd)

	tests := []struct {
		name       string
		command    string
		wantStatus int
		wantBody   string
	}{
		{"query", "PS0", http.StatusOK, "Serial Number: 8812"},
		{"empty", "  ", http.StatusBadRequest, "Missing command"},
		{"not allowed", "CR1", http.StatusBadRequest, "not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCommand(httpMux, tt.command)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q missing %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
	if len(cmd.queries) != 1 || cmd.queries[0] != "PS0" {
		t.Errorf("queries = %v, want [PS0]", cmd.queries)
	}

	req := localHostRequest(http.MethodGet, "/debug/send-command-api", nil)
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

func TestAdminRoutes_SendCommandAPI_QueryFailure(t *testing.T) {
	_, httpMux := newAdminMux(&fakeCommander{err: errors.New("handshake failed")})

	rec := postCommand(httpMux, "PS0")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "handshake failed") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAdminRoutes_Status(t *testing.T) {
	_, httpMux := newAdminMux(&fakeCommander{})

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/instrument-status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["mode"] != "sampling" {
		t.Errorf("status body = %v", got)
	}

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodPost, "/debug/instrument-status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestAdminRoutes_SendCommandPage(t *testing.T) {
	_, httpMux := newAdminMux(&fakeCommander{})

	for _, path := range []string{"/debug/send-command", "/debug/tail.js"} {
		rec := httptest.NewRecorder()
		httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "tail") {
			t.Errorf("%s body does not reference the tail feed", path)
		}
	}
}

func TestAdminRoutes_Tail(t *testing.T) {
	mux, httpMux := newAdminMux(&fakeCommander{})
	server := httptest.NewServer(httpMux)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/debug/tail", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, _ := reader.ReadString('\n'); line != ": ping\n" {
		t.Fatalf("first line = %q", line)
	}
	reader.ReadString('\n')

	// The handler subscribes before the ping, so the publish is delivered.
	mux.Publish("ens=1 hdg=271.45")
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "data: ens=1 hdg=271.45\n" {
		t.Errorf("event = %q", line)
	}

	mux.Close()
	if _, err := io.ReadAll(reader); err != nil && !errors.Is(err, context.Canceled) {
		t.Logf("stream ended with %v", err)
	}
}
