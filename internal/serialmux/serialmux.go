// Serialmux owns the instrument's serial port. Every transaction runs under
// an exclusive lock so command-mode exchanges and ensemble reads never
// interleave, and decoded results fan out to any number of subscribers.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/adcp/internal/httputil"
)

// ErrClosed is returned by Exclusive once the mux has been closed.
var ErrClosed = errors.New("serial mux closed")

// adminQueryTimeout bounds an ad-hoc query issued from the debug page. It
// covers a full handshake plus the request retries.
const adminQueryTimeout = 60 * time.Second

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// SerialMux is a generic serial port owner that serializes access to a single
// port and lets multiple clients subscribe to published events.
type SerialMux[T SerialPorter] struct {
	port         T
	portMu       sync.Mutex
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// Commander is the instrument session behind the admin routes.
type Commander interface {
	// Query enters command mode, sends command, returns the instrument's
	// reply and resumes sampling.
	Query(ctx context.Context, command string) (string, error)
	// AllowCommand reports whether command may be sent from the debug page.
	AllowCommand(command string) bool
	// Status returns a JSON-encodable snapshot of the session.
	Status() any
}

// NewSerialMux creates a SerialMux instance that owns port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Exclusive runs fn with sole access to the port. Callers block until any
// transaction in progress completes.
func (s *SerialMux[T]) Exclusive(fn func(port SerialPorter) error) error {
	s.portMu.Lock()
	defer s.portMu.Unlock()

	if s.isClosing() {
		return ErrClosed
	}
	return fn(s.port)
}

// Subscribe creates a new channel for receiving published events. The
// channel ID is used to identify the unique channel when unsubscribing.
func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.isClosing() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Publish delivers line to every subscriber. Subscribers that are not
// keeping up miss the line rather than stalling the publisher.
func (s *SerialMux[T]) Publish(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Close closes all subscribed channels and closes the serial port. It waits
// for the transaction in progress, if any.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()

	s.portMu.Lock()
	defer s.portMu.Unlock()
	return s.port.Close()
}

// AttachAdminRoutes attaches the instrument debugging endpoints to the given
// HTTP mux under /debug/. tsweb restricts them to loopback and tailnet
// clients.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux, c Commander) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the API endpoints below.
	debug.HandleFunc("send-command", "send a command to the instrument", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to run a command-mode query against the instrument
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if !c.AllowCommand(command) {
			http.Error(w, fmt.Sprintf("Command %q not allowed", command), http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), adminQueryTimeout)
		defer cancel()
		reply, err := c.Query(ctx, command)
		if err != nil {
			http.Error(w, fmt.Sprintf("Command %q failed: %v", command, err), http.StatusBadGateway)
			return
		}
		io.WriteString(w, fmt.Sprintf("%s\n%s\n", command, reply))
	})

	debug.HandleFunc("instrument-status", "instrument session status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		httputil.WriteJSONOK(w, c.Status())
	})

	// API endpoint to issue Server-Side Events (SSE) for every published event.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, ch := s.Subscribe()
		defer s.Unsubscribe(id)

		flusher, _ := w.(http.Flusher)
		w.Write([]byte(": ping\n\n"))
		if flusher != nil {
			flusher.Flush()
		}

		for {
			select {
			case payload, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")

		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
