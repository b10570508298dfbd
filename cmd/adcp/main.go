package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/adcp/internal/adcp"
	"github.com/banshee-data/adcp/internal/config"
	"github.com/banshee-data/adcp/internal/monitoring"
	"github.com/banshee-data/adcp/internal/pd0"
	"github.com/banshee-data/adcp/internal/scheduler"
	"github.com/banshee-data/adcp/internal/serialmux"
	"github.com/banshee-data/adcp/internal/simulator"
	"github.com/banshee-data/adcp/internal/units"
	"github.com/banshee-data/adcp/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run against the built-in instrument simulator")
	devSeed     = flag.Uint64("dev-seed", 1, "Seed for the simulator's generated profiles (dev mode only)")
	listen      = flag.String("listen", ":8080", "Listen address for the debug routes")
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port to use (ignored in dev mode)")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Serial baud rate")
	parity      = flag.String("parity", "N", "Serial parity: N, E or O")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

// Command-mode break
var (
	breakMode     = flag.String("break", "line", "Break mechanism: line (serial break) or relay (terminal server GPIO)")
	relayURL      = flag.String("relay-url", "", "Terminal server RCI endpoint used with -break=relay")
	breakDuration = flag.Duration("break-duration", config.DefaultBreakDuration, "Break length (minimum 350ms)")
)

// Sampling schedule and profile
var (
	ensembleInterval = flag.Duration("ensemble-interval", config.DefaultEnsembleInterval, "Time between ensembles (TE)")
	preemption       = flag.Duration("preemption", config.DefaultPreemption, "How long before each ensemble is due to start listening")
	pingInterval     = flag.Duration("ping-interval", config.DefaultPingInterval, "Time between pings (TP)")
	pings            = flag.Int("pings", config.DefaultPingsPerEnsemble, "Pings per ensemble (WP)")
	cells            = flag.Int("cells", config.DefaultNumberOfCells, "Number of depth cells (WN)")
	cellSize         = flag.Int("cell-size", config.DefaultDepthCellSize, "Depth cell size in cm (WS)")
	saveSetup        = flag.Bool("save", false, "Save the setup to the instrument's non-volatile memory (CK)")
	velocityUnits    = flag.String("units", units.CMPS, "Velocity units for ensemble summaries: "+units.GetValidUnitsString())
	extraCommands    commandList
)

// Logging
var (
	logOps   = flag.String("log-ops", "stderr", "Ops log destination: stderr, stdout, off or a file path")
	logDiag  = flag.String("log-diag", "off", "Diagnostic log destination: stderr, stdout, off or a file path")
	logTrace = flag.String("log-trace", "off", "Trace log destination (every line and frame): stderr, stdout, off or a file path")
)

func init() {
	flag.Var(&extraCommands, "cmd", "Extra setup command sent after the standard set (repeatable)")
}

// commandList collects repeated -cmd flags.
type commandList []string

func (c *commandList) String() string { return strings.Join(*c, ",") }

func (c *commandList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return errors.New("empty command")
	}
	*c = append(*c, v)
	return nil
}

func buildSessionConfig() *config.SessionConfig {
	ens := ensembleInterval.String()
	pre := preemption.String()
	ping := pingInterval.String()
	brk := breakDuration.String()
	return &config.SessionConfig{
		EnsembleInterval: &ens,
		Preemption:       &pre,
		PingInterval:     &ping,
		PingsPerEnsemble: pings,
		NumberOfCells:    cells,
		DepthCellSize:    cellSize,
		BreakDuration:    &brk,
		SaveSetup:        saveSetup,
		ExtraCommands:    append([]string(nil), extraCommands...),
	}
}

// openLog maps a -log-* flag value to a writer. "off" and "" return nil.
func openLog(dest string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(dest)) {
	case "", "off", "none":
		return nil, noop, nil
	case "stderr":
		return os.Stderr, noop, nil
	case "stdout":
		return os.Stdout, noop, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, noop, fmt.Errorf("open log %s: %w", dest, err)
	}
	return f, f.Close, nil
}

func setupLogging(ops, diag, trace string) (func(), error) {
	var closers []func() error
	open := func(dest string) (io.Writer, error) {
		w, closeFn, err := openLog(dest)
		if err != nil {
			return nil, err
		}
		closers = append(closers, closeFn)
		return w, nil
	}
	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	opsW, err := open(ops)
	if err != nil {
		return cleanup, err
	}
	diagW, err := open(diag)
	if err != nil {
		return cleanup, err
	}
	traceW, err := open(trace)
	if err != nil {
		return cleanup, err
	}

	adcp.SetLogWriters(opsW, diagW, traceW)
	pd0.SetLogWriters(opsW, diagW, traceW)
	scheduler.SetLogWriters(opsW, diagW)
	if opsW == nil {
		monitoring.SetLogger(nil)
	} else {
		monitoring.SetLogger(log.New(opsW, "", log.LstdFlags).Printf)
	}
	return cleanup, nil
}

func newBreaker(mode, url string, p serialmux.SerialPorter) (adcp.BreakSignaler, error) {
	switch mode {
	case "line":
		return adcp.LineBreak{Port: p}, nil
	case "relay":
		if url == "" {
			return nil, errors.New("-relay-url is required with -break=relay")
		}
		return adcp.NewRelayBreak(url), nil
	default:
		return nil, fmt.Errorf("unknown break mode %q (want line or relay)", mode)
	}
}

func openInstrument() (serialmux.SerialPorter, error) {
	if *devMode {
		return simulator.New(nil, *devSeed), nil
	}
	opts, err := serialmux.PortOptions{BaudRate: *baud, Parity: *parity}.Normalize()
	if err != nil {
		return nil, err
	}
	log.Printf("opening %s (%s)", *port, opts)
	return serialmux.OpenPort(*port, opts)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !*devMode && *port == "" {
		log.Fatal("Serial port is required")
	}

	closeLogs, err := setupLogging(*logOps, *logDiag, *logTrace)
	defer closeLogs()
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	log.Print(version.String())

	instrument, err := openInstrument()
	if err != nil {
		log.Fatalf("failed to open instrument port: %v", err)
	}
	mux := serialmux.NewSerialMux(instrument)
	defer mux.Close()

	breaker, err := newBreaker(*breakMode, *relayURL, instrument)
	if err != nil {
		log.Fatal(err)
	}

	sched := scheduler.New(nil)
	defer sched.Stop()

	session, err := adcp.NewSession(buildSessionConfig(), mux, breaker, sched, adcp.WithUnits(*velocityUnits))
	if err != nil {
		log.Fatalf("invalid session settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Configure(ctx); err != nil {
		log.Fatalf("failed to configure instrument: %v", err)
	}
	log.Printf("session %s configured, sampling", session.ID)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := session.Run(ctx, sched.C()); err != nil {
			monitoring.Logf("session %s stopped: %v", session.ID, err)
			stop()
		}
		log.Print("sampling routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		httpMux := http.NewServeMux()
		mux.AttachAdminRoutes(httpMux, session)

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			httpMux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
