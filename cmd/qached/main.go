// Command qached is the qache daemon: a networked key/value cache server
// with durable disk backing and a pluggable eviction policy (spec.md §1).
//
// Usage:
//
//	qached -m dqn -c 128 -d ./data -H 127.0.0.1 -p 5190
//
// Clients connect over TCP, complete a version handshake, and issue SET,
// GET, DEL, NOP, and QUIT commands as described in spec.md §4.1/§4.2.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/h2owater425/qached/internal/admin"
	"github.com/h2owater425/qached/internal/cache"
	"github.com/h2owater425/qached/internal/conn"
	"github.com/h2owater425/qached/internal/config"
	"github.com/h2owater425/qached/internal/evictor"
	"github.com/h2owater425/qached/internal/journal"
	"github.com/h2owater425/qached/internal/logger"
	"github.com/h2owater425/qached/internal/metrics"
	"github.com/h2owater425/qached/internal/pool"
	"github.com/h2owater425/qached/internal/store"
)

const usage = `Usage: qached [OPTIONS]

Options:
  -m, --model <MODEL>          Set cache model [dqn, lru, lfu] (default: dqn)
  -c, --capacity <CAPACITY>    Set cache capacity (default: 128)
  -d, --directory <DIRECTORY>  Set data directory (default: ./data)
  -H, --host <HOST>            Set server bind address (default: 127.0.0.1)
  -p, --port <PORT>            Set server port (default: 5190)
  -v, --verbose                Enable verbose output
  -V, --version                Print version information
  -h, --help                   Print this help message
`

func main() {
	cfg := config.Load()
	applyFlags(cfg)

	logLevel := "info"
	if cfg.Verbose {
		logLevel = "debug"
	}
	log := logger.New("SERVER", logLevel)

	printBanner(cfg)

	model, ok := config.ValidModel(string(cfg.Model))
	if !ok {
		log.Fatalf("init", "model type must be one of dqn, lru, lfu")
	}
	victimSelector, err := evictor.New(evictor.Name(model))
	if err != nil {
		log.Fatalf("init", "load eviction model: %v", err)
	}

	m := metrics.New()

	cacheLog := logger.New("CACHE", logLevel)
	c, err := cache.New(victimSelector, cfg.Capacity, cacheLog, m)
	if err != nil {
		log.Fatalf("init", "construct cache: %v", err)
	}

	storeLog := logger.New("STORE", logLevel)
	durableStore, err := store.New(cfg.Directory, storeLog)
	if err != nil {
		log.Fatalf("init", "construct store: %v", err)
	}

	journalLog := logger.New("JOURNAL", logLevel)
	journalPath := cfg.JournalPath
	if !filepath.IsAbs(journalPath) {
		journalPath = filepath.Join(cfg.Directory, "..", filepath.Base(journalPath))
	}
	wal, err := journal.Open(journalPath, journalLog)
	if err != nil {
		log.Fatalf("init", "open journal: %v", err)
	}
	defer wal.Close() //nolint:errcheck

	if n, err := wal.Recover(durableStore); err != nil {
		log.Warnf("init", "journal recovery: %v", err)
	} else if n > 0 {
		log.Infof("init", "recovered %d pending write(s) from journal", n)
	}

	poolSize := runtime.GOMAXPROCS(0)
	poolLog := logger.New("POOL", logLevel)
	workers, err := pool.New(poolSize, poolLog)
	if err != nil {
		log.Fatalf("init", "construct worker pool: %v", err)
	}
	defer workers.Close()

	connLog := logger.New("CONN", logLevel)
	handler := conn.New(c, durableStore, wal, cfg.Version, m, connLog)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("init", "bind %s: %v", addr, err)
	}
	// Bound concurrent accepted connections to the worker-pool size so the
	// accept loop cannot outrun the pool (SPEC_FULL.md §3).
	listener = netutil.LimitListener(listener, poolSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return acceptLoop(groupCtx, listener, workers, handler, log)
	})

	if cfg.AdminPort != 0 {
		adminLog := logger.New("ADMIN", logLevel)
		adminServer := admin.New(cfg, c, m, adminLog)
		group.Go(func() error {
			return adminServer.ListenAndServe(cfg.AdminPort)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Infof("shutdown", "signal received, closing listener")
		return listener.Close()
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("server", "fatal: %v", err)
	}
}

// acceptLoop accepts connections until ctx is cancelled or the listener
// returns an unrecoverable error (spec.md §4.8: "Accept loop terminates
// only on unrecoverable listener error").
func acceptLoop(ctx context.Context, listener net.Listener, workers *pool.Pool, handler *conn.Handler, log *logger.Logger) error {
	for {
		nc, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		if err := workers.Execute(func() { handler.Serve(nc) }); err != nil {
			log.Warnf("accept", "submit connection job: %v", err)
			nc.Close() //nolint:errcheck
		}
	}
}

// flagOutcome reports what parseFlags decided to do after reading argv:
// continue running with the (possibly overridden) config, or exit
// immediately with the given code after printing message.
type flagOutcome struct {
	exit    bool
	code    int
	message string
}

// applyFlags parses os.Args and overrides cfg's fields in place, the
// highest-precedence layer per SPEC_FULL.md §2.3. It is a thin os.Exit
// wrapper around parseFlags so the parsing/validation logic itself stays
// unit-testable.
func applyFlags(cfg *config.Config) {
	outcome := parseFlags(os.Args[1:], cfg)
	if outcome.exit {
		if outcome.message != "" {
			if outcome.code == 0 {
				fmt.Print(outcome.message)
			} else {
				fmt.Fprint(os.Stderr, outcome.message)
			}
		}
		os.Exit(outcome.code)
	}
}

// parseFlags parses args and, on success, mutates cfg with the resolved
// values. --model/--capacity/--directory/--host/--port are registered
// under both their long and short names so either spelling works,
// matching spec.md §6's flag table; -- terminates flag parsing and any
// argument after it is rejected.
func parseFlags(args []string, cfg *config.Config) flagOutcome {
	fs := flag.NewFlagSet("qached", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var model, directory, host string
	var capacity, port int
	var verbose, showVersion, showHelp bool

	fs.StringVar(&model, "model", string(cfg.Model), "")
	fs.StringVar(&model, "m", string(cfg.Model), "")
	fs.IntVar(&capacity, "capacity", cfg.Capacity, "")
	fs.IntVar(&capacity, "c", cfg.Capacity, "")
	fs.StringVar(&directory, "directory", cfg.Directory, "")
	fs.StringVar(&directory, "d", cfg.Directory, "")
	fs.StringVar(&host, "host", cfg.Host, "")
	fs.StringVar(&host, "H", cfg.Host, "")
	fs.IntVar(&port, "port", cfg.Port, "")
	fs.IntVar(&port, "p", cfg.Port, "")
	fs.BoolVar(&verbose, "verbose", cfg.Verbose, "")
	fs.BoolVar(&verbose, "v", cfg.Verbose, "")
	fs.BoolVar(&showVersion, "version", false, "")
	fs.BoolVar(&showVersion, "V", false, "")
	fs.BoolVar(&showHelp, "help", false, "")
	fs.BoolVar(&showHelp, "h", false, "")

	if err := fs.Parse(args); err != nil {
		return flagOutcome{exit: true, code: 1, message: usage}
	}

	if showHelp {
		return flagOutcome{exit: true, code: 0, message: usage}
	}
	if showVersion {
		return flagOutcome{exit: true, code: 0, message: fmt.Sprintf("qached %s\n", cfg.Version)}
	}
	if fs.NArg() > 0 {
		return flagOutcome{exit: true, code: 1, message: "positional arguments must not be provided\n"}
	}

	if _, ok := config.ValidModel(model); !ok {
		return flagOutcome{exit: true, code: 1, message: "model type must be one of dqn, lru, lfu\n"}
	}
	if capacity <= 0 {
		return flagOutcome{exit: true, code: 1, message: "capacity must be integer greater than 0\n"}
	}
	if info, err := os.Stat(directory); err != nil {
		return flagOutcome{exit: true, code: 1, message: "directory must be accessible\n"}
	} else if !info.IsDir() {
		return flagOutcome{exit: true, code: 1, message: "directory must not be file\n"}
	}
	if port < 1 || port > 65535 {
		return flagOutcome{exit: true, code: 1, message: "port must be between 1 to 65535\n"}
	}

	cfg.Model = config.Model(model)
	cfg.Capacity = capacity
	cfg.Directory = directory
	cfg.Host = host
	cfg.Port = port
	cfg.Verbose = verbose
	return flagOutcome{}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║                    qached  %-20s        ║
╚══════════════════════════════════════════════════════╝
  Model       : %s
  Capacity    : %d
  Directory   : %s
  Listening   : %s:%d
  Platform    : %s
  Started     : %s
`, cfg.Version, cfg.Model, cfg.Capacity, cfg.Directory,
		cfg.Host, cfg.Port, cfg.Platform, time.Now().Format(time.RFC3339))
}
