package commands

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	capctx "github.com/nikileshsa/capnweb-go/internal/context"

	"github.com/mitchellh/cli"

	"github.com/nikileshsa/capnweb-go/capnweb"
	"github.com/nikileshsa/capnweb-go/capnweb/channel"
	"github.com/nikileshsa/capnweb-go/capnweb/metrics"
	"github.com/nikileshsa/capnweb-go/capnweb/server"
	"github.com/nikileshsa/capnweb-go/capnweb/testtarget"
	"github.com/nikileshsa/capnweb-go/config"
	"github.com/nikileshsa/capnweb-go/logging"
)

// ServeCommand starts a capnweb session, offering the demo test target as
// its main capability, over stdio, TCP, or a WebSocket/HTTP listener.
type ServeCommand struct {
	Ui cli.Ui

	// flags
	port        int
	transport   string
	logFile     string
	metricsAddr string
	configPath  string
}

func (c *ServeCommand) flags() *flag.FlagSet {
	fs := defaultFlagSet("serve")

	fs.IntVar(&c.port, "port", 0, "port number to listen on (turns server into TCP/WS mode)")
	fs.StringVar(&c.transport, "transport", "tcp", "transport to serve over when -port is set: tcp, ws, or batch")
	fs.StringVar(&c.logFile, "log-file", "", "path to file to log into with support "+
		"for template functions (timestamp, pid, ppid) via Go template syntax, e.g. {{pid}}")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	fs.StringVar(&c.configPath, "config", "", "path to a YAML config file; flags override values it sets")

	fs.Usage = func() { c.Ui.Error(c.Help()) }

	return fs
}

// applyConfig loads c.configPath if set and fills in any flag the caller
// did not pass explicitly, so command-line flags always win over the file.
func (c *ServeCommand) applyConfig(f *flag.FlagSet) (*config.Config, error) {
	if c.configPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}

	explicit := make(map[string]bool)
	f.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })

	if !explicit["transport"] && cfg.Transport != "" {
		c.transport = cfg.Transport
	}
	if !explicit["log-file"] && cfg.LogPath != "" {
		c.logFile = cfg.LogPath
	}
	if !explicit["metrics-addr"] && cfg.MetricsAddr != "" {
		c.metricsAddr = cfg.MetricsAddr
	}
	if !explicit["port"] && cfg.Listen != "" {
		if _, port, err := net.SplitHostPort(cfg.Listen); err == nil {
			fmt.Sscanf(port, "%d", &c.port)
		}
	}
	return cfg, nil
}

func (c *ServeCommand) Run(args []string) int {
	f := c.flags()
	if err := f.Parse(args); err != nil {
		c.Ui.Error(fmt.Sprintf("Error parsing command-line flags: %s\n", err.Error()))
		return 1
	}

	cfg, err := c.applyConfig(f)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to load config %q: %s\n", c.configPath, err.Error()))
		return 1
	}

	var logger *log.Logger
	if c.logFile != "" {
		fl, err := logging.NewFileLogger(c.logFile)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("Failed to setup file logging: %s\n", err.Error()))
			return 1
		}
		defer fl.Close()

		logger = fl.Logger()
	} else {
		logger = logging.NewLogger(os.Stderr)
	}

	ctx, cancelFunc := capctx.WithSignalCancel(context.Background(), logger,
		syscall.SIGINT, syscall.SIGTERM)
	defer cancelFunc()

	m := metrics.New(prometheus.DefaultRegisterer)
	if c.metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(c.metricsAddr, mux); err != nil {
				logger.Printf("metrics server failed: %v", err)
			}
		}()
	}

	opts := []capnweb.Option{capnweb.WithLogger(logger), capnweb.WithMetrics(m)}
	if cfg.CallTimeout > 0 {
		opts = append(opts, capnweb.WithCallTimeout(cfg.CallTimeout))
	}
	newTarget := func() capnweb.Target { return testtarget.New() }
	logger.Printf("main capability exposes methods: %s", strings.Join(testtarget.MethodNames(), ", "))

	if c.port == 0 {
		logger.Printf("serving one session over stdio")
		ch := channel.NewLine(os.Stdin, os.Stdout)
		sess := capnweb.NewSession(ch, newTarget(), opts...)
		if err := sess.Serve(ctx); err != nil {
			logger.Printf("session ended: %v", err)
		}
		return 0
	}

	addr := fmt.Sprintf("localhost:%d", c.port)
	switch c.transport {
	case "tcp":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			c.Ui.Error(fmt.Sprintf("failed to listen on %s: %s", addr, err))
			return 1
		}
		logger.Printf("listening for capnweb connections on %s (tcp)", addr)
		if err := server.Loop(ctx, ln, newTarget, logger, opts...); err != nil {
			logger.Printf("accept loop ended: %v", err)
		}
	case "ws":
		logger.Printf("listening for capnweb connections on %s (websocket)", addr)
		mux := http.NewServeMux()
		mux.Handle("/", server.WebSocketHandler(ctx, newTarget, logger, opts...))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Printf("websocket server ended: %v", err)
		}
	case "batch":
		logger.Printf("listening for capnweb batch requests on %s (http)", addr)
		mux := http.NewServeMux()
		mux.Handle("/", server.BatchHandler(newTarget, logger, opts...))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Printf("batch server ended: %v", err)
		}
	default:
		c.Ui.Error(fmt.Sprintf("unsupported transport %q", c.transport))
		return 1
	}

	return 0
}

func (c *ServeCommand) Help() string {
	helpText := `
Usage: capnweb-go serve [options]

` + c.Synopsis() + "\n\n" + helpForFlags(c.flags())

	return strings.TrimSpace(helpText)
}

func (c *ServeCommand) Synopsis() string {
	return "Starts a capnweb session over stdio, TCP, WebSocket, or HTTP batch"
}
