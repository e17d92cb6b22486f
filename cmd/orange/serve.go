package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/astaric/orangeremote/archive"
	"github.com/astaric/orangeremote/catalog"
	"github.com/astaric/orangeremote/config"
	"github.com/astaric/orangeremote/executor"
	"github.com/astaric/orangeremote/metrics"
	"github.com/astaric/orangeremote/queue"
	"github.com/astaric/orangeremote/server"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	configPath string
	host       string
	port       int
	workers    int
	natsURL    string
	natsEmbed  bool
	archive    string
	verbosity  int
	logFile    string
}

func newServeCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the executor with its HTTP, Connect and gRPC bindings",
		Long: `Start the executor. Settings come from --config, or from the nearest
orange.toml above the working directory; flags override them.

With --nats the executor also consumes commands from the work subject of
that NATS server. --nats-embed starts an in-process NATS server instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd, &opts)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, opts.natsEmbed)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to orange.toml")
	flags.StringVar(&opts.host, "host", "", "listen host (empty for all interfaces)")
	flags.IntVar(&opts.port, "port", config.DefaultPort, "listen port")
	flags.IntVar(&opts.workers, "workers", 1, "number of executor workers")
	flags.StringVar(&opts.natsURL, "nats", "", "NATS server URL to consume commands from")
	flags.BoolVar(&opts.natsEmbed, "nats-embed", false, "start an embedded NATS server and consume from it")
	flags.StringVar(&opts.archive, "archive", "", "SQLite file keeping results of evicted references")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity")
	flags.StringVar(&opts.logFile, "log", "", "log to this file instead of stderr")
	return cmd
}

// loadServeConfig reads the configuration file and applies the flags the
// user set on top of it.
func loadServeConfig(cmd *cobra.Command, opts *serveOptions) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("workers") {
		cfg.Executor.Workers = opts.workers
	}
	if flags.Changed("nats") {
		cfg.Queue.URL = opts.natsURL
	}
	if flags.Changed("archive") {
		cfg.Archive.Path = opts.archive
	}
	if flags.Changed("verbose") {
		cfg.Log.Verbosity = opts.verbosity
	}
	if flags.Changed("log") {
		cfg.Log.File = opts.logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config, natsEmbed bool) error {
	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)
	if cfg.Path != "" {
		log.Infof("loaded configuration from %s", cfg.Path)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	execOpts := []executor.Option{
		executor.WithWorkers(cfg.Executor.Workers),
		executor.WithWaitTimeout(cfg.Executor.WaitTimeout.Duration),
		executor.WithMetrics(m),
	}
	if cfg.Registry.TTL.Duration > 0 {
		execOpts = append(execOpts, executor.WithTTL(cfg.Registry.TTL.Duration, cfg.Registry.SweepInterval.Duration))
	}
	if cfg.Archive.Path != "" {
		a, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		execOpts = append(execOpts, executor.WithArchive(a))
	}

	exec := executor.New(catalog.New(), execOpts...)
	defer exec.Close()

	l, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	srv := server.New(exec, server.WithMetrics(m, reg))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.Serve(l) })
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	natsURL := cfg.Queue.URL
	if natsEmbed {
		ns, err := queue.RunEmbedded(queueHost(cfg.Server.Host), -1)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		defer ns.Shutdown()
		natsURL = ns.ClientURL()
	}
	if natsURL != "" {
		if err := startConsumer(ctx, g, exec, m, cfg, natsURL); err != nil {
			stop()
			_ = g.Wait()
			return err
		}
	}

	return g.Wait()
}

func startConsumer(ctx context.Context, g *errgroup.Group, exec *executor.Executor, m *metrics.Metrics, cfg *config.Config, url string) error {
	nc, err := nats.Connect(url, nats.Name("orange-executor"))
	if err != nil {
		return err
	}
	consumer := queue.NewConsumer(nc, exec,
		queue.WithSubject(cfg.Queue.Subject),
		queue.WithGroup(cfg.Queue.Group),
		queue.WithMetrics(m),
	)
	if err := consumer.Start(ctx); err != nil {
		nc.Close()
		return err
	}
	log.Infof("consuming %q from %s", consumer.Subject(), url)

	g.Go(func() error {
		<-ctx.Done()
		defer nc.Close()
		return consumer.Stop()
	})
	return nil
}

func queueHost(host string) string {
	if host == "" {
		return config.DefaultHost
	}
	return host
}
