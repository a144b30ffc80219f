package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kirk91/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"k8s.io/klog"

	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/config"
	"github.com/kirk91/miniredis/resp"
	"github.com/kirk91/miniredis/server"
)

var klogFlags = flag.NewFlagSet("klog", flag.ContinueOnError)

func init() {
	klog.InitFlags(klogFlags)
}

func setVerbosity(v int) {
	if err := klogFlags.Set("v", strconv.Itoa(v)); err != nil {
		klog.Warningf("set log verbosity %d: %v", v, err)
	}
}

// flag name -> config key
var flagOverrides = map[string]string{
	"bind":         "server.bind",
	"decoder":      "server.decoder",
	"metrics-addr": "metrics.addr",
}

func main() {
	app := &cli.App{
		Name:  "miniredis",
		Usage: "An in-memory key/value server speaking RESP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file, reloaded on change",
				EnvVars: []string{config.DefaultEnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:  "bind",
				Usage: "The listen address of the server",
			},
			&cli.StringFlag{
				Name:  "decoder",
				Usage: "The frame decoder, one of: " + resp.DecoderDescent + ", " + resp.DecoderCombinator,
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "The listen address of the prometheus endpoint, empty disables it",
			},
			&cli.IntFlag{
				Name:  "v",
				Usage: "Log verbosity",
			},
		},
		Action: run,
	}
	defer klog.Flush()
	if err := app.Run(os.Args); err != nil {
		klog.Fatal(err)
	}
}

func loaderFromFlags(c *cli.Context) *config.Loader {
	var opts []config.Option
	if path := c.String("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}
	for name, key := range flagOverrides {
		if c.IsSet(name) {
			opts = append(opts, config.WithOverride(key, c.String(name)))
		}
	}
	if c.IsSet("v") {
		opts = append(opts, config.WithOverride("log.verbosity", c.Int("v")))
	}
	return config.NewLoader(opts...)
}

func run(c *cli.Context) error {
	loader := loaderFromFlags(c)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	setVerbosity(cfg.Log.Verbosity)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := stats.NewStore(stats.NewStoreOption())
	go store.FlushingLoop(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	b := backend.New(backend.Options{Shards: cfg.Backend.Shards})
	srv, err := server.New(&server.Config{
		Bind:        cfg.Server.Bind,
		Decoder:     cfg.Server.Decoder,
		ErrorReply:  cfg.Server.ErrorReply,
		RateLimit:   cfg.Server.RateLimit,
		ReadBuffer:  cfg.Server.ReadBuffer,
		WriteBuffer: cfg.Server.WriteBuffer,
	}, b, store.CreateScope(""), reg)
	if err != nil {
		return err
	}
	go func() {
		err := srv.ListenAndServe()
		if err != nil {
			klog.Fatal(err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		ms := newMetricsServer(cfg.Metrics.Addr, reg)
		go func() {
			if err := ms.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Fatal(err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			ms.Shutdown(sctx)
		}()
	}

	if loader.FilePath() != "" {
		w, err := config.NewWatcher(loader, func(cfg *config.Config) {
			klog.Infof("config reloaded: verbosity %d, error reply %t", cfg.Log.Verbosity, cfg.Server.ErrorReply)
			setVerbosity(cfg.Log.Verbosity)
			srv.SetErrorReply(cfg.Server.ErrorReply)
		})
		if err != nil {
			return err
		}
		go w.Start()
		defer w.Stop()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	for s := range sigs {
		klog.Info("signal received: ", s)
		switch s {
		case syscall.SIGINT, syscall.SIGTERM: // exit
			srv.Stop()
			klog.Info("ready to exit, bye bye...")
			return nil
		default:
			klog.V(4).Infof("ignore signal: %s", s)
		}
	}
	return nil
}

func newMetricsServer(addr string, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
