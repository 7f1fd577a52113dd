//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Command hioload-sock exercises the socket runtime: a reactor-driven TCP
// echo server and a pair of UDP tools.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-sock/addr"
	"github.com/momentics/hioload-sock/control"
	"github.com/momentics/hioload-sock/reactor"
	"github.com/momentics/hioload-sock/socket"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

var (
	logLevel string
	useIPv6  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hioload-sock",
		Short: "Raw TCP/UDP socket runtime with a single-threaded reactor",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := control.DefaultConfig().Apply(map[string]any{control.KeyLogLevel: logLevel})
			if err != nil {
				return err
			}
			logrus.SetLevel(cfg.LogLevel)
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			socket.SetLogger(logrus.StandardLogger())
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&useIPv6, "ipv6", false, "use IPv6 sockets")

	rootCmd.AddCommand(
		tcpEchoCmd(),
		udpEchoCmd(),
		udpSendCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func family() addr.Family {
	if useIPv6 {
		return addr.IPv6
	}
	return addr.IPv4
}

// serveMetrics exposes the registry on addr until the process exits.
func serveMetrics(listen string, metrics *control.MetricsRegistry, r *reactor.Reactor) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(control.NewCollector("hioload_sock", metrics))
	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	r.RegisterProbes(probes)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		for k, v := range probes.DumpState() {
			fmt.Fprintf(w, "%s: %v\n", k, v)
		}
	})
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"address":  listen,
				"error":    err.Error(),
			}).Error("metrics endpoint stopped")
		}
	}()
}
