//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package main

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-sock/control"
	"github.com/momentics/hioload-sock/reactor"
	"github.com/momentics/hioload-sock/socket"
)

// echoDelegate writes every chunk it reads back to the same connection.
type echoDelegate struct {
	bufSize int
	log     *logrus.Entry
}

func (d *echoDelegate) OnAccept(r *reactor.Reactor, server *socket.TCPServer, client *socket.TCPClient) {
	peer := client.RemoteAddress().String()
	if err := r.AddClient(client, peer); err != nil {
		d.log.WithFields(logrus.Fields{"peer": peer, "error": err.Error()}).Warn("failed to register connection")
		_ = client.Close()
		return
	}
	d.log.WithField("peer", peer).Info("accepted connection")
}

func (d *echoDelegate) OnServerClosed(r *reactor.Reactor, server *socket.TCPServer, err error) {
	entry := d.log.WithField("port", server.Port())
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Warn("listener closed")
}

func (d *echoDelegate) OnData(r *reactor.Reactor, client *socket.TCPClient, ctx any) {
	data, err := client.Read(d.bufSize)
	if err == nil {
		err = client.Write(data)
	}
	if err == nil {
		d.log.WithFields(logrus.Fields{"peer": ctx, "bytes": len(data)}).Debug("echoed")
		return
	}
	if !errors.Is(err, io.EOF) {
		d.log.WithFields(logrus.Fields{"peer": ctx, "error": err.Error()}).Warn("connection failed")
	}
	_ = r.Remove(client)
	_ = client.Close()
}

func (d *echoDelegate) OnClientClosed(r *reactor.Reactor, client *socket.TCPClient, err error, ctx any) {
	entry := d.log.WithField("peer", ctx)
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	entry.Info("connection closed")
	_ = client.Close()
}

func tcpEchoCmd() *cobra.Command {
	var (
		port        uint16
		backend     string
		maxEvents   int
		bufSize     int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "tcp-echo",
		Short: "Run a reactor-driven TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := control.NewConfigStore()
			store.SetConfig(map[string]any{
				control.KeyBackend:   backend,
				control.KeyMaxEvents: maxEvents,
			})
			cfg, err := store.Config()
			if err != nil {
				return err
			}

			log := logrus.WithField("component", "tcp-echo")
			metrics := control.NewMetricsRegistry()
			r, err := reactor.New(&echoDelegate{bufSize: bufSize, log: log},
				reactor.WithConfig(cfg),
				reactor.WithMetrics(metrics),
				reactor.WithLogger(logrus.StandardLogger()))
			if err != nil {
				return err
			}
			defer r.Close()

			srv, err := socket.NewTCPServer(port, family())
			if err != nil {
				return err
			}
			if err := srv.Bind(); err != nil {
				_ = srv.Close()
				return err
			}
			if err := srv.Listen(cfg.ListenBacklog); err != nil {
				_ = srv.Close()
				return err
			}
			if err := r.AddServer(srv); err != nil {
				_ = srv.Close()
				return err
			}
			if metricsAddr != "" {
				serveMetrics(metricsAddr, metrics, r)
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sig
				log.Info("shutting down")
				if err := r.Stop(true); err != nil {
					log.WithField("error", err.Error()).Warn("stop reported errors")
				}
			}()

			log.WithFields(logrus.Fields{
				"port":    srv.Port(),
				"backend": cfg.Backend,
			}).Info("listening")
			return r.Run()
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", 9000, "TCP port to listen on")
	cmd.Flags().StringVar(&backend, "backend", control.BackendEpoll, "readiness backend (epoll or poll)")
	cmd.Flags().IntVar(&maxEvents, "max-events", 128, "events fetched per wait call")
	cmd.Flags().IntVar(&bufSize, "buffer", 4096, "bytes read per data-ready callback")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /debug/state on this address")
	return cmd
}
