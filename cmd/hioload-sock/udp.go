//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/momentics/hioload-sock/addr"
	"github.com/momentics/hioload-sock/control"
	"github.com/momentics/hioload-sock/socket"
)

func udpEchoCmd() *cobra.Command {
	var (
		port    uint16
		bufSize int
		sndbuf  int
	)
	cmd := &cobra.Command{
		Use:   "udp-echo",
		Short: "Echo every UDP datagram back to its sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := socket.NewUDPServer(port, family())
			if err != nil {
				return err
			}
			defer srv.Close()
			cfg, err := control.DefaultConfig().Apply(map[string]any{control.KeyUDPSendBuffer: sndbuf})
			if err != nil {
				return err
			}
			if cfg.UDPSendBuffer != socket.DefaultUDPSendBuffer {
				if err := srv.Handle().SetOption(socket.SendBuffer(cfg.UDPSendBuffer)); err != nil {
					return err
				}
			}
			if err := srv.Bind(); err != nil {
				return err
			}
			log := logrus.WithFields(logrus.Fields{"component": "udp-echo", "port": srv.Port()})
			log.Info("listening")
			for {
				data, from, err := srv.Receive(bufSize)
				if err != nil {
					return err
				}
				if err := srv.Send(data, from); err != nil {
					log.WithFields(logrus.Fields{"peer": from.String(), "error": err.Error()}).Warn("reply failed")
					continue
				}
				log.WithFields(logrus.Fields{"peer": from.String(), "bytes": len(data)}).Debug("echoed")
			}
		},
	}
	cmd.Flags().Uint16VarP(&port, "port", "p", 9001, "UDP port to listen on")
	cmd.Flags().IntVar(&bufSize, "buffer", 2048, "maximum datagram size")
	cmd.Flags().IntVar(&sndbuf, "sndbuf", socket.DefaultUDPSendBuffer, "SO_SNDBUF for the server socket")
	return cmd
}

func udpSendCmd() *cobra.Command {
	var (
		host    string
		port    uint16
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "udp-send MESSAGE",
		Short: "Send one datagram and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := addr.Parse(host, port)
			if err != nil {
				return err
			}
			c, err := socket.NewUDPClient(server)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Connect(); err != nil {
				return err
			}
			if err := c.Handle().SetOption(socket.RecvTimeout(timeout)); err != nil {
				return err
			}
			if err := c.Send([]byte(args[0])); err != nil {
				return err
			}
			reply, err := c.Receive(2048)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n", reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "numeric server address")
	cmd.Flags().Uint16VarP(&port, "port", "p", 9001, "server port")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "reply timeout")
	return cmd
}
