// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package main is the bftnode CLI: a demo driver for the asynchronous
// BFT stack, following drand-drand's cmd/drand shape (a urfave/cli/v2
// app, a banner, flags collected into package-level vars, one
// subcommand per operator action) scaled down to what this repo's
// in-memory transport needs.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/luxfi/abft/config"
	"github.com/luxfi/abft/crypto/coin"
	"github.com/luxfi/abft/engine"
	"github.com/luxfi/abft/field"
	"github.com/luxfi/abft/log"
	"github.com/luxfi/abft/transport"
)

// Automatically set through -ldflags, e.g.:
// go build -ldflags "-X main.version=`git describe --tags` -X main.gitCommit=`git rev-parse HEAD`"
var (
	version   = "dev"
	gitCommit = "none"
	buildDate = "unknown"
)

func banner() {
	fmt.Printf("bftnode %v (date %v, commit %v)\n", version, buildDate, gitCommit)
}

var nodesFlag = &cli.IntFlag{
	Name:  "nodes",
	Usage: "number of replicas in the demo committee",
	Value: 4,
}

var faultsFlag = &cli.IntFlag{
	Name:  "faults",
	Usage: "tolerated Byzantine faults t (requires nodes >= 3t+1)",
	Value: 1,
}

var roundsFlag = &cli.IntFlag{
	Name:  "rounds",
	Usage: "number of ACS rounds the demo committee runs",
	Value: 1,
}

var metricsFlag = &cli.StringFlag{
	Name:  "metrics",
	Usage: "if set, serve Prometheus metrics on this (host:)port while the demo runs",
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "directory to write generated committee config files into",
	Value: ".",
}

func toArray(flags ...cli.Flag) []cli.Flag {
	return flags
}

func main() {
	app := cli.NewApp()
	app.Name = "bftnode"
	app.Usage = "asynchronous BFT agreement demo node"
	app.Version = version
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("bftnode %v (date %v, commit %v)\n", version, buildDate, gitCommit)
	}

	app.Commands = []*cli.Command{
		{
			Name:  "demo",
			Usage: "run a full in-memory committee and drive it through one or more ACS rounds.\n",
			Flags: toArray(nodesFlag, faultsFlag, roundsFlag, metricsFlag),
			Action: func(c *cli.Context) error {
				banner()
				return demoCmd(c)
			},
		},
		{
			Name:  "keygen",
			Usage: "generate a committee's TOML config files (shared MAC keys, N/T) into --out.\n",
			Flags: toArray(nodesFlag, faultsFlag, outFlag),
			Action: func(c *cli.Context) error {
				banner()
				return keygenCmd(c)
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "bftnode: %v\n", err)
		os.Exit(1)
	}
}

// keygenCmd scaffolds a committee of N peer config files from one
// committee-wide set of pairwise MAC keys (node i's entry for peer j
// holds the same key as node j's entry for peer i), following
// drand-drand's keygenCmd/groupOut pattern of writing one file per node
// and printing each written path to stdout.
func keygenCmd(c *cli.Context) error {
	n := c.Int(nodesFlag.Name)
	t := c.Int(faultsFlag.Name)
	if n < 3*t+1 {
		return fmt.Errorf("bftnode: nodes=%d too small for faults=%d (need nodes >= 3t+1)", n, t)
	}

	pairKeys := make([][]string, n)
	for i := 0; i < n; i++ {
		pairKeys[i] = make([]string, n)
		for j := 0; j <= i; j++ {
			keyHex, err := config.NewSharedKeyHex()
			if err != nil {
				return err
			}
			pairKeys[i][j], pairKeys[j][i] = keyHex, keyHex
		}
	}

	if err := os.MkdirAll(c.String(outFlag.Name), 0o755); err != nil {
		return fmt.Errorf("bftnode: create out dir: %w", err)
	}

	for i := 0; i < n; i++ {
		peers := make([]config.PeerTOML, n)
		for j := 0; j < n; j++ {
			peers[j] = config.PeerTOML{Replica: j, KeyHex: pairKeys[i][j]}
		}
		ft := config.FileTOML{Self: i, N: n, T: t, Peers: peers}
		path := fmt.Sprintf("%s/node%d.toml", c.String(outFlag.Name), i)
		if err := config.Save(path, ft); err != nil {
			return fmt.Errorf("bftnode: save %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}

// demoCmd wires an in-memory committee of n nodes (transport.LocalNetwork,
// a trusted-dealer coin.KeySet, and n engine.Node instances, per
// SPEC_FULL.md §4.1's "transport is an external collaborator ... this repo
// defines an in-memory LocalNetwork used by tests and the cmd/bftnode demo
// binary") and drives every node through the requested number of ACS
// rounds, printing each node's decided witness set as it lands.
func demoCmd(c *cli.Context) error {
	n := c.Int(nodesFlag.Name)
	t := c.Int(faultsFlag.Name)
	rounds := c.Int(roundsFlag.Name)
	if n < 3*t+1 {
		return fmt.Errorf("bftnode: nodes=%d too small for faults=%d (need nodes >= 3t+1)", n, t)
	}

	logger := log.New()

	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	if addr := c.String(metricsFlag.Name); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("bftnode: metrics server stopped", zap.Error(err))
			}
		}()
		fmt.Printf("serving metrics on http://%s/metrics\n", addr)
	}

	keyMap := make(map[int][]byte, n)
	sharedKey, err := randomSharedKey()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		keyMap[i] = sharedKey
	}
	ks := transport.NewKeyStore(keyMap)

	coinKeys, err := coin.Setup(n, t)
	if err != nil {
		return fmt.Errorf("bftnode: coin setup: %w", err)
	}

	nets := transport.NewLocalNetwork(n, 256)
	nodes := make([]*engine.Node, n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	decisions := make(chan string, n*rounds)
	for i := 0; i < n; i++ {
		i := i
		nodes[i] = engine.New(engine.Config{
			Self: i, N: n, T: t,
			Transport: nets[i], Keys: ks, Coin: coinKeys,
			Log: logger.With(zap.Int("node", i)), Metrics: metrics,
		}, engine.Callbacks{
			OnACSDecide: func(round uint64, witnessSet []int) {
				decisions <- fmt.Sprintf("node %d decided round %d witness=%v", i, round, witnessSet)
			},
		})
	}

	for i := range nodes {
		i := i
		go func() {
			for {
				env, err := nets[i].Recv(ctx)
				if err != nil {
					return
				}
				_ = nodes[i].Deliver(ctx, env)
			}
		}()
		go func(nd *engine.Node) { _ = nd.Run(ctx) }(nodes[i])
	}

	for round := uint64(1); round <= uint64(rounds); round++ {
		secrets := []field.Element{field.FromInt64(int64(round))}
		for i := 0; i < n; i++ {
			if err := nodes[i].ShareSecrets(ctx, round, secrets); err != nil {
				return fmt.Errorf("bftnode: share secrets: %w", err)
			}
		}
	}

	want := n * rounds
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	timeout := time.After(30 * time.Second)

	got := 0
	for got < want {
		select {
		case line := <-decisions:
			fmt.Println(line)
			got++
		case <-sigCh:
			fmt.Println("bftnode: interrupted")
			return nil
		case <-timeout:
			return fmt.Errorf("bftnode: timed out waiting for %d decisions, got %d", want, got)
		}
	}
	return nil
}

func randomSharedKey() ([]byte, error) {
	hexKey, err := config.NewSharedKeyHex()
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(hexKey)
}

