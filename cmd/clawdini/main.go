//
// Tencent is pleased to support the open source community by making clawdini available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// clawdini is licensed under the Apache License Version 2.0.
//
//

// clawdini is the workflow orchestrator daemon: it connects to the agent
// gateway, then serves the run-submission API until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/clawdini/gateway"
	"trpc.group/trpc-go/clawdini/log"
	"trpc.group/trpc-go/clawdini/registry"
	"trpc.group/trpc-go/clawdini/server"
)

const (
	defaultGatewayURL = "ws://127.0.0.1:18789"
	defaultListenAddr = "127.0.0.1:8799"

	nodePoolSize    = 64
	shutdownTimeout = 15 * time.Second
)

func main() {
	// A missing .env is fine; the environment may carry everything.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("load .env: %v", err)
	}

	if level := os.Getenv("CLAWDINI_LOG_LEVEL"); level != "" {
		log.SetLevel(level)
	}

	identityPath := os.Getenv("CLAWDINI_IDENTITY_FILE")
	if identityPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("resolve home directory: %v", err)
		}
		identityPath = filepath.Join(home, ".clawdini", "identity.json")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := gateway.Dial(ctx, gateway.Config{
		URL:          envOr("CLAWDINI_GATEWAY_URL", defaultGatewayURL),
		Token:        os.Getenv("CLAWDINI_GATEWAY_TOKEN"),
		IdentityPath: identityPath,
	})
	if err != nil {
		log.Fatalf("connect gateway: %v", err)
	}
	defer client.Close()

	pool, err := ants.NewPool(nodePoolSize)
	if err != nil {
		log.Fatalf("create worker pool: %v", err)
	}
	defer pool.Release()

	reg := registry.New(client, registry.Options{Pool: pool})
	srv := server.New(reg, client,
		server.WithAddr(envOr("CLAWDINI_LISTEN_ADDR", defaultListenAddr)))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Fatalf("http server: %v", err)
		}
		return
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Errorf("shutdown http server: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
