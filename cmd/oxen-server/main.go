// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// oxen-server hosts repositories over HTTP: the transfer endpoints the
// CLI's push/pull/clone speak, plus the per-user remote staging
// surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oxen-ai/oxen-go/pkg/server"
	"github.com/sirupsen/logrus"
)

func main() {
	listen := flag.String("listen", ":3000", "listen address")
	root := flag.String("root", "", "directory holding <namespace>/<name> repositories")
	signingKey := flag.String("signing-key", os.Getenv("OXEN_SIGNING_KEY"), "HS256 bearer key; empty disables auth")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logrus.SetOutput(os.Stderr)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	srv, err := server.NewServer(server.Config{
		Listen:       *listen,
		Root:         *root,
		SigningKey:   *signingKey,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "oxen-server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "oxen-server: %v\n", err)
		os.Exit(1)
	}
}
