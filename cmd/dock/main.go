// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dock runs an OCI distribution registry backed by a local
// directory.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yeetrun/dock/pkg/config"
	"github.com/yeetrun/dock/pkg/registry"
	"github.com/yeetrun/dock/pkg/server"
	"github.com/yeetrun/dock/pkg/storage"
	"tailscale.com/util/must"
)

var (
	configPath = flag.String("config", "dock.toml", "path to the configuration file (.toml, .yaml or .yml)")
	verbose    = flag.Bool("v", false, "log every request and registry operation")
)

func main() {
	flag.Parse()
	registry.SetVerbose(*verbose)
	server.SetVerbose(*verbose)

	cfg := must.Get(config.Load(*configPath))
	log.Printf("storage root: %s", cfg.Storage.RootDir)

	srv := must.Get(newHTTPServer(cfg))
	ln := must.Get(net.Listen("tcp", cfg.Addr()))
	log.Printf("listening on %s", ln.Addr())

	errc := make(chan error, 1)
	go func() {
		if srv.TLSConfig != nil {
			errc <- srv.ServeTLS(ln, "", "")
			return
		}
		errc <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errc:
		log.Fatalf("server error: %v", err)
	case <-ctx.Done():
	}

	log.Printf("shutting down, waiting up to %v for requests", cfg.GracePeriod())
	sctx, cancel := context.WithTimeout(context.Background(), cfg.GracePeriod())
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Printf("shutdown: %v", err)
		srv.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server error: %v", err)
	}
}

// newHTTPServer wires storage, registry and policy into an http.Server for
// cfg. It does not listen.
func newHTTPServer(cfg *config.Config) (*http.Server, error) {
	fs, err := storage.New(cfg.Storage.RootDir, storage.Options{
		CheckpointInterval: cfg.Storage.CheckpointInterval.Bytes(),
	})
	if err != nil {
		return nil, err
	}
	reg := registry.New(fs, registry.Options{
		MaxManifestSize: cfg.Storage.MaxManifestSize.Bytes(),
	})
	h := server.New(reg, server.Options{Policy: cfg.Evaluator()})

	srv := &http.Server{
		Handler:           withTimeout(h, cfg.QueryTimeout()),
		ReadHeaderTimeout: 30 * time.Second,
	}
	if cfg.Server.TLS != nil {
		tc, err := tlsConfig(cfg.Server.TLS)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tc
	}
	return srv, nil
}

// withTimeout bounds the context of every request to d.
func withTimeout(h http.Handler, d time.Duration) http.Handler {
	if d <= 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tlsConfig loads the server key pair and, if configured, the CA bundle
// client certificates are verified against. Clients without a certificate
// are still accepted and fall back to basic auth.
func tlsConfig(c *config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.ServerCertificateBundle, c.ServerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if c.ClientCABundle == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(c.ClientCABundle)
	if err != nil {
		return nil, fmt.Errorf("read client CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("client CA bundle %s holds no certificates", c.ClientCABundle)
	}
	tc.ClientCAs = pool
	tc.ClientAuth = tls.VerifyClientCertIfGiven
	return tc, nil
}
