// Copyright 2016 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Binary ctfetcher runs a read-only mirror of an upstream log: it never
// sequences or signs, only pulls, verifies and republishes what the
// upstream has already published.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/openctlog/ctlog/cmd/keys"
	"github.com/openctlog/ctlog/fetcher"
	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/storage/memory"
	"github.com/openctlog/ctlog/storage/mysql"
)

var (
	upstreamURL  = flag.String("upstream_url", "", "base URL of the log to mirror")
	upstreamKey  = flag.String("upstream_key", "", "path to the upstream log's PEM public key")
	storageKind  = flag.String("storage", "memory", "entry storage backend: memory or mysql")
	mysqlDSN     = flag.String("mysql_dsn", "", "DSN for the mysql storage backend")
	parallelism  = flag.Int("parallelism", 10, "concurrent fetch windows")
	windowSize   = flag.Int("window_size", 1000, "entries fetched per window")
	pollInterval = flag.Duration("poll_interval", 30*time.Second, "interval between sync attempts")
)

func main() {
	flag.Parse()
	if *upstreamURL == "" {
		glog.Exit("ctfetcher: -upstream_url is required")
	}
	if *upstreamKey == "" {
		glog.Exit("ctfetcher: -upstream_key is required")
	}

	pub, err := keys.LoadPublic(*upstreamKey)
	if err != nil {
		glog.Exitf("ctfetcher: loading upstream key: %v", err)
	}

	entries, err := openStorage()
	if err != nil {
		glog.Exitf("ctfetcher: opening storage: %v", err)
	}

	up := fetcher.NewHTTPUpstream(*upstreamURL, nil)
	f := fetcher.New(up, entries, pub, *parallelism, *windowSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go run(ctx, f)

	waitForShutdown()
	glog.Info("ctfetcher: shutting down")
}

func run(ctx context.Context, f *fetcher.Fetcher) {
	ticker := time.NewTicker(*pollInterval)
	defer ticker.Stop()
	for {
		if err := f.Sync(ctx); err != nil {
			glog.Warningf("ctfetcher: sync: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func openStorage() (storage.EntryStorage, error) {
	switch *storageKind {
	case "memory":
		return memory.New(), nil
	case "mysql":
		if *mysqlDSN == "" {
			glog.Exit("ctfetcher: -mysql_dsn is required with -storage=mysql")
		}
		db, err := sql.Open("mysql", *mysqlDSN)
		if err != nil {
			return nil, err
		}
		return mysql.New(db), nil
	default:
		glog.Exitf("ctfetcher: unknown storage backend %q", *storageKind)
		return nil, nil
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
