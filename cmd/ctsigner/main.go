// Copyright 2017 Google Inc. All Rights Reserved.
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

// Binary ctsigner runs one cluster node's Tree Signer, Cluster State
// Controller and Log Lookup against a shared etcd consistent store. Only
// the node that wins leader election actually sequences and signs;
// every node runs the controller and lookup regardless of leadership.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/openctlog/ctlog/clock"
	"github.com/openctlog/ctlog/cluster/controller"
	"github.com/openctlog/ctlog/cluster/election"
	"github.com/openctlog/ctlog/cluster/store"
	"github.com/openctlog/ctlog/cmd/keys"
	"github.com/openctlog/ctlog/config"
	ctcrypto "github.com/openctlog/ctlog/crypto"
	logpkg "github.com/openctlog/ctlog/log"
	"github.com/openctlog/ctlog/log/lookup"
	"github.com/openctlog/ctlog/monitoring"
	monpromhttp "github.com/openctlog/ctlog/monitoring/promhttp"
	"github.com/openctlog/ctlog/storage"
	"github.com/openctlog/ctlog/storage/memory"
	"github.com/openctlog/ctlog/storage/mysql"
	"github.com/openctlog/ctlog/types"
)

var (
	configPath    = flag.String("config", "", "path to the YAML config file")
	nodeID        = flag.String("node_id", "", "unique identifier for this cluster node")
	etcdEndpoints = flag.String("etcd_endpoints", "localhost:2379", "comma-separated etcd endpoints")
	keyPath       = flag.String("key", "", "path to a PKCS#8 PEM private key this node signs with")
	storageKind   = flag.String("storage", "memory", "entry storage backend: memory or mysql")
	mysqlDSN      = flag.String("mysql_dsn", "", "DSN for the mysql storage backend")
	metricsAddr   = flag.String("metrics_addr", ":8080", "address to serve /metrics on")
)

func main() {
	flag.Parse()
	if *nodeID == "" {
		glog.Exit("ctsigner: -node_id is required")
	}
	if *keyPath == "" {
		glog.Exit("ctsigner: -key is required")
	}
	if *configPath == "" {
		glog.Exit("ctsigner: -config is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Exitf("ctsigner: loading config: %v", err)
	}

	signerKey, _, err := keys.LoadPrivate(*keyPath)
	if err != nil {
		glog.Exitf("ctsigner: loading signing key: %v", err)
	}
	logID, err := keys.LogID(signerKey.Public())
	if err != nil {
		glog.Exitf("ctsigner: deriving log id: %v", err)
	}
	signer := ctcrypto.NewSigner(logID, signerKey)

	entries, err := openStorage()
	if err != nil {
		glog.Exitf("ctsigner: opening storage: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(*etcdEndpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		glog.Exitf("ctsigner: connecting to etcd: %v", err)
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	mf := monpromhttp.NewFactory(reg)
	go serveMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cstore := store.New(client, cfg.LogID)
	if err := publishClusterConfig(ctx, cstore, cfg); err != nil {
		glog.Exitf("ctsigner: publishing cluster config: %v", err)
	}

	elec, err := election.New(ctx, client, cfg.LogID, *nodeID, cfg.LeaderLeaseMillis/1000)
	if err != nil {
		glog.Exitf("ctsigner: creating election: %v", err)
	}
	defer elec.Close()

	ctrl := controller.New(*nodeID, cstore, entries, client, cfg.LeaderLeaseMillis/1000, clock.System{})
	defer func() {
		if err := ctrl.Close(context.Background()); err != nil {
			glog.Warningf("ctsigner: releasing controller lease: %v", err)
		}
	}()
	lk := lookup.New(entries)

	go runController(ctx, ctrl, cstore, entries, lk, cfg)
	go runSigner(ctx, elec, cstore, entries, signer, cfg, mf)

	waitForShutdown()
	glog.Info("ctsigner: shutting down")
}

func openStorage() (storage.EntryStorage, error) {
	switch *storageKind {
	case "memory":
		return memory.New(), nil
	case "mysql":
		if *mysqlDSN == "" {
			glog.Exit("ctsigner: -mysql_dsn is required with -storage=mysql")
		}
		db, err := sql.Open("mysql", *mysqlDSN)
		if err != nil {
			return nil, err
		}
		return mysql.New(db), nil
	default:
		glog.Exitf("ctsigner: unknown storage backend %q", *storageKind)
		return nil, nil
	}
}

func publishClusterConfig(ctx context.Context, cstore *store.Store, cfg config.Config) error {
	existing, err := cstore.GetClusterConfig(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return cstore.SetClusterConfig(ctx, types.ClusterConfig{
		ServingFreshness: cfg.ServingFreshnessWindow(),
		Quorum:           cfg.ClusterQuorum,
	})
}

// runController drives the Cluster State Controller and Log Lookup on
// every node, regardless of leadership: heartbeating local progress,
// electing a serving STH, and rebuilding the read index whenever the
// serving STH advances.
func runController(ctx context.Context, ctrl *controller.Controller, cstore *store.Store, entries storage.EntryStorage, lk *lookup.Lookup, cfg config.Config) {
	ticker := time.NewTicker(cfg.SigningInterval())
	defer ticker.Stop()

	var lastServed uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := ctrl.RunOnce(ctx); err != nil {
			glog.Warningf("ctsigner: controller iteration: %v", err)
			continue
		}
		serving, err := cstore.GetServingSTH(ctx)
		if err != nil || serving == nil {
			continue
		}
		var root types.LogRootV1
		if err := root.UnmarshalBinary(serving.LogRoot); err != nil {
			continue
		}
		if root.TreeSize == lastServed {
			continue
		}
		if err := lk.Rebuild(ctx, serving); err != nil {
			glog.Warningf("ctsigner: rebuilding lookup index: %v", err)
			continue
		}
		lastServed = root.TreeSize
	}
}

// runSigner campaigns for leadership and, for as long as this node holds
// it, runs the Tree Signer loop. On losing leadership it re-campaigns.
func runSigner(ctx context.Context, elec *election.Election, cstore *store.Store, entries storage.EntryStorage, signer *ctcrypto.Signer, cfg config.Config, mf monitoring.MetricFactory) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := elec.Campaign(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Warningf("ctsigner: campaign failed: %v", err)
			time.Sleep(time.Second)
			continue
		}
		glog.Infof("ctsigner: %s now leading, starting tree signer", *nodeID)

		strict := store.NewStrict(cstore, elec)
		ts := logpkg.NewSigner(cfg.LogID, entries, strict, signer, elec, clock.System{}, mf)

		signerCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			ts.Run(signerCtx, cfg.SigningBatchLimit, cfg.SigningInterval(), cfg.GuardWindow(), cfg.MMD(), cfg.MaxClockSkew())
			close(done)
		}()

		select {
		case <-elec.Done():
			glog.Warning("ctsigner: lost leadership, stopping tree signer")
		case <-ctx.Done():
			stop()
			<-done
			return
		}
		stop()
		<-done
	}
}

func serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
		glog.Warningf("ctsigner: metrics server: %v", err)
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
