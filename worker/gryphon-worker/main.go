// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command gryphon-worker runs a Gryphon worker cluster daemon.
package main

import (
	"flag"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/ebay/gryphon/config"
	"github.com/ebay/gryphon/loader"
	"github.com/ebay/gryphon/util/debuglog"
	"github.com/ebay/gryphon/util/random"
	"github.com/ebay/gryphon/util/tracing"
	"github.com/ebay/gryphon/worker"
	log "github.com/sirupsen/logrus"
)

func main() {
	debuglog.Configure(debuglog.Options{})
	random.SeedMath()
	cfgFile := flag.String("cfg", "gryphon.json", "Config file")
	logLevel := flag.String("log", "info", "Logging level")
	jaegerAgent := flag.String("jaeger", "", "Jaeger agent host:port for tracing")
	pprofAddr := flag.String("pprof", "", "If set will start a HTTP server with the pprof endpoints enabled")
	genModern := flag.Bool("gen-modern", false, "Write the sample modern graph into dataRoot and exit")
	flag.Parse()

	ll, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Unable to parse logLevel: %v", err)
	}
	log.SetLevel(ll)

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.Fatalf("Unable to load configuration: %v", err)
	}
	log.Infof("Using config: %+v", cfg)

	if *genModern {
		if err := loader.WriteModern(cfg.DataRoot); err != nil {
			log.Fatalf("Unable to write sample data: %v", err)
		}
		log.Infof("Wrote modern graph to %v", cfg.DataRoot)
		os.Exit(0)
	}

	tracer, err := tracing.New("gryphon-worker", *jaegerAgent)
	if err != nil {
		log.Fatalf("Unable to initialize distributed tracing: %v", err)
	}
	defer tracer.Close()

	if *pprofAddr != "" {
		log.Infof("Starting pprof http endpoint on %s", *pprofAddr)
		go http.ListenAndServe(*pprofAddr, nil)
	}

	workerCount := 1
	if cfg.HostFile != "" {
		cluster, err := config.ParseHostfile(cfg.HostFile)
		if err != nil {
			log.Fatalf("Unable to parse hostfile: %v", err)
		}
		workerCount = cluster.WorkerCount()
	}

	c, err := worker.NewCluster(cfg, workerCount)
	if err != nil {
		log.Fatalf("Unable to initialize cluster: %v", err)
	}
	c.Start()
	defer c.Stop()

	server := worker.NewServer(c)
	log.Infof("Serving client API on %v", cfg.HTTPAddress)
	if err := server.Run(); err != nil {
		log.WithError(err).Panic("API server failed")
	}
}
