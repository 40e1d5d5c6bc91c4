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

// Command gryphon-client submits transactions to a Gryphon cluster.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cheggaaa/pb"
	docopt "github.com/docopt/docopt-go"
	log "github.com/sirupsen/logrus"
)

const usage = `gryphon-client: query a Gryphon cluster.

Usage:
  gryphon-client [--server=HOST] query <gremlin>...
  gryphon-client [--server=HOST] repl
  gryphon-client [--server=HOST] status <trxid>
  gryphon-client [--server=HOST] bench <count> <gremlin>...

Options:
  --server=HOST    Address of the gryphon-worker API [default: localhost:9990]
`

type options struct {
	Server  string   `docopt:"--server"`
	Query   bool     `docopt:"query"`
	Gremlin []string `docopt:"<gremlin>"`
	Repl    bool     `docopt:"repl"`
	Status  bool     `docopt:"status"`
	TrxID   string   `docopt:"<trxid>"`
	Bench   bool     `docopt:"bench"`
	Count   int      `docopt:"<count>"`
}

func main() {
	parsed, err := docopt.ParseDoc(usage)
	if err != nil {
		log.Fatalf("Unable to parse command line: %v", err)
	}
	var opts options
	if err := parsed.Bind(&opts); err != nil {
		log.Fatalf("Unable to bind command line: %v", err)
	}

	switch {
	case opts.Query:
		runQuery(opts.Server, strings.Join(opts.Gremlin, " "))
	case opts.Repl:
		runRepl(opts.Server)
	case opts.Status:
		runStatus(opts.Server, opts.TrxID)
	case opts.Bench:
		runBench(opts.Server, opts.Count, strings.Join(opts.Gremlin, " "))
	}
}

// runBench submits the same transaction repeatedly and reports throughput.
func runBench(server string, count int, query string) {
	host, _ := os.Hostname()
	body, err := json.Marshal(map[string]string{"host": host, "query": query})
	if err != nil {
		log.Fatalf("Unable to encode request: %v", err)
	}
	url := fmt.Sprintf("http://%s/query", server)

	bar := pb.StartNew(count)
	start := time.Now()
	aborted := 0
	for i := 0; i < count; i++ {
		resp, err := http.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("Request failed: %v", err)
		}
		var reply struct {
			Aborted bool `json:"aborted"`
		}
		err = json.NewDecoder(resp.Body).Decode(&reply)
		resp.Body.Close()
		if err != nil {
			log.Fatalf("Unable to decode reply: %v", err)
		}
		if reply.Aborted {
			aborted++
		}
		bar.Increment()
	}
	bar.Finish()
	elapsed := time.Since(start)
	fmt.Printf("%d transactions in %v (%.0f/s), %d aborted\n",
		count, elapsed, float64(count)/elapsed.Seconds(), aborted)
}

func runQuery(server, query string) {
	host, _ := os.Hostname()
	body, err := json.Marshal(map[string]string{
		"host":  host,
		"query": query,
	})
	if err != nil {
		log.Fatalf("Unable to encode request: %v", err)
	}
	resp, err := http.Post(fmt.Sprintf("http://%s/query", server),
		"application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var reply struct {
		Results []string `json:"results"`
		Latency int64    `json:"latency"`
		Aborted bool     `json:"aborted"`
		Reason  string   `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		log.Fatalf("Unable to decode reply: %v", err)
	}
	if reply.Aborted {
		fmt.Printf("ABORTED: %s\n", reply.Reason)
	} else {
		for _, result := range reply.Results {
			fmt.Println(result)
		}
	}
	fmt.Printf("[%d us]\n", reply.Latency)
}

func runRepl(server string) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("gryphon> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			return
		}
		if line != "" {
			runQuery(server, line)
		}
		fmt.Print("gryphon> ")
	}
}

func runStatus(server, trxID string) {
	resp, err := http.Get(fmt.Sprintf("http://%s/trx/%s", server, trxID))
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		log.Fatalf("Unable to decode reply: %v", err)
	}
	fmt.Printf("%v\n", status)
}
