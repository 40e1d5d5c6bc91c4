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

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// A Node is one line of the cluster hostfile.
type Node struct {
	Hostname string
	TCPPort  int
	RDMAPort int
	// Rank within the cluster: the master is -1, workers count from 0 in
	// file order.
	Rank int
}

// A Cluster is the parsed hostfile: the master entry followed by the workers
// in rank order.
type Cluster struct {
	Master  Node
	Workers []Node
}

// WorkerCount returns the number of worker nodes.
func (c *Cluster) WorkerCount() int {
	return len(c.Workers)
}

// ParseHostfile reads a cluster config file with one "hostname:tcp:rdma"
// entry per line. The first line is the master; the rest are workers, ranked
// by file order. Blank lines and '#' comments are skipped.
func ParseHostfile(filename string) (*Cluster, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var nodes []Node
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		node, err := parseHostLine(line)
		if err != nil {
			return nil, fmt.Errorf("%v:%d: %v", filename, lineNum, err)
		}
		nodes = append(nodes, node)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %v: %v", filename, err)
	}
	if len(nodes) < 2 {
		return nil, fmt.Errorf("%v: need a master line and at least one worker", filename)
	}

	cluster := &Cluster{Master: nodes[0]}
	cluster.Master.Rank = -1
	for rank, node := range nodes[1:] {
		node.Rank = rank
		cluster.Workers = append(cluster.Workers, node)
	}
	return cluster, nil
}

func parseHostLine(line string) (Node, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 3 {
		return Node{}, fmt.Errorf("expected hostname:tcp_port:rdma_port, got %q", line)
	}
	tcp, err := strconv.Atoi(parts[1])
	if err != nil {
		return Node{}, fmt.Errorf("bad tcp port in %q: %v", line, err)
	}
	rdma, err := strconv.Atoi(parts[2])
	if err != nil {
		return Node{}, fmt.Errorf("bad rdma port in %q: %v", line, err)
	}
	return Node{Hostname: parts[0], TCPPort: tcp, RDMAPort: rdma}, nil
}
