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

package worker

import (
	"encoding/json"
	"net/http"
	_ "net/http/pprof" // enable pprof endpoints
	"strconv"

	"github.com/ebay/gryphon/txtable"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Server is the client-facing HTTP API, hosted by the cluster's first
// worker.
type Server struct {
	cluster *Cluster
	stubs   txtable.Router
}

// NewServer wraps a cluster with the request endpoints.
func NewServer(cluster *Cluster) *Server {
	return &Server{
		cluster: cluster,
		stubs:   stubRouter{cluster: cluster},
	}
}

// queryRequest is the framed client request: the caller's host plus the
// transaction text.
type queryRequest struct {
	Host  string `json:"host"`
	Query string `json:"query"`
}

// queryResponse echoes the host with the result values and elapsed
// microseconds.
type queryResponse struct {
	Host    string   `json:"host"`
	Results []string `json:"results"`
	Latency int64    `json:"latency"`
	Aborted bool     `json:"aborted,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run() error {
	m := httprouter.New()
	m.POST("/query", s.query)
	m.GET("/trx/:id", s.trxStatus)
	m.Handler("GET", "/metrics", promhttp.Handler())

	m.NotFound = http.DefaultServeMux
	logger := func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("[API] %v %v", r.Method, r.URL)
		m.ServeHTTP(w, r)
	}
	return http.ListenAndServe(s.cluster.Cfg.HTTPAddress, http.HandlerFunc(logger))
}

func (s *Server) query(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := s.cluster.Execute(r.Context(), 0, req.Query)
	writeJSON(w, queryResponse{
		Host:    req.Host,
		Results: reply.Results,
		Latency: reply.Latency,
		Aborted: reply.Aborted,
		Reason:  reply.Reason,
	})
}

// trxStatus answers "is this transaction committed?" through the stub of
// its hosting worker, the request-reply shape a remote worker would use in
// TCP mode.
func (s *Server) trxStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	trxID, err := strconv.ParseUint(params.ByName("id"), 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stub := s.stubs.StubFor(trxID)
	status, ok := stub.Status(trxID)
	if !ok {
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}
	ct, _ := stub.CommitTime(trxID)
	writeJSON(w, map[string]any{
		"status":     status.String(),
		"commitTime": ct,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode HTTP response")
	}
}
