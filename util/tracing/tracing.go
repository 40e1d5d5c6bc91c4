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

// Package tracing assists with reporting OpenTracing traces.
package tracing

import (
	"fmt"

	opentracing "github.com/opentracing/opentracing-go"
	log "github.com/sirupsen/logrus"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

// A Tracer reports OpenTracing traces to a Jaeger agent.
type Tracer struct {
	// If not nil, called by Close.
	close func()
}

// New constructs a tracer and sets it as the global opentracing tracer.
// Call this early on from main functions. An empty agent address skips
// Jaeger setup and leaves the no-op global tracer in place. The returned
// tracer should be Closed to flush its buffer before program exit.
func New(serviceName, agentAddr string) (*Tracer, error) {
	if agentAddr == "" {
		log.Debug("Skipping Jaeger setup: no agent address configured")
		return &Tracer{}, nil
	}
	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: agentAddr,
		},
	}
	logger := (*logrusAdapter)(log.WithFields(log.Fields{"component": "jaeger"}))
	tracer, closer, err := cfg.NewTracer(jaegercfg.Logger(logger))
	if err != nil {
		return nil, fmt.Errorf("could not initialize Jaeger tracer: %v", err)
	}
	opentracing.SetGlobalTracer(tracer)
	return &Tracer{
		close: func() {
			if err := closer.Close(); err != nil {
				log.WithError(err).Warn("Error shutting down Jaeger tracer")
			}
		},
	}, nil
}

// Close flushes and shuts down the tracer.
func (t *Tracer) Close() {
	if t.close != nil {
		t.close()
	}
}

// logrusAdapter lets the Jaeger client log through logrus.
type logrusAdapter log.Entry

// Error implements jaeger.Logger.
func (l *logrusAdapter) Error(msg string) {
	(*log.Entry)(l).Error(msg)
}

// Infof implements jaeger.Logger.
func (l *logrusAdapter) Infof(msg string, args ...interface{}) {
	(*log.Entry)(l).Debugf(msg, args...)
}
