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

package mailbox

import (
	metricsutil "github.com/ebay/gryphon/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

type mailboxMetrics struct {
	sent     *prometheus.CounterVec
	received *prometheus.CounterVec
}

var metrics mailboxMetrics

func init() {
	mr := metricsutil.Registry{R: prometheus.DefaultRegisterer}
	metrics = mailboxMetrics{
		sent: mr.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gryphon",
			Subsystem: "mailbox",
			Name:      "messages_sent",
			Help:      `The number of messages this worker's mailbox accepted for delivery.`,
		}, []string{"worker"}),
		received: mr.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gryphon",
			Subsystem: "mailbox",
			Name:      "messages_received",
			Help:      `The number of messages expert threads pulled from this worker's mailbox.`,
		}, []string{"worker"}),
	}
}
