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
	"context"
	"testing"
	"time"

	"github.com/ebay/gryphon/graph"
	"github.com/ebay/gryphon/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SendRecv_AcrossWorkers(t *testing.T) {
	net := NewNetwork(2, 2, 16)
	ctx := context.Background()

	m := msg.Message{
		Meta: msg.Meta{QID: 1, RecverNode: 1, RecverThread: 0},
		Data: []msg.Pair{{Values: []graph.Value{graph.IntValue(7)}}},
	}
	require.NoError(t, net.Mailbox(0).Send(ctx, m))

	got, err := net.Mailbox(1).Recv(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Meta.QID)
	assert.Equal(t, int64(7), got.Data[0].Values[0].Int())
}

func Test_FIFO_PerSender(t *testing.T) {
	net := NewNetwork(1, 1, 64)
	ctx := context.Background()
	box := net.Mailbox(0)

	for i := 0; i < 50; i++ {
		m := msg.Message{
			Meta: msg.Meta{QID: uint64(i), RecverNode: 0, RecverThread: 0},
		}
		require.NoError(t, box.Send(ctx, m))
	}
	for i := 0; i < 50; i++ {
		got, err := box.Recv(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), got.Meta.QID)
	}
}

func Test_Recv_ContextCancel(t *testing.T) {
	net := NewNetwork(1, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := net.Mailbox(0).Recv(ctx, 0)
	assert.Error(t, err)
}

func Test_Send_BlocksUntilDrained(t *testing.T) {
	net := NewNetwork(1, 1, 1)
	ctx := context.Background()
	box := net.Mailbox(0)

	require.NoError(t, box.Send(ctx, msg.Message{Meta: msg.Meta{QID: 1}}))
	done := make(chan error, 1)
	go func() {
		done <- box.Send(ctx, msg.Message{Meta: msg.Meta{QID: 2}})
	}()

	// The second send is parked on the full queue until a recv drains it.
	select {
	case <-done:
		t.Fatal("send should have blocked on the full queue")
	case <-time.After(20 * time.Millisecond):
	}
	_, err := box.Recv(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, <-done)
}
