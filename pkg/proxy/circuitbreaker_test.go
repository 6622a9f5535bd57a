// Copyright 2025 Antfly, Inc.
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

package proxy

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.True(t, cb.Allow())
	cb.RecordFailure()

	require.False(t, cb.Allow(), "breaker should be open after threshold failures")
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Minute)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()

	require.True(t, cb.Allow(), "non-consecutive failures must not trip the breaker")
}

// TestHalfOpenSingleProbe releases many goroutines against an expired
// open circuit at once. Exactly one may be admitted as the half-open
// probe; admitting more would hammer a sidecar that is still coming
// back up.
func TestHalfOpenSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	cb.Allow()
	cb.RecordFailure()
	require.False(t, cb.Allow())

	time.Sleep(80 * time.Millisecond)

	const goroutines = 10
	var wg sync.WaitGroup
	var allowed atomic.Int32
	barrier := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-barrier
			if cb.Allow() {
				allowed.Add(1)
			}
		}()
	}
	close(barrier)
	wg.Wait()

	require.Equal(t, int32(1), allowed.Load(), "exactly one probe may enter half-open")
}

func TestHalfOpenProbeOutcome(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	require.False(t, cb.Allow())
	time.Sleep(20 * time.Millisecond)

	// Failed probe re-opens for a fresh timeout window.
	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.False(t, cb.Allow())
	time.Sleep(20 * time.Millisecond)

	// Successful probe closes the circuit for everyone.
	require.True(t, cb.Allow())
	cb.RecordSuccess()
	require.True(t, cb.Allow())
	require.True(t, cb.Allow())
}

func TestTransportCountsServerErrors(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusInternalServerError)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer server.Close()

	cb := NewCircuitBreaker(2, 50*time.Millisecond)
	client := &http.Client{Transport: NewTransport(nil, cb)}

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	_, err := client.Get(server.URL)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrCircuitOpen))

	// Recovered sidecar: the probe succeeds and the circuit closes.
	status.Store(http.StatusOK)
	time.Sleep(80 * time.Millisecond)
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.True(t, cb.Allow())
}
