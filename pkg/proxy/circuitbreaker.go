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

// Package proxy guards calls to model sidecars. A circuit breaker per
// sidecar stops a flapping model server from stalling every parse
// request behind the client timeout.
package proxy

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned for requests rejected while the breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Breaker states.
const (
	stateClosed   int32 = 0
	stateOpen     int32 = 1
	stateHalfOpen int32 = 2
)

// CircuitBreaker trips after threshold consecutive failures and stays
// open for timeout. After the timeout exactly one probe request is
// admitted; its outcome decides whether the circuit closes again or
// re-opens for another timeout window.
type CircuitBreaker struct {
	threshold int32
	timeout   time.Duration

	state    int32
	failures int32
	openedAt atomic.Int64
}

// NewCircuitBreaker creates a closed breaker that opens after
// threshold consecutive failures and retries after timeout.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: int32(threshold),
		timeout:   timeout,
	}
}

// Allow reports whether a request may proceed. In the open state the
// first caller past the timeout transitions the breaker to half-open
// and becomes the single probe; concurrent callers keep being rejected
// until the probe reports its outcome.
func (cb *CircuitBreaker) Allow() bool {
	switch atomic.LoadInt32(&cb.state) {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(time.Unix(0, cb.openedAt.Load())) < cb.timeout {
			return false
		}
		// CAS ensures exactly one caller wins the probe slot.
		return atomic.CompareAndSwapInt32(&cb.state, stateOpen, stateHalfOpen)
	default: // half-open, probe in flight
		return false
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.state, stateClosed)
}

// RecordFailure counts a failure, tripping the breaker at the
// threshold. A failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	if atomic.CompareAndSwapInt32(&cb.state, stateHalfOpen, stateOpen) {
		cb.openedAt.Store(time.Now().UnixNano())
		return
	}
	if atomic.AddInt32(&cb.failures, 1) >= cb.threshold {
		if atomic.CompareAndSwapInt32(&cb.state, stateClosed, stateOpen) {
			cb.openedAt.Store(time.Now().UnixNano())
		}
	}
}

// Transport is an http.RoundTripper gated by a circuit breaker.
// Transport errors and 5xx responses count as failures; everything
// else, 4xx included, counts as success since the sidecar answered.
type Transport struct {
	Base    http.RoundTripper
	Breaker *CircuitBreaker
}

// NewTransport wraps base (http.DefaultTransport when nil) with the
// given breaker.
func NewTransport(base http.RoundTripper, breaker *CircuitBreaker) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Breaker: breaker}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Breaker.Allow() {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, ErrCircuitOpen)
	}

	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		t.Breaker.RecordFailure()
		return nil, err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		t.Breaker.RecordFailure()
	} else {
		t.Breaker.RecordSuccess()
	}
	return resp, nil
}
