// Copyright 2024 The chaos-utils Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/common/promslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probeServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func probeConfig(endpoint, threshold string) *Config {
	return &Config{
		ProjectID: "test-project",
		Query:     "up",
		Threshold: threshold,
		Window:    5,
		Timeout:   5,
		Endpoint:  endpoint,
		Token:     "test-token",
	}
}

func TestRunWithinThreshold(t *testing.T) {
	clearAuthEnv(t)
	srv := probeServer(t, http.StatusOK,
		`{"data":{"result":[{"value":[1700000000,"42.5"]}]}}`)

	err := Run(context.Background(), probeConfig(srv.URL, "50"), promslog.NewNopLogger())
	assert.NoError(t, err)
}

func TestRunThresholdExceeded(t *testing.T) {
	clearAuthEnv(t)
	srv := probeServer(t, http.StatusOK,
		`{"data":{"result":[{"value":[1700000000,"42.5"]}]}}`)

	err := Run(context.Background(), probeConfig(srv.URL, "40"), promslog.NewNopLogger())
	var exceeded *ThresholdExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "42.500000", exceeded.Value)
}

func TestRunNoData(t *testing.T) {
	clearAuthEnv(t)
	srv := probeServer(t, http.StatusOK, `{"data":{"result":[]}}`)

	err := Run(context.Background(), probeConfig(srv.URL, "50"), promslog.NewNopLogger())
	require.ErrorIs(t, err, ErrNoData)
}

func TestRunTransportError(t *testing.T) {
	clearAuthEnv(t)
	srv := probeServer(t, http.StatusServiceUnavailable, "upstream down")

	err := Run(context.Background(), probeConfig(srv.URL, "50"), promslog.NewNopLogger())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Contains(t, statusErr.Body, "upstream down")
}

func TestRunInvalidConfigSkipsNetwork(t *testing.T) {
	clearAuthEnv(t)
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	cfg := probeConfig(srv.URL, "not-a-number")
	err := Run(context.Background(), cfg, promslog.NewNopLogger())
	require.Error(t, err)
	assert.False(t, called, "invalid configuration must fail before any network call")

	cfg = probeConfig(srv.URL, "50")
	cfg.Query = ""
	err = Run(context.Background(), cfg, promslog.NewNopLogger())
	require.Error(t, err)
	assert.False(t, called)
}
