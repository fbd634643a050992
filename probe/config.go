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

// Package probe implements a single-shot threshold probe against the
// Google Cloud Monitoring PromQL API. One run resolves its configuration,
// obtains a bearer token, issues exactly one instant query and compares
// the first sample against a configured threshold.
package probe

import (
	"fmt"
	"regexp"

	"github.com/alecthomas/kingpin/v2"
)

// DefaultEndpoint is the public Cloud Monitoring API host.
const DefaultEndpoint = "https://monitoring.googleapis.com"

const secretToken = "<secret>"

// thresholdPattern accepts nonnegative fixed-point decimals only.
var thresholdPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Secret is a token value that never renders in clear through logging or
// marshalling.
type Secret string

// String implements fmt.Stringer, hiding the actual value.
func (s Secret) String() string {
	if s != "" {
		return secretToken
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s != "" {
		return []byte(fmt.Sprintf("%q", secretToken)), nil
	}
	return []byte(`""`), nil
}

// Config holds one fully resolved probe invocation. It is populated once
// by flag parsing and treated as immutable afterwards; every stage
// receives it explicitly.
type Config struct {
	ProjectID string
	Query     string
	Threshold string
	Window    int // minutes
	Timeout   int // seconds
	Endpoint  string
	Token     Secret
	TokenFile string
	Debug     bool
}

// RegisterFlags wires the probe's command line surface into app and
// returns the Config the parsed values land in.
func RegisterFlags(app *kingpin.Application) *Config {
	cfg := &Config{}
	app.Flag("project", "GCP project whose Cloud Monitoring data is queried.").StringVar(&cfg.ProjectID)
	app.Flag("query", "PromQL expression to evaluate.").StringVar(&cfg.Query)
	app.Flag("threshold", "Maximum tolerated metric value (nonnegative decimal).").StringVar(&cfg.Threshold)
	app.Flag("window", "Lookback window in minutes.").Envar("WINDOW_MINUTES").Default("5").IntVar(&cfg.Window)
	app.Flag("timeout", "HTTP request timeout in seconds.").Envar("CURL_TIMEOUT").Default("30").IntVar(&cfg.Timeout)
	app.Flag("endpoint", "Cloud Monitoring API base URL.").Default(DefaultEndpoint).StringVar(&cfg.Endpoint)
	app.Flag("token", "Bearer token used as-is for the API request.").StringVar((*string)(&cfg.Token))
	app.Flag("token-file", "File to read the bearer token from.").StringVar(&cfg.TokenFile)
	app.Flag("debug", "Enable debug logging.").Envar("DEBUG").BoolVar(&cfg.Debug)
	return cfg
}

// Validate checks the mandatory parameters and numeric formats. It runs
// before any credential or network activity.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("missing mandatory parameter --project")
	}
	if c.Query == "" {
		return fmt.Errorf("missing mandatory parameter --query")
	}
	if c.Threshold == "" {
		return fmt.Errorf("missing mandatory parameter --threshold")
	}
	if !thresholdPattern.MatchString(c.Threshold) {
		return fmt.Errorf("invalid threshold %q: want a nonnegative decimal number", c.Threshold)
	}
	if c.Window < 0 {
		return fmt.Errorf("invalid window %d: want a nonnegative number of minutes", c.Window)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %d: want a nonnegative number of seconds", c.Timeout)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("missing monitoring API endpoint")
	}
	return nil
}
