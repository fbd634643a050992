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

// The metric-probe command queries the Cloud Monitoring PromQL API once
// and exits 0 iff the first sample is within the configured threshold.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/version"

	"github.com/sagarkrsd/chaos-utils/probe"
)

func main() {
	app := kingpin.New("metric-probe", "Single-shot PromQL threshold probe against GCP Cloud Monitoring.")
	app.Version(version.Print("metric-probe"))
	app.HelpFlag.Short('h')
	cfg := probe.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := promslog.NewLevel()
	if cfg.Debug {
		_ = level.Set("debug")
	}
	logger := promslog.New(&promslog.Config{Level: level})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := probe.Run(ctx, cfg, logger); err != nil {
		var exceeded *probe.ThresholdExceededError
		switch {
		case errors.As(err, &exceeded):
			logger.Error("metric outside threshold", "value", exceeded.Value, "threshold", exceeded.Threshold)
		case errors.Is(err, probe.ErrNoData):
			logger.Error("no metric data available", "query", cfg.Query)
		default:
			logger.Error("probe failed", "err", err)
		}
		os.Exit(1)
	}
	logger.Info("metric within threshold", "threshold", cfg.Threshold)
}
