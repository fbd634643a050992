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

// The cpu-throttle command measures CPU throttling of Kubernetes
// containers by reading cpu.stat inside each matching pod and prints a
// JSON report to stdout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/version"

	"github.com/sagarkrsd/chaos-utils/throttle"
)

func main() {
	app := kingpin.New("cpu-throttle", "CPU throttling monitor for Kubernetes containers.")
	app.Version(version.Print("cpu-throttle"))
	app.HelpFlag.Short('h')
	cfg := throttle.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	level := promslog.NewLevel()
	if cfg.Verbose {
		_ = level.Set("debug")
	}
	logger := promslog.New(&promslog.Config{Level: level})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(); err != nil {
		fail(err)
	}
	client, restConfig, err := throttle.NewClientset(cfg.Kubeconfig)
	if err != nil {
		fail(err)
	}

	report, err := throttle.NewMonitor(cfg, client, restConfig, logger).Run(ctx)
	if err != nil {
		fail(err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fail(err)
	}
	fmt.Println(string(out))
}

// fail mirrors the report shape so consumers always get JSON, then exits
// nonzero.
func fail(err error) {
	out, _ := json.MarshalIndent(map[string]any{
		"status":    "error",
		"timestamp": float64(time.Now().UnixNano()) / float64(time.Second),
		"error":     err.Error(),
	}, "", "  ")
	fmt.Println(string(out))
	os.Exit(1)
}
