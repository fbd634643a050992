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
	"fmt"
	"log/slog"
	"time"
)

// Run executes one probe cycle: validate the configuration, resolve a
// token, issue the query and evaluate the first sample. The flow is
// strictly linear with no retries; any failure surfaces as an error for
// the caller to turn into a nonzero exit.
func Run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	token, err := ResolveToken(ctx, cfg)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	logger.Debug("access token resolved")

	client := NewClient(cfg, token, logger)
	body, err := client.Query(ctx, cfg.Query, time.Duration(cfg.Window)*time.Minute)
	if err != nil {
		return err
	}
	logger.Debug("raw monitoring API response", "body", string(body))

	return Evaluate(body, cfg.Threshold, logger)
}
