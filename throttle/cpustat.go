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

package throttle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoStats is returned when no readable cpu.stat was found inside the
// container.
var ErrNoStats = errors.New("no cpu.stat found in container")

// Stats is one cpu.stat sample.
type Stats struct {
	Periods   int64
	Throttled int64
	// Path is the cpu.stat location that was actually read, for the
	// report.
	Path string
}

// probeScript returns the shell fragment executed inside the container to
// locate and dump cpu.stat. With no configured path both the cgroup v2
// and v1 layouts are probed.
func probeScript(basePath, completePath string) string {
	if completePath != "" {
		return fmt.Sprintf(
			`if [ -f %[1]s ]; then echo "Found: %[1]s"; cat %[1]s; exit 0; else echo "Path not found: %[1]s"; exit 1; fi`,
			completePath)
	}
	if basePath == "" {
		basePath = "/sys/fs/cgroup"
	}
	return fmt.Sprintf(
		`for p in %[1]s/cpu.stat %[1]s/cpu/cpu.stat; do if [ -f $p ]; then echo "Found: $p"; cat $p; exit 0; fi; done; echo "No cpu.stat found"; exit 1`,
		basePath)
}

// parseStats extracts nr_periods and nr_throttled from the probe
// command's output. The first line names the cpu.stat path that matched.
func parseStats(out string) (*Stats, error) {
	if out == "" || strings.Contains(out, "No cpu.stat found") || strings.Contains(out, "Path not found") {
		return nil, ErrNoStats
	}
	s := &Stats{}
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, "Found:"); ok {
			s.Path = strings.TrimSpace(rest)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "nr_periods":
			s.Periods = n
		case "nr_throttled":
			s.Throttled = n
		}
	}
	if s.Path == "" {
		return nil, ErrNoStats
	}
	if s.Periods == 0 {
		// Without recorded periods a nonzero throttled count is stale.
		s.Throttled = 0
	}
	return s, nil
}
