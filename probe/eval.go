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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/prometheus/common/model"
)

// ErrNoData is returned when the query succeeded but matched no series.
// It is deliberately distinct from a malformed-payload error.
var ErrNoData = errors.New("no metric data available for query")

// ThresholdExceededError reports the business-logic failure: the fetched
// value is strictly greater than the configured threshold.
type ThresholdExceededError struct {
	Value     string
	Threshold string
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("metric value %s exceeds threshold %s", e.Value, e.Threshold)
}

// apiResponse is the Prometheus HTTP API query envelope as served by the
// Cloud Monitoring PromQL endpoint.
type apiResponse struct {
	Status string    `json:"status"`
	Data   queryData `json:"data"`
}

type queryData struct {
	ResultType string        `json:"resultType"`
	Result     []queryResult `json:"result"`
}

type queryResult struct {
	Metric model.Metric      `json:"metric"`
	Value  *model.SamplePair `json:"value"`
}

// Evaluate decodes the raw query response, extracts the first sample and
// compares it against threshold. The sample's timestamp is discarded.
// Equality counts as within threshold; only a strictly greater value
// fails.
func Evaluate(body []byte, threshold string, logger *slog.Logger) error {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("malformed monitoring API response: %w", err)
	}
	if len(resp.Data.Result) == 0 {
		return ErrNoData
	}
	// A result entry without a value pair carries no sample; treating it
	// as zero would silently pass the probe.
	if resp.Data.Result[0].Value == nil {
		return fmt.Errorf("malformed monitoring API response: result entry has no value pair")
	}

	value := normalize(resp.Data.Result[0].Value.Value)
	logger.Info("metric value extracted", "value", value, "threshold", threshold)

	within, err := withinThreshold(value, threshold)
	if err != nil {
		return err
	}
	if !within {
		return &ThresholdExceededError{Value: value, Threshold: threshold}
	}
	return nil
}

// normalize renders a sample in fixed-point notation with six fractional
// digits. Scientific notation coming out of the API would otherwise break
// the decimal comparison.
func normalize(v model.SampleValue) string {
	return strconv.FormatFloat(float64(v), 'f', 6, 64)
}

// withinThreshold reports whether value <= threshold using exact decimal
// arithmetic, so a value equal to the threshold never trips the probe on
// a rounding artifact.
func withinThreshold(value, threshold string) (bool, error) {
	v, ok := new(big.Rat).SetString(value)
	if !ok {
		return false, fmt.Errorf("metric value %q is not a decimal number", value)
	}
	t, ok := new(big.Rat).SetString(threshold)
	if !ok {
		return false, fmt.Errorf("threshold %q is not a decimal number", threshold)
	}
	return v.Cmp(t) <= 0, nil
}
