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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// PodReport is the per-pod measurement in the JSON report.
type PodReport struct {
	PodName              string  `json:"pod_name"`
	ThrottlingPercentage float64 `json:"throttling_percentage"`
	ThrottledRate        float64 `json:"throttled_rate"`
	NrPeriods            int64   `json:"nr_periods"`
	NrThrottled          int64   `json:"nr_throttled"`
	CgroupPath           string  `json:"cgroup_path"`
	PeriodsDelta         *int64  `json:"periods_delta,omitempty"`
	ThrottledDelta       *int64  `json:"throttled_delta,omitempty"`
}

// Report is the monitor's complete output for one run.
type Report struct {
	Status    string      `json:"status"`
	Timestamp float64     `json:"timestamp"`
	Message   string      `json:"message"`
	Pods      []PodReport `json:"pods"`
}

// Monitor samples cpu.stat in every pod matching the configured selector.
type Monitor struct {
	cfg        *Config
	client     kubernetes.Interface
	restConfig *rest.Config
	logger     *slog.Logger

	// execFn runs the probe script inside a pod's target container and
	// returns its combined output. Swappable in tests.
	execFn func(ctx context.Context, pod string) (string, error)
}

// NewMonitor wires a monitor to an existing clientset. restConfig may be
// nil only when execFn is replaced.
func NewMonitor(cfg *Config, client kubernetes.Interface, restConfig *rest.Config, logger *slog.Logger) *Monitor {
	m := &Monitor{cfg: cfg, client: client, restConfig: restConfig, logger: logger}
	m.execFn = m.execProbe
	return m
}

// Run lists the matching pods and produces a throttling report. Pods
// whose stats cannot be read are reported at 0% rather than failing the
// whole run.
func (m *Monitor) Run(ctx context.Context) (*Report, error) {
	pods, err := m.client.CoreV1().Pods(m.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: m.cfg.LabelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list pods: %w", err)
	}
	m.logger.Debug("pods matched", "count", len(pods.Items), "selector", m.cfg.LabelSelector)

	report := &Report{
		Status:    "success",
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Message:   "CPU throttling analysis completed",
		Pods:      []PodReport{},
	}
	if len(pods.Items) == 0 {
		report.Message = "No pods found matching the criteria"
		return report, nil
	}

	for _, pod := range pods.Items {
		pr, err := m.measurePod(ctx, pod.Name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("could not read CPU stats, reporting 0%", "pod", pod.Name, "err", err)
			pr = PodReport{PodName: pod.Name, CgroupPath: "unknown"}
		}
		report.Pods = append(report.Pods, pr)
	}
	return report, nil
}

// measurePod takes one sample, optionally waits and takes a second, and
// turns the counters into a throttling percentage.
func (m *Monitor) measurePod(ctx context.Context, pod string) (PodReport, error) {
	out, err := m.execFn(ctx, pod)
	if err != nil {
		return PodReport{}, err
	}
	initial, err := parseStats(out)
	if err != nil {
		return PodReport{}, err
	}

	wait := m.cfg.Wait()
	if wait <= 0 {
		return podReport(pod, initial, nil), nil
	}

	m.logger.Debug("waiting for second sample", "pod", pod, "wait", wait)
	select {
	case <-ctx.Done():
		return PodReport{}, ctx.Err()
	case <-time.After(wait):
	}

	out, err = m.execFn(ctx, pod)
	if err == nil {
		var final *Stats
		if final, err = parseStats(out); err == nil {
			return podReport(pod, initial, final), nil
		}
	}
	if ctx.Err() != nil {
		return PodReport{}, ctx.Err()
	}
	// A failed second sample degrades to the initial sample's absolute
	// percentage instead of discarding the pod.
	m.logger.Warn("second sample failed, using initial sample", "pod", pod, "err", err)
	return podReport(pod, initial, nil), nil
}

// podReport computes the throttled share of CPU periods. With two
// samples the counters are differenced first; a run without new periods
// reports 0%.
func podReport(pod string, initial, final *Stats) PodReport {
	pr := PodReport{PodName: pod, CgroupPath: initial.Path}
	if final != nil {
		periodsDelta := final.Periods - initial.Periods
		throttledDelta := final.Throttled - initial.Throttled
		if periodsDelta > 0 {
			pr.ThrottlingPercentage = float64(throttledDelta) / float64(periodsDelta) * 100
		}
		pr.NrPeriods = final.Periods
		pr.NrThrottled = final.Throttled
		pr.CgroupPath = final.Path
		pr.PeriodsDelta = &periodsDelta
		pr.ThrottledDelta = &throttledDelta
	} else {
		if initial.Periods > 0 {
			pr.ThrottlingPercentage = float64(initial.Throttled) / float64(initial.Periods) * 100
		}
		pr.NrPeriods = initial.Periods
		pr.NrThrottled = initial.Throttled
	}
	pr.ThrottledRate = pr.ThrottlingPercentage
	return pr
}

// execProbe runs the cpu.stat probe script in the pod's target container
// through the exec subresource.
func (m *Monitor) execProbe(ctx context.Context, pod string) (string, error) {
	script := probeScript(m.cfg.CgroupPath, m.cfg.CompleteCgroupPath)
	req := m.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(m.cfg.Namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: m.cfg.Container,
			Command:   []string{"sh", "-c", script},
			Stdout:    true,
			Stderr:    true,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(m.restConfig, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("unable to create executor for pod %s: %w", pod, err)
	}

	var stdout, stderr bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if err != nil {
		return "", fmt.Errorf("exec in pod %s failed: %w (stderr: %s)", pod, err, stderr.String())
	}
	return stdout.String(), nil
}
