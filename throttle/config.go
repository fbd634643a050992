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

// Package throttle measures CPU throttling of Kubernetes containers by
// sampling cpu.stat inside the target containers and reporting the
// throttled share of CPU periods per pod.
package throttle

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Config selects the pods to measure and how to locate their cpu.stat.
type Config struct {
	Namespace          string
	Container          string
	LabelSelector      string
	Kubeconfig         string
	CgroupPath         string
	CompleteCgroupPath string
	WaitSeconds        float64
	Verbose            bool
}

// Wait is the pause between the two cpu.stat samples; zero disables the
// second sample.
func (c *Config) Wait() time.Duration {
	return time.Duration(c.WaitSeconds * float64(time.Second))
}

// RegisterFlags wires the monitor's command line surface into app. Every
// flag falls back to the environment variable the sidecar image sets.
func RegisterFlags(app *kingpin.Application) *Config {
	cfg := &Config{}
	app.Flag("namespace", "Kubernetes namespace to inspect.").Envar("NAMESPACE").StringVar(&cfg.Namespace)
	app.Flag("container-name", "Container to measure inside each pod.").Envar("CONTAINER_NAME").StringVar(&cfg.Container)
	app.Flag("label-selector", "Label selector for the pods to measure.").Envar("LABEL_SELECTOR").StringVar(&cfg.LabelSelector)
	app.Flag("kubeconfig", "Path to a kubeconfig file.").Envar("KUBECONFIG").StringVar(&cfg.Kubeconfig)
	// The cgroup path options fall back to the environment together, in
	// Validate: passing either flag discards both env values, so a flag
	// can override the sibling option set via env.
	app.Flag("cgroup-path", "Base path of the cgroup filesystem inside the container.").StringVar(&cfg.CgroupPath)
	app.Flag("complete-cgroup-path", "Complete path to the cpu.stat file inside the container.").StringVar(&cfg.CompleteCgroupPath)
	app.Flag("wait-seconds", "Seconds to wait between the two cpu.stat samples.").Envar("WAIT_SECONDS").Default("0").Float64Var(&cfg.WaitSeconds)
	app.Flag("verbose", "Enable verbose output.").Short('v').BoolVar(&cfg.Verbose)
	return cfg
}

// Validate applies the CGROUP_PATH/COMPLETE_CGROUP_PATH environment
// fallbacks and enforces the mutually exclusive cgroup path options.
func (c *Config) Validate() error {
	if c.CgroupPath == "" && c.CompleteCgroupPath == "" {
		c.CgroupPath = os.Getenv("CGROUP_PATH")
		c.CompleteCgroupPath = os.Getenv("COMPLETE_CGROUP_PATH")
	}
	if c.CgroupPath != "" && c.CompleteCgroupPath != "" {
		return errors.New("--cgroup-path and --complete-cgroup-path are mutually exclusive")
	}
	if c.Namespace == "" {
		return errors.New("missing mandatory parameter --namespace")
	}
	if c.Container == "" {
		return errors.New("missing mandatory parameter --container-name")
	}
	return nil
}

// NewClientset builds a Kubernetes client from an explicit kubeconfig,
// the in-cluster service account, or the default kubeconfig, in that
// order. The rest.Config is returned alongside because the exec
// subresource needs it.
func NewClientset(kubeconfig string) (kubernetes.Interface, *rest.Config, error) {
	var (
		rc  *rest.Config
		err error
	)
	if kubeconfig != "" {
		rc, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to load Kubernetes configuration from %s: %w", kubeconfig, err)
		}
	} else if rc, err = rest.InClusterConfig(); err != nil {
		rules := clientcmd.NewDefaultClientConfigLoadingRules()
		rc, err = clientcmd.BuildConfigFromFlags("", rules.GetDefaultFilename())
		if err != nil {
			return nil, nil, fmt.Errorf("unable to load Kubernetes configuration: %w", err)
		}
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to build Kubernetes client: %w", err)
	}
	return cs, rc, nil
}
