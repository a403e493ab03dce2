package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Mode selects the scaling policy for the pool.
type Mode string

const (
	// ModeUpOnly grows the pool when below target but never removes capacity.
	ModeUpOnly Mode = "up-only"
	// ModeUpDown grows the pool and, after the cooldown window, shrinks excess.
	ModeUpDown Mode = "up-down"
)

// PoolSpec is the full, immutable configuration of the warm pool. It is
// loaded once at startup and never changes for the process lifetime.
type PoolSpec struct {
	LogLevel string `yaml:"logLevel"`

	Region        string `yaml:"region"`
	ClusterName   string `yaml:"clusterName"`
	NodeGroupName string `yaml:"nodeGroupName"`
	Namespace     string `yaml:"namespace"`
	PodPrefix     string `yaml:"podPrefix"`
	PodImage      string `yaml:"podImage"`

	// PodCPULimit and ServerCPU are in cores; memory values are in MB,
	// matching the units the node-group instances are sized in.
	PodCPULimit      float64 `yaml:"podCpuLimit"`
	PodMemoryLimit   float64 `yaml:"podMemoryLimit"`
	ServerCPU        float64 `yaml:"serverCpu"`
	ServerMemory     float64 `yaml:"serverMemory"`
	PreWarmMinCPU    float64 `yaml:"preWarmMinCpu"`
	PreWarmMinMemory float64 `yaml:"preWarmMinMemory"`

	SleepInterval     time.Duration `yaml:"sleepInterval"`
	ScaleDownWaitTime time.Duration `yaml:"scaleDownWaitTime"`

	Mode        Mode `yaml:"mode"`
	UseEC2Count bool `yaml:"useEc2Count"`
	DryRun      bool `yaml:"dryRun"`
}

// Load reads an optional YAML file, overlays environment variables on top
// and validates the result. An empty path skips the file entirely.
func Load(path string) (*PoolSpec, error) {
	var spec PoolSpec
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return nil, err
		}
	}
	if err := spec.applyEnv(); err != nil {
		return nil, err
	}
	if err := spec.ApplyDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *PoolSpec) applyEnv() error {
	var err error
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setFloat := func(key string, dst *float64) {
		v, ok := os.LookupEnv(key)
		if !ok || err != nil {
			return
		}
		f, convErr := cast.ToFloat64E(v)
		if convErr != nil {
			err = fmt.Errorf("parsing %s: %w", key, convErr)
			return
		}
		*dst = f
	}
	setSeconds := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(key)
		if !ok || err != nil {
			return
		}
		secs, convErr := cast.ToIntE(v)
		if convErr != nil {
			err = fmt.Errorf("parsing %s: %w", key, convErr)
			return
		}
		*dst = time.Duration(secs) * time.Second
	}
	setBool := func(key string, dst *bool) {
		v, ok := os.LookupEnv(key)
		if !ok || err != nil {
			return
		}
		b, convErr := cast.ToBoolE(v)
		if convErr != nil {
			err = fmt.Errorf("parsing %s: %w", key, convErr)
			return
		}
		*dst = b
	}

	setString("LOG_LEVEL", &s.LogLevel)
	setString("REGION", &s.Region)
	setString("CLUSTER_NAME", &s.ClusterName)
	setString("NODEGROUP_NAME", &s.NodeGroupName)
	setString("NAMESPACE", &s.Namespace)
	setString("POD_PREFIX", &s.PodPrefix)
	setString("POD_IMAGE", &s.PodImage)
	setFloat("POD_CPU_LIMIT", &s.PodCPULimit)
	setFloat("POD_MEMORY_LIMIT", &s.PodMemoryLimit)
	setFloat("SERVER_CPU", &s.ServerCPU)
	setFloat("SERVER_MEMORY", &s.ServerMemory)
	setFloat("PRE_WARM_MIN_CPU", &s.PreWarmMinCPU)
	setFloat("PRE_WARM_MIN_MEMORY", &s.PreWarmMinMemory)
	setSeconds("SLEEP_INTERVAL", &s.SleepInterval)
	setSeconds("SCALE_DOWN_WAIT_TIME", &s.ScaleDownWaitTime)
	setBool("USE_EC2_COUNT", &s.UseEC2Count)
	if v, ok := os.LookupEnv("SCRIPT_MODE"); ok {
		s.Mode = Mode(v)
	}
	return err
}

// ApplyDefaultsAndValidate fills zero-valued fields with defaults and
// rejects specs that would make the pool unmanageable.
func (s *PoolSpec) ApplyDefaultsAndValidate() error {
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.Region == "" {
		s.Region = "ap-south-1"
	}
	if s.Namespace == "" {
		s.Namespace = "warm-pool"
	}
	if s.PodPrefix == "" {
		s.PodPrefix = "warm-pool"
	}
	if s.PodImage == "" {
		s.PodImage = "registry.k8s.io/pause:3.9"
	}
	if s.PodCPULimit == 0 {
		s.PodCPULimit = 0.5
	}
	if s.PodMemoryLimit == 0 {
		s.PodMemoryLimit = 512
	}
	if s.ServerCPU == 0 {
		s.ServerCPU = 2
	}
	if s.ServerMemory == 0 {
		s.ServerMemory = 2048
	}
	if s.PreWarmMinCPU == 0 {
		s.PreWarmMinCPU = 2
	}
	if s.PreWarmMinMemory == 0 {
		s.PreWarmMinMemory = 2048
	}
	if s.SleepInterval == 0 {
		s.SleepInterval = 15 * time.Second
	}
	if s.ScaleDownWaitTime == 0 {
		s.ScaleDownWaitTime = 120 * time.Second
	}
	if s.Mode == "" {
		s.Mode = ModeUpOnly
	}

	if s.ClusterName == "" {
		return fmt.Errorf("clusterName is required (CLUSTER_NAME)")
	}
	if s.NodeGroupName == "" {
		return fmt.Errorf("nodeGroupName is required (NODEGROUP_NAME)")
	}
	if s.Mode != ModeUpOnly && s.Mode != ModeUpDown {
		return fmt.Errorf("unknown mode %q (want %q or %q)", s.Mode, ModeUpOnly, ModeUpDown)
	}
	if s.PodCPULimit <= 0 || s.PodMemoryLimit <= 0 {
		return fmt.Errorf("pod resource limits must be positive")
	}
	if s.ServerCPU < s.PodCPULimit || s.ServerMemory < s.PodMemoryLimit {
		return fmt.Errorf("a single pod must fit on a server (serverCpu=%v podCpuLimit=%v serverMemory=%v podMemoryLimit=%v)",
			s.ServerCPU, s.PodCPULimit, s.ServerMemory, s.PodMemoryLimit)
	}
	if s.SleepInterval <= 0 {
		return fmt.Errorf("sleepInterval must be positive")
	}
	if s.ScaleDownWaitTime < s.SleepInterval {
		return fmt.Errorf("scaleDownWaitTime (%v) must be >= sleepInterval (%v)", s.ScaleDownWaitTime, s.SleepInterval)
	}
	if s.TargetPoolSize() < 1 {
		return fmt.Errorf("pre-warm minimums produce a target pool size of zero")
	}
	return nil
}

// TargetPoolSize derives the number of placeholder pods that satisfies both
// the CPU and the memory pre-warm floors simultaneously.
func (s *PoolSpec) TargetPoolSize() int {
	byCPU := int(math.Ceil(s.PreWarmMinCPU / s.PodCPULimit))
	byMemory := int(math.Ceil(s.PreWarmMinMemory / s.PodMemoryLimit))
	return max(byCPU, byMemory)
}

// PodsPerServer returns how many placeholder pods pack onto one node of the
// configured server class.
func (s *PoolSpec) PodsPerServer() int {
	byCPU := int(math.Floor(s.ServerCPU / s.PodCPULimit))
	byMemory := int(math.Floor(s.ServerMemory / s.PodMemoryLimit))
	return max(min(byCPU, byMemory), 1)
}

// NodesFor returns the node count needed to host the given pod count.
func (s *PoolSpec) NodesFor(podCount int) int {
	return int(math.Ceil(float64(podCount) / float64(s.PodsPerServer())))
}
