package metrics

import (
	"os"
	"runtime"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// SystemInfo describes the host the vault runs on
type SystemInfo struct {
	Hostname         string
	OS               string
	Arch             string
	CPULogical       int
	GoVersion        string
	InContainer      bool
	ContainerRuntime string
}

// CaptureSystemInfo gathers host information for startup logs and the info gauge
func CaptureSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		GoVersion:  runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	} else {
		info.Hostname = "unknown"
	}

	info.InContainer, info.ContainerRuntime = detectContainer()

	return info
}

// RegisterSystemInfo exports info as the constant vault_system_info gauge
func RegisterSystemInfo(reg prometheus.Registerer, info *SystemInfo) error {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vault_system_info",
		Help: "Host information, value is always 1",
		ConstLabels: prometheus.Labels{
			"hostname":   info.Hostname,
			"os":         info.OS,
			"arch":       info.Arch,
			"go_version": info.GoVersion,
			"container":  info.ContainerRuntime,
		},
	})
	gauge.Set(1)
	return reg.Register(gauge)
}

// detectContainer checks if running in a container
func detectContainer() (bool, string) {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true, "docker"
	}

	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return true, "kubernetes"
	}

	// Check cgroup for container indicators
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "docker"):
			return true, "docker"
		case strings.Contains(content, "kubepods"):
			return true, "kubernetes"
		case strings.Contains(content, "containerd"):
			return true, "containerd"
		}
	}

	return false, ""
}
