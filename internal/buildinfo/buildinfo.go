// Package buildinfo holds version and build metadata stamped at compile
// time via ldflags, plus the SDK identity sent in every
// INITIALIZE_HOST call.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// SDKName and SDKVersion identify this library to the dashboard on
// every INITIALIZE_HOST call, distinct from the embedding application's
// own Version above.
const (
	SDKName    = "go-hostsdk"
	SDKVersion = "0.1.0"
)

// startTime records when the process started.
var startTime = time.Now()

// BuildInfo returns compile-time and platform metadata.
func BuildInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"sdk_name":   SDKName,
		"sdk_version": SDKVersion,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("%s %s (%s) built %s", SDKName, SDKVersion, GitCommit, BuildTime)
}

// UserAgent returns an HTTP User-Agent string for the SDK's outbound
// REST calls (notify, enqueue, dequeue).
func UserAgent() string {
	return fmt.Sprintf("%s/%s", SDKName, SDKVersion)
}
