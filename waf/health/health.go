package health

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/goccy/go-json"
)

var startTime = time.Now()

// HealthStatus represents the current health status of the guard
type HealthStatus struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	Uptime        string     `json:"uptime"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Timestamp     string     `json:"timestamp"`
	System        SystemInfo `json:"system"`
	Guard         any        `json:"guard,omitempty"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"goroutines"`
	MemoryMB     uint64 `json:"memory_mb"`
	NumCPU       int    `json:"num_cpu"`
}

// Handler returns the health check HTTP handler. stats, if set, is called
// on every request and embedded under "guard".
func Handler(version string, stats func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		uptime := time.Since(startTime)

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		status := HealthStatus{
			Status:        "healthy",
			Version:       version,
			Uptime:        formatUptime(uptime),
			UptimeSeconds: int64(uptime.Seconds()),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			System: SystemInfo{
				GoVersion:    runtime.Version(),
				NumGoroutine: runtime.NumGoroutine(),
				MemoryMB:     m.Alloc / 1024 / 1024,
				NumCPU:       runtime.NumCPU(),
			},
		}
		if stats != nil {
			status.Guard = stats()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return plural(days, "day") + " " + plural(hours, "hour")
	case hours > 0:
		return plural(hours, "hour") + " " + plural(minutes, "minute")
	case minutes > 0:
		return plural(minutes, "minute") + " " + plural(seconds, "second")
	default:
		return plural(seconds, "second")
	}
}

func plural(value int, unit string) string {
	if value == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", value, unit)
}
