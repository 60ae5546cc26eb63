package http

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version,omitempty"`
	System    SystemInfo             `json:"system"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides process-level information.
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	MemSys        uint64 `json:"mem_sys_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult is one health check outcome.
type CheckResult struct {
	Status    string        `json:"status"` // "pass", "warn", "fail"
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	response := s.gatherHealthInfo()

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	response.Checks["health_endpoint"] = CheckResult{
		Status:    "pass",
		Message:   "Health endpoint responding",
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
	writeJSON(w, status, response)
}

func (s *Server) gatherHealthInfo() HealthResponse {
	now := time.Now()
	response := HealthResponse{
		Timestamp: now,
		Uptime:    time.Since(s.started).String(),
		Version:   s.deps.Version,
		System:    getSystemInfo(),
		Checks:    make(map[string]CheckResult),
	}

	s.addVenueCheck(&response, now)
	s.addRiskChecks(&response, now)
	s.addSchedulerCheck(&response, now)
	s.addJournalCheck(&response, now)
	addSystemChecks(&response, now)

	response.Status = overallStatus(response.Checks)
	return response
}

func getSystemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		MemSys:        memStats.Sys,
		NumGC:         memStats.NumGC,
	}
}

func (s *Server) addVenueCheck(response *HealthResponse, now time.Time) {
	if s.deps.VenueDown == nil {
		return
	}
	if s.deps.VenueDown() {
		response.Checks["venue"] = CheckResult{
			Status:    "fail",
			Message:   "Venue circuit breaker open",
			Timestamp: now,
		}
		return
	}
	response.Checks["venue"] = CheckResult{
		Status:    "pass",
		Message:   "Venue reachable",
		Timestamp: now,
	}
}

func (s *Server) addRiskChecks(response *HealthResponse, now time.Time) {
	risk := s.deps.Guard.Risk()
	if risk.EmergencyActive {
		response.Checks["risk"] = CheckResult{
			Status:    "warn",
			Message:   "Emergency lockdown latched, trading disabled",
			Timestamp: now,
		}
		return
	}
	response.Checks["risk"] = CheckResult{
		Status:    "pass",
		Message:   fmt.Sprintf("Drawdown %.2f%%, loss streak %d", risk.DailyDrawdown*100, risk.ConsecutiveLosses),
		Timestamp: now,
	}
}

func (s *Server) addSchedulerCheck(response *HealthResponse, now time.Time) {
	if s.deps.Runner == nil {
		return
	}
	st := s.deps.Runner.Status()
	if !st.Running {
		response.Checks["scheduler"] = CheckResult{
			Status:    "warn",
			Message:   "Scheduler not running",
			Timestamp: now,
		}
		return
	}
	for _, job := range st.Jobs {
		if job.LastErr != "" {
			response.Checks["scheduler"] = CheckResult{
				Status:    "warn",
				Message:   fmt.Sprintf("Job %s failing: %s", job.Name, job.LastErr),
				Timestamp: now,
			}
			return
		}
	}
	response.Checks["scheduler"] = CheckResult{
		Status:    "pass",
		Message:   fmt.Sprintf("%d jobs healthy", len(st.Jobs)),
		Timestamp: now,
	}
}

func (s *Server) addJournalCheck(response *HealthResponse, now time.Time) {
	if s.deps.Journal == nil {
		return
	}
	if dropped := s.deps.Journal.Dropped(); dropped > 0 {
		response.Checks["journal"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("%d journal records dropped", dropped),
			Timestamp: now,
		}
		return
	}
	response.Checks["journal"] = CheckResult{
		Status:    "pass",
		Message:   "Journal keeping up",
		Timestamp: now,
	}
}

func addSystemChecks(response *HealthResponse, now time.Time) {
	memUsagePercent := float64(response.System.MemAlloc) / float64(response.System.MemSys) * 100
	switch {
	case memUsagePercent > 90:
		response.Checks["memory"] = CheckResult{
			Status:    "fail",
			Message:   fmt.Sprintf("Memory usage critical: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	case memUsagePercent > 75:
		response.Checks["memory"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("Memory usage high: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	default:
		response.Checks["memory"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Memory usage normal: %.1f%%", memUsagePercent),
			Timestamp: now,
		}
	}

	if response.System.NumGoroutines > 1000 {
		response.Checks["goroutines"] = CheckResult{
			Status:    "warn",
			Message:   fmt.Sprintf("High goroutine count: %d", response.System.NumGoroutines),
			Timestamp: now,
		}
	} else {
		response.Checks["goroutines"] = CheckResult{
			Status:    "pass",
			Message:   fmt.Sprintf("Goroutine count normal: %d", response.System.NumGoroutines),
			Timestamp: now,
		}
	}
}

func overallStatus(checks map[string]CheckResult) string {
	status := "healthy"
	for _, check := range checks {
		switch check.Status {
		case "fail":
			return "unhealthy"
		case "warn":
			status = "degraded"
		}
	}
	return status
}
