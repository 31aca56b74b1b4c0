package api

import (
	"context"
	"net/http"
	"time"
)

// healthProbeTimeout bounds each component probe.
const healthProbeTimeout = 2 * time.Second

// Component states reported by /health.
const (
	statusOK          = "ok"
	statusError       = "error"
	statusDegraded    = "degraded"
	statusUnavailable = "unavailable"
)

// ComponentHealth is the probe result for one dependency.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status        string                     `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	QueueDepth    *int                       `json:"queue_depth,omitempty"`
	Components    map[string]ComponentHealth `json:"components"`
}

// handleHealth probes every configured component.
//
// 200 "ok" when all probes pass, 200 "degraded" when only optional
// components fail, 503 "unavailable" when MQTT is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        statusOK,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Components:    make(map[string]ComponentHealth, 3),
	}
	if s.queueDepth != nil {
		depth := s.queueDepth()
		resp.QueueDepth = &depth
	}

	code := http.StatusOK

	mqttHealth := probe(r.Context(), s.mqtt)
	resp.Components["mqtt"] = mqttHealth
	if mqttHealth.Status != statusOK {
		resp.Status = statusUnavailable
		code = http.StatusServiceUnavailable
	}

	optional := []struct {
		name    string
		checker HealthChecker
	}{
		{"influxdb", s.influx},
		{"database", s.db},
	}
	for _, c := range optional {
		if c.checker == nil {
			continue
		}
		h := probe(r.Context(), c.checker)
		resp.Components[c.name] = h
		if h.Status != statusOK && resp.Status == statusOK {
			resp.Status = statusDegraded
		}
	}

	writeJSON(w, code, resp)
}

func probe(ctx context.Context, c HealthChecker) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	if err := c.HealthCheck(ctx); err != nil {
		return ComponentHealth{Status: statusError, Error: err.Error()}
	}
	return ComponentHealth{Status: statusOK}
}
