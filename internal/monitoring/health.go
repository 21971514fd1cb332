package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker reports liveness of the trading loop over HTTP.
type HealthChecker struct {
	mu            sync.RWMutex
	lastCandle    time.Time
	streamUp      bool
	lastError     string
	lastErrorTime time.Time
}

type HealthStatus struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	LastCandle time.Time `json:"last_candle"`
	StreamUp   bool      `json:"stream_up"`
	Uptime     string    `json:"uptime"`
	LastError  string    `json:"last_error,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// CandleSeen marks market data as flowing.
func (h *HealthChecker) CandleSeen() {
	h.mu.Lock()
	h.lastCandle = time.Now()
	h.streamUp = true
	h.mu.Unlock()
}

// StreamDown marks the market stream as disconnected.
func (h *HealthChecker) StreamDown() {
	h.mu.Lock()
	h.streamUp = false
	h.mu.Unlock()
}

// ReportError records the most recent failure for the status payload.
func (h *HealthChecker) ReportError(err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	h.lastError = err.Error()
	h.lastErrorTime = time.Now()
	h.mu.Unlock()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.streamUp {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		LastCandle: h.lastCandle,
		StreamUp:   h.streamUp,
		Uptime:     time.Since(startTime).String(),
		LastError:  h.lastError,
	})
}
