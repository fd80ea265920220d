package pool

import (
	"fmt"
	"strings"
	"time"

	"mercator-hq/relay/pkg/config"
)

// Status is the lifecycle state of a pooled connection.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusIdle       Status = "idle"
	StatusActive     Status = "active"
	StatusError      Status = "error"
	StatusClosed     Status = "closed"
)

// Priority orders queued acquisitions. Higher values are served first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the priority name.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority parses a priority name. The empty string is normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Provider is the pool's view of one upstream.
type Provider struct {
	ID              string
	BaseURL         string
	MaxConnections  int
	HealthCheckPath string

	// Priority breaks ties in automatic selection; lower wins.
	Priority int
	Enabled  bool
}

// ProviderFromConfig converts a configured provider.
func ProviderFromConfig(pc config.PoolProviderConfig) Provider {
	return Provider{
		ID:              pc.ID,
		BaseURL:         pc.BaseURL,
		MaxConnections:  pc.MaxConnections,
		HealthCheckPath: pc.HealthCheckPath,
		Priority:        pc.Priority,
		Enabled:         pc.IsEnabled(),
	}
}

// ProviderPatch changes selected provider fields. Nil fields are kept.
type ProviderPatch struct {
	BaseURL         *string
	MaxConnections  *int
	HealthCheckPath *string
	Priority        *int
}

// AcquireOptions describes one acquisition.
type AcquireOptions struct {
	// Provider scopes the acquisition. Empty lets the pool choose.
	Provider string

	Priority Priority

	// Timeout bounds the time spent queued. Zero uses the pool default.
	Timeout time.Duration

	// Metadata is attached to the connection while it is held.
	Metadata map[string]string
}

// Connection is a lease on one pooled connection, valid until Release.
type Connection struct {
	// ID identifies the underlying pooled connection.
	ID       string
	Provider string

	// Session is the live handle returned by the Connector.
	Session Session

	AcquiredAt time.Time
	Metadata   map[string]string

	conn     *conn
	released bool
}

// conn is the pool-owned state of a connection. It is guarded by Pool.mu.
type conn struct {
	id       string
	provider string
	session  Session
	status   Status

	createdAt time.Time
	lastUsed  time.Time

	activeRequests  int
	totalRequests   int64
	errorCount      int
	avgResponseTime time.Duration
	metadata        map[string]string

	checking bool
}

// load ranks idle connections; the lowest is handed out first.
func (c *conn) load() int64 {
	return c.totalRequests + int64(c.errorCount)*10
}

func (c *conn) observe(d time.Duration) {
	if c.avgResponseTime == 0 {
		c.avgResponseTime = d
		return
	}
	c.avgResponseTime = time.Duration(0.8*float64(c.avgResponseTime) + 0.2*float64(d))
}

func (c *conn) info() ConnectionInfo {
	return ConnectionInfo{
		ID:              c.id,
		Provider:        c.provider,
		Status:          c.status,
		CreatedAt:       c.createdAt,
		LastUsed:        c.lastUsed,
		ActiveRequests:  c.activeRequests,
		TotalRequests:   c.totalRequests,
		ErrorCount:      c.errorCount,
		AvgResponseTime: c.avgResponseTime,
		Metadata:        copyMetadata(c.metadata),
	}
}

// ConnectionInfo is a point-in-time copy of a connection's counters.
type ConnectionInfo struct {
	ID              string            `json:"id"`
	Provider        string            `json:"provider"`
	Status          Status            `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	LastUsed        time.Time         `json:"last_used"`
	ActiveRequests  int               `json:"active_requests"`
	TotalRequests   int64             `json:"total_requests"`
	ErrorCount      int               `json:"error_count"`
	AvgResponseTime time.Duration     `json:"avg_response_time"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ProviderStats summarizes one provider.
type ProviderStats struct {
	ID              string        `json:"id"`
	Enabled         bool          `json:"enabled"`
	Breaker         string        `json:"breaker"`
	MaxConnections  int           `json:"max_connections"`
	Connections     int           `json:"connections"`
	Pending         int           `json:"pending"`
	Idle            int           `json:"idle"`
	Active          int           `json:"active"`
	Errored         int           `json:"errored"`
	TotalRequests   int64         `json:"total_requests"`
	ErrorCount      int           `json:"error_count"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Stats is a snapshot of the whole pool.
type Stats struct {
	MaxConnections int  `json:"max_connections"`
	Connections    int  `json:"connections"`
	Pending        int  `json:"pending"`
	Idle           int  `json:"idle"`
	Active         int  `json:"active"`
	Errored        int  `json:"errored"`
	Queued         int  `json:"queued"`
	Draining       bool `json:"draining"`

	Acquired       int64 `json:"acquired"`
	Timeouts       int64 `json:"timeouts"`
	Opened         int64 `json:"opened"`
	Closed         int64 `json:"closed"`
	CreateFailures int64 `json:"create_failures"`

	Providers map[string]ProviderStats `json:"providers"`
}

// ConnectionEvent is published when a connection opens or closes.
type ConnectionEvent struct {
	ConnectionID string
	Provider     string
	Reason       string
}

// AcquireTimeoutEvent is published when a queued acquisition times out.
type AcquireTimeoutEvent struct {
	Provider string
	Priority Priority
	Timeout  time.Duration
}

// ProviderToggledEvent is published when a provider is enabled or disabled.
type ProviderToggledEvent struct {
	Provider string
	Enabled  bool
}
