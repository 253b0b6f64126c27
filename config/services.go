package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job worker consuming the dispatch queue.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReconciler runs the periodic sweep for stuck and stalled jobs.
	ServiceModeReconciler ServiceMode = "reconciler"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeWorker,
		ServiceModeReconciler,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReconciler:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name %q, valid services are: %v",
				serviceName, ValidServiceModes())
		}
	}

	if len(services) == 0 {
		return services, errors.New("at least one service must be specified")
	}
	return services, nil
}

// WorkerConfig contains job worker configuration.
type WorkerConfig struct {
	// RetryScheduleSeconds is the backoff schedule, one entry per retry attempt.
	RetryScheduleSeconds []int `env:"WORKER_RETRY_SCHEDULE_SECONDS" envDefault:"5,25,125"`
}

// Sanitize applies guardrails to worker configuration.
func (c *WorkerConfig) Sanitize() {
	if len(c.RetryScheduleSeconds) == 0 {
		c.RetryScheduleSeconds = []int{5, 25, 125}
	}
	for i, secs := range c.RetryScheduleSeconds {
		if secs < 1 {
			c.RetryScheduleSeconds[i] = 1
		}
	}
}

// RetrySchedule converts the configured schedule to durations.
func (c *WorkerConfig) RetrySchedule() []time.Duration {
	schedule := make([]time.Duration, len(c.RetryScheduleSeconds))
	for i, secs := range c.RetryScheduleSeconds {
		schedule[i] = time.Duration(secs) * time.Second
	}
	return schedule
}

// ReconcilerConfig contains reconciler sweep configuration.
type ReconcilerConfig struct {
	// Interval is how often the sweep runs.
	Interval time.Duration `env:"RECONCILER_INTERVAL" envDefault:"1m"`
	// PendingThresholdSeconds is how long a pending job may sit untouched
	// before it is republished.
	PendingThresholdSeconds int `env:"RECONCILER_PENDING_THRESHOLD_SECONDS" envDefault:"300"`
	// ProcessingThresholdSeconds is how long a processing job may sit
	// untouched before it is failed as stalled.
	ProcessingThresholdSeconds int `env:"RECONCILER_PROCESSING_THRESHOLD_SECONDS" envDefault:"600"`
	// Batch bounds how many stuck jobs one sweep republishes.
	Batch int `env:"RECONCILER_BATCH" envDefault:"100"`
}

// Sanitize applies guardrails to reconciler configuration.
func (c *ReconcilerConfig) Sanitize() {
	if c.Interval < time.Second {
		c.Interval = time.Minute
	}
	if c.PendingThresholdSeconds < 1 {
		c.PendingThresholdSeconds = 300
	}
	if c.ProcessingThresholdSeconds < 1 {
		c.ProcessingThresholdSeconds = 600
	}
	if c.Batch < 1 {
		c.Batch = 100
	}
}
