package models

import (
	"time"

	"Solar/internal/runner"
)

// HealthReport is the outcome of one supervisor health sweep
type HealthReport struct {
	Healthy        bool      `json:"healthy"`
	Unhealthy      []string  `json:"unhealthy,omitempty"`
	Restarted      []string  `json:"restarted,omitempty"`
	TotalRunners   int       `json:"total_runners"`
	RunningRunners int       `json:"running_runners"`
	ErrorRunners   int       `json:"error_runners"`
	Duration       string    `json:"duration"`
	Timestamp      time.Time `json:"timestamp"`
}

// RestartAttempt records an automatic restart of a runner in the error state
type RestartAttempt struct {
	Runner    string    `json:"runner"`
	Attempt   int       `json:"attempt"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is served by /api/v1/status
type StatusResponse struct {
	System  runner.SystemStatus      `json:"system"`
	Runners map[string]runner.Status `json:"runners"`
	Healthy bool                     `json:"healthy"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
}
