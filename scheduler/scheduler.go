package scheduler

// Package scheduler provides scheduled job management for the metals
// scanner. It handles:
// - Periodic marketplace scans
// - Weekly cleanup of aged spot-price rows
//
// Jobs are implemented in jobs.go
