package model

import (
	"math"
	"time"
)

// StatsRecord holds zonal statistics of one risk layer inside one country.
// Statistics are NaN when the country covers no valid pixels.
type StatsRecord struct {
	SovA3       string  `json:"sov_a3"`
	Sovereignty string  `json:"sovereignty"`
	Admin       string  `json:"admin"`
	RiskType    string  `json:"risk_type"`
	Median      float64 `json:"risk_median"`
	Mean        float64 `json:"risk_mean"`
	Std         float64 `json:"risk_std"`
	Max         float64 `json:"risk_max"`
	Min         float64 `json:"risk_min"`
	Pixels      int64   `json:"risk_pixels"`
}

// HasData reports whether the record covers at least one valid pixel.
func (r StatsRecord) HasData() bool {
	return r.Pixels > 0 && !math.IsNaN(r.Mean)
}

// Run is one invocation of the pipeline.
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Layers      []string   `json:"layers"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunStatus is the lifecycle state of a Run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)
