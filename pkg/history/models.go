package history

import (
	"time"
)

// Run is one invocation of hwci run.
type Run struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RunID         string    `gorm:"uniqueIndex;not null" json:"run_id"`
	StartTime     time.Time `gorm:"not null" json:"start_time"`
	ConfigsFile   string    `json:"configs_file"`
	Hostname      string    `json:"hostname"`
	Total         int       `json:"total"`
	Executed      int       `json:"executed"`
	Passed        int       `json:"passed"`
	Failed        int       `json:"failed"`
	TotalDuration float64   `json:"total_duration"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ConfigResult is the outcome of one configuration within a run.
type ConfigResult struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	RunID     string     `gorm:"uniqueIndex:idx_run_config;not null" json:"run_id"`
	Config    string     `gorm:"uniqueIndex:idx_run_config;not null" json:"config"`
	Target    string     `json:"target"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Duration  float64    `json:"duration"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// StepResult is the status of a single step of a configuration.
type StepResult struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"uniqueIndex:idx_run_config_step;not null" json:"run_id"`
	Config    string    `gorm:"uniqueIndex:idx_run_config_step;not null" json:"config"`
	Step      string    `gorm:"uniqueIndex:idx_run_config_step;not null" json:"step"`
	Status    string    `gorm:"not null" json:"status"`
	Code      int       `json:"code"`
	LogPath   string    `json:"log_path,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
