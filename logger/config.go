package logger

// Config logger configuration
type Config struct {
	Level string `json:"level"` // debug, info, warn, error (default: info)
	// File optional log file path; rotated by size when set
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.File != "" {
		if c.MaxSizeMB <= 0 {
			c.MaxSizeMB = 10
		}
		if c.MaxBackups <= 0 {
			c.MaxBackups = 3
		}
		if c.MaxAgeDays <= 0 {
			c.MaxAgeDays = 28
		}
	}
}
