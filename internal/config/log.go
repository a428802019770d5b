package config

// LogConfig controls the zap logger and its lumberjack file rotation.
type LogConfig struct {
	Level      string // debug, info, warn, error
	File       string // rotated JSON log; empty writes to stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	AuditDir   string // directory of circulation.log written by the event consumer
}

func LoadLogConfig() LogConfig {
	return LogConfig{
		Level:      envStr("LOG_LEVEL", "info"),
		File:       envStr("LOG_FILE", "logs/library.log"),
		MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: envInt("LOG_MAX_BACKUPS", 5),
		MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 30),
		Compress:   envBool("LOG_COMPRESS", true),
		AuditDir:   envStr("LOG_AUDIT_DIR", "logs"),
	}
}
