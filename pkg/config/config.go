package config

import "os"

// Config holds kernel process configuration.
type Config struct {
	LogLevel      string
	CASDSN        string
	JournalDSN    string
	GovShadowOnly bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	casDSN := os.Getenv("AOS_CAS_DSN")
	if casDSN == "" {
		// Default to local generic postgres
		casDSN = "postgres://aos@localhost:5433/aos_cas?sslmode=disable"
	}

	journalDSN := os.Getenv("AOS_JOURNAL_DSN")
	if journalDSN == "" {
		journalDSN = "postgres://aos@localhost:5433/aos_journal?sslmode=disable"
	}

	govShadowOnly := os.Getenv("AOS_GOV_SHADOW_ONLY") == "true"

	return &Config{
		LogLevel:      logLevel,
		CASDSN:        casDSN,
		JournalDSN:    journalDSN,
		GovShadowOnly: govShadowOnly,
	}
}
