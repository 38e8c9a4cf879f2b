package config

import (
	"os"

	"github.com/joho/godotenv"

	"startup-analyst/internal/shared/telemetry"
)

// loadEnvFiles loads KEY=VALUE files that exist. Variables already set in
// the environment win. Missing files are skipped.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			telemetry.Warn("config.env_file_invalid", map[string]any{"path": path, "error": err})
		}
	}
}
