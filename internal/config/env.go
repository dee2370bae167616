package config

import (
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides overlays ENGRAM_* environment variables onto a design.
// Unset variables leave the design untouched; unparsable numeric values are
// ignored rather than failing startup.
//
//	ENGRAM_PROVIDER_URL       provider base URL
//	ENGRAM_EMBED_MODEL        embedding model name
//	ENGRAM_GENERATE_MODEL     generation model name
//	ENGRAM_PROVIDER_TIMEOUT   per-call timeout, Go duration syntax
//	ENGRAM_RETENTION_DAYS     interaction retention horizon in days
func ApplyEnvOverrides(d *Design) {
	if v := os.Getenv("ENGRAM_PROVIDER_URL"); v != "" {
		d.Provider.BaseURL = v
	}
	if v := os.Getenv("ENGRAM_EMBED_MODEL"); v != "" {
		d.Provider.EmbedModel = v
	}
	if v := os.Getenv("ENGRAM_GENERATE_MODEL"); v != "" {
		d.Provider.GenerateModel = v
	}
	if v := os.Getenv("ENGRAM_PROVIDER_TIMEOUT"); v != "" {
		if t, err := time.ParseDuration(v); err == nil && t > 0 {
			d.Provider.Timeout = t
		}
	}
	if v := os.Getenv("ENGRAM_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.Memory.RetentionDays = n
		}
	}
}
