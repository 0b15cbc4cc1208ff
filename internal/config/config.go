package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env  string
	Addr string

	DBPath    string
	JWTSecret string

	// Empty means the snapshot cache is disabled.
	RedisAddr string
	RedisDB   int

	CORSAllow []string

	RetentionInterval time.Duration
	SnapshotKeep      int
}

func Load() Config {
	cfg := Config{
		Env:       getEnv("VSDOCS_ENV", "dev"),
		Addr:      getEnv("VSDOCS_ADDR", ":3000"),
		DBPath:    getEnv("VSDOCS_DB_PATH", "./data/vsdocs.db"),
		JWTSecret: getEnv("VSDOCS_JWT_SECRET", "dev-secret-change"),
		RedisAddr: getEnv("VSDOCS_REDIS_ADDR", ""),
	}
	cfg.RedisDB = getEnvInt("VSDOCS_REDIS_DB", 0)
	cfg.CORSAllow = splitCSV(getEnv("VSDOCS_CORS_ALLOW", "http://localhost:5173"))
	cfg.RetentionInterval = time.Duration(getEnvInt("VSDOCS_RETENTION_MINUTES", 5)) * time.Minute
	cfg.SnapshotKeep = getEnvInt("VSDOCS_SNAPSHOT_KEEP", 20)
	return cfg
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
