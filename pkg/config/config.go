package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type ConsoleConfig struct {
	Addr           string
	GatewayBaseURL string
	GatewayTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KVPrefix      string

	RMQURL      string
	ReportQueue string

	BroadcastPace time.Duration
}

type ArchiverConfig struct {
	Port            string
	DBDSN           string
	RMQURL          string
	ReportQueue     string
	MaxRedeliveries int
}

var (
	Console  ConsoleConfig
	Archiver ArchiverConfig
)

// loadDotEnv reads .env when present; real env vars win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: .env not loaded: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustEnv(k string) string {
	v := os.Getenv(k)
	if v == "" {
		log.Fatalf("required env %s is not set", k)
	}
	return v
}

func getInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("env %s: %q is not an integer", k, v)
	}
	return n
}

func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		log.Fatalf("env %s: %q is not a valid duration", k, v)
	}
	return d
}

func LoadConsole() ConsoleConfig {
	loadDotEnv()
	return ConsoleConfig{
		Addr:           getenv("CONSOLE_ADDR", "127.0.0.1:8080"),
		GatewayBaseURL: getenv("GATEWAY_BASE_URL", "https://openapi.zalo.me"),
		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 30*time.Second),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getInt("REDIS_DB", 0),
		KVPrefix:       getenv("KV_PREFIX", "oabroadcast:"),
		RMQURL:         os.Getenv("RMQ_URL"),
		ReportQueue:    getenv("REPORT_QUEUE", "broadcast_reports"),
		BroadcastPace:  getDuration("BROADCAST_PACE", 100*time.Millisecond),
	}
}

func MustLoadConsole() { Console = LoadConsole() }

func MustLoadArchiver() {
	loadDotEnv()
	Archiver = ArchiverConfig{
		Port:            getenv("PORT", "8081"),
		DBDSN:           mustEnv("DB_DSN"),
		RMQURL:          mustEnv("RMQ_URL"),
		ReportQueue:     getenv("REPORT_QUEUE", "broadcast_reports"),
		MaxRedeliveries: getInt("MAX_REDELIVERIES", 3),
	}
}
