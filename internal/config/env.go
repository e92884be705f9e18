package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies spec.md §6's environment overrides
// (LCB_OPTIONS, LCB_SSL_MODE, LCB_SSL_CACERT, LCB_SSL_KEY, LCB_NO_CCCP,
// LCB_NO_HTTP, LCB_LOGLEVEL) on top of whatever the connection string
// already set, mirroring the teacher's LoadConfigFromEnv/AutomaticEnv
// precedence: environment always wins last.
func ApplyEnvOverrides(s *Settings) {
	if raw, ok := os.LookupEnv("LCB_OPTIONS"); ok {
		applyOptionsString(s, raw)
	}
	if mode, ok := os.LookupEnv("LCB_SSL_MODE"); ok {
		s.TLS.Enabled = strings.EqualFold(mode, "on") || mode == "1"
	}
	if path, ok := os.LookupEnv("LCB_SSL_CACERT"); ok {
		s.TLS.CACert = path
	}
	if path, ok := os.LookupEnv("LCB_SSL_KEY"); ok {
		s.TLS.Key = path
	}
	if v, ok := os.LookupEnv("LCB_NO_CCCP"); ok {
		s.NoCCCP = v != "" && v != "0"
	}
	if v, ok := os.LookupEnv("LCB_NO_HTTP"); ok {
		s.NoHTTP = v != "" && v != "0"
	}
	if lvl, ok := os.LookupEnv("LCB_LOGLEVEL"); ok {
		s.ConsoleLogLevel = lvl
	}
}

// applyOptionsString applies LCB_OPTIONS, a comma-separated "key=value"
// list layered on top of the connection string's own query options —
// libcouchbase's own long-standing escape hatch for overriding options
// without editing a connection string baked into deployment config.
func applyOptionsString(s *Settings, raw string) {
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		applyOption(s, key, val)
	}
}

func applyOption(s *Settings, key, val string) {
	switch key {
	case "operation_timeout":
		if d, err := time.ParseDuration(val); err == nil {
			s.Timeouts.Operation = d
		}
	case "config_poll_interval":
		if d, err := time.ParseDuration(val); err == nil {
			s.ConfigPollInterval = d
		}
	case "randomize_nodes":
		s.RandomizeNodes = val == "1" || strings.EqualFold(val, "true")
	case "compression":
		s.Compression.Mode = val
	case "retry_policy":
		s.Retry.Raw = val
	case "http_poolsize":
		if n, err := strconv.Atoi(val); err == nil {
			s.HTTP.PoolSize = n
		}
	case "select_bucket":
		s.SelectBucket = val == "1" || strings.EqualFold(val, "true")
	case "enable_mutation_tokens":
		s.EnableMutationTokens = val == "1" || strings.EqualFold(val, "true")
	}
}
