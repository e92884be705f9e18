// Package config implements spec.md §6's Settings: the connection-string
// grammar, recognised option set, and environment overrides, loaded through
// github.com/spf13/viper the way the teacher's internal/config/config.go
// loads its own Config — SetDefault per key, then the connection string's
// options, then validated with github.com/go-playground/validator/v10.
// Environment variables are not bound through viper; ApplyEnvOverrides
// applies them as an explicit post-pass.
// The teacher's hot-reload/update-diff machinery (update_*.go,
// reload_coordinator.go, sanitizer.go) has no analogue here: spec.md has no
// live-reconfiguration concept for a client library, so none of it survived
// the transform (see DESIGN.md).
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	cberrors "github.com/couchbase/lcbgo/internal/errors"
)

// DefaultPersistenceTimeoutFloorMS is LCB_DEFAULT_PERSISTENCE_TIMEOUT_FLOOR:
// a non-zero persistence_timeout_floor may never be set below this.
const DefaultPersistenceTimeoutFloorMS = 2500

// ConfigPollIntervalFloor is LCB_CONFIG_POLL_INTERVAL_FLOOR: config_poll_interval
// must be zero (disabled) or at least this.
const ConfigPollIntervalFloor = 500 * time.Millisecond

// TimeoutsConfig holds every *_timeout option from spec.md §6.
type TimeoutsConfig struct {
	Operation               time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	Views                   time.Duration `mapstructure:"views_timeout" validate:"gt=0"`
	Query                   time.Duration `mapstructure:"query_timeout" validate:"gt=0"`
	Analytics               time.Duration `mapstructure:"analytics_timeout" validate:"gt=0"`
	Search                  time.Duration `mapstructure:"search_timeout" validate:"gt=0"`
	HTTP                    time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	Durability              time.Duration `mapstructure:"durability_timeout" validate:"gt=0"`
	DurabilityInterval      time.Duration `mapstructure:"durability_interval" validate:"gt=0"`
	PersistenceTimeoutFloor time.Duration `mapstructure:"persistence_timeout_floor"`
	ConfigTotal             time.Duration `mapstructure:"config_total_timeout" validate:"gt=0"`
	ConfigNode              time.Duration `mapstructure:"config_node_timeout" validate:"gt=0"`
}

// CompressionConfig holds spec.md §6's compression option group.
type CompressionConfig struct {
	Mode    string  `mapstructure:"compression" validate:"oneof=off on inflate_only deflate_only force"`
	MinSize int     `mapstructure:"compression_min_size" validate:"gte=0"`
	MinRatio float64 `mapstructure:"compression_min_ratio" validate:"gte=0,lte=1"`
}

// TLSConfig holds the ssl* option group.
type TLSConfig struct {
	Enabled bool   `mapstructure:"ssl"`
	CACert  string `mapstructure:"ssl_cacert"`
	Cert    string `mapstructure:"ssl_cert"`
	Key     string `mapstructure:"ssl_key"`
}

// HTTPConfig holds the http_* option group.
type HTTPConfig struct {
	URLMode     string        `mapstructure:"http_urlmode" validate:"oneof=compat tap"`
	PoolSize    int           `mapstructure:"http_poolsize" validate:"gt=0"`
	PoolTimeout time.Duration `mapstructure:"http_pool_timeout"`
}

// RetryConfig holds the retry_policy grammar verbatim: comma-separated
// "class:mode" pairs on the connection string (e.g.
// "topochange:all,sockerr:all,maperr:all,missingnode:safe"). ParsePolicy
// turns it into a retry.Policy-shaped map.
type RetryConfig struct {
	Raw string `mapstructure:"retry_policy"`
}

// ParsePolicy parses RetryConfig.Raw into a class -> mode string map; empty
// or malformed entries are skipped rather than erroring, since retry_policy
// is an advisory override layered on top of retry.DefaultPolicy.
func (r RetryConfig) ParsePolicy() map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(r.Raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

// Settings is spec.md §4.9's per-Instance Settings object: every
// connection-string/control-interface option plus the parsed bootstrap host
// list, refcounted alongside the Instance that owns it (spec.md §5).
type Settings struct {
	Hosts  []HostSpec
	Bucket string

	Username string
	Password string
	// BucketCred overrides Username/Password for a single bucket's
	// credentials, per spec.md §6's bucket_cred option (`JSON [user,pass]`).
	BucketCred [2]string

	TLS         TLSConfig         `mapstructure:",squash"`
	Timeouts    TimeoutsConfig    `mapstructure:",squash"`
	Compression CompressionConfig `mapstructure:",squash"`
	HTTP        HTTPConfig        `mapstructure:",squash"`
	Retry       RetryConfig       `mapstructure:",squash"`

	RandomizeNodes           bool          `mapstructure:"randomize_nodes"`
	ConfigPollInterval       time.Duration `mapstructure:"config_poll_interval"`
	IPv6                     string        `mapstructure:"ipv6" validate:"oneof=disabled only allow"`
	SelectBucket             bool          `mapstructure:"select_bucket"`
	EnableMutationTokens     bool          `mapstructure:"enable_mutation_tokens"`
	EnableCollections        bool          `mapstructure:"enable_collections"`
	EnableDurableWrite       bool          `mapstructure:"enable_durable_write"`
	EnableUnorderedExecution bool          `mapstructure:"enable_unordered_execution"`
	EnableTracing            bool          `mapstructure:"enable_tracing"`
	TracingThresholdKV        time.Duration `mapstructure:"tracing_threshold_kv"`
	TracingThresholdQuery     time.Duration `mapstructure:"tracing_threshold_query"`
	TracingThresholdView      time.Duration `mapstructure:"tracing_threshold_view"`
	TracingThresholdSearch    time.Duration `mapstructure:"tracing_threshold_search"`
	TracingThresholdAnalytics time.Duration `mapstructure:"tracing_threshold_analytics"`

	LogRedaction    bool   `mapstructure:"log_redaction"`
	ConsoleLogLevel string `mapstructure:"console_log_level"`
	ConsoleLogFile  string `mapstructure:"console_log_file"`

	ClientString   string `mapstructure:"client_string"`
	Network        string `mapstructure:"network"`
	TCPNoDelay     bool   `mapstructure:"tcp_nodelay"`
	TCPKeepAlive   bool   `mapstructure:"tcp_keepalive"`
	VBNoRemap      bool   `mapstructure:"vb_noremap"`
	WaitForConfig  bool   `mapstructure:"wait_for_config"`
	UnsafeOptimize bool   `mapstructure:"unsafe_optimize"`

	NoCCCP bool `mapstructure:"no_cccp"`
	NoHTTP bool `mapstructure:"no_http"`

	ConfigCache   string `mapstructure:"config_cache"`
	ConfigCacheRO bool   `mapstructure:"config_cache_ro"`

	// CacheRedisAddr, when set, backs the vbguess/query-plan cache tier
	// (internal/cache) with a shared Redis instance instead of each
	// Instance's own in-process LRU (SPEC_FULL.md DOMAIN STACK).
	CacheRedisAddr string `mapstructure:"cache_redis_addr"`

	// ConfigPushURL, when set, adds a confmon.WSProvider alongside
	// CCCP/HTTP so config updates can arrive by server push instead of
	// only by polling (SPEC_FULL.md DOMAIN STACK's websocket wiring).
	ConfigPushURL string `mapstructure:"config_push_url"`
}

// HostSpec is one bootstrap host, with the per-host CCCP/HTTP-only suffix
// spec.md §6 allows (":p=N" marks HTTP-only; a bare memcached port with no
// suffix is CCCP-eligible).
type HostSpec struct {
	Host     string
	Port     int
	HTTPOnly bool
	CCCPOnly bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("operation_timeout", "2.5s")
	v.SetDefault("views_timeout", "75s")
	v.SetDefault("query_timeout", "75s")
	v.SetDefault("analytics_timeout", "75s")
	v.SetDefault("search_timeout", "75s")
	v.SetDefault("http_timeout", "75s")
	v.SetDefault("durability_timeout", "10s")
	v.SetDefault("durability_interval", "100ms")
	v.SetDefault("persistence_timeout_floor", "2.5s")
	v.SetDefault("config_total_timeout", "2.5s")
	v.SetDefault("config_node_timeout", "2s")

	v.SetDefault("compression", "off")
	v.SetDefault("compression_min_size", 32)
	v.SetDefault("compression_min_ratio", 0.83)

	v.SetDefault("ssl", false)

	v.SetDefault("http_urlmode", "compat")
	v.SetDefault("http_poolsize", 4)
	v.SetDefault("http_pool_timeout", "1m")

	v.SetDefault("randomize_nodes", false)
	v.SetDefault("config_poll_interval", "2.5s")
	v.SetDefault("ipv6", "disabled")
	v.SetDefault("select_bucket", true)
	v.SetDefault("enable_mutation_tokens", false)
	v.SetDefault("enable_collections", false)
	v.SetDefault("enable_durable_write", false)
	v.SetDefault("enable_unordered_execution", false)
	v.SetDefault("enable_tracing", false)
	v.SetDefault("tracing_threshold_kv", "500ms")
	v.SetDefault("tracing_threshold_query", "1s")
	v.SetDefault("tracing_threshold_view", "1s")
	v.SetDefault("tracing_threshold_search", "1s")
	v.SetDefault("tracing_threshold_analytics", "1s")

	v.SetDefault("log_redaction", false)
	v.SetDefault("console_log_level", "warn")

	v.SetDefault("client_string", "")
	v.SetDefault("network", "default")
	v.SetDefault("tcp_nodelay", true)
	v.SetDefault("tcp_keepalive", true)
	v.SetDefault("vb_noremap", false)
	v.SetDefault("wait_for_config", false)
	v.SetDefault("unsafe_optimize", false)
}

// Load parses connStr (spec.md §6 grammar) into a Settings, layering
// defaults, the connection string's own query options, and then the
// environment overrides from ApplyEnvOverrides, mirroring the teacher's
// LoadConfig's "defaults, then file, then env" precedence (here: defaults,
// then connstr, then env, since there is no config file for a client
// library connection).
func Load(connStr string) (*Settings, error) {
	spec, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(spec.Scheme, "+explicit_srv") {
		expanded, err := expandSRV(spec.Scheme, spec.Hosts)
		if err != nil {
			return nil, err
		}
		spec.Hosts = expanded
	}

	v := viper.New()
	setDefaults(v)
	for k, val := range spec.Options {
		v.Set(k, val)
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, cberrors.New(cberrors.CodeUsage, "config.load", "failed to unmarshal settings", err)
	}
	s.Hosts = spec.Hosts
	s.Bucket = spec.Bucket
	s.TLS.Enabled = s.TLS.Enabled || spec.Scheme == "couchbases"

	if raw, ok := spec.Options["bucket_cred"]; ok {
		var pair [2]string
		if err := json.Unmarshal([]byte(raw), &pair); err != nil {
			return nil, cberrors.New(cberrors.CodeUsage, "config.load", "bucket_cred must be a JSON [user,pass] pair", err)
		}
		s.BucketCred = pair
	}

	ApplyEnvOverrides(&s)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

var validate = validator.New()

// Validate applies struct-tag validation plus the cross-field checks
// spec.md §8 names explicitly (persistence_timeout_floor's hard floor,
// config_poll_interval's floor-or-zero rule).
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return cberrors.New(cberrors.CodeUsage, "config.validate", err.Error(), err)
	}
	if s.Timeouts.PersistenceTimeoutFloor != 0 && s.Timeouts.PersistenceTimeoutFloor < DefaultPersistenceTimeoutFloorMS*time.Millisecond {
		return cberrors.New(cberrors.CodeUsage, "config.validate",
			fmt.Sprintf("persistence_timeout_floor %s is below the hard floor %dms", s.Timeouts.PersistenceTimeoutFloor, DefaultPersistenceTimeoutFloorMS), nil)
	}
	if s.ConfigPollInterval != 0 && s.ConfigPollInterval < ConfigPollIntervalFloor {
		return cberrors.New(cberrors.CodeUsage, "config.validate",
			fmt.Sprintf("config_poll_interval %s is below the floor %s", s.ConfigPollInterval, ConfigPollIntervalFloor), nil)
	}
	if len(s.Hosts) == 0 {
		return cberrors.New(cberrors.CodeUsage, "config.validate", "connection string has no hosts", nil)
	}
	return nil
}

// EffectiveCredentials returns BucketCred when set, else Username/Password,
// per spec.md §6's bucket_cred override.
func (s *Settings) EffectiveCredentials() (user, pass string) {
	if s.BucketCred[0] != "" {
		return s.BucketCred[0], s.BucketCred[1]
	}
	return s.Username, s.Password
}
