package config

import "fmt"

type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	APIs          APIsConfig              `mapstructure:"apis"`
	Retriever     RetrieverConfig         `mapstructure:"retriever"`
	Events        EventsConfig            `mapstructure:"events"`
	Server        ServerConfig            `mapstructure:"server"`
	Auth          AuthConfig              `mapstructure:"auth"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// CamundaConfig is optional; an empty broker address disables the job worker.
type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	// Table holds id, content, metadata, embedding, content_tsv, ws_id,
	// doc_type and created_at columns.
	Table string `mapstructure:"table"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

func (p PostgresConfig) Enabled() bool {
	return p.Host != "" && p.Database != ""
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
	Index     string   `mapstructure:"index"`
}

func (e ElasticsearchConfig) GetAddresses() []string {
	if len(e.Addresses) > 0 {
		return e.Addresses
	}
	if e.URL != "" {
		return []string{e.URL}
	}
	return nil
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
	// FailOnError raises unsuccessful retrievals as job errors.
	FailOnError bool `mapstructure:"fail_on_error"`
}

type APIsConfig struct {
	OpenAI struct {
		BaseURL            string `mapstructure:"base_url"`
		APIKey             string `mapstructure:"api_key"`
		EmbeddingModel     string `mapstructure:"embedding_model"`
		EmbeddingDimension int    `mapstructure:"embedding_dimension"`
		Timeout            int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"openai"`

	WebSearch struct {
		BaseURL  string `mapstructure:"base_url"`
		APIKey   string `mapstructure:"api_key"`
		EngineID string `mapstructure:"engine_id"`
		Timeout  int    `mapstructure:"timeout"` // milliseconds
	} `mapstructure:"web_search"`
}

// RetrieverConfig tunes strategy selection and per-backend deadlines.
type RetrieverConfig struct {
	Name           string  `mapstructure:"name"`
	DefaultLimit   int     `mapstructure:"default_limit"`
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	RewriteSuffix  string  `mapstructure:"rewrite_suffix"`
	DisableEvents  bool    `mapstructure:"disable_events"`
	VectorTimeout  int     `mapstructure:"vector_timeout"`  // milliseconds
	KeywordTimeout int     `mapstructure:"keyword_timeout"` // milliseconds
	WebTimeout     int     `mapstructure:"web_timeout"`     // milliseconds
}

type EventsConfig struct {
	Redis struct {
		Enabled bool   `mapstructure:"enabled"`
		Channel string `mapstructure:"channel"`
	} `mapstructure:"redis"`

	SNS struct {
		Enabled           bool   `mapstructure:"enabled"`
		Region            string `mapstructure:"region"`
		TopicARN          string `mapstructure:"topic_arn"`
		FallbackThreshold int    `mapstructure:"fallback_threshold"`
		Window            int    `mapstructure:"window"` // milliseconds
	} `mapstructure:"sns"`
}

type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// AuthConfig enables Keycloak token introspection on the search API.
type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	KeycloakURL  string `mapstructure:"keycloak_url"`
	Realm        string `mapstructure:"realm"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Timeout      int    `mapstructure:"timeout"` // milliseconds
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
