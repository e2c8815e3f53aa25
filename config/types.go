package config

// Market configures the marketplace engine.
type Market struct {
	// DataDir holds the state database.
	DataDir string `toml:"DataDir" yaml:"dataDir"`
	// Backend selects the storage engine: leveldb, bolt or memory.
	Backend string `toml:"Backend" yaml:"backend"`
	// Vault is the bech32 custody account holding escrowed legs.
	Vault string `toml:"Vault" yaml:"vault"`
	// CommissionRate is the initial commission in 1e18 fixed point where
	// 1e18 is one percent.
	CommissionRate string   `toml:"CommissionRate" yaml:"commissionRate"`
	Pairs          []string `toml:"Pairs" yaml:"pairs"`
	Admins         []Admin  `toml:"Admins" yaml:"admins"`
	// Aliases are registered in the directory at startup.
	Aliases map[string]string `toml:"Aliases" yaml:"aliases"`
}

// Admin grants roles to an account.
type Admin struct {
	Address string   `toml:"Address" yaml:"address"`
	Roles   []string `toml:"Roles" yaml:"roles"`
}

// Bank configures the in-process custody ledger.
type Bank struct {
	Treasury          string            `toml:"Treasury" yaml:"treasury"`
	FeeBps            map[string]uint32 `toml:"FeeBps" yaml:"feeBps"`
	MaxDebit          string            `toml:"MaxDebit" yaml:"maxDebit"`
	QuotaMaxCount     uint32            `toml:"QuotaMaxCount" yaml:"quotaMaxCount"`
	QuotaMaxValue     string            `toml:"QuotaMaxValue" yaml:"quotaMaxValue"`
	QuotaEpochSeconds uint32            `toml:"QuotaEpochSeconds" yaml:"quotaEpochSeconds"`
	Blocked           []string          `toml:"Blocked" yaml:"blocked"`
}

// RPC configures the JSON-RPC listener.
type RPC struct {
	ListenAddress string `toml:"ListenAddress" yaml:"listenAddress"`
	JWTSecret     string `toml:"JWTSecret" yaml:"jwtSecret"`
	// JWTSecretEnv names an environment variable overriding JWTSecret.
	JWTSecretEnv       string  `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	JWTIssuer          string  `toml:"JWTIssuer" yaml:"jwtIssuer"`
	JWTAudience        string  `toml:"JWTAudience" yaml:"jwtAudience"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond" yaml:"rateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst" yaml:"rateLimitBurst"`
	ReadHeaderTimeout  int     `toml:"ReadHeaderTimeout" yaml:"readHeaderTimeout"`
	// EnableFaucet exposes bank_deposit to pausers.
	EnableFaucet bool `toml:"EnableFaucet" yaml:"enableFaucet"`
}

// Logging configures the structured logger.
type Logging struct {
	Env        string `toml:"Env" yaml:"env"`
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"Insecure" yaml:"insecure"`
	Headers     string  `toml:"Headers" yaml:"headers"`
	Traces      bool    `toml:"Traces" yaml:"traces"`
	Metrics     bool    `toml:"Metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"SampleRatio" yaml:"sampleRatio"`
}

// Journal configures the persistent record journal. An empty DSN disables it.
type Journal struct {
	DSN string `toml:"DSN" yaml:"dsn"`
}

// Webhook configures delivery of committed market records to an HTTP
// endpoint. An empty URL disables it.
type Webhook struct {
	URL    string `toml:"URL" yaml:"url"`
	Secret string `toml:"Secret" yaml:"secret"`
	// SecretEnv names an environment variable overriding Secret.
	SecretEnv   string   `toml:"SecretEnv" yaml:"secretEnv"`
	Types       []string `toml:"Types" yaml:"types"`
	MaxAttempts int      `toml:"MaxAttempts" yaml:"maxAttempts"`
	QueueSize   int      `toml:"QueueSize" yaml:"queueSize"`
}
