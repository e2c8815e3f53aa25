package config

import (
	"fmt"
	"math/big"
	"strings"

	"p2pmarket/crypto"
)

// Validate checks cross-field constraints and that every address, amount and
// role parses.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	switch cfg.Market.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("market: unknown backend %q", cfg.Market.Backend)
	}
	if _, err := cfg.MarketRuntime(); err != nil {
		return err
	}
	if _, err := cfg.BankRuntime(); err != nil {
		return err
	}
	if cfg.RPC.JWTSecret != "" && len(cfg.RPC.JWTSecret) < 16 {
		return fmt.Errorf("rpc: JWTSecret must be at least 16 bytes")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if (cfg.Telemetry.Traces || cfg.Telemetry.Metrics) && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when exporters are enabled")
	}
	if strings.TrimSpace(cfg.Webhook.URL) != "" && strings.TrimSpace(cfg.Webhook.Secret) == "" {
		return fmt.Errorf("webhook: Secret required when URL is set")
	}
	return nil
}

func parseAccount(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAccount(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return addr, nil
}

func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q: must be a non-negative integer", field, value)
	}
	return amount, nil
}
