package broker

import (
	"fmt"
	"time"

	"newstrader/internal/config"
)

// FromConfig builds the configured broker implementation.
func FromConfig(cfg *config.Config) (Broker, error) {
	switch cfg.Broker.Name {
	case "simulator":
		return NewSimulator(), nil
	case "alpaca":
		a := cfg.Broker.Alpaca
		timeout := time.Duration(cfg.Broker.TimeoutSec) * time.Second
		return NewAlpacaBroker(a.APIKey, a.APISecret, a.BaseURL, a.DataURL, timeout), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker.Name)
	}
}
