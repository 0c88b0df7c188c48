package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/native/fees"
	"projectledger/native/fundingcycles"
)

const minAuthSecretLen = 32

// Validate rejects configurations ledgerd cannot start with.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("config: invalid ListenAddress %q: %w", c.ListenAddress, err)
	}
	if err := requireAddress("terminal.Address", c.Terminal.Address, false); err != nil {
		return err
	}
	if err := requireAddress("terminal.Token", c.Terminal.Token, false); err != nil {
		return err
	}
	if err := requireAddress("terminal.Owner", c.Terminal.Owner, true); err != nil {
		return err
	}
	if err := requireAddress("terminal.FeeGauge", c.Terminal.FeeGauge, true); err != nil {
		return err
	}
	for _, addr := range c.Terminal.FeelessAddresses {
		if err := requireAddress("terminal.FeelessAddresses", addr, false); err != nil {
			return err
		}
	}
	if err := fees.ValidateFee(c.Terminal.Fee); err != nil {
		return fmt.Errorf("config: terminal.Fee: %w", err)
	}
	if c.Terminal.FeeGaugeDefault > fees.MaxFeeDiscount {
		return fmt.Errorf("config: terminal.FeeGaugeDefault exceeds %d", fees.MaxFeeDiscount)
	}
	if c.Terminal.Currency > fundingcycles.MaxCurrencyID {
		return fmt.Errorf("config: terminal.Currency exceeds %d", fundingcycles.MaxCurrencyID)
	}
	if c.Terminal.Decimals > 36 {
		return fmt.Errorf("config: terminal.Decimals must be at most 36")
	}
	switch strings.ToLower(c.Audit.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("config: unsupported audit.Driver %q", c.Audit.Driver)
	}
	if strings.TrimSpace(c.Audit.DSN) == "" {
		return fmt.Errorf("config: audit.DSN required")
	}
	if secret := c.Auth.Secret(); secret != "" && len(secret) < minAuthSecretLen {
		return fmt.Errorf("config: auth secret must be at least %d bytes", minAuthSecretLen)
	}
	return nil
}

func requireAddress(field, value string, optional bool) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" && optional {
		return nil
	}
	if !common.IsHexAddress(trimmed) {
		return fmt.Errorf("config: %s %q is not a hex address", field, value)
	}
	return nil
}

// Address parses a validated hex address field. Empty values yield the zero
// address.
func Address(value string) common.Address {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}
	}
	return common.HexToAddress(trimmed)
}
