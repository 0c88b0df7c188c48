package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Amount wraps an arbitrary precision integer written as a decimal string so
// values beyond 64 bits survive YAML decoding.
type Amount struct {
	*big.Int
}

// UnmarshalYAML parses decimal or 0x-prefixed hexadecimal scalars.
func (a *Amount) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount must be a scalar")
	}
	raw := strings.ReplaceAll(strings.TrimSpace(value.Value), "_", "")
	if raw == "" {
		a.Int = nil
		return nil
	}
	parsed, ok := new(big.Int).SetString(raw, 0)
	if !ok {
		return fmt.Errorf("parse amount %q", value.Value)
	}
	if parsed.Sign() < 0 {
		return fmt.Errorf("amount %q must not be negative", value.Value)
	}
	a.Int = parsed
	return nil
}

// Value returns the parsed integer or nil when the amount was omitted.
func (a Amount) Value() *big.Int {
	if a.Int == nil {
		return nil
	}
	return new(big.Int).Set(a.Int)
}

// Bootstrap seeds a fresh ledger with projects and price feeds.
type Bootstrap struct {
	Prices   []PriceFeed `yaml:"prices"`
	Deposits []Deposit   `yaml:"deposits"`
	Projects []Project   `yaml:"projects"`
}

// PriceFeed registers a fixed price of one base unit in currency.
type PriceFeed struct {
	ProjectID uint64 `yaml:"projectId"`
	Currency  uint64 `yaml:"currency"`
	Base      uint64 `yaml:"base"`
	Price     Amount `yaml:"price"`
	Decimals  uint8  `yaml:"decimals"`
}

// Deposit credits an account in the token vault.
type Deposit struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Amount  Amount `yaml:"amount"`
}

// Project creates a project and configures its first funding cycle.
type Project struct {
	Owner       string             `yaml:"owner"`
	Terminals   []string           `yaml:"terminals"`
	Cycle       Cycle              `yaml:"cycle"`
	Metadata    CycleMetadata      `yaml:"metadata"`
	Constraints []AccessConstraint `yaml:"constraints"`
	Splits      []SplitGroup       `yaml:"splits"`
}

// Cycle mirrors fundingcycles.Data.
type Cycle struct {
	Duration       uint64 `yaml:"duration"`
	Weight         Amount `yaml:"weight"`
	DiscountRate   uint64 `yaml:"discountRate"`
	BallotDuration uint64 `yaml:"ballotDuration"`
	MustStartAt    uint64 `yaml:"mustStartAt"`
}

// CycleMetadata mirrors fundingcycles.Metadata.
type CycleMetadata struct {
	ReservedRate                   uint64 `yaml:"reservedRate"`
	RedemptionRate                 uint64 `yaml:"redemptionRate"`
	BallotRedemptionRate           uint64 `yaml:"ballotRedemptionRate"`
	PausePay                       bool   `yaml:"pausePay"`
	PauseDistributions             bool   `yaml:"pauseDistributions"`
	PauseRedeem                    bool   `yaml:"pauseRedeem"`
	PauseBurn                      bool   `yaml:"pauseBurn"`
	AllowMinting                   bool   `yaml:"allowMinting"`
	HoldFees                       bool   `yaml:"holdFees"`
	UseTotalOverflowForRedemptions bool   `yaml:"useTotalOverflowForRedemptions"`
	UseDataSourceForPay            bool   `yaml:"useDataSourceForPay"`
	UseDataSourceForRedeem         bool   `yaml:"useDataSourceForRedeem"`
	DataSourceOverridesPayPause    bool   `yaml:"dataSourceOverridesPayPause"`
	DataSource                     string `yaml:"dataSource"`
	BaseCurrency                   uint64 `yaml:"baseCurrency"`
}

// AccessConstraint mirrors fundaccess.Constraint for one terminal and token.
// Empty addresses default to the configured terminal and its token.
type AccessConstraint struct {
	Terminal                  string `yaml:"terminal"`
	Token                     string `yaml:"token"`
	DistributionLimit         Amount `yaml:"distributionLimit"`
	DistributionLimitCurrency uint64 `yaml:"distributionLimitCurrency"`
	OverflowAllowance         Amount `yaml:"overflowAllowance"`
	OverflowAllowanceCurrency uint64 `yaml:"overflowAllowanceCurrency"`
}

// SplitGroup lists the payout splits of one token. An empty token selects the
// configured terminal token.
type SplitGroup struct {
	Token  string  `yaml:"token"`
	Splits []Split `yaml:"splits"`
}

// Split mirrors splits.Split.
type Split struct {
	PreferClaimed      bool   `yaml:"preferClaimed"`
	PreferAddToBalance bool   `yaml:"preferAddToBalance"`
	Percent            uint64 `yaml:"percent"`
	ProjectID          uint64 `yaml:"projectId"`
	Beneficiary        string `yaml:"beneficiary"`
	LockedUntil        uint64 `yaml:"lockedUntil"`
	Allocator          string `yaml:"allocator"`
}

// LoadBootstrap reads project seeds from the YAML file at path.
func LoadBootstrap(path string) (*Bootstrap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bootstrap: %w", err)
	}
	defer file.Close()

	var boot Bootstrap
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&boot); err != nil {
		return nil, fmt.Errorf("decode bootstrap: %w", err)
	}
	if err := boot.Validate(); err != nil {
		return nil, err
	}
	return &boot, nil
}

// Validate checks address fields and required amounts.
func (b *Bootstrap) Validate() error {
	for i, feed := range b.Prices {
		if feed.Price.Int == nil || feed.Price.Sign() == 0 {
			return fmt.Errorf("bootstrap: prices[%d] requires a positive price", i)
		}
		if feed.Currency == feed.Base {
			return fmt.Errorf("bootstrap: prices[%d] currency equals base", i)
		}
	}
	for i, deposit := range b.Deposits {
		if err := requireAddress(fmt.Sprintf("deposits[%d].account", i), deposit.Account, false); err != nil {
			return err
		}
		if err := requireAddress(fmt.Sprintf("deposits[%d].token", i), deposit.Token, true); err != nil {
			return err
		}
		if deposit.Amount.Int == nil {
			return fmt.Errorf("bootstrap: deposits[%d] requires an amount", i)
		}
	}
	for i, project := range b.Projects {
		if err := requireAddress(fmt.Sprintf("projects[%d].owner", i), project.Owner, false); err != nil {
			return err
		}
		for _, terminal := range project.Terminals {
			if err := requireAddress(fmt.Sprintf("projects[%d].terminals", i), terminal, false); err != nil {
				return err
			}
		}
		if err := requireAddress(fmt.Sprintf("projects[%d].metadata.dataSource", i), project.Metadata.DataSource, true); err != nil {
			return err
		}
		for j, constraint := range project.Constraints {
			field := fmt.Sprintf("projects[%d].constraints[%d]", i, j)
			if err := requireAddress(field+".terminal", constraint.Terminal, true); err != nil {
				return err
			}
			if err := requireAddress(field+".token", constraint.Token, true); err != nil {
				return err
			}
		}
		for j, group := range project.Splits {
			field := fmt.Sprintf("projects[%d].splits[%d]", i, j)
			if err := requireAddress(field+".token", group.Token, true); err != nil {
				return err
			}
			for k, split := range group.Splits {
				if err := requireAddress(fmt.Sprintf("%s.splits[%d].beneficiary", field, k), split.Beneficiary, true); err != nil {
					return err
				}
				if err := requireAddress(fmt.Sprintf("%s.splits[%d].allocator", field, k), split.Allocator, true); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
