// Package ledgerd hosts a payment terminal over persistent state and exposes
// it through an HTTP API.
package ledgerd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"projectledger/config"
	"projectledger/core/events"
	"projectledger/core/state"
	"projectledger/native/directory"
	"projectledger/native/fees"
	"projectledger/native/fundaccess"
	"projectledger/native/fundingcycles"
	"projectledger/native/operators"
	"projectledger/native/prices"
	"projectledger/native/splits"
	"projectledger/native/terminal"
	"projectledger/native/tokens"
	"projectledger/native/vault"
)

// NodeConfig carries the dependencies of a Node.
type NodeConfig struct {
	State    *state.Manager
	Terminal config.TerminalConfig
	Emitter  events.Emitter
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Node owns the collaborators of one terminal deployment. All writes go
// through the terminal executor so HTTP requests, bootstrap and delegates are
// serialised against the same state.
type Node struct {
	State     *state.Manager
	Cycles    *fundingcycles.Store
	Access    *fundaccess.Store
	Prices    *prices.Oracle
	Directory *directory.Directory
	Operators *operators.Store
	Splits    *splits.Store
	Tokens    *tokens.Controller
	Vault     *vault.Vault
	Registry  *terminal.Registry
	Ledger    *terminal.Ledger
	Executor  *terminal.Executor
	Terminal  *terminal.Terminal
	Gauge     *fees.StaticGauge

	settings config.TerminalConfig
	logger   *slog.Logger
}

// NewNode wires the collaborators and the terminal described by cfg.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.State == nil {
		return nil, errors.New("ledgerd: state manager required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n := &Node{State: cfg.State, settings: cfg.Terminal, logger: logger}
	n.Cycles = fundingcycles.NewStore(cfg.State)
	n.Access = fundaccess.NewStore(cfg.State)
	n.Prices = prices.NewOracle(cfg.State)
	n.Directory = directory.New(cfg.State)
	n.Operators = operators.NewStore(cfg.State)
	n.Splits = splits.NewStore(cfg.State)
	if cfg.Clock != nil {
		n.Cycles.SetClock(cfg.Clock)
		n.Splits.SetClock(cfg.Clock)
	}
	n.Tokens = tokens.NewController(cfg.State, n.Cycles, n.Directory)
	n.Vault = vault.New(cfg.State)
	n.Registry = terminal.NewRegistry()
	n.Directory.SetTokenView(n.Registry)
	n.Ledger = terminal.NewLedger(cfg.State, terminal.LedgerDeps{
		Cycles:     n.Cycles,
		Access:     n.Access,
		Prices:     n.Prices,
		Directory:  n.Directory,
		Controller: n.Tokens,
		Registry:   n.Registry,
	})
	n.Executor = terminal.NewExecutor(cfg.State, cfg.Emitter, logger)

	info := terminal.TerminalInfo{
		Address:  config.Address(cfg.Terminal.Address),
		Token:    config.Address(cfg.Terminal.Token),
		Decimals: cfg.Terminal.Decimals,
		Currency: cfg.Terminal.Currency,
	}
	term, err := terminal.New(info, config.Address(cfg.Terminal.Owner), terminal.Deps{
		Executor:    n.Executor,
		Ledger:      n.Ledger,
		Cycles:      n.Cycles,
		Directory:   n.Directory,
		Controller:  n.Tokens,
		Splits:      n.Splits,
		Vault:       n.Vault,
		Permissions: n.Operators,
		Registry:    n.Registry,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	n.Terminal = term

	if gauge := config.Address(cfg.Terminal.FeeGauge); gauge != (common.Address{}) {
		n.Gauge = fees.NewStaticGauge(cfg.Terminal.FeeGaugeDefault, cfg.Terminal.FeeDiscounts)
		n.Registry.Register(gauge, n.Gauge)
	}
	return n, nil
}

// ApplySettings reconciles the stored fee rate, fee gauge and feeless
// addresses with the configuration, acting as the terminal owner. Settings
// already in place are left untouched so no event is emitted on restart.
func (n *Node) ApplySettings(ctx context.Context) error {
	owner := n.Terminal.Owner()
	fee, err := n.Terminal.Fee(ctx)
	if err != nil {
		return err
	}
	if fee != n.settings.Fee {
		if err := n.Terminal.SetFee(ctx, owner, n.settings.Fee); err != nil {
			return fmt.Errorf("ledgerd: set fee: %w", err)
		}
	}
	gauge, err := n.Terminal.FeeGauge(ctx)
	if err != nil {
		return err
	}
	if desired := config.Address(n.settings.FeeGauge); gauge != desired {
		if err := n.Terminal.SetFeeGauge(ctx, owner, desired); err != nil {
			return fmt.Errorf("ledgerd: set fee gauge: %w", err)
		}
	}
	for _, raw := range n.settings.FeelessAddresses {
		addr := config.Address(raw)
		feeless, err := n.Terminal.IsFeelessAddress(ctx, addr)
		if err != nil {
			return err
		}
		if feeless {
			continue
		}
		if err := n.Terminal.SetFeelessAddress(ctx, owner, addr, true); err != nil {
			return fmt.Errorf("ledgerd: set feeless %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

// ApplyBootstrap seeds an empty ledger. The first project created becomes the
// fee beneficiary project. It reports false without changes when projects
// already exist.
func (n *Node) ApplyBootstrap(ctx context.Context, boot *config.Bootstrap) (bool, error) {
	if boot == nil {
		return false, nil
	}
	applied := false
	err := n.Executor.Execute(ctx, "bootstrap", func(ctx context.Context) error {
		count, err := n.Directory.Count()
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		for i, feed := range boot.Prices {
			if err := n.Prices.AddFeedFor(feed.ProjectID, feed.Currency, feed.Base, prices.FixedFeed{Price: feed.Price.Value(), Decimals: feed.Decimals}); err != nil {
				return fmt.Errorf("prices[%d]: %w", i, err)
			}
		}
		for i, deposit := range boot.Deposits {
			if err := n.Vault.Deposit(config.Address(deposit.Account), n.tokenOr(deposit.Token), deposit.Amount.Value()); err != nil {
				return fmt.Errorf("deposits[%d]: %w", i, err)
			}
		}
		for i, project := range boot.Projects {
			if err := n.createProject(project); err != nil {
				return fmt.Errorf("projects[%d]: %w", i, err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ledgerd: bootstrap: %w", err)
	}
	if applied {
		n.logger.Info("ledger bootstrapped",
			slog.Int("projects", len(boot.Projects)),
			slog.Int("prices", len(boot.Prices)),
			slog.Int("deposits", len(boot.Deposits)))
	}
	return applied, nil
}

func (n *Node) createProject(project config.Project) error {
	id, err := n.Directory.CreateFor(config.Address(project.Owner))
	if err != nil {
		return err
	}
	terminals := []common.Address{n.Terminal.Info().Address}
	if len(project.Terminals) > 0 {
		terminals = terminals[:0]
		for _, raw := range project.Terminals {
			terminals = append(terminals, config.Address(raw))
		}
	}
	if err := n.Directory.SetTerminalsOf(id, terminals); err != nil {
		return err
	}

	weight := project.Cycle.Weight.Value()
	if weight == nil {
		weight = new(big.Int)
	}
	data := fundingcycles.Data{
		Duration:       project.Cycle.Duration,
		Weight:         weight,
		DiscountRate:   project.Cycle.DiscountRate,
		BallotDuration: project.Cycle.BallotDuration,
	}
	md := project.Metadata
	metadata := fundingcycles.Metadata{
		ReservedRate:                   md.ReservedRate,
		RedemptionRate:                 md.RedemptionRate,
		BallotRedemptionRate:           md.BallotRedemptionRate,
		PausePay:                       md.PausePay,
		PauseDistributions:             md.PauseDistributions,
		PauseRedeem:                    md.PauseRedeem,
		PauseBurn:                      md.PauseBurn,
		AllowMinting:                   md.AllowMinting,
		HoldFees:                       md.HoldFees,
		UseTotalOverflowForRedemptions: md.UseTotalOverflowForRedemptions,
		UseDataSourceForPay:            md.UseDataSourceForPay,
		UseDataSourceForRedeem:         md.UseDataSourceForRedeem,
		DataSourceOverridesPayPause:    md.DataSourceOverridesPayPause,
		DataSource:                     config.Address(md.DataSource),
		BaseCurrency:                   md.BaseCurrency,
	}
	cycle, err := n.Cycles.Configure(id, data, metadata, project.Cycle.MustStartAt)
	if err != nil {
		return err
	}

	for _, c := range project.Constraints {
		termAddr := n.Terminal.Info().Address
		if strings.TrimSpace(c.Terminal) != "" {
			termAddr = config.Address(c.Terminal)
		}
		constraint := fundaccess.Constraint{
			DistributionLimit:         c.DistributionLimit.Value(),
			DistributionLimitCurrency: c.DistributionLimitCurrency,
			OverflowAllowance:         c.OverflowAllowance.Value(),
			OverflowAllowanceCurrency: c.OverflowAllowanceCurrency,
		}
		if err := n.Access.SetFor(id, cycle.Configuration, termAddr, n.tokenOr(c.Token), constraint); err != nil {
			return err
		}
	}

	for _, group := range project.Splits {
		entries := make([]splits.Split, 0, len(group.Splits))
		for _, s := range group.Splits {
			entries = append(entries, splits.Split{
				PreferClaimed:      s.PreferClaimed,
				PreferAddToBalance: s.PreferAddToBalance,
				Percent:            s.Percent,
				ProjectID:          s.ProjectID,
				Beneficiary:        config.Address(s.Beneficiary),
				LockedUntil:        s.LockedUntil,
				Allocator:          config.Address(s.Allocator),
			})
		}
		if err := n.Splits.Set(id, cycle.Configuration, splits.GroupForToken(n.tokenOr(group.Token)), entries); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) tokenOr(raw string) common.Address {
	if strings.TrimSpace(raw) == "" {
		return n.Terminal.Info().Token
	}
	return config.Address(raw)
}

// Deposit credits account in the token vault.
func (n *Node) Deposit(ctx context.Context, account, token common.Address, amount *big.Int) error {
	return n.Executor.Execute(ctx, "deposit", func(context.Context) error {
		return n.Vault.Deposit(account, token, amount)
	})
}

// VaultBalanceOf returns the vault balance of account.
func (n *Node) VaultBalanceOf(ctx context.Context, account, token common.Address) (*big.Int, error) {
	var balance *big.Int
	err := n.Executor.View(ctx, func() error {
		var err error
		balance, err = n.Vault.BalanceOf(account, token)
		return err
	})
	return balance, err
}

// TokenBalanceOf returns the project token balance of holder.
func (n *Node) TokenBalanceOf(ctx context.Context, holder common.Address, projectID uint64) (*big.Int, error) {
	var balance *big.Int
	err := n.Executor.View(ctx, func() error {
		var err error
		balance, err = n.Tokens.BalanceOf(holder, projectID)
		return err
	})
	return balance, err
}

// CurrentFundingCycleOf returns the active funding cycle of a project.
func (n *Node) CurrentFundingCycleOf(ctx context.Context, projectID uint64) (*fundingcycles.FundingCycle, error) {
	var cycle *fundingcycles.FundingCycle
	err := n.Executor.View(ctx, func() error {
		var err error
		cycle, err = n.Cycles.CurrentOf(projectID)
		return err
	})
	return cycle, err
}
