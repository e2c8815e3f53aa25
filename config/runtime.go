package config

import (
	"fmt"
	"math/big"
	"strings"

	"p2pmarket/native/bank"
	"p2pmarket/native/common"
	"p2pmarket/native/market"
)

// MarketRuntime is the decoded form of the Market section.
type MarketRuntime struct {
	Vault          [20]byte
	CommissionRate *big.Int
	Pairs          *market.StaticPairs
	Roles          market.RoleSet
	Aliases        map[string][20]byte
}

// MarketRuntime decodes addresses, the commission rate, pairs and roles.
func (c *Config) MarketRuntime() (MarketRuntime, error) {
	var rt MarketRuntime
	if strings.TrimSpace(c.Market.Vault) == "" {
		return rt, fmt.Errorf("market: Vault is required")
	}
	vault, err := parseAccount("market.Vault", c.Market.Vault)
	if err != nil {
		return rt, err
	}
	rt.Vault = vault

	rate, err := parseAmount("market.CommissionRate", c.Market.CommissionRate)
	if err != nil {
		return rt, err
	}
	if rate == nil {
		rate = big.NewInt(0)
	}
	rt.CommissionRate = rate

	pairs, err := market.NewStaticPairs(c.Market.Pairs)
	if err != nil {
		return rt, fmt.Errorf("market.Pairs: %w", err)
	}
	rt.Pairs = pairs

	rt.Roles = market.RoleSet{}
	for i, admin := range c.Market.Admins {
		addr, err := parseAccount(fmt.Sprintf("market.Admins[%d].Address", i), admin.Address)
		if err != nil {
			return rt, err
		}
		roles, err := market.ParseRoles(admin.Roles)
		if err != nil {
			return rt, fmt.Errorf("market.Admins[%d]: %w", i, err)
		}
		rt.Roles.Grant(addr, roles)
	}

	rt.Aliases = make(map[string][20]byte, len(c.Market.Aliases))
	for alias, value := range c.Market.Aliases {
		addr, err := parseAccount("market.Aliases."+alias, value)
		if err != nil {
			return rt, err
		}
		rt.Aliases[alias] = addr
	}
	return rt, nil
}

// BankRuntime decodes the Bank section into the custody ledger config.
func (c *Config) BankRuntime() (bank.Config, error) {
	var out bank.Config
	if strings.TrimSpace(c.Bank.Treasury) != "" {
		treasury, err := parseAccount("bank.Treasury", c.Bank.Treasury)
		if err != nil {
			return out, err
		}
		out.Treasury = treasury
	}
	out.FeeBps = make(map[string]uint32, len(c.Bank.FeeBps))
	for asset, bps := range c.Bank.FeeBps {
		if bps > 10_000 {
			return out, fmt.Errorf("bank.FeeBps.%s: %d exceeds 10000", asset, bps)
		}
		out.FeeBps[strings.ToUpper(strings.TrimSpace(asset))] = bps
	}
	maxDebit, err := parseAmount("bank.MaxDebit", c.Bank.MaxDebit)
	if err != nil {
		return out, err
	}
	out.MaxDebit = maxDebit
	maxValue, err := parseAmount("bank.QuotaMaxValue", c.Bank.QuotaMaxValue)
	if err != nil {
		return out, err
	}
	out.Quota = common.Quota{
		MaxCountPerEpoch: c.Bank.QuotaMaxCount,
		MaxValuePerEpoch: maxValue,
		EpochSeconds:     c.Bank.QuotaEpochSeconds,
	}
	for i, value := range c.Bank.Blocked {
		addr, err := parseAccount(fmt.Sprintf("bank.Blocked[%d]", i), value)
		if err != nil {
			return out, err
		}
		out.Blocked = append(out.Blocked, addr)
	}
	return out, nil
}
