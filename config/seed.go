package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"starbridge/native/bridge"
)

// Seed declares the chains, tokens, routes and fee configuration applied at
// startup. It plays the role of a genesis document for the registries.
type Seed struct {
	Chains   []SeedChain `yaml:"chains"`
	Tokens   []SeedToken `yaml:"tokens"`
	FeeSplit []SeedSlot  `yaml:"feeSplit"`
}

// SeedChain registers one remote chain.
type SeedChain struct {
	ID       uint64 `yaml:"id"`
	Family   string `yaml:"family"`
	Sender   string `yaml:"sender"`
	Attestor string `yaml:"attestor,omitempty"`
}

// SeedToken registers one local token with its routes and fee policies.
type SeedToken struct {
	Token      string      `yaml:"token"`
	Decimals   uint8       `yaml:"decimals"`
	Mintable   bool        `yaml:"mintable"`
	VaultToken string      `yaml:"vaultToken,omitempty"`
	Routes     []SeedRoute `yaml:"routes,omitempty"`
	Fees       []SeedFee   `yaml:"fees,omitempty"`
}

// SeedRoute maps the token onto one destination chain.
type SeedRoute struct {
	Chain    uint64 `yaml:"chain"`
	Token    string `yaml:"token"`
	Decimals uint8  `yaml:"decimals"`
}

// SeedFee configures the fee policy toward one destination chain.
type SeedFee struct {
	Chain   uint64 `yaml:"chain"`
	RatePPM uint32 `yaml:"ratePpm"`
	Floor   string `yaml:"floor,omitempty"`
}

// SeedSlot configures one fee split recipient.
type SeedSlot struct {
	Receiver string `yaml:"receiver,omitempty"`
	RatePPM  uint32 `yaml:"ratePpm"`
}

// LoadSeed reads and validates a registry seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed := &Seed{}
	if err := yaml.Unmarshal(raw, seed); err != nil {
		return nil, fmt.Errorf("config: malformed registry seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return seed, nil
}

// Validate applies the same bounds the engine enforces on its admin paths so
// a bad seed fails at startup rather than at first settlement.
func (s *Seed) Validate() error {
	if len(s.FeeSplit) > bridge.FeeSplitSlots {
		return fmt.Errorf("config: at most %d fee split slots", bridge.FeeSplitSlots)
	}
	var sum uint64
	for _, slot := range s.FeeSplit {
		sum += uint64(slot.RatePPM)
	}
	if sum > bridge.FeeRateDenominator {
		return fmt.Errorf("config: fee split rates sum to %d ppm, above %d", sum, bridge.FeeRateDenominator)
	}
	for _, chain := range s.Chains {
		if _, err := bridge.ParseFamily(chain.Family); err != nil {
			return err
		}
		if _, err := hex.DecodeString(chain.Sender); err != nil {
			return fmt.Errorf("config: chain %d sender: %w", chain.ID, err)
		}
	}
	for _, token := range s.Tokens {
		if _, err := hex.DecodeString(token.Token); err != nil {
			return fmt.Errorf("config: token %q: %w", token.Token, err)
		}
		for _, fee := range token.Fees {
			if fee.RatePPM > bridge.FeeRateDenominator {
				return fmt.Errorf("config: token %q fee rate %d above denominator", token.Token, fee.RatePPM)
			}
			if fee.Floor != "" {
				if _, ok := new(big.Int).SetString(fee.Floor, 10); !ok {
					return fmt.Errorf("config: token %q fee floor %q not a decimal", token.Token, fee.Floor)
				}
			}
		}
	}
	return nil
}

// Apply seeds the engine's registries and fee split through its admin entry
// points, acting as the configured owner.
func (s *Seed) Apply(e *bridge.Engine, owner []byte) error {
	for _, chain := range s.Chains {
		family, err := bridge.ParseFamily(chain.Family)
		if err != nil {
			return err
		}
		sender, err := hex.DecodeString(chain.Sender)
		if err != nil {
			return err
		}
		if err := e.RegisterChain(owner, bridge.ChainID(chain.ID), sender, family); err != nil {
			return err
		}
	}
	for _, token := range s.Tokens {
		encoded, err := hex.DecodeString(token.Token)
		if err != nil {
			return err
		}
		var vaultToken []byte
		if token.VaultToken != "" {
			if vaultToken, err = hex.DecodeString(token.VaultToken); err != nil {
				return err
			}
		}
		if err := e.RegisterToken(owner, encoded, token.Decimals, token.Mintable, vaultToken); err != nil {
			return err
		}
		for _, route := range token.Routes {
			remote, err := hex.DecodeString(route.Token)
			if err != nil {
				return err
			}
			if err := e.RegisterRoute(owner, encoded, bridge.ChainID(route.Chain), remote, route.Decimals); err != nil {
				return err
			}
		}
		for _, fee := range token.Fees {
			var floor *big.Int
			if fee.Floor != "" {
				floor, _ = new(big.Int).SetString(fee.Floor, 10)
			}
			if err := e.SetFeePolicy(owner, encoded, bridge.ChainID(fee.Chain), fee.RatePPM, floor); err != nil {
				return err
			}
		}
	}
	if len(s.FeeSplit) > 0 {
		var split [bridge.FeeSplitSlots]bridge.FeeSlot
		for i, slot := range s.FeeSplit {
			var receiver []byte
			if slot.Receiver != "" {
				decoded, err := hex.DecodeString(slot.Receiver)
				if err != nil {
					return err
				}
				receiver = decoded
			}
			split[i] = bridge.FeeSlot{Receiver: receiver, RatePPM: slot.RatePPM}
		}
		if err := e.SetFeeSplit(owner, split); err != nil {
			return err
		}
	}
	return nil
}
