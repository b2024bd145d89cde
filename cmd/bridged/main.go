package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"starbridge/config"
	"starbridge/gateway"
	"starbridge/native/bank"
	"starbridge/native/bridge"
	"starbridge/native/proof"
	"starbridge/native/registry"
	"starbridge/native/vault"
	"starbridge/observability/logging"
	"starbridge/observability/metrics"
	"starbridge/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("bridged", cfg.Environment, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	self, err := decodeIdentity(cfg.ServiceIdentity)
	if err != nil {
		logger.Error("Invalid service identity", slog.Any("error", err))
		os.Exit(1)
	}

	engine := bridge.NewEngine(bridge.ChainID(cfg.ChainID), bridge.ChainID(cfg.RelayChainID), self)
	engine.SetLedger(bridge.NewOrderLedger(db))
	engine.SetTokenRegistry(registry.NewTokenRegistry())
	engine.SetChainRegistry(registry.NewChainRegistry())

	var wrappedNative []byte
	if strings.TrimSpace(cfg.WrappedNative) != "" {
		if wrappedNative, err = decodeIdentity(cfg.WrappedNative); err != nil {
			logger.Error("Invalid wrapped native token", slog.Any("error", err))
			os.Exit(1)
		}
		engine.SetWrappedNative(wrappedNative)
	}
	engine.SetCustody(bank.New(self, wrappedNative))

	verifier := proof.NewAttestedVerifier()
	engine.SetVerifier(verifier)

	if engine.IsRelay() {
		engine.SetVaults(vault.NewRegistry())
	}

	if strings.TrimSpace(cfg.RegistrySeed) != "" {
		seed, err := config.LoadSeed(cfg.RegistrySeed)
		if err != nil {
			logger.Error("Failed to load registry seed", slog.Any("error", err))
			os.Exit(1)
		}
		if err := seed.Apply(engine, self); err != nil {
			logger.Error("Failed to apply registry seed", slog.Any("error", err))
			os.Exit(1)
		}
		for _, chain := range seed.Chains {
			if strings.TrimSpace(chain.Attestor) == "" {
				continue
			}
			attestor, err := decodeIdentity(chain.Attestor)
			if err != nil || len(attestor) != ethcommon.AddressLength {
				logger.Error("Invalid attestor address", slog.Uint64("chain", chain.ID))
				os.Exit(1)
			}
			verifier.SetAttestor(bridge.ChainID(chain.ID), ethcommon.BytesToAddress(attestor))
		}
	}

	srv := gateway.New(gateway.Config{
		Engine:  engine,
		Metrics: metrics.New(),
		Logger:  logger,
	})

	role := "spoke"
	if engine.IsRelay() {
		role = "relay"
	}
	logger.Info("bridged listening",
		slog.String("address", cfg.ListenAddress),
		slog.Uint64("chain", cfg.ChainID),
		slog.String("role", role),
	)
	if err := http.ListenAndServe(cfg.ListenAddress, srv.Handler()); err != nil {
		logger.Error("HTTP server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func decodeIdentity(value string) ([]byte, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("empty identity")
	}
	return decoded, nil
}
