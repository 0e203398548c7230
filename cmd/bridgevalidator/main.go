package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainsafe/l0l1-bridge-validator/pkg/app/httpserver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/chaina"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/config"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/coordinator"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/ethereum"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/gossip"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/keys"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/pgutil"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/relay"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/resolver"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/signing"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/statushttp"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/store"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/watcher"
	"go.uber.org/zap"
)

// Exit codes per spec.md §6: 0 success, 1 configuration error, 2 runtime
// fatal.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeFatal = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitConfigError)
	}

	verb := os.Args[1]
	args := os.Args[2:]

	var err error
	switch verb {
	case "start":
		err = runStart(args)
	case "generate-key":
		err = runGenerateKey(args)
	case "check-config":
		err = runCheckConfig(args)
	case "status":
		err = runStatusQuery(args, "/status")
	case "stats":
		err = runStatusQuery(args, "/stats")
	default:
		usage()
		os.Exit(exitConfigError)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(*configError); ok {
			os.Exit(exitConfigError)
		}
		os.Exit(exitRuntimeFatal)
	}
	os.Exit(exitOK)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: bridgevalidator <start|generate-key|check-config|status|stats> [flags]")
}

// configError marks a failure diagnosed before any runtime component
// started, mapping to exit code 1 rather than 2.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", "config.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, &configError{err}
	}
	cfg, err := config.Load(*path)
	if err != nil {
		return nil, &configError{err}
	}
	return cfg, nil
}

func runCheckConfig(args []string) error {
	fs := flag.NewFlagSet("check-config", flag.ContinueOnError)
	if _, err := loadConfig(fs, args); err != nil {
		return err
	}
	fmt.Println("config OK")
	return nil
}

func runGenerateKey(args []string) error {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	masterKeyB64 := fs.String("master-key", "", "base64 master key to encrypt the generated keys with; generated and printed if omitted")
	if err := fs.Parse(args); err != nil {
		return &configError{err}
	}

	material, err := keys.GenerateValidatorKeyMaterial()
	if err != nil {
		return err
	}

	masterKey, err := resolveMasterKey(*masterKeyB64)
	if err != nil {
		return err
	}

	secpEnc, err := keys.EncryptPrivateKey(material.Secp256k1Key, masterKey)
	if err != nil {
		return fmt.Errorf("encrypt secp256k1 key: %w", err)
	}
	seedEnc, err := keys.EncryptPrivateKey(material.Ed25519Seed, masterKey)
	if err != nil {
		return fmt.Errorf("encrypt ed25519 seed: %w", err)
	}

	if *masterKeyB64 == "" {
		fmt.Printf("master_key: %s\n", keys.MasterKeyToBase64(masterKey))
	}
	fmt.Printf("secp256k1_key_plain: %s\n", material.Secp256k1KeyHex())
	fmt.Printf("ed25519_seed_plain:  %s\n", material.Ed25519SeedBase64())
	fmt.Printf("secp256k1_key_encrypted: %s\n", secpEnc)
	fmt.Printf("ed25519_seed_encrypted:  %s\n", seedEnc)
	fmt.Println("store the *_plain values in validator.secp256k1_key/validator.ed25519_seed (or the BRIDGE_VALIDATOR_* env vars); the encrypted values and master key are for cold storage.")
	return nil
}

func resolveMasterKey(b64 string) ([]byte, error) {
	if b64 == "" {
		return keys.GenerateMasterKey()
	}
	return keys.MasterKeyFromBase64(b64)
}

func runStatusQuery(args []string, route string) error {
	fs := flag.NewFlagSet(route, flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d%s", cfg.StatusHTTP.Port, route)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, body)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return &configError{fmt.Errorf("init logger: %w", err)}
	}
	defer logger.Sync()

	logger.Info("starting bridge validator node")

	ed25519Seed, err := decodeEd25519Seed(cfg.Validator.Ed25519Seed)
	if err != nil {
		return &configError{err}
	}

	signingEngine, err := signing.New(cfg.Validator.Secp256k1Key, ed25519Seed, cfg.ChainB.ChainID)
	if err != nil {
		return &configError{fmt.Errorf("init signing engine: %w", err)}
	}
	if !signingEngine.HasChainAKey() {
		logger.Warn("no chain A (ed25519) key configured; chain A-destination relay is disabled")
	}

	db, err := pgutil.ConnectDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	st := store.New(db, logger)

	chainAClient := chaina.New(&cfg.ChainA)
	chainBClient, err := ethereum.New(&cfg.ChainB, cfg.Validator.Secp256k1Key, logger)
	if err != nil {
		return fmt.Errorf("init chain B client: %w", err)
	}
	defer chainBClient.Close()

	res := resolver.New(chainBClient, chainAClient, cfg.ChainA.BridgeAddress)
	relayEngine := relay.New(chainBClient, chainAClient, signingEngine, res, cfg.Bridge, cfg.ChainA, logger)

	overlaySelfID := signingEngine.ChainBValidatorID()
	overlay, err := gossip.New(cfg.Overlay, overlaySelfID, logger)
	if err != nil {
		return fmt.Errorf("init gossip overlay: %w", err)
	}

	coord := coordinator.New(st, res, signingEngine, relayEngine, overlay, chainBClient, chainAClient, cfg.Bridge, cfg.ChainA.BridgeAddress, logger)

	chainAWatcher := watcher.NewChainAWatcher(chainAClient, cfg.ChainA, st, coord, logger)
	chainBWatcher := watcher.NewChainBWatcher(chainBClient, cfg.ChainB, st, coord, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	defer coord.Stop()

	go func() {
		if err := chainAWatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("chain A watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := chainBWatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("chain B watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := overlay.Start(ctx, coord); err != nil && ctx.Err() == nil {
			logger.Error("gossip overlay stopped", zap.Error(err))
		}
	}()

	if cfg.StatusHTTP.Enabled {
		handler := statushttp.New(st, coord, chainAWatcher, chainBWatcher, logger)
		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.StatusHTTP.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		if err := httpserver.ServeAndWait(ctx, logger, srv, 30*time.Second); err != nil {
			logger.Error("status http server stopped", zap.Error(err))
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("bridge validator node stopped")
	return nil
}

func decodeEd25519Seed(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	seed, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode validator.ed25519_seed: %w", err)
	}
	return seed, nil
}
