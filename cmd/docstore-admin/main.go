package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dd0wney/cluso-docstore/pkg/auth"
	"github.com/dd0wney/cluso-docstore/pkg/config"
	"github.com/dd0wney/cluso-docstore/pkg/encryption"
	"github.com/dd0wney/cluso-docstore/pkg/logging"
	"github.com/dd0wney/cluso-docstore/pkg/rotation"
	"github.com/dd0wney/cluso-docstore/pkg/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "status":
		err = runStatus(os.Args[2:])
	case "rotate":
		err = runRotate(os.Args[2:])
	case "recover":
		err = runRecover(os.Args[2:])
	case "reset":
		err = runReset(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "docstore-admin: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	usage := `Docstore Admin CLI - key rotation management

The server must be stopped before running rotate, recover, or reset:
these commands open the data directory directly.

Usage:
  docstore-admin <command> [options]

Available Commands:
  status      Show the persisted rotation state and progress
  rotate      Generate a new key and re-encrypt every document under it
  recover     Resume an interrupted rotation or replay finalization
  reset       Clear a failed rotation back to idle
  token       Issue an API token for the HTTP admin endpoints
  help        Show this help message

Common Flags:
  -config PATH   Path to config file (default: docstore.yaml)

Examples:
  docstore-admin status -config /etc/docstore.yaml
  docstore-admin rotate
  docstore-admin recover
  docstore-admin token -subject alice -role admin
`
	fmt.Print(usage)
}

// stack holds the components opened against the data directory.
type stack struct {
	cfg     *config.Config
	keys    *encryption.Keyring
	store   *storage.DocumentStore
	rotator *rotation.Rotator
}

func openStack(configPath string) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	passphrase, err := cfg.Passphrase()
	if err != nil {
		return nil, err
	}

	salt, err := encryption.LoadOrCreateSalt(cfg.KeyDir)
	if err != nil {
		return nil, err
	}

	keys, err := encryption.NewKeyring(encryption.KeyringConfig{
		KeyDir:    cfg.KeyDir,
		MasterKey: encryption.DeriveMasterKey(passphrase, salt),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	store, err := storage.NewDocumentStore(filepath.Join(cfg.DataDir, "docs"))
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	rotator, err := rotation.NewRotator(filepath.Join(cfg.DataDir, "rotation"), store, keys, rotation.Options{
		BatchSize: cfg.BatchSize,
		Logger:    logging.NewJSONLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel)),
	})
	if err != nil {
		store.Close()
		keys.Close()
		return nil, err
	}

	return &stack{cfg: cfg, keys: keys, store: store, rotator: rotator}, nil
}

func (s *stack) close() {
	s.store.Close()
	s.keys.Close()
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "docstore.yaml", "Path to config file")
	fs.Parse(args)

	s, err := openStack(*configPath)
	if err != nil {
		return err
	}
	defer s.close()

	status, err := s.rotator.Status()
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runRotate(args []string) error {
	fs := flag.NewFlagSet("rotate", flag.ExitOnError)
	configPath := fs.String("config", "docstore.yaml", "Path to config file")
	targetID := fs.Uint("key", 0, "Pending key id to rotate to (0 generates a new key)")
	fs.Parse(args)

	s, err := openStack(*configPath)
	if err != nil {
		return err
	}
	defer s.close()

	target := uint32(*targetID)
	if target == 0 {
		target, err = s.keys.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Printf("Generated pending key %d\n", target)
	}

	rotationID, err := s.rotator.RotateKey(target)
	if err != nil {
		return err
	}

	fmt.Printf("Rotation %s complete: all documents re-encrypted under key %d\n", rotationID, target)
	return nil
}

func runRecover(args []string) error {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	configPath := fs.String("config", "docstore.yaml", "Path to config file")
	fs.Parse(args)

	s, err := openStack(*configPath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.rotator.Recover(); err != nil {
		var fatal *rotation.FatalStateError
		if errors.As(err, &fatal) {
			return fmt.Errorf("%s: run 'docstore-admin reset' to clear it", fatal.Error())
		}
		return err
	}

	status, err := s.rotator.Status()
	if err != nil {
		return err
	}
	fmt.Printf("Recovery complete, state: %s\n", status.State)
	return nil
}

func runReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configPath := fs.String("config", "docstore.yaml", "Path to config file")
	fs.Parse(args)

	s, err := openStack(*configPath)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.rotator.Reset(); err != nil {
		return err
	}

	fmt.Println("Failed rotation cleared, state: idle")
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "docstore.yaml", "Path to config file")
	subject := fs.String("subject", "", "Token subject (required)")
	role := fs.String("role", auth.RoleViewer, "Token role: admin or viewer")
	duration := fs.Duration("duration", 0, "Token lifetime (default: config token_duration)")
	fs.Parse(args)

	if *subject == "" {
		return errors.New("-subject is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	lifetime := *duration
	if lifetime == 0 {
		lifetime = cfg.TokenDuration.Std()
	}

	manager, err := auth.NewJWTManager(cfg.AuthSecret, lifetime)
	if err != nil {
		return err
	}

	token, err := manager.GenerateToken(*subject, *role)
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "Expires: %s\n", time.Now().Add(lifetime).Format(time.RFC3339))
	return nil
}
