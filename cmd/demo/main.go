package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lowlevelkv/kvengine/kv"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "kvengine-demo",
		Short: "Walks through the embedded key-value store end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(dataDir, verbose)
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", filepath.Join(os.TempDir(), "kvengine-demo"), "directory to hold the demo database files")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	return cmd
}

func runDemo(dataDir string, verbose bool) error {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	log, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "primary")

	fmt.Println("=== kvengine demo ===")
	fmt.Printf("data dir: %s\n\n", dataDir)

	opts := kv.DefaultOptions(dbPath)
	db, err := kv.Load(opts, log)
	if err != nil {
		return fmt.Errorf("load database: %w", err)
	}
	fmt.Printf("opened database (session %s)\n\n", db.SessionID())

	fmt.Println("[writing data]")
	testData := map[string]string{
		"user:1001":    `{"name": "Alice", "age": 30, "city": "NYC"}`,
		"user:1002":    `{"name": "Bob", "age": 25, "city": "SF"}`,
		"session:2001": `{"user_id": 1001, "expires": "2026-12-31"}`,
		"config:app":   `{"version": "1.0", "debug": false}`,
	}
	for key, value := range testData {
		if err := db.Set([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		fmt.Printf("  SET %s\n", key)
	}

	fmt.Println("\n[reading data]")
	for key := range testData {
		value, err := db.Get([]byte(key))
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		fmt.Printf("  GET %s -> %s\n", key, truncate(string(value), 48))
	}

	fmt.Println("\n[updating data in place]")
	if err := db.Set([]byte("config:app"), []byte(`{"version": "2.0", "debug": true}`)); err != nil {
		return fmt.Errorf("update config:app: %w", err)
	}
	updated, err := db.Get([]byte("config:app"))
	if err != nil {
		return fmt.Errorf("get config:app: %w", err)
	}
	fmt.Printf("  GET config:app -> %s\n", updated)

	fmt.Println("\n[deleting data]")
	if err := db.Delete([]byte("session:2001")); err != nil {
		return fmt.Errorf("delete session:2001: %w", err)
	}
	fmt.Println("  DELETE session:2001")
	if _, err := db.Get([]byte("session:2001")); err != nil {
		fmt.Println("  GET session:2001 -> key not found (as expected)")
	}

	fmt.Println("\n[reserved namespace is off limits]")
	if err := db.Set([]byte("toykv-next-page-id"), []byte("9999")); err != nil {
		fmt.Printf("  SET toykv-next-page-id -> rejected: %v\n", err)
	}

	stats := db.Stats()
	fmt.Println("\n[stats]")
	fmt.Printf("  writes: %d, reads: %d\n", stats.WriteCount, stats.ReadCount)

	if err := db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	fmt.Println("\ndatabase closed")

	fmt.Println("\n[reopening to exercise recovery]")
	db2, err := kv.Load(opts, log)
	if err != nil {
		return fmt.Errorf("reload database: %w", err)
	}
	defer db2.Close()
	value, err := db2.Get([]byte("user:1001"))
	if err != nil {
		return fmt.Errorf("get user:1001 after reopen: %w", err)
	}
	fmt.Printf("  GET user:1001 -> %s (recovered)\n", truncate(string(value), 48))

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
