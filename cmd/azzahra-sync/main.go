package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/config"
	"github.com/aimastermebjm-byte/azzahra-sync/internal/gateway"
)

var rootCmd = &cobra.Command{
	Use:   "azzahra-sync",
	Short: "azzahra-sync - payment notification detection and forwarding gateway",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway (channels + pipeline + scheduled jobs)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize the config file",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show azzahra-sync status",
	RunE:  runStatus,
}

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Post a test event to the local webhook",
	RunE:  runEmit,
}

var (
	emitSource string
	emitTitle  string
	emitBody   string
)

func init() {
	emitCmd.Flags().StringVarP(&emitSource, "source", "s", "", "Source id (defaults to the diagnostic source)")
	emitCmd.Flags().StringVarP(&emitTitle, "title", "t", "test", "Event title")
	emitCmd.Flags().StringVarP(&emitBody, "body", "b", "", "Event body")
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd, emitCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Firestore.ProjectID == "" {
		return fmt.Errorf("firestore project not set. Run 'azzahra-sync onboard' or set AZZAHRA_FIRESTORE_PROJECT")
	}
	if cfg.Session.OwnerID == "" {
		return fmt.Errorf("session owner not set. Set session.ownerId or AZZAHRA_OWNER_ID")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s: set firestore.projectId and session.ownerId\n", cfgPath)
	fmt.Println("  2. Add watched source ids under watch.sources")
	fmt.Println("  3. Run 'azzahra-sync run' to start the gateway")
	fmt.Println("  4. Run 'azzahra-sync emit' to verify the pipeline end to end")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Firestore project: %s\n", orUnset(cfg.Firestore.ProjectID))
	fmt.Printf("Collection: %s\n", cfg.Firestore.Collection)
	fmt.Printf("Session owner: %s\n", orUnset(cfg.Session.OwnerID))
	fmt.Printf("Watched sources: %d configured\n", len(cfg.Watch.Sources))
	if cfg.Watch.File != "" {
		fmt.Printf("Watch file: %s\n", cfg.Watch.File)
	}
	fmt.Printf("Keywords: %v\n", cfg.Detect.Keywords)
	fmt.Printf("Dedup window: %s, noise modulus: %d\n", cfg.Detect.DedupWindow, cfg.Detect.NoiseModulus)
	fmt.Printf("Webhook: enabled=%v port=%d\n", cfg.Channels.Webhook.Enabled, cfg.Channels.Webhook.Port)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	if cfg.Queue.DBPath != "" {
		fmt.Printf("Offline queue: %s\n", cfg.Queue.DBPath)
	} else {
		fmt.Println("Offline queue: disabled")
	}

	return nil
}

func runEmit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	source := emitSource
	if source == "" {
		source = cfg.Watch.DiagnosticSource
	}

	payload, err := json.Marshal(map[string]any{
		"sourceId": source,
		"title":    emitTitle,
		"body":     emitBody,
		"postedAt": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/v1/events", cfg.Channels.Webhook.Port)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(cfg.Channels.Webhook.AllowFrom) > 0 {
		req.Header.Set("Authorization", "Bearer "+cfg.Channels.Webhook.AllowFrom[0])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w (is the gateway running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway rejected event: status %d", resp.StatusCode)
	}
	fmt.Printf("Event accepted: [%s] %s %s\n", source, emitTitle, emitBody)
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
