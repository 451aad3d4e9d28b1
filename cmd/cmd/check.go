package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"marketpulse/internal/config"
	"marketpulse/internal/llm"
	"marketpulse/internal/sentiment"
)

var checkLive bool

// sampleHeadline exercises the classifier end to end during a live check.
const sampleHeadline = "RELIANCE stock surges 10% on strong earnings"

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and optionally probe the classifier",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Println("Configuration OK")
		fmt.Printf("  News queries:      %d\n", len(cfg.News.Queries))
		fmt.Printf("  Watchlist terms:   %d\n", len(cfg.News.Watchlist))
		fmt.Printf("  Analysis interval: %s\n", cfg.Analysis.Interval)
		fmt.Printf("  Model:             %s\n", cfg.AI.Gemini.Model)
		if cfg.Vector.DatabaseURL != "" {
			fmt.Printf("  Vector store:      pgvector (%d dims)\n", cfg.Vector.Dimensions)
		} else {
			fmt.Println("  Vector store:      in-memory (context lost on restart)")
		}
		if config.EmailConfigured() {
			fmt.Printf("  Email reports:     daily at %s to %s\n", cfg.Email.ReportTime, cfg.Email.ToAddress)
		} else {
			fmt.Println("  Email reports:     not configured")
		}

		if !checkLive {
			return nil
		}

		client, err := llm.NewClient(cfg.AI.Gemini.Model)
		if err != nil {
			return fmt.Errorf("failed to create LLM client: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		label, confidence, err := client.ClassifySentiment(ctx, sampleHeadline, "")
		if err != nil {
			return fmt.Errorf("classifier probe failed: %w", err)
		}
		fmt.Printf("\nClassifier probe: %q -> %s (confidence %.2f, score %+.2f)\n",
			sampleHeadline, label, confidence, sentiment.SignedScore(label, confidence))
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkLive, "live", false, "classify a sample headline to verify API connectivity")
	rootCmd.AddCommand(checkCmd)
}
