package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache, vector store and cycle statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp()
		if err != nil {
			return err
		}
		defer app.Close()

		stats, err := app.store.GetCacheStats()
		if err != nil {
			return err
		}

		fmt.Println("Cache")
		fmt.Printf("  Articles:      %d\n", stats.ArticleCount)
		fmt.Printf("  Results:       %d\n", stats.ResultCount)
		fmt.Printf("  Notifications: %d\n", stats.NotificationCount)
		fmt.Printf("  Cycles:        %d\n", stats.CycleCount)
		fmt.Printf("  Size:          %.1f KB\n", float64(stats.CacheSize)/1024)

		if vstats, err := app.index.Stats(cmd.Context()); err == nil {
			fmt.Println("\nVector store")
			fmt.Printf("  Embeddings: %d\n", vstats.TotalEmbeddings)
			fmt.Printf("  Dimensions: %d\n", vstats.Dimensions)
		} else {
			fmt.Printf("\nVector store unavailable: %v\n", err)
		}

		cycles, err := app.store.RecentCycles(5)
		if err != nil {
			return err
		}
		if len(cycles) > 0 {
			fmt.Println("\nRecent cycles")
			for _, c := range cycles {
				line := fmt.Sprintf("  %s  %-9s  %d fetched / %d new",
					c.StartedAt.Format("2006-01-02 15:04"), c.State, c.ArticlesFetched, c.ArticlesNew)
				if c.Error != "" {
					line += "  (" + c.Error + ")"
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
