package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sitebot-go/internal/config"
	"sitebot-go/internal/pipeline"
	"sitebot-go/internal/service"
	"sitebot-go/internal/textnorm"
	"sitebot-go/pkg/log"
)

// crawlCmd 离线抓取一个站点，把清洗后的条目写成 JSON 数据集，不访问数据库。
func crawlCmd(configPath *string) *cobra.Command {
	var (
		output   string
		maxDepth int
		maxLinks int
	)
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site and write a cleaned JSON dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if maxDepth >= 0 {
				cfg.Crawler.MaxDepth = maxDepth
			}
			if maxLinks > 0 {
				cfg.Crawler.MaxLinks = maxLinks
			}
			log.Init(cfg.Log.Level, "console", "")
			defer log.Sync()
			return runCrawl(cmd.Context(), cfg, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "data/final_dataset.json", "Dataset output path")
	cmd.Flags().IntVar(&maxDepth, "max-depth", -1, "Override crawler.max_depth")
	cmd.Flags().IntVar(&maxLinks, "max-links", 0, "Override crawler.max_links")
	return cmd
}

func runCrawl(ctx context.Context, cfg config.Config, rawURL, output string) error {
	seedURL, err := service.NormalizeSeedURL(rawURL)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	color.Cyan("Crawling %s (depth %d, up to %d pages)", seedURL, cfg.Crawler.MaxDepth, cfg.Crawler.MaxLinks)
	result, err := newScraper(cfg, nil, "").Run(ctx, "offline", seedURL)
	if err != nil {
		color.Red("Crawl failed: %v", err)
		return err
	}

	normalizer := textnorm.New(textnorm.Options{
		Stem:            cfg.Normalizer.Stem,
		RemoveStopWords: cfg.Normalizer.RemoveStopWords,
	})
	dataset := pipeline.BuildDataset(result.Items, normalizer)

	if dir := filepath.Dir(output); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(dataset, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}

	stats := result.Stats
	color.Green("Pages scraped:       %d", stats.TotalURLsScraped)
	color.Green("Items collected:     %d", stats.TotalDataItems)
	for dt, n := range stats.DataTypes {
		fmt.Printf("  %-18s %d\n", dt+":", n)
	}
	color.Green("Documents processed: %d", stats.DocumentsProcessed)
	if len(stats.Errors) > 0 {
		color.Yellow("Errors:              %d", len(stats.Errors))
		for _, e := range stats.Errors {
			color.Yellow("  %s: %s", e.URL, e.Error)
		}
	}
	color.Cyan("Dataset with %d entries written to %s", len(dataset), output)
	return nil
}
