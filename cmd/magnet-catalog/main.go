package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"magnetcatalog/internal/catalog"
	"magnetcatalog/internal/config"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to catalog configuration file")
	maxTopics := flag.Int("max-topics", 0, "Override discovery.max_topics")
	episodic := flag.Bool("episodic", false, "Enable the episodic category pass")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *maxTopics > 0 {
		cfg.Discovery.MaxTopics = *maxTopics
	}
	if *episodic {
		cfg.Discovery.EpisodicPass = true
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
			os.Exit(1)
		}
	}

	engine, err := catalog.NewEngine(*cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := engine.Run(ctx)
	if err != nil {
		engine.Logger().Error("catalog run failed", "error", err)
		engine.Close()
		os.Exit(1)
	}
	fmt.Printf("%d entries written from %d topics (%d skipped)\n", summary.Entries, summary.Topics, summary.Skipped)
}
