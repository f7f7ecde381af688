package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"kassir/internal/database"
	"kassir/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Наполняет локальный кэш каталога из YAML без обращения к удалённой
// системе. Используется для стендов и офлайн-демо.

type CatalogConfig struct {
	Products   []models.Product  `yaml:"products"`
	Categories []models.Category `yaml:"categories"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "path to catalog.yaml")
		dbPath      = flag.String("db", "./data/kassir.db", "path to sqlite db")
	)
	flag.Parse()

	data, err := os.ReadFile(*catalogPath)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	var cfg CatalogConfig
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse catalog: %w", err)
	}
	if len(cfg.Products) == 0 {
		return fmt.Errorf("no products in yaml")
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	syncedAt := time.Now()
	if err = db.ReplaceProducts(ctx, cfg.Products, syncedAt); err != nil {
		return fmt.Errorf("seed products: %w", err)
	}
	if err = db.ReplaceCategories(ctx, cfg.Categories, syncedAt); err != nil {
		return fmt.Errorf("seed categories: %w", err)
	}

	fmt.Printf("done: products=%d categories=%d\n", len(cfg.Products), len(cfg.Categories))
	return nil
}
