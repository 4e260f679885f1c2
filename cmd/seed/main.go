// Command seed loads products from a JSON file into the products table.
//
//	seed -file products.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/logging"
)

// ProductPutter stores one product.
type ProductPutter interface {
	Put(ctx context.Context, p catalog.Product) error
}

func main() {
	file := flag.String("file", "products.json", "JSON array of products to load")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-seed")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal("open seed file", zap.String("file", *file), zap.Error(err))
	}
	defer f.Close()

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	n, err := seed(ctx, f, catalog.NewStore(clients.DynamoDB, cfg.ProductsTable))
	if err != nil {
		logger.Fatal("seed failed", zap.Int("loaded", n), zap.Error(err))
	}
	logger.Info("products loaded", zap.Int("count", n), zap.String("table", cfg.ProductsTable))
}

// seed decodes a JSON array of products from r and stores each one. It
// returns how many were stored before any error.
func seed(ctx context.Context, r io.Reader, store ProductPutter) (int, error) {
	var products []catalog.Product
	if err := json.NewDecoder(r).Decode(&products); err != nil {
		return 0, fmt.Errorf("decode products: %w", err)
	}
	for i, p := range products {
		if err := store.Put(ctx, p); err != nil {
			return i, fmt.Errorf("product %d (%s): %w", i, p.ProductID, err)
		}
	}
	return len(products), nil
}
