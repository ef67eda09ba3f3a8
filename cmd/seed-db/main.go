// Binary seed-db populates the database with synthetic load-test products.
// Every product it creates carries the "LoadTest-" title prefix, and a rerun
// deletes the previous generation before inserting a new one, so the seeder
// never touches real catalog data. It can also ingest products from a
// gzip-compressed CSV file (title,description,category,price,stock).
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jimmyweng/ecommerce-go/internal/storage/postgres"
)

const titlePrefix = "LoadTest-"

var (
	categories = []string{"games", "books", "collectibles", "gadgets", "home"}
	keywords   = []string{"board", "space", "retro", "limited", "flash", "sale", "top"}
)

const insertProductSQL = `INSERT INTO products (title, description, category, price, stock, version, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, 1, now(), now())`

type seedProduct struct {
	title       string
	description string
	category    string
	price       decimal.Decimal
	stock       int
}

func main() {
	var (
		databaseURL  string
		count        int
		batchSize    int
		workers      int
		productsFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&count, "count", 1000, "number of synthetic products to generate")
	flag.IntVar(&batchSize, "batch-size", 100, "products per insert batch")
	flag.IntVar(&workers, "workers", 4, "concurrent insert workers")
	flag.StringVar(&productsFile, "products-file", "", "optional gzip-compressed CSV of products to ingest")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, count, batchSize, workers, productsFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, count, batchSize, workers int, productsFile string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	tag, err := pool.Exec(ctx, `DELETE FROM products WHERE title LIKE $1 || '%'`, titlePrefix)
	if err != nil {
		return errors.Wrap(err, "delete previous load-test products")
	}
	slog.Info("deleted previous load-test products", slog.Int64("count", tag.RowsAffected()))

	products := generateProducts(count)

	if productsFile != "" {
		fromFile, err := readProductsFile(productsFile)
		if err != nil {
			return errors.Wrap(err, "read products file")
		}
		slog.Info("loaded products from file",
			slog.String("path", productsFile),
			slog.Int("count", len(fromFile)),
		)
		products = append(products, fromFile...)
	}

	start := time.Now()
	if err := insertProducts(ctx, pool, products, batchSize, workers); err != nil {
		return errors.Wrap(err, "insert products")
	}

	slog.Info("inserted products",
		slog.Int("count", len(products)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// generateProducts creates count synthetic products with randomized category,
// keyword, price (5.00-200.00), and stock (10-99).
func generateProducts(count int) []seedProduct {
	products := make([]seedProduct, count)
	for i := range products {
		category := categories[rand.IntN(len(categories))]
		keyword := keywords[rand.IntN(len(keywords))]

		cents := 500 + rand.Int64N(19501) // 5.00 .. 200.00
		products[i] = seedProduct{
			title:       fmt.Sprintf("%s%s-%s-%06d", titlePrefix, category, keyword, i+1),
			description: fmt.Sprintf("Synthetic %s product for the %s category", keyword, category),
			category:    category,
			price:       decimal.New(cents, -2),
			stock:       10 + rand.IntN(90),
		}
	}
	return products
}

// readProductsFile parses a gzip-compressed CSV with the columns
// title,description,category,price,stock. A header row is skipped when the
// stock column does not parse.
func readProductsFile(path string) ([]seedProduct, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	reader := csv.NewReader(gz)
	reader.FieldsPerRecord = 5

	var products []seedProduct
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read record at line %d", line)
		}

		stock, err := strconv.Atoi(record[4])
		if err != nil {
			if line == 1 {
				continue // header row
			}
			return nil, errors.Wrapf(err, "parse stock at line %d", line)
		}
		price, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, errors.Wrapf(err, "parse price at line %d", line)
		}

		products = append(products, seedProduct{
			title:       titlePrefix + record[0],
			description: record[1],
			category:    record[2],
			price:       price,
			stock:       stock,
		})
	}
	return products, nil
}

// insertProducts writes products in batches, with up to workers batches in
// flight at once.
func insertProducts(ctx context.Context, pool *pgxpool.Pool, products []seedProduct, batchSize, workers int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start := 0; start < len(products); start += batchSize {
		chunk := products[start:min(start+batchSize, len(products))]
		g.Go(func() error {
			batch := &pgx.Batch{}
			for _, p := range chunk {
				batch.Queue(insertProductSQL, p.title, p.description, p.category, p.price, p.stock)
			}
			if err := pool.SendBatch(ctx, batch).Close(); err != nil {
				return errors.Wrap(err, "send batch")
			}
			return nil
		})
	}

	return g.Wait()
}
