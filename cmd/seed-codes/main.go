// Command seed-codes is the administrative tool for the promotion code
// catalog: it creates single codes, bulk-imports codes from a gzip'd CSV,
// and deactivates codes by hand.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/perkforge/redemption/internal/domain/promo"
	"github.com/perkforge/redemption/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		code        string
		percent     int
		maxUses     int64
		expires     string
		createdBy   string
		importFile  string
		deactivate  string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&code, "code", "", "promotion code to create")
	flag.IntVar(&percent, "percent", 10, "discount percentage (1-100)")
	flag.Int64Var(&maxUses, "max-uses", 0, "usage limit (0 = unlimited)")
	flag.StringVar(&expires, "expires", "", "expiry timestamp, RFC 3339 (empty = never)")
	flag.StringVar(&createdBy, "created-by", "seed-codes", "creator reference stored on new codes")
	flag.StringVar(&importFile, "import", "", "bulk-import codes from a gzip'd CSV file (code,percent,max_uses,expires_at)")
	flag.StringVar(&deactivate, "deactivate", "", "deactivate the given code instead of creating one")
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

	if err := run(ctx, databaseURL, code, percent, maxUses, expires, createdBy, importFile, deactivate); err != nil {
		slog.Error("seed-codes failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	databaseURL, code string,
	percent int,
	maxUses int64,
	expires, createdBy, importFile, deactivate string,
) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog := postgres.NewCatalogRepository(pool)

	switch {
	case deactivate != "":
		if err := catalog.Deactivate(ctx, deactivate); err != nil {
			return err
		}
		slog.Info("code deactivated", slog.String("code", promo.Normalize(deactivate)))
		return nil

	case importFile != "":
		n, err := importCodes(ctx, catalog, importFile, createdBy)
		if err != nil {
			return err
		}
		slog.Info("codes imported", slog.Int("count", n))
		return nil

	case code != "":
		c, err := buildCode(code, percent, maxUses, expires, createdBy)
		if err != nil {
			return err
		}
		if err := catalog.Create(ctx, c); err != nil {
			return err
		}
		slog.Info("code created",
			slog.String("code", c.Code),
			slog.Int("percent", c.Percentage),
			slog.Int64("max_uses", c.MaxUsage))
		return nil

	default:
		return errors.New("nothing to do: pass --code, --import, or --deactivate")
	}
}

func buildCode(code string, percent int, maxUses int64, expires, createdBy string) (*promo.Code, error) {
	normalized := promo.Normalize(code)
	if normalized == "" {
		return nil, errors.New("code must not be blank")
	}
	if percent < 1 || percent > 100 {
		return nil, errors.Errorf("percent %d out of range [1,100]", percent)
	}
	if maxUses < 0 {
		return nil, errors.Errorf("max-uses %d must not be negative", maxUses)
	}

	c := &promo.Code{
		Code:       normalized,
		Percentage: percent,
		MaxUsage:   maxUses,
		Active:     true,
		CreatedBy:  createdBy,
	}
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return nil, errors.Wrapf(err, "parse expiry %q", expires)
		}
		c.ExpiresAt = &t
	}
	return c, nil
}

// importCodes reads a gzip'd CSV of code,percent,max_uses,expires_at rows
// and creates each code. Rows that fail validation abort the import so a
// bad file never half-applies.
func importCodes(ctx context.Context, catalog *postgres.CatalogRepository, path, createdBy string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer gz.Close()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = 4

	count := 0
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, errors.Wrapf(err, "read row %d", count+1)
		}

		percent, err := strconv.Atoi(row[1])
		if err != nil {
			return count, errors.Wrapf(err, "row %d: percent", count+1)
		}
		var maxUses int64
		if row[2] != "" {
			maxUses, err = strconv.ParseInt(row[2], 10, 64)
			if err != nil {
				return count, errors.Wrapf(err, "row %d: max_uses", count+1)
			}
		}

		c, err := buildCode(row[0], percent, maxUses, row[3], createdBy)
		if err != nil {
			return count, errors.Wrapf(err, "row %d", count+1)
		}
		if err := catalog.Create(ctx, c); err != nil {
			return count, errors.Wrapf(err, "row %d", count+1)
		}
		count++
	}
}
