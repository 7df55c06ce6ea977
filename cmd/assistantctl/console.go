package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/ashureev/souq-assistant/internal/agent"
	"github.com/ashureev/souq-assistant/internal/kb"
	"github.com/ashureev/souq-assistant/internal/llm"
	"github.com/ashureev/souq-assistant/internal/publisher"
	"github.com/ashureev/souq-assistant/internal/ratelimit"
	"github.com/ashureev/souq-assistant/internal/store"
)

type console struct {
	repo    store.Repository
	catalog *kb.Catalog
	svc     *agent.Service
}

func (rt *console) Close() error {
	return rt.repo.Close()
}

func userID() string {
	return strings.TrimSpace(viper.GetString("user"))
}

// openConsole wires the same service the server runs, backed by the local
// database. Listings go to the log publisher unless publish.url is set.
func openConsole() (*console, error) {
	repo, err := store.NewSQLite(viper.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	catalog, err := kb.Load(viper.GetString("kb"), kb.DefaultThreshold)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	logger := slog.Default()
	opts := []agent.Option{agent.WithLogger(logger)}

	provider, err := llm.FromSpecs(viper.GetString("llm.primary"), viper.GetString("llm.fallback"))
	switch {
	case errors.Is(err, llm.ErrNoProvider):
	case err != nil:
		_ = repo.Close()
		return nil, err
	default:
		slugs := make([]string, 0, len(catalog.Categories))
		for _, c := range catalog.Categories {
			slugs = append(slugs, c.Slug)
		}
		window := viper.GetDuration("llm.rate_limit.window")
		limiter := ratelimit.New(viper.GetInt("llm.rate_limit.requests"), window, ratelimit.NewMemoryStore(window))
		opts = append(opts, agent.WithFieldParser(
			llm.NewFieldParser(provider, viper.GetDuration("llm.timeout"), slugs), limiter))
	}

	pub := publisher.New(viper.GetString("publish.url"), viper.GetDuration("publish.timeout"), logger)
	return &console{
		repo:    repo,
		catalog: catalog,
		svc:     agent.NewService(repo, catalog, pub, opts...),
	}, nil
}
