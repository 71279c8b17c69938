package app

import (
	"context"
	"time"

	"nftwatch/internal/config"
	"nftwatch/internal/marketplace"
)

// magicEdenSource binds the shared Magic Eden client to one collection.
type magicEdenSource struct {
	client *marketplace.MagicEdenClient
	coll   *config.Collection
}

func (s *magicEdenSource) Name() string { return s.client.Name() }

func (s *magicEdenSource) Fetch(ctx context.Context, since time.Time) ([]marketplace.Activity, error) {
	return s.client.Fetch(ctx, s.coll.Key(), s.coll.Chain, since, s.coll.ActivityLimit)
}

// openSeaSource binds the shared OpenSea client to one collection's slug.
// Sales only; mints and burns come from the primary feed.
type openSeaSource struct {
	client *marketplace.OpenSeaClient
	coll   *config.Collection
}

func (s *openSeaSource) Name() string { return s.client.Name() }

func (s *openSeaSource) Fetch(ctx context.Context, _ time.Time) ([]marketplace.Activity, error) {
	return s.client.FetchSales(ctx, s.coll.OpenSeaSlug, s.coll.ActivityLimit)
}
