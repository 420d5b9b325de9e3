package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"global_scheduler/models"
)

const (
	archiveDBName   = "global_scheduler"
	archiveRecsColl = "recommendations"
)

// RecommendationArchive keeps a long-term copy of every recommendation batch
// in MongoDB. The archive is optional: with no URI configured all writes are
// silently skipped, and connection loss never fails the producing task.
type RecommendationArchive struct {
	client  *mongo.Client
	coll    *mongo.Collection
	enabled bool
	logger  zerolog.Logger
}

type archivedBatch struct {
	Region    string                  `bson:"region"`
	TradeDate time.Time               `bson:"trade_date"`
	SavedAt   time.Time               `bson:"saved_at"`
	Items     []models.Recommendation `bson:"items"`
}

// NewRecommendationArchive connects to MongoDB. An empty URI yields a
// disabled archive, not an error.
func NewRecommendationArchive(ctx context.Context, uri string, logger zerolog.Logger) (*RecommendationArchive, error) {
	if uri == "" {
		logger.Info().Msg("mongo URI not set, recommendation archive disabled")
		return &RecommendationArchive{logger: logger}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	return &RecommendationArchive{
		client:  client,
		coll:    client.Database(archiveDBName).Collection(archiveRecsColl),
		enabled: true,
		logger:  logger,
	}, nil
}

// Save archives one batch, replacing any batch already stored for the same
// region and trade date.
func (a *RecommendationArchive) Save(ctx context.Context, region string, recs []models.Recommendation) error {
	if !a.enabled || len(recs) == 0 {
		return nil
	}

	batch := archivedBatch{
		Region:    region,
		TradeDate: recs[0].TradeDate,
		SavedAt:   time.Now(),
		Items:     recs,
	}

	filter := bson.M{"region": region, "trade_date": batch.TradeDate}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.coll.ReplaceOne(ctx, filter, batch, opts); err != nil {
		return fmt.Errorf("failed to archive %s recommendations: %w", region, err)
	}

	a.logger.Info().Str("region", region).Int("count", len(recs)).Msg("recommendations archived")
	return nil
}

// Close disconnects from MongoDB.
func (a *RecommendationArchive) Close(ctx context.Context) error {
	if !a.enabled {
		return nil
	}
	return a.client.Disconnect(ctx)
}
