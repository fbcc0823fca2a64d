// Package firestore provides a Firestore implementation of the quota.Storage interface.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
)

// Storage implements quota.Storage using Google Cloud Firestore
type Storage struct {
	client          *firestore.Client
	usageCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// UsageCollection is the Firestore collection for daily counters
	// Default: "daily_usage"
	UsageCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.UsageCollection == "" {
		config.UsageCollection = "daily_usage"
	}

	return &Storage{
		client:          client,
		usageCollection: config.UsageCollection,
	}, nil
}

// GetUsed implements quota.Storage
func (s *Storage) GetUsed(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	if err := quota.ValidateKey(subject, dayKey, kind); err != nil {
		return 0, err
	}

	snap, err := s.usageDoc(subject, dayKey, kind).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	if !snap.Exists() {
		return 0, nil
	}

	return getInt(snap.Data(), "used"), nil
}

// Increment implements quota.Storage with a read-modify-write transaction.
// Firestore retries the transaction on contention, so no increment is lost.
func (s *Storage) Increment(ctx context.Context, subject, dayKey string, kind quota.Kind) (int, error) {
	if err := quota.ValidateKey(subject, dayKey, kind); err != nil {
		return 0, err
	}

	doc := s.usageDoc(subject, dayKey, kind)
	var newUsed int

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		currentUsed := 0
		if err == nil && snap.Exists() {
			currentUsed = getInt(snap.Data(), "used")
		}
		newUsed = currentUsed + 1

		return tx.Set(doc, map[string]interface{}{
			"used":      newUsed,
			"dayKey":    dayKey,
			"kind":      string(kind),
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}

	return newUsed, nil
}

// Close closes the Firestore client
func (s *Storage) Close() error {
	return s.client.Close()
}

// usageDoc returns the document holding one counter
func (s *Storage) usageDoc(subject, dayKey string, kind quota.Kind) *firestore.DocumentRef {
	// Structure: daily_usage/{subject}/days/{dayKey}_{kind}
	return s.client.Collection(s.usageCollection).
		Doc(subject).
		Collection("days").
		Doc(fmt.Sprintf("%s_%s", dayKey, kind))
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}
