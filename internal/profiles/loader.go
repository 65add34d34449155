// Package profiles loads and caches subscriber preference profiles.
//
// Profiles are only held for subscribers with an active viewer. The cache
// is reference counted: every Acquire must be paired with a Release.
package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/lib/pq"

	"github.com/ignite/listing-live/internal/domain"
)

// ErrNotFound is returned by a Loader when the subscriber has no profile.
var ErrNotFound = errors.New("profile not found")

// Loader fetches one subscriber's profile.
type Loader interface {
	Load(ctx context.Context, userID string) (domain.PreferenceProfile, error)
}

// PGLoader reads the preference_profiles table.
type PGLoader struct {
	db *sql.DB
}

// NewPGLoader creates a loader.
func NewPGLoader(db *sql.DB) *PGLoader {
	return &PGLoader{db: db}
}

func (l *PGLoader) Load(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	p := domain.PreferenceProfile{UserID: userID}
	var (
		minPrice, maxPrice sql.NullFloat64
		minBed, maxBed     sql.NullInt64
		minBath, maxBath   sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx, `
		SELECT is_enabled, property_types, listing_types, regions,
		       min_price, max_price, min_bedrooms, max_bedrooms,
		       min_bathrooms, max_bathrooms
		FROM preference_profiles
		WHERE user_id = $1
	`, userID).Scan(
		&p.IsEnabled,
		pq.Array(&p.PropertyTypes), pq.Array(&p.ListingTypes), pq.Array(&p.Regions),
		&minPrice, &maxPrice, &minBed, &maxBed, &minBath, &maxBath,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PreferenceProfile{}, ErrNotFound
	}
	if err != nil {
		return domain.PreferenceProfile{}, &domain.QueryError{Topic: "preference_profiles", Err: err}
	}
	p.MinPrice = nullFloat(minPrice)
	p.MaxPrice = nullFloat(maxPrice)
	p.MinBedrooms = nullInt(minBed)
	p.MaxBedrooms = nullInt(maxBed)
	p.MinBathrooms = nullInt(minBath)
	p.MaxBathrooms = nullInt(maxBath)
	return p, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// DynamoAPI is the subset of the DynamoDB client DynamoLoader uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoLoader reads profiles from a DynamoDB table keyed by user_id.
type DynamoLoader struct {
	client    DynamoAPI
	tableName string
}

// NewDynamoLoader creates a loader.
func NewDynamoLoader(client DynamoAPI, tableName string) *DynamoLoader {
	return &DynamoLoader{client: client, tableName: tableName}
}

func (l *DynamoLoader) Load(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return domain.PreferenceProfile{}, &domain.QueryError{Topic: "preference_profiles", Err: fmt.Errorf("getting item from DynamoDB: %w", err)}
	}
	if len(out.Item) == 0 {
		return domain.PreferenceProfile{}, ErrNotFound
	}
	var p domain.PreferenceProfile
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return domain.PreferenceProfile{}, fmt.Errorf("unmarshaling profile %s: %w", userID, err)
	}
	if p.UserID == "" {
		p.UserID = userID
	}
	return p, nil
}

// StaticLoader serves profiles from memory.
type StaticLoader struct {
	mu       sync.RWMutex
	profiles map[string]domain.PreferenceProfile
}

// NewStaticLoader creates a loader holding the given profiles.
func NewStaticLoader(profiles ...domain.PreferenceProfile) *StaticLoader {
	l := &StaticLoader{profiles: make(map[string]domain.PreferenceProfile)}
	for _, p := range profiles {
		l.Put(p)
	}
	return l
}

// Put adds or replaces a profile.
func (l *StaticLoader) Put(p domain.PreferenceProfile) {
	l.mu.Lock()
	l.profiles[p.UserID] = p.Clone()
	l.mu.Unlock()
}

func (l *StaticLoader) Load(_ context.Context, userID string) (domain.PreferenceProfile, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.profiles[userID]
	if !ok {
		return domain.PreferenceProfile{}, ErrNotFound
	}
	return p.Clone(), nil
}
