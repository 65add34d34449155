package profiles

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/listing-live/internal/domain"
)

var profileColumns = []string{
	"is_enabled", "property_types", "listing_types", "regions",
	"min_price", "max_price", "min_bedrooms", "max_bedrooms",
	"min_bathrooms", "max_bathrooms",
}

func TestPGLoader_Load(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM preference_profiles").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileColumns).
			AddRow(true, "{house,flat}", "{}", "{north}", 100000.0, nil, 2, nil, nil, 3))

	p, err := NewPGLoader(db).Load(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, "u1", p.UserID)
	assert.True(t, p.IsEnabled)
	assert.Equal(t, []string{"house", "flat"}, p.PropertyTypes)
	assert.Empty(t, p.ListingTypes)
	assert.Equal(t, []string{"north"}, p.Regions)
	require.NotNil(t, p.MinPrice)
	assert.Equal(t, 100000.0, *p.MinPrice)
	assert.Nil(t, p.MaxPrice)
	require.NotNil(t, p.MinBedrooms)
	assert.Equal(t, 2, *p.MinBedrooms)
	assert.Nil(t, p.MinBathrooms)
	require.NotNil(t, p.MaxBathrooms)
	assert.Equal(t, 3, *p.MaxBathrooms)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGLoader_NotFoundAndQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM preference_profiles").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(profileColumns))
	mock.ExpectQuery("FROM preference_profiles").
		WithArgs("u2").
		WillReturnError(errors.New("connection reset"))

	l := NewPGLoader(db)
	_, err = l.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Load(context.Background(), "u2")
	var qe *domain.QueryError
	assert.ErrorAs(t, err, &qe)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := in.Key["user_id"].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func TestDynamoLoader_Load(t *testing.T) {
	maxPrice := 2500.0
	stored := domain.PreferenceProfile{
		UserID:       "u1",
		IsEnabled:    true,
		ListingTypes: []string{"rent"},
		MaxPrice:     &maxPrice,
	}
	item, err := attributevalue.MarshalMap(stored)
	require.NoError(t, err)

	l := NewDynamoLoader(&fakeDynamo{items: map[string]map[string]types.AttributeValue{"u1": item}}, "profiles")

	p, err := l.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, stored, p)

	_, err = l.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewDynamoLoader(&fakeDynamo{err: errors.New("throttled")}, "profiles").Load(context.Background(), "u1")
	var qe *domain.QueryError
	assert.ErrorAs(t, err, &qe)
}

func TestStaticLoader_ReturnsCopies(t *testing.T) {
	l := NewStaticLoader(domain.PreferenceProfile{UserID: "u1", Regions: []string{"north"}})

	p, err := l.Load(context.Background(), "u1")
	require.NoError(t, err)
	p.Regions[0] = "south"

	again, err := l.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"north"}, again.Regions)
}
