package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcbagz/ladchat/internal/profile"
	"github.com/mcbagz/ladchat/store"
)

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$1, $2, $3", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}

func TestEntityTable(t *testing.T) {
	table, err := entityTable(store.EntityTypeGroup)
	require.NoError(t, err)
	assert.Equal(t, "group_chats", table)

	_, err = entityTable("venue")
	assert.Error(t, err)
}

func TestDecodeJSONB(t *testing.T) {
	var ids []int32
	require.NoError(t, decodeJSONB([]byte(`[1,2]`), &ids))
	assert.Equal(t, []int32{1, 2}, ids)

	var empty []string
	require.NoError(t, decodeJSONB(nil, &empty))
	assert.Nil(t, empty)

	assert.Error(t, decodeJSONB([]byte(`{`), &empty))
}

func TestNewDB_RequiresDSN(t *testing.T) {
	_, err := NewDB(&profile.Profile{})
	assert.Error(t, err)
}

// TestEmbeddingRecordIntegration runs against a live PostgreSQL with pgvector.
// Set LADCHAT_TEST_POSTGRES_DSN to enable it.
func TestEmbeddingRecordIntegration(t *testing.T) {
	dsn := os.Getenv("LADCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LADCHAT_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	driver, err := NewDB(&profile.Profile{DSN: dsn, EmbeddingDimensions: 3})
	require.NoError(t, err)
	defer driver.Close()
	require.NoError(t, driver.Migrate(ctx))

	const entityID = 987654
	defer driver.DeleteEmbeddingRecord(ctx, &store.DeleteEmbeddingRecord{EntityType: store.EntityTypeUser, EntityID: entityID})

	now := time.Now().Unix()
	for i, vec := range [][]float32{{1, 0, 0}, {0, 1, 0}} {
		_, err := driver.UpsertEmbeddingRecord(ctx, &store.EmbeddingRecord{
			EntityType: store.EntityTypeUser,
			EntityID:   entityID,
			Embedding:  vec,
			Model:      "test",
			CreatedTs:  now,
			UpdatedTs:  now + int64(i),
		})
		require.NoError(t, err)
	}

	entityType := store.EntityTypeUser
	id := int32(entityID)
	list, err := driver.ListEmbeddingRecords(ctx, &store.FindEmbeddingRecord{EntityType: &entityType, EntityID: &id})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []float32{0, 1, 0}, list[0].Embedding)
}
