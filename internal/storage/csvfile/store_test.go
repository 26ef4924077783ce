package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwardwatch/toolkit/internal/domain"
	"forwardwatch/toolkit/internal/storage"
)

func testRecords(n int) []domain.ForwardingRecord {
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	records := make([]domain.ForwardingRecord, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, domain.ForwardingRecord{
			Name:              "user",
			DisplayName:       "User",
			Guid:              uuid.New(),
			ForwardingAddress: "dest@example.com",
			FirstSeen:         base,
			LastSeen:          base.Add(time.Duration(i) * time.Hour),
		})
	}
	return records
}

func TestStore_LoadMissingFileReturnsEmpty(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "history.csv"))
	require.NoError(t, err)

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "history.csv"))
	require.NoError(t, err)

	records := testRecords(3)
	require.NoError(t, store.Save(context.Background(), domain.NewForwardingStore(records)))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, loaded.Len())

	got := loaded.Records()
	for i, rec := range records {
		assert.Equal(t, rec.Guid, got[i].Guid)
		assert.Equal(t, rec.ForwardingAddress, got[i].ForwardingAddress)
		assert.True(t, rec.FirstSeen.Equal(got[i].FirstSeen))
		assert.True(t, rec.LastSeen.Equal(got[i].LastSeen))
	}
}

func TestStore_RefusesShrinkingSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	store, err := NewStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.NewForwardingStore(testRecords(5))))

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = store.Save(ctx, domain.NewForwardingStore(testRecords(3)))
	assert.ErrorIs(t, err, storage.ErrStoreShrunk)

	// 磁盘上的文件保持原样
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_LoadRejectsCorruptRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	content := "Name,ForwardingAddress,FirstSeen,LastSeen,Guid\n" +
		"user,dest@example.com,2026-03-01T08:00:00Z,2026-03-01T09:00:00Z,not-a-guid\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := NewStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

func TestStore_LoadRejectsOutOfOrderTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	content := "Name,ForwardingAddress,FirstSeen,LastSeen,Guid\n" +
		"user,dest@example.com,2026-03-01T09:00:00Z,2026-03-01T08:00:00Z," + uuid.NewString() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := NewStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrSeenOutOfOrder)
}
