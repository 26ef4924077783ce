package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_NewRecord(t *testing.T) {
	g1 := uuid.New()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	merged := Merge(EmptyForwardingStore(), []ObservedForward{
		{Name: "jdoe", Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0},
	})

	require.Equal(t, 1, merged.Len())
	rec := merged.Records()[0]
	assert.Equal(t, g1, rec.Guid)
	assert.Equal(t, "a@x.com", rec.ForwardingAddress)
	assert.Equal(t, t0, rec.FirstSeen)
	assert.Equal(t, t0, rec.LastSeen)
}

func TestMerge_AddressChangeResetsFirstSeen(t *testing.T) {
	g1 := uuid.New()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	store := Merge(EmptyForwardingStore(), []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0},
	})
	store = Merge(store, []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:b@x.com", ObservedAt: t1},
	})

	require.Equal(t, 1, store.Len())
	rec := store.Records()[0]
	assert.Equal(t, "b@x.com", rec.ForwardingAddress)
	assert.Equal(t, t1, rec.FirstSeen, "新转发目标重新起算 first seen")
	assert.Equal(t, t1, rec.LastSeen)
}

func TestMerge_SameAddressOnlyAdvancesLastSeen(t *testing.T) {
	g1 := uuid.New()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	store := Merge(EmptyForwardingStore(), []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0},
	})
	store = Merge(store, []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t1},
	})

	rec := store.Records()[0]
	assert.Equal(t, t0, rec.FirstSeen, "地址未变，first seen 保持")
	assert.Equal(t, t1, rec.LastSeen)
}

func TestMerge_DropsObservationsWithoutSchemePrefix(t *testing.T) {
	t0 := time.Now().UTC()
	merged := Merge(EmptyForwardingStore(), []ObservedForward{
		{Guid: uuid.New(), RawForwardingAddress: "Shared Mailbox", ObservedAt: t0},
		{Guid: uuid.New(), RawForwardingAddress: "smtp:kept@x.com", ObservedAt: t0},
	})

	require.Equal(t, 1, merged.Len())
	assert.Equal(t, "kept@x.com", merged.Records()[0].ForwardingAddress)
}

func TestMerge_UpdatesNameFields(t *testing.T) {
	g1 := uuid.New()
	t0 := time.Now().UTC()

	store := Merge(EmptyForwardingStore(), []ObservedForward{
		{Name: "old", DisplayName: "Old Name", Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0},
	})
	store = Merge(store, []ObservedForward{
		{Name: "new", DisplayName: "New Name", Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0.Add(time.Hour)},
	})

	rec := store.Records()[0]
	assert.Equal(t, "new", rec.Name)
	assert.Equal(t, "New Name", rec.DisplayName)
}

func TestMerge_Idempotent(t *testing.T) {
	g1, g2 := uuid.New(), uuid.New()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	seed := Merge(EmptyForwardingStore(), []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0},
	})
	batch := []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:b@x.com", ObservedAt: t1},
		{Guid: g2, RawForwardingAddress: "smtp:c@y.com", ObservedAt: t1},
	}

	once := Merge(seed, batch)
	twice := Merge(once, batch)

	assert.Equal(t, once.Records(), twice.Records(), "对同一批观测重复合并应到达不动点")
}

func TestMerge_FirstSeenMonotonic(t *testing.T) {
	g1 := uuid.New()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	store := Merge(EmptyForwardingStore(), []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0},
	})

	for i := 1; i <= 3; i++ {
		previous := store.Records()[0]
		store = Merge(store, []ObservedForward{
			{Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0.Add(time.Duration(i) * time.Hour)},
		})
		current := store.Records()[0]
		assert.False(t, current.FirstSeen.Before(previous.FirstSeen))
		assert.Equal(t, t0.Add(time.Duration(i)*time.Hour), current.LastSeen)
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	g1 := uuid.New()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	original := Merge(EmptyForwardingStore(), []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:a@x.com", ObservedAt: t0},
	})
	before := original.Records()

	Merge(original, []ObservedForward{
		{Guid: g1, RawForwardingAddress: "smtp:b@x.com", ObservedAt: t0.Add(time.Hour)},
	})

	assert.Equal(t, before, original.Records(), "合并产出新集合，不原地修改")
}
