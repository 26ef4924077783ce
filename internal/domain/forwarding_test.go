package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservedForward_Address(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		want     string
		eligible bool
	}{
		{"标准 smtp 前缀", "smtp:a@x.com", "a@x.com", true},
		{"前缀大小写不敏感", "SMTP:A@X.com", "a@x.com", true},
		{"带空白", "  smtp:a@x.com  ", "a@x.com", true},
		{"无前缀的邮箱对象转发", "Shared Mailbox", "", false},
		{"仅有前缀", "smtp:", "", false},
		{"空值", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := ObservedForward{RawForwardingAddress: tt.raw}
			got, ok := obs.Address()
			assert.Equal(t, tt.eligible, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForwardingRecord_Validate(t *testing.T) {
	now := time.Now().UTC()
	valid := ForwardingRecord{
		Name:              "jdoe",
		Guid:              uuid.New(),
		ForwardingAddress: "a@x.com",
		FirstSeen:         now.Add(-time.Hour),
		LastSeen:          now,
	}
	require.NoError(t, valid.Validate())

	t.Run("缺少 guid", func(t *testing.T) {
		rec := valid
		rec.Guid = uuid.Nil
		assert.ErrorIs(t, rec.Validate(), ErrMissingGuid)
	})

	t.Run("缺少转发地址", func(t *testing.T) {
		rec := valid
		rec.ForwardingAddress = "  "
		assert.ErrorIs(t, rec.Validate(), ErrMissingForwardingAddress)
	})

	t.Run("last seen 早于 first seen", func(t *testing.T) {
		rec := valid
		rec.LastSeen = rec.FirstSeen.Add(-time.Minute)
		assert.ErrorIs(t, rec.Validate(), ErrSeenOutOfOrder)
	})
}

func TestForwardingStore_RecordsReturnsCopy(t *testing.T) {
	store := NewForwardingStore([]ForwardingRecord{
		{Guid: uuid.New(), ForwardingAddress: "a@x.com"},
	})

	records := store.Records()
	records[0].ForwardingAddress = "mutated@x.com"

	assert.Equal(t, "a@x.com", store.Records()[0].ForwardingAddress)
}
