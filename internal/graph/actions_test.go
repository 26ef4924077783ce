package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePassword(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 10; i++ {
		password, err := generatePassword()
		require.NoError(t, err)
		assert.Len(t, password, passwordLength)
		for _, r := range password {
			assert.True(t, strings.ContainsRune(passwordAlphabet, r))
		}
		_, dup := seen[password]
		assert.False(t, dup)
		seen[password] = struct{}{}
	}
}

func TestEntryFromAudit(t *testing.T) {
	id := "audit-1"
	activity := "Update user"
	category := "UserManagement"
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	upn := "admin@contoso.test"
	targetID := "d3b07384-d9a0-4c9b-8f2a-1b2c3d4e5f60"

	audit := models.NewDirectoryAudit()
	audit.SetId(&id)
	audit.SetActivityDisplayName(&activity)
	audit.SetCategory(&category)
	audit.SetActivityDateTime(&at)

	initiator := models.NewAuditActivityInitiator()
	user := models.NewUserIdentity()
	user.SetUserPrincipalName(&upn)
	initiator.SetUser(user)
	audit.SetInitiatedBy(initiator)

	target := models.NewTargetResource()
	target.SetId(&targetID)
	audit.SetTargetResources([]models.TargetResourceable{target})

	entry := entryFromAudit(audit)
	assert.Equal(t, "audit-1", entry.ID)
	assert.Equal(t, "Update user", entry.Activity)
	assert.Equal(t, "UserManagement", entry.Category)
	assert.Equal(t, at, entry.ActivityDate)
	assert.Equal(t, upn, entry.InitiatedBy)
	assert.Equal(t, targetID, entry.TargetID)
}
