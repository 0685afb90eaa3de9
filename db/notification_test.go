package db_test

import (
	"context"
	"testing"

	"github.com/alwitt/proxykey/db"
	"github.com/alwitt/proxykey/models"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestDBNotifications(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut := newTestClient(t)

	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			for _, owner := range []string{"alice", "alice", "bob"} {
				entry, err := dbClient.RecordNotification(ctx, models.Notification{
					Owner:    owner,
					Kind:     models.NotificationKindKeyRotated,
					Title:    "Key rotated",
					Message:  "openai key rotated",
					Metadata: datatypes.JSON(`{"provider":"openai"}`),
				})
				assert.Nil(err)
				assert.NotEmpty(entry.ID)
				assert.False(entry.Read)
			}
			_, err := dbClient.RecordNotification(ctx, models.Notification{
				Owner: "alice", Kind: "OTHER", Title: "x",
			})
			assert.NotNil(err)
			return nil
		},
	))

	alice := "alice"
	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			count, err := dbClient.CountUnreadNotifications(ctx, "alice")
			assert.Nil(err)
			assert.Equal(int64(2), count)

			entries, err := dbClient.ListNotifications(ctx, db.NotificationQueryFilter{Owner: &alice})
			assert.Nil(err)
			assert.Len(entries, 2)
			assert.JSONEq(`{"provider":"openai"}`, string(entries[0].Metadata))
			return nil
		},
	))

	assert.Nil(uut.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			updated, err := dbClient.MarkNotificationsRead(ctx, "alice")
			assert.Nil(err)
			assert.Equal(int64(2), updated)
			return nil
		},
	))

	assert.Nil(uut.UseDatabase(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			count, err := dbClient.CountUnreadNotifications(ctx, "alice")
			assert.Nil(err)
			assert.Equal(int64(0), count)

			unread, err := dbClient.ListNotifications(ctx, db.NotificationQueryFilter{
				Owner: &alice, UnreadOnly: true,
			})
			assert.Nil(err)
			assert.Len(unread, 0)

			count, err = dbClient.CountUnreadNotifications(ctx, "bob")
			assert.Nil(err)
			assert.Equal(int64(1), count)
			return nil
		},
	))
}
