package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/audit/domain"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertIgnoresReplayedID(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.AuditLog{}))
	r := Provide()
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, r.Insert(ctx, conn, &domain.AuditLog{ID: "a", ActorType: "user", Action: "login", Outcome: "success", TargetType: "session", CreatedAt: at}))
	require.NoError(t, r.Insert(ctx, conn, &domain.AuditLog{ID: "a", ActorType: "user", Action: "logout", Outcome: "success", TargetType: "session", CreatedAt: at}))
	require.NoError(t, r.Insert(ctx, conn, nil))

	logs, err := r.List(ctx, conn, domain.ListFilter{})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "login", logs[0].Action)
}

func TestListFiltersAndWalksCursor(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.AuditLog{}))
	r := Provide()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"01", "02", "03", "04"} {
		outcome := "success"
		if i == 3 {
			outcome = "denied"
		}
		require.NoError(t, r.Insert(ctx, conn, &domain.AuditLog{
			ID: id, ActorType: "user", Action: "token.issued", Outcome: outcome,
			TargetType: "client", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page, err := r.List(ctx, conn, domain.ListFilter{Outcome: " success ", Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 2, "one extra row signals another page")
	assert.Equal(t, "03", page[0].ID)

	last := page[0]
	rest, err := r.List(ctx, conn, domain.ListFilter{
		Outcome: "success",
		Cursor:  &domain.AuditCursor{ID: last.ID, CreatedAt: last.CreatedAt},
	})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "02", rest[0].ID)
	assert.Equal(t, "01", rest[1].ID)

	start := base.Add(90 * time.Second)
	windowed, err := r.List(ctx, conn, domain.ListFilter{StartAt: &start})
	require.NoError(t, err)
	assert.Len(t, windowed, 2)
}
