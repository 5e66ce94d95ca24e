package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/placebook/internal/database"
	"github.com/hitoshi/placebook/internal/model"
)

// setupSQLite はマイグレーション済みのインメモリSQLiteを返す。
func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunSQLiteMigrations(db))
	return db
}

func newTestUser(email string) *model.User {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "$2a$10$hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestSQLiteUserRepo_CreateAndFind(t *testing.T) {
	db := setupSQLite(t)
	repo := NewSQLiteUserRepo(db)
	ctx := context.Background()

	user := newTestUser("alice@example.com")
	require.NoError(t, repo.Create(ctx, user))

	byID, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "alice@example.com", byID.Email)
	assert.Equal(t, user.PasswordHash, byID.PasswordHash)
	assert.True(t, user.CreatedAt.Equal(byID.CreatedAt))

	byEmail, err := repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestSQLiteUserRepo_FindMissing_ReturnsNil(t *testing.T) {
	db := setupSQLite(t)
	repo := NewSQLiteUserRepo(db)

	got, err := repo.FindByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteUserRepo_DuplicateEmail_ReturnsErrEmailTaken(t *testing.T) {
	db := setupSQLite(t)
	repo := NewSQLiteUserRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newTestUser("dup@example.com")))
	err := repo.Create(ctx, newTestUser("dup@example.com"))
	assert.ErrorIs(t, err, model.ErrEmailTaken)
}

func TestSQLiteUserRepo_DeleteByID(t *testing.T) {
	db := setupSQLite(t)
	users := NewSQLiteUserRepo(db)
	sessions := NewSQLiteSessionRepo(db)
	ctx := context.Background()

	user := newTestUser("bob@example.com")
	require.NoError(t, users.Create(ctx, user))
	require.NoError(t, sessions.Create(ctx, &model.Session{
		ID:        "s1",
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}))

	require.NoError(t, users.DeleteByID(ctx, user.ID))

	got, err := sessions.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got, "sessions should be deleted by cascade")

	assert.Error(t, users.DeleteByID(ctx, user.ID), "deleting twice should fail")
}

func TestSQLiteSessionRepo_Lifecycle(t *testing.T) {
	db := setupSQLite(t)
	users := NewSQLiteUserRepo(db)
	repo := NewSQLiteSessionRepo(db)
	ctx := context.Background()

	user := newTestUser("carol@example.com")
	require.NoError(t, users.Create(ctx, user))

	now := time.Now()
	live := &model.Session{ID: "live", UserID: user.ID, ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	expired := &model.Session{ID: "expired", UserID: user.ID, ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, expired))

	got, err := repo.FindByID(ctx, "live")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.UserID)
	assert.WithinDuration(t, live.ExpiresAt, got.ExpiresAt, time.Microsecond)

	got, err = repo.FindByID(ctx, "expired")
	require.NoError(t, err)
	assert.Nil(t, got, "expired session should not be returned")

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.DeleteByID(ctx, "live"))
	got, err = repo.FindByID(ctx, "live")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteSessionRepo_DeleteByUserID(t *testing.T) {
	db := setupSQLite(t)
	users := NewSQLiteUserRepo(db)
	repo := NewSQLiteSessionRepo(db)
	ctx := context.Background()

	user := newTestUser("dave@example.com")
	require.NoError(t, users.Create(ctx, user))
	for _, id := range []string{"a", "b"} {
		require.NoError(t, repo.Create(ctx, &model.Session{
			ID: id, UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
		}))
	}

	require.NoError(t, repo.DeleteByUserID(ctx, user.ID))

	for _, id := range []string{"a", "b"} {
		got, err := repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestSQLiteDocumentStore_InsertAndQuery_PreservesOrder(t *testing.T) {
	db := setupSQLite(t)
	store := NewSQLiteDocumentStore(db)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"Tokyo Tower", "Kyoto", "Nara"} {
		id, err := store.Insert(ctx, "locations", Fields{
			"name":        name,
			"description": "",
			"rating":      4,
			"ownerId":     "u1",
			"createdAt":   ServerTimestamp,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	_, err := store.Insert(ctx, "locations", Fields{"name": "Other", "ownerId": "u2"})
	require.NoError(t, err)

	docs, err := store.Query(ctx, "locations", "ownerId", "u1")
	require.NoError(t, err)
	require.Len(t, docs, 3)

	for i, doc := range docs {
		assert.Equal(t, ids[i], doc.ID)
		assert.Equal(t, "u1", doc.Data["ownerId"])
		assert.Equal(t, float64(4), doc.Data["rating"])
	}
	assert.Equal(t, "Tokyo Tower", docs[0].Data["name"])
	assert.Equal(t, "Nara", docs[2].Data["name"])
}

func TestSQLiteDocumentStore_ServerTimestamp(t *testing.T) {
	db := setupSQLite(t)
	store := NewSQLiteDocumentStore(db)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Second)
	_, err := store.Insert(ctx, "locations", Fields{"ownerId": "u1", "createdAt": ServerTimestamp})
	require.NoError(t, err)

	docs, err := store.Query(ctx, "locations", "ownerId", "u1")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	raw, ok := docs[0].Data["createdAt"].(string)
	require.True(t, ok, "createdAt should be stored as a string, got %T", docs[0].Data["createdAt"])
	createdAt, err := time.Parse(time.RFC3339, raw)
	require.NoError(t, err)
	assert.True(t, createdAt.After(before), "createdAt %v should be after %v", createdAt, before)
}

func TestSQLiteDocumentStore_QueryEmpty_ReturnsEmptySlice(t *testing.T) {
	db := setupSQLite(t)
	store := NewSQLiteDocumentStore(db)

	docs, err := store.Query(context.Background(), "locations", "ownerId", "nobody")
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestSQLiteDocumentStore_CollectionsAreIsolated(t *testing.T) {
	db := setupSQLite(t)
	store := NewSQLiteDocumentStore(db)
	ctx := context.Background()

	_, err := store.Insert(ctx, "notes", Fields{"ownerId": "u1"})
	require.NoError(t, err)

	docs, err := store.Query(ctx, "locations", "ownerId", "u1")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSQLiteDocumentStore_DeleteWhere(t *testing.T) {
	db := setupSQLite(t)
	store := NewSQLiteDocumentStore(db)
	ctx := context.Background()

	for _, owner := range []string{"u1", "u1", "u2"} {
		_, err := store.Insert(ctx, "locations", Fields{"ownerId": owner})
		require.NoError(t, err)
	}

	n, err := store.DeleteWhere(ctx, "locations", "ownerId", "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	docs, err := store.Query(ctx, "locations", "ownerId", "u2")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDocumentStore_RejectsInvalidFieldName(t *testing.T) {
	db := setupSQLite(t)
	store := NewSQLiteDocumentStore(db)
	ctx := context.Background()

	_, err := store.Query(ctx, "locations", `ownerId') OR 1=1 --`, "u1")
	assert.Error(t, err)

	_, err = store.Insert(ctx, "locations", Fields{"bad field": "x"})
	assert.Error(t, err)
}
