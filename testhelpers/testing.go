package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"fixit/internal/models"
	"fixit/internal/repositories"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDB holds the database connection for testing
type TestDB struct {
	Pool    *pgxpool.Pool
	Store   repositories.Store
	Cleanup func() error
}

// SetupTestDB connects to TEST_DATABASE_URL and applies the schema. The test
// is skipped when the variable is unset.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := repositories.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("Failed to apply schema: %v", err)
	}

	return &TestDB{
		Pool:  pool,
		Store: repositories.NewStore(pool, 5*time.Second),
		Cleanup: func() error {
			pool.Close()
			return nil
		},
	}
}

// SeedProperty creates a property with one occupied unit.
func SeedProperty(t *testing.T, db *TestDB) (*models.Property, *models.Unit) {
	t.Helper()
	ctx := context.Background()
	repos := db.Store.Repos()

	property := &models.Property{Name: "Test Property " + uuid.NewString()[:8], City: "Kampala", Country: "UG"}
	if err := repos.Properties.CreateProperty(ctx, property); err != nil {
		t.Fatalf("Failed to create test property: %v", err)
	}
	unit := &models.Unit{PropertyID: property.ID, Name: "A1", Status: models.UnitOccupied}
	if err := repos.Properties.CreateUnit(ctx, unit); err != nil {
		t.Fatalf("Failed to create test unit: %v", err)
	}
	return property, unit
}

// SeedUser creates an active user with a unique email.
func SeedUser(t *testing.T, db *TestDB, role models.GlobalRole) *models.User {
	t.Helper()

	user := &models.User{
		Email:                   uuid.NewString() + "@fixit.test",
		FirstName:               "Test",
		Role:                    role,
		Status:                  models.StatusActive,
		NotificationPreferences: []models.Channel{models.ChannelInApp},
	}
	if err := db.Store.Repos().Users.Create(context.Background(), user); err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// CleanupProperty deletes a property and everything hanging off it.
func CleanupProperty(t *testing.T, db *TestDB, propertyID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	for _, q := range []string{
		"DELETE FROM requests WHERE property_id = $1",
		"DELETE FROM scheduled_maintenance WHERE property_id = $1",
		"DELETE FROM properties WHERE id = $1",
	} {
		if _, err := db.Pool.Exec(ctx, q, propertyID); err != nil {
			t.Logf("Warning: cleanup %q failed: %v", q, err)
		}
	}
}
