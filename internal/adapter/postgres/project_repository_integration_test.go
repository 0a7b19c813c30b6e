package postgres

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/projectpulse/projectpulse/internal/domain"
)

var (
	testPool        *pgxpool.Pool
	testDatabaseURL string
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to terminate postgres container: %v\n", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		os.Exit(1)
	}
	testDatabaseURL = connStr

	testPool, err = Connect(ctx, testDatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to test database: %v\n", err)
		os.Exit(1)
	}
	defer testPool.Close()

	if err := RunMigrationsWithLock(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// setupRepo returns a repository over the shared pool and registers cleanup
// to truncate tables.
func setupRepo(t *testing.T) *ProjectRepo {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE projects, progress_updates, project_reports CASCADE")
		if err != nil {
			t.Logf("Failed to truncate tables: %v", err)
		}
	})

	return NewProjectRepo(testPool)
}

func createTestProject(t *testing.T, repo *ProjectRepo, projectID, clientID string) *domain.Project {
	t.Helper()
	p, err := repo.CreateProject(context.Background(), projectID, clientID, "Test project")
	require.NoError(t, err)
	return p
}

func TestRunMigrationsIdempotency(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	require.NoError(t, RunMigrationsWithLock(context.Background(), testPool))
	require.NoError(t, RunMigrationsWithLock(context.Background(), testPool))
}

func TestCreateAndGetProject(t *testing.T) {
	repo := setupRepo(t)
	created := createTestProject(t, repo, "proj_1", "cli_9")

	assert.Equal(t, "proj_1", created.ID)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Nil(t, created.QualityScore)
	assert.Nil(t, created.CompletedAt)

	got, err := repo.GetProject(context.Background(), "proj_1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "cli_9", got.ClientID)
}

func TestGetProjectNotFound(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.GetProject(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

func TestUpdateProjectPartial(t *testing.T) {
	repo := setupRepo(t)
	createTestProject(t, repo, "proj_1", "cli_9")
	ctx := context.Background()

	status := domain.StatusInReview
	require.NoError(t, repo.UpdateProject(ctx, "proj_1", domain.ProjectUpdate{Status: &status}))

	got, err := repo.GetProject(ctx, "proj_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInReview, got.Status)
	assert.Nil(t, got.QualityScore, "untouched fields stay untouched")

	score := 4.5
	completedAt := time.Now().UTC().Truncate(time.Millisecond)
	done := domain.StatusCompleted
	require.NoError(t, repo.UpdateProject(ctx, "proj_1", domain.ProjectUpdate{
		Status:       &done,
		QualityScore: &score,
		CompletedAt:  &completedAt,
	}))

	got, err = repo.GetProject(ctx, "proj_1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.QualityScore)
	assert.InDelta(t, 4.5, *got.QualityScore, 0.001)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completedAt, *got.CompletedAt, time.Second)
}

func TestUpdateProjectNotFound(t *testing.T) {
	repo := setupRepo(t)

	status := domain.StatusFailed
	err := repo.UpdateProject(context.Background(), "ghost", domain.ProjectUpdate{Status: &status})
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

func TestProgressUpdatesNewestFirst(t *testing.T) {
	repo := setupRepo(t)
	createTestProject(t, repo, "proj_1", "")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := repo.AddProgressUpdate(ctx, "proj_1", json.RawMessage(fmt.Sprintf(`{"percent":%d}`, i*20)))
		require.NoError(t, err)
	}

	entries, err := repo.GetProgressUpdates(ctx, "proj_1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	var first struct {
		Percent int `json:"percent"`
	}
	require.NoError(t, json.Unmarshal(entries[0].Data, &first))
	assert.Equal(t, 100, first.Percent, "newest entry first")
	assert.Greater(t, entries[0].ID, entries[1].ID)
}

func TestGetProgressUpdatesEmpty(t *testing.T) {
	repo := setupRepo(t)
	createTestProject(t, repo, "proj_1", "")

	entries, err := repo.GetProgressUpdates(context.Background(), "proj_1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSaveProjectReportUpsert(t *testing.T) {
	repo := setupRepo(t)
	createTestProject(t, repo, "proj_1", "")
	ctx := context.Background()

	require.NoError(t, repo.SaveProjectReport(ctx, "proj_1", json.RawMessage(`{"summary":"v1"}`)))
	require.NoError(t, repo.SaveProjectReport(ctx, "proj_1", json.RawMessage(`{"summary":"v2"}`)))

	report, err := repo.GetProjectReport(ctx, "proj_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"v2"}`, string(report))
}

func TestGetProjectReportNotFound(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.GetProjectReport(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrReportNotFound)
}
