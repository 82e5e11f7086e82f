//go:build integration

package postgres

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-analysis-gateway/internal/domain/model"
)

// Requires DATABASE_URL pointing at a disposable database.
func TestResultArchive_Postgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := ConnectPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("schema: %v", err)
	}

	logger := zerolog.New(io.Discard)
	archive := NewResultArchive(pool, &logger)

	now := time.Now().UTC().Truncate(time.Millisecond)
	job := model.NewJob("it-"+now.Format("150405.000"), "", "q", "s-it", now)
	job.Status = model.JobStatusFailed
	job.Error = "boom"
	job.CompletedAt = &now
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM analysis_results WHERE job_id = $1`, job.ID)
	})

	if err := archive.Archive(ctx, job); err != nil {
		t.Fatalf("first archive: %v", err)
	}

	// retried and completed: same row, new outcome
	job.Status = model.JobStatusCompleted
	job.Error = ""
	job.Metadata.RetryCount = 1
	job.Result = &model.JobResult{Content: "42"}
	if err := archive.Archive(ctx, job); err != nil {
		t.Fatalf("second archive: %v", err)
	}

	var (
		status, content string
		retries         int
	)
	err = pool.QueryRow(ctx, `SELECT status, content, retry_count FROM analysis_results WHERE job_id = $1`, job.ID).
		Scan(&status, &content, &retries)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if status != "completed" || content != "42" || retries != 1 {
		t.Errorf("unexpected row: %s %q %d", status, content, retries)
	}
}
