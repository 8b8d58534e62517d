package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/doodlegame/doodle/go/internal/archive"
	"github.com/doodlegame/doodle/go/internal/dbconfig"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record mirrors one entry of a history export.
type Record struct {
	IdentityID   int64  `json:"identityId"`
	RoomID       string `json:"roomId"`
	ArtifactHash string `json:"artifactHash"`
	Timestamp    int64  `json:"timestamp"`
}

var historyColumns = []string{"identity_id", "room_id", "artifact_hash", "recorded_at"}

// loadRows decodes an export into CopyFrom rows. Entries without an identity or with a
// malformed hash are skipped; a zero timestamp becomes now.
func loadRows(r io.Reader, now time.Time) (rows [][]any, skipped int, err error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, 0, fmt.Errorf("unmarshal JSON: %w", err)
	}

	for _, rec := range records {
		hash, err := archive.ParseHash([]byte(rec.ArtifactHash))
		if rec.IdentityID <= 0 || err != nil || hash != rec.ArtifactHash {
			skipped++
			continue
		}
		ts := rec.Timestamp
		if ts <= 0 {
			ts = now.UnixMilli()
		}
		rows = append(rows, []any{rec.IdentityID, rec.RoomID, rec.ArtifactHash, ts})
	}
	return rows, skipped, nil
}

func main() {
	// 1) Load the export
	path := "history.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	rows, skipped, err := loadRows(f, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.PostgresURL())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Bulk copy
	copied, err := pool.CopyFrom(ctx, pgx.Identifier{"history"}, historyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		fmt.Fprintf(os.Stderr, "copy history: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"History import complete: %d total, %d copied, %d skipped\n",
		len(rows)+skipped, copied, skipped,
	)
}
