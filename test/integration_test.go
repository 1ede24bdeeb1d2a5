//go:build integration

package test

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/trawl/internal/fingerprint"
	"github.com/FranksOps/trawl/internal/normalize"
	"github.com/FranksOps/trawl/internal/params"
	"github.com/FranksOps/trawl/internal/pipeline"
	"github.com/FranksOps/trawl/internal/runrecord"
	"github.com/FranksOps/trawl/internal/search"
	"github.com/FranksOps/trawl/internal/secrets"
	"github.com/FranksOps/trawl/internal/storage"
	"github.com/FranksOps/trawl/internal/storage/csvbackend"
	"github.com/FranksOps/trawl/internal/storage/sqlite"
	"github.com/FranksOps/trawl/pkg/httpclient"
)

const statuses = `{"statuses":[
 {"id_str":"1","created_at":"Mon May 06 09:00:00 +0000 2024","full_text":"check this http://x.co now","retweet_count":2,"favorite_count":3,"entities":{}},
 {"id_str":"2","created_at":"Mon May 06 09:01:00 +0200 2024","full_text":"pics","retweet_count":0,"favorite_count":1,"entities":{"media":[{"expanded_url":"u1"},{"expanded_url":"u2"}]}},
 {"id_str":"3","created_at":"Mon May 06 09:02:00 +0000 2024","full_text":"RT @x: copy","retweet_count":5,"favorite_count":0,"entities":{},"retweeted_status":{"id_str":"1"}}
]}`

func TestIntegration_EndToEnd(t *testing.T) {
	// 1. Setup mock search API over TLS so the fingerprinted transport is exercised
	var searches atomic.Int32
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/1.1/account/verify_credentials.json":
			fmt.Fprint(w, `{"screen_name":"trawler"}`)
		case "/1.1/search/tweets.json":
			searches.Add(1)
			if r.URL.Query().Get("q") == "#down" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, statuses)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	// 2. Setup storage
	ctx := context.Background()
	backend, err := sqlite.New(filepath.Join(t.TempDir(), "trawl.db"))
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	defer backend.Close()
	if err := backend.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	for _, src := range []struct{ id, query string }{{"up", "#test"}, {"down", "#down"}} {
		for name, value := range map[string]string{"count": "250", "language": "en", "query": src.query, "sort_by": "mixed"} {
			if err := backend.PutParameter(ctx, storage.ParameterRow{SourceID: src.id, Name: name, Value: value}); err != nil {
				t.Fatalf("failed to put parameter: %v", err)
			}
		}
	}

	csvPath := filepath.Join(t.TempDir(), "records.csv")
	sink, err := csvbackend.New(csvPath)
	if err != nil {
		t.Fatalf("failed to open csv sink: %v", err)
	}

	// 3. Setup search client
	pool := ts.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	transport, err := fingerprint.Transport(fingerprint.ProfileGo, fingerprint.Options{RootCAs: pool})
	if err != nil {
		t.Fatalf("failed to build transport: %v", err)
	}
	hc, err := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, UserAgent: "trawl/it", Transport: transport})
	if err != nil {
		t.Fatalf("failed to build http client: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	searcher, err := search.NewClient(ts.URL, hc, logger)
	if err != nil {
		t.Fatalf("failed to build search client: %v", err)
	}

	orch, err := pipeline.New(pipeline.Config{
		Params: params.NewClient(backend),
		Secrets: secrets.Static{
			secrets.APIKey: "k", secrets.APISecretKey: "s",
			secrets.AccessToken: "t", secrets.AccessTokenSecret: "ts",
		},
		Searcher:   searcher,
		Recorder:   runrecord.New(backend, runrecord.WithLogger(logger)),
		Sink:       sink,
		Normalizer: normalize.Normalizer{Policy: normalize.ReshareSkip},
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	// 4. Run both sources
	trigger := time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)
	outcomes, err := orch.RunBatch(ctx, []pipeline.Invocation{
		{SourceID: "up", TriggerTime: trigger},
		{SourceID: "down", TriggerTime: trigger},
	}, pipeline.BatchOptions{Concurrency: 2, RequestsPerSecond: 50})
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close sink: %v", err)
	}

	if searches.Load() != 2 {
		t.Errorf("expected 2 search requests, got %d", searches.Load())
	}

	// 5. Verify run rows
	if outcomes[0].Status != storage.StatusOK || outcomes[0].RowCount != 2 {
		t.Errorf("unexpected outcome for up: %+v", outcomes[0])
	}
	if outcomes[1].Status != storage.StatusFailed || outcomes[1].RowCount != 0 {
		t.Errorf("unexpected outcome for down: %+v", outcomes[1])
	}

	runs, err := backend.QueryRuns(ctx, storage.RunFilter{Status: storage.StatusFailed})
	if err != nil {
		t.Fatalf("failed to query runs: %v", err)
	}
	if len(runs) != 1 || runs[0].SourceID != "down" || runs[0].ErrorMessage == nil || !strings.Contains(*runs[0].ErrorMessage, "502") {
		t.Errorf("unexpected failed runs: %+v", runs)
	}

	// 6. Verify records
	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("failed to open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 records, got %d rows", len(rows))
	}

	col := make(map[string]int)
	for i, h := range rows[0] {
		col[h] = i
	}
	if got := rows[1][col["tweet"]]; got != "check this  now" {
		t.Errorf("expected link stripped, got %q", got)
	}
	if got := rows[2][col["media_links"]]; got != "u1 u2" {
		t.Errorf("expected joined media links, got %q", got)
	}
	if got := rows[2][col["published_time"]]; got != "2024-05-06 07:01:00" {
		t.Errorf("expected UTC published time, got %q", got)
	}
	if got := rows[1][col["run_id"]]; got != outcomes[0].RunID {
		t.Errorf("expected record to carry run id %s, got %s", outcomes[0].RunID, got)
	}
}
