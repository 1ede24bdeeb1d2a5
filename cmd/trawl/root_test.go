package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

const apiBody = `{"statuses":[
 {"id_str":"10","created_at":"Wed Oct 10 20:19:24 +0000 2018","full_text":"hello http://t.co/a","retweet_count":1,"favorite_count":2,"entities":{}},
 {"id_str":"11","in_reply_to_status_id_str":"10","created_at":"Wed Oct 10 20:20:00 +0000 2018","full_text":"reply","retweet_count":0,"favorite_count":0,"entities":{"media":[{"expanded_url":"u1"},{"expanded_url":"u2"}]}}
]}`

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/1.1/account/verify_credentials.json":
			fmt.Fprint(w, `{"screen_name":"trawler"}`)
		case "/1.1/search/tweets.json":
			if r.URL.Query().Get("q") == "#fail" {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprint(w, `{"errors":[{"message":"Over capacity"}]}`)
				return
			}
			fmt.Fprint(w, apiBody)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func setupEnv(t *testing.T) {
	t.Helper()
	ts := fakeAPI(t)
	t.Setenv("TRAWL_DB_DRIVER", "sqlite")
	t.Setenv("TRAWL_DB_DSN", filepath.Join(t.TempDir(), "trawl.db"))
	t.Setenv("TRAWL_SEARCH_BASE_URL", ts.URL)
	t.Setenv("TRAWL_LOG_LEVEL", "error")
	t.Setenv("TRAWL_SECRET_API_KEY", "k")
	t.Setenv("TRAWL_SECRET_API_SECRET_KEY", "s")
	t.Setenv("TRAWL_SECRET_ACCESS_TOKEN", "t")
	t.Setenv("TRAWL_SECRET_ACCESS_TOKEN_SECRET", "ts")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func putSource(t *testing.T, sourceID, query string) {
	t.Helper()
	for _, kv := range [][2]string{{"count", "10"}, {"language", "en"}, {"query", query}, {"sort_by", "recent"}} {
		if _, err := execute(t, "param", "set", sourceID, kv[0], kv[1]); err != nil {
			t.Fatalf("param set %s: %v", kv[0], err)
		}
	}
}

func TestCLI_RunLifecycle(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "init-db")
	if err != nil {
		t.Fatalf("init-db: %v", err)
	}
	if !strings.Contains(out, "schema ready (sqlite)") {
		t.Errorf("unexpected init-db output %q", out)
	}

	putSource(t, "2", "#test")
	putSource(t, "3", "#fail")

	out, err = execute(t, "param", "show", "2")
	if err != nil {
		t.Fatalf("param show: %v", err)
	}
	if !strings.Contains(out, "count=10") || !strings.Contains(out, "query=#test") {
		t.Errorf("unexpected param show output %q", out)
	}

	out, err = execute(t, "run", "--source-id", "2", "--trigger-time", "2021-03-04T05:06:07.000123")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "status=OK rows=2") {
		t.Errorf("unexpected run output %q", out)
	}

	out, err = execute(t, "run", "--source-id", "3")
	if err == nil {
		t.Fatal("expected a FAILED run to return an error")
	}
	if !strings.Contains(out, "status=FAILED rows=0") {
		t.Errorf("unexpected run output %q", out)
	}

	out, err = execute(t, "run", "--source-id", "missing")
	if err == nil {
		t.Fatal("expected an unknown source to return an error")
	}
	if !strings.Contains(out, "status=NOT_STARTED") {
		t.Errorf("unexpected run output %q", out)
	}

	out, err = execute(t, "runs", "--format", "json")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, `"total_runs": 2`) || !strings.Contains(out, `"total_rows": 2`) {
		t.Errorf("unexpected runs output %q", out)
	}
	if !strings.Contains(out, "Over capacity") {
		t.Errorf("expected the failure message in the report, got %q", out)
	}

	out, err = execute(t, "runs", "--status", "OK")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "Total Runs:    1") {
		t.Errorf("unexpected filtered runs output %q", out)
	}
}

func TestCLI_RunBatch(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "init-db"); err != nil {
		t.Fatalf("init-db: %v", err)
	}
	putSource(t, "a", "#a")
	putSource(t, "b", "#fail")

	out, err := execute(t, "run-batch", "a", "b", "--concurrency", "2")
	if err == nil {
		t.Fatal("expected error because source b failed")
	}
	if !strings.Contains(out, "source=a") || !strings.Contains(out, "source=b") {
		t.Errorf("expected both outcomes, got %q", out)
	}
	if strings.Count(out, "status=OK") != 1 || strings.Count(out, "status=FAILED") != 1 {
		t.Errorf("unexpected outcomes %q", out)
	}

	if _, err := execute(t, "run-batch", "a", "a"); err == nil {
		t.Error("expected duplicate sources to be rejected")
	}
}

func TestCLI_NDJSONRecords(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "records.ndjson")
	t.Setenv("TRAWL_DB_RECORDS", "ndjson")
	t.Setenv("TRAWL_DB_RECORDS_PATH", path)

	if _, err := execute(t, "init-db"); err != nil {
		t.Fatalf("init-db: %v", err)
	}
	putSource(t, "2", "#test")

	out, err := execute(t, "run", "--source-id", "2")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "rows=2") {
		t.Errorf("unexpected run output %q", out)
	}
}

func TestCLI_InvalidInput(t *testing.T) {
	setupEnv(t)

	if _, err := execute(t, "run", "--source-id", "2", "--trigger-time", "yesterday"); err == nil {
		t.Error("expected invalid trigger time to fail")
	}
	if _, err := execute(t, "run"); err == nil {
		t.Error("expected missing --source-id to fail")
	}
	if _, err := execute(t, "runs", "--format", "xml"); err == nil {
		t.Error("expected invalid format to fail")
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "trawl dev") {
		t.Errorf("unexpected version output %q", out)
	}
}
