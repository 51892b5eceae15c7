package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genfetch/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func healthServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/health") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckRemote_OK(t *testing.T) {
	srv := healthServer(t, http.StatusOK)
	cfg := testsupport.NewConfig(t, testsupport.WithRemoteURL(srv.URL+"/api"))

	result := CheckRemote(context.Background(), cfg)
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckRemote_BadKey(t *testing.T) {
	srv := healthServer(t, http.StatusOK)
	cfg := testsupport.NewConfig(t, testsupport.WithRemoteURL(srv.URL+"/api"))
	cfg.Remote.APIKey = "wrong"

	result := CheckRemote(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
}

func TestCheckRemote_MissingKey(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Remote.APIKey = ""

	result := CheckRemote(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected failure for missing key")
	}
	if !strings.Contains(result.Detail, "GENFETCH_API_KEY") {
		t.Fatalf("expected key hint, got: %s", result.Detail)
	}
}

func TestCheckBucket(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	if result := CheckBucket(context.Background(), "assets", cfg.Storage.AssetsURL); !result.Passed {
		t.Fatalf("expected pass for file bucket, got: %s", result.Detail)
	}
	if result := CheckBucket(context.Background(), "mem", "mem://"); !result.Passed {
		t.Fatalf("expected pass for mem bucket, got: %s", result.Detail)
	}
	if result := CheckBucket(context.Background(), "bogus", "nosuchscheme://x"); result.Passed {
		t.Fatal("expected failure for unknown scheme")
	}
}

func TestCheckRecoveryLogCountsPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	result := CheckRecoveryLog(context.Background(), cfg)
	if !result.Passed || result.Detail != "no pending batches" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunAllReportsRequiredFailures(t *testing.T) {
	srv := healthServer(t, http.StatusServiceUnavailable)
	cfg := testsupport.NewConfig(t, testsupport.WithRemoteURL(srv.URL+"/api"))

	results := RunAll(context.Background(), cfg)
	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Generation service" {
		t.Fatalf("expected only the remote check to fail, got %+v", failed)
	}
}
