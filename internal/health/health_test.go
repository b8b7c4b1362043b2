package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) probeBody {
	t.Helper()
	var body probeBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decodeBody(t, rec); body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
}

func TestReadyzAllPass(t *testing.T) {
	h := New(
		Checker{Name: "bus", Check: func(context.Context) error { return nil }},
		Checker{Name: "memory", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeBody(t, rec)
	if body.Status != "ok" {
		t.Errorf("body status = %q, want ok", body.Status)
	}
	for _, name := range []string{"bus", "memory"} {
		if got := body.Checks[name].Status; got != "ok" {
			t.Errorf("check %s = %q, want ok", name, got)
		}
	}
}

func TestReadyzOneFails(t *testing.T) {
	h := New(
		Checker{Name: "bus", Check: func(context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "memory", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decodeBody(t, rec)
	if body.Status != "fail" {
		t.Errorf("body status = %q, want fail", body.Status)
	}
	if c := body.Checks["bus"]; c.Status != "fail" || c.Error != "connection refused" {
		t.Errorf("bus check = %+v", c)
	}
	if c := body.Checks["memory"]; c.Status != "ok" {
		t.Errorf("memory check reported %+v after unrelated failure", c)
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d with no checkers", rec.Code, http.StatusOK)
	}
}

func TestReadyzReportsEveryFailure(t *testing.T) {
	h := New(
		Checker{Name: "bus", Check: func(context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "memory", Check: func(context.Context) error {
			return errors.New("pool exhausted")
		}},
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	body := decodeBody(t, rec)
	if body.Checks["bus"].Error != "timeout" {
		t.Errorf("bus error = %q", body.Checks["bus"].Error)
	}
	if body.Checks["memory"].Error != "pool exhausted" {
		t.Errorf("memory error = %q", body.Checks["memory"].Error)
	}
}

func TestReadyzRespectsRequestCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
