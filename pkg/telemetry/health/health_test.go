package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name            string
		timeout         time.Duration
		expectedTimeout time.Duration
	}{
		{name: "default timeout", timeout: 0, expectedTimeout: 5 * time.Second},
		{name: "negative timeout", timeout: -time.Second, expectedTimeout: 5 * time.Second},
		{name: "custom timeout", timeout: 10 * time.Second, expectedTimeout: 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(tt.timeout)
			if checker.checkTimeout != tt.expectedTimeout {
				t.Errorf("expected timeout %v, got %v", tt.expectedTimeout, checker.checkTimeout)
			}
			if n := len(checker.ListChecks()); n != 0 {
				t.Errorf("expected 0 checks, got %d", n)
			}
		})
	}
}

func TestRegisterCheck(t *testing.T) {
	checker := New(time.Second)

	checker.RegisterCheck("store", Critical, func(ctx context.Context) error { return errors.New("old") })
	checker.RegisterCheck("storage_quota", Advisory, func(ctx context.Context) error { return nil })
	checker.RegisterCheck("admission", Advisory, func(ctx context.Context) error { return nil })

	if got := checker.ListChecks(); !reflect.DeepEqual(got, []string{"admission", "storage_quota", "store"}) {
		t.Errorf("ListChecks() = %v", got)
	}

	// Re-registering replaces both the check and its severity.
	checker.RegisterCheck("store", Advisory, func(ctx context.Context) error { return nil })
	status := checker.CheckReadiness(context.Background())
	if res := status.Checks["store"]; res.Status != StatusOK || res.Severity != Advisory {
		t.Errorf("store = %+v, want ok advisory", res)
	}
	if n := len(checker.ListChecks()); n != 3 {
		t.Errorf("expected 3 checks, got %d", n)
	}
}

func TestSeverity_Text(t *testing.T) {
	for _, sev := range []Severity{Critical, Advisory} {
		text, err := sev.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", sev, err)
		}
		var got Severity
		if err := got.UnmarshalText(text); err != nil || got != sev {
			t.Errorf("UnmarshalText(%q) = %v, %v", text, got, err)
		}
	}

	var s Severity
	if err := s.UnmarshalText([]byte("fatal")); err == nil {
		t.Error("expected error for unknown severity")
	}
	if got := Severity(9).String(); got != "severity(9)" {
		t.Errorf("String() = %q", got)
	}
}

func TestCheckLiveness(t *testing.T) {
	status := New(time.Second).CheckLiveness(context.Background())
	if status.Status != StatusOK {
		t.Errorf("expected status ok, got %s", status.Status)
	}
	if status.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestCheckReadiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(msg string) CheckFunc {
		return func(context.Context) error { return errors.New(msg) }
	}

	type check struct {
		severity Severity
		fn       CheckFunc
	}

	tests := []struct {
		name        string
		checks      map[string]check
		wantStatus  string
		wantFailing []string
	}{
		{
			name:       "no checks",
			wantStatus: StatusReady,
		},
		{
			name: "all healthy",
			checks: map[string]check{
				"store":         {Critical, ok},
				"storage_quota": {Advisory, ok},
			},
			wantStatus: StatusReady,
		},
		{
			name: "advisory failure degrades",
			checks: map[string]check{
				"store":         {Critical, ok},
				"storage_quota": {Advisory, fail("storage at 91.0% of quota")},
			},
			wantStatus:  StatusDegraded,
			wantFailing: []string{"storage_quota"},
		},
		{
			name: "critical failure is unavailable",
			checks: map[string]check{
				"store":     {Critical, fail("store read: closed")},
				"admission": {Advisory, ok},
			},
			wantStatus:  StatusUnavailable,
			wantFailing: []string{"store"},
		},
		{
			name: "critical outranks advisory",
			checks: map[string]check{
				"store":         {Critical, fail("store read: closed")},
				"storage_quota": {Advisory, fail("storage at 95.0% of quota")},
				"admission":     {Advisory, fail("queue for wss://a is full (50)")},
			},
			wantStatus:  StatusUnavailable,
			wantFailing: []string{"admission", "storage_quota", "store"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second)
			for name, c := range tt.checks {
				checker.RegisterCheck(name, c.severity, c.fn)
			}

			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
			if !reflect.DeepEqual(status.Failing, tt.wantFailing) {
				t.Errorf("failing = %v, want %v", status.Failing, tt.wantFailing)
			}
			for _, name := range tt.wantFailing {
				res := status.Checks[name]
				if res.Status != StatusUnhealthy || res.Message == "" {
					t.Errorf("check %s = %+v, want unhealthy with message", name, res)
				}
				if res.Severity != tt.checks[name].severity {
					t.Errorf("check %s severity = %v, want %v", name, res.Severity, tt.checks[name].severity)
				}
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	checker := New(20 * time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	checker.RegisterCheck("slow", Critical, func(ctx context.Context) error {
		<-release
		return nil
	})

	status := checker.CheckReadiness(context.Background())
	if status.Status != StatusUnavailable {
		t.Errorf("status = %s, want unavailable", status.Status)
	}
	if msg := status.Checks["slow"].Message; msg != ErrCheckTimeout.Error() {
		t.Errorf("message = %q, want %q", msg, ErrCheckTimeout.Error())
	}
}

func TestCheckReadiness_ContextCancellation(t *testing.T) {
	checker := New(time.Second)
	checker.RegisterCheck("ctx", Advisory, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status := checker.CheckReadiness(ctx)
	if status.Checks["ctx"].Status != StatusUnhealthy {
		t.Errorf("expected cancelled check to be unhealthy, got %+v", status.Checks["ctx"])
	}
}

func TestLivenessHandler(t *testing.T) {
	handler := New(time.Second).LivenessHandler()

	tests := []struct {
		method   string
		wantCode int
		wantBody bool
	}{
		{http.MethodGet, http.StatusOK, true},
		{http.MethodHead, http.StatusOK, false},
		{http.MethodPost, http.StatusMethodNotAllowed, true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(tt.method, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if (rec.Body.Len() > 0) != tt.wantBody {
				t.Errorf("body present = %v, want %v", rec.Body.Len() > 0, tt.wantBody)
			}
		})
	}
}

func TestReadinessHandler(t *testing.T) {
	checker := New(time.Second)
	var storeErr, quotaErr error
	checker.RegisterCheck("store", Critical, func(context.Context) error { return storeErr })
	checker.RegisterCheck("storage_quota", Advisory, func(context.Context) error { return quotaErr })

	tests := []struct {
		name       string
		storeErr   error
		quotaErr   error
		wantCode   int
		wantStatus string
	}{
		{name: "ready", wantCode: http.StatusOK, wantStatus: StatusReady},
		{name: "quota pressure", quotaErr: errors.New("storage at 91.0% of quota"), wantCode: http.StatusOK, wantStatus: StatusDegraded},
		{name: "store down", storeErr: errors.New("store read: closed"), wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storeErr, quotaErr = tt.storeErr, tt.quotaErr

			rec := httptest.NewRecorder()
			checker.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status.Status, tt.wantStatus)
			}
			if status.Checks["store"].Severity != Critical {
				t.Errorf("store severity = %v, want critical", status.Checks["store"].Severity)
			}
			if tt.storeErr != nil && status.Checks["store"].Message != tt.storeErr.Error() {
				t.Errorf("message = %q", status.Checks["store"].Message)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	Register(mux, New(time.Second), "1.2.3", "abc123", "2026-10-01")

	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s code = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("unexpected version info %+v", info)
	}
}
