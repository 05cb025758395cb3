package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", status.Status)
	}
}

func TestHealthChecker_OptionalFailureDegrades(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("db", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddOptionalCheck("cache", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })

	status := hc.CheckHealth()
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %q", status.Status)
	}
	if status.Checks["cache"].Status != StatusDegraded {
		t.Fatalf("expected cache check reported degraded, got %q", status.Checks["cache"].Status)
	}
}

func TestHealthChecker_HandlerUnhealthy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("db", func() CheckResult { return CheckResult{Status: StatusUnhealthy} })

	r := gin.New()
	r.GET("/health", hc.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Service != "svc" || body.Status != StatusUnhealthy {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestDatabaseHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	if res := DatabaseHealthCheck(db)(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
	if res := DatabaseHealthCheck(nil)(); res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for nil db, got %+v", res)
	}
}

func TestRedisHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	if res := RedisHealthCheck(client)(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
	mr.Close()
	if res := RedisHealthCheck(client)(); res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy after shutdown, got %+v", res)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"DATABASE_URL": "", "LLM_API_KEY": "x"})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", res.Status)
	}
	if res.Message != "Missing required configuration: [DATABASE_URL]" {
		t.Fatalf("unexpected message %q", res.Message)
	}
}
