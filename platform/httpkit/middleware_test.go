package httpkit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldops_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "backfill-secret"

type testJWTConfig struct{}

func (testJWTConfig) GetJWTAccessSecret() string { return "jwt-secret" }

func newSecretEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/backfill", SharedSecretRequired(testSecret, logger.New("development")), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return engine
}

func TestSharedSecretRequired(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testSecret, http.StatusUnauthorized},
		{"wrong secret", "Bearer nope", http.StatusUnauthorized},
		{"valid secret", "Bearer " + testSecret, http.StatusOK},
	}

	engine := newSecretEngine()
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/backfill", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestSharedSecretRequiredRejectsWhenUnconfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.POST("/backfill", SharedSecretRequired("", nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodPost, "/backfill", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with empty configured secret, got %d", rec.Code)
	}
}

func TestAuthRequiredSetsIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	userID := uuid.New()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("jwt-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	var got Identity
	engine := gin.New()
	engine.GET("/me", AuthRequired(testJWTConfig{}), func(c *gin.Context) {
		got = GetIdentity(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got == nil || got.UserID() != userID || got.Kind() != ActorUser {
		t.Fatalf("unexpected identity: %#v", got)
	}
}

func TestSharedSecretCallerHasNoActorID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var kind string
	var actor *uuid.UUID
	engine := gin.New()
	engine.POST("/backfill", SharedSecretRequired(testSecret, nil), func(c *gin.Context) {
		kind = GetIdentity(c).Kind()
		actor = ActorID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/backfill", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	engine.ServeHTTP(httptest.NewRecorder(), req)

	if kind != ActorService || actor != nil {
		t.Fatalf("expected service caller without actor id, got kind=%q actor=%v", kind, actor)
	}
}

func TestRequestIDEchoesOrMints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RequestID())
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if got := rec.Header().Get(HeaderRequestID); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if _, err := uuid.Parse(rec.Header().Get(HeaderRequestID)); err != nil {
		t.Fatalf("expected minted uuid, got %q", rec.Header().Get(HeaderRequestID))
	}
}

func TestAuthRequiredRejectsQueryToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/me", AuthRequired(testJWTConfig{}), func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me?token=whatever", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
