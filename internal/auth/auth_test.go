package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "rfid-attendance"
)

func TestIssueParse(t *testing.T) {
	tok, err := Issue("alice", RoleOperator, testIssuer, testKey, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := Parse(tok.Value, testKey, testIssuer)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "alice" || claims.Role != RoleOperator {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseRejects(t *testing.T) {
	good, _ := Issue("alice", RoleOperator, testIssuer, testKey, time.Minute)
	expired, _ := Issue("alice", RoleOperator, testIssuer, testKey, -time.Minute)
	tests := []struct {
		name, token, key, issuer string
	}{
		{"wrong key", good.Value, "other", testIssuer},
		{"wrong issuer", good.Value, testKey, "someone-else"},
		{"expired", expired.Value, testKey, testIssuer},
		{"garbage", "not.a.jwt", testKey, testIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.token, tt.key, tt.issuer); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestOperatorAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", OperatorAuth(testKey, testIssuer), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(Claims)
		c.String(http.StatusOK, claims.Subject)
	})

	op, _ := Issue("alice", RoleOperator, testIssuer, testKey, time.Minute)
	reader, _ := Issue("gate-1", "reader", testIssuer, testKey, time.Minute)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + reader.Value, http.StatusForbidden},
		{"operator", "bearer " + op.Value, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
