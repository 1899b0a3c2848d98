package hardening

import (
	"strings"
	"testing"
)

func TestValidateProduction(t *testing.T) {
	base := Options{
		Service:         "consentd",
		Environment:     "production",
		Strict:          true,
		DBRequireTLS:    true,
		RedisAddr:       "consent-redis.internal:6379",
		RedisRequireTLS: true,
		CORSOrigins:     "https://console.example.com",
		RequiredSecrets: []Secret{{Name: "CONSENT_REVIEW_AUTH_TOKEN", Value: "secret"}},
	}

	t.Run("pass", func(t *testing.T) {
		if err := ValidateProduction(base); err != nil {
			t.Fatalf("expected pass, got %v", err)
		}
	})

	t.Run("non_prod_skip", func(t *testing.T) {
		o := base
		o.Environment = "development"
		o.DBRequireTLS = false
		o.CORSOrigins = "*"
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected skip in non-production, got %v", err)
		}
	})

	t.Run("db_tls_required", func(t *testing.T) {
		o := base
		o.DBRequireTLS = false
		err := ValidateProduction(o)
		if err == nil || !strings.Contains(err.Error(), "CONSENT_DB_REQUIRE_TLS") {
			t.Fatalf("expected database TLS enforcement error, got %v", err)
		}
	})

	t.Run("redis_tls_required", func(t *testing.T) {
		o := base
		o.RedisRequireTLS = false
		err := ValidateProduction(o)
		if err == nil || !strings.Contains(err.Error(), "CONSENT_REDIS_REQUIRE_TLS") {
			t.Fatalf("expected redis TLS enforcement error, got %v", err)
		}
	})

	t.Run("redis_tls_skipped_without_addr", func(t *testing.T) {
		o := base
		o.RedisAddr = ""
		o.RedisRequireTLS = false
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected redis checks to skip without an address, got %v", err)
		}
	})

	t.Run("cors_wildcard_forbidden", func(t *testing.T) {
		o := base
		o.CORSOrigins = "*"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected wildcard CORS error")
		}
	})

	t.Run("cors_localhost_forbidden", func(t *testing.T) {
		o := base
		o.CORSOrigins = "https://localhost:3000"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected localhost CORS error")
		}
	})

	t.Run("cors_https_required", func(t *testing.T) {
		o := base
		o.CORSOrigins = "http://console.example.com"
		if err := ValidateProduction(o); err == nil {
			t.Fatal("expected https CORS error")
		}
	})

	t.Run("cors_must_be_set", func(t *testing.T) {
		o := base
		o.CORSOrigins = " , "
		err := ValidateProduction(o)
		if err == nil || !strings.Contains(err.Error(), "CONSENT_CORS_ORIGINS") {
			t.Fatalf("expected missing origins error, got %v", err)
		}
	})

	t.Run("required_secret", func(t *testing.T) {
		o := base
		o.RequiredSecrets = []Secret{{Name: "CONSENT_REVIEW_AUTH_TOKEN", Value: ""}}
		err := ValidateProduction(o)
		if err == nil || !strings.Contains(err.Error(), "CONSENT_REVIEW_AUTH_TOKEN") {
			t.Fatalf("expected required secret error, got %v", err)
		}
	})

	t.Run("strict_opt_out", func(t *testing.T) {
		o := base
		o.Strict = false
		o.DBRequireTLS = false
		o.CORSOrigins = "*"
		if err := ValidateProduction(o); err != nil {
			t.Fatalf("expected opt-out skip, got %v", err)
		}
	})
}

func TestProductionLike(t *testing.T) {
	for _, env := range []string{"prod", "Production", " staging ", "stage"} {
		if !productionLike(env) {
			t.Fatalf("expected %q to count as production-like", env)
		}
	}
	for _, env := range []string{"", "dev", "development", "local", "test"} {
		if productionLike(env) {
			t.Fatalf("expected %q to skip hardening", env)
		}
	}
}
