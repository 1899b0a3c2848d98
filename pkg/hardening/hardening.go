package hardening

import (
	"fmt"
	"strings"
)

// Secret names a credential the daemon cannot start without in
// production, paired with whatever value was actually loaded.
type Secret struct {
	Name  string
	Value string
}

// Options carries the settings from pkg/config that the production
// checks inspect. The daemon fills it from config.Load, so fields are
// already typed rather than raw env strings.
type Options struct {
	Service         string
	Environment     string
	Strict          bool
	DBRequireTLS    bool
	RedisAddr       string
	RedisRequireTLS bool
	CORSOrigins     string
	RequiredSecrets []Secret
}

// ValidateProduction refuses startup configurations that would run a
// production-like deployment without transport security, with an open
// CORS policy, or with missing credentials. Development environments
// skip all checks, and Strict=false downgrades the rest to a no-op so
// staged rollouts can opt out deliberately.
func ValidateProduction(o Options) error {
	if !productionLike(o.Environment) {
		return nil
	}
	if !o.Strict {
		return nil
	}
	service := strings.TrimSpace(o.Service)
	if service == "" {
		service = "service"
	}
	if !o.DBRequireTLS {
		return fmt.Errorf("%s: production hardening requires CONSENT_DB_REQUIRE_TLS=true", service)
	}
	if strings.TrimSpace(o.RedisAddr) != "" && !o.RedisRequireTLS {
		return fmt.Errorf("%s: production hardening requires CONSENT_REDIS_REQUIRE_TLS=true", service)
	}
	if err := checkOrigins(o.CORSOrigins, service); err != nil {
		return err
	}
	for _, secret := range o.RequiredSecrets {
		if strings.TrimSpace(secret.Name) == "" {
			continue
		}
		if strings.TrimSpace(secret.Value) == "" {
			return fmt.Errorf("%s: production hardening requires %s", service, secret.Name)
		}
	}
	return nil
}

func checkOrigins(raw, service string) error {
	validCount := 0
	for _, origin := range strings.Split(raw, ",") {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		validCount++
		lower := strings.ToLower(o)
		if lower == "*" {
			return fmt.Errorf("%s: production hardening forbids CORS wildcard origin", service)
		}
		if strings.HasPrefix(lower, "http://localhost") || strings.HasPrefix(lower, "https://localhost") || strings.HasPrefix(lower, "http://127.0.0.1") || strings.HasPrefix(lower, "https://127.0.0.1") {
			return fmt.Errorf("%s: production hardening forbids localhost CORS origin %q", service, o)
		}
		if !strings.HasPrefix(lower, "https://") {
			return fmt.Errorf("%s: production hardening requires HTTPS CORS origin, got %q", service, o)
		}
	}
	if validCount == 0 {
		return fmt.Errorf("%s: production hardening requires explicit CONSENT_CORS_ORIGINS", service)
	}
	return nil
}

func productionLike(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	default:
		return false
	}
}
