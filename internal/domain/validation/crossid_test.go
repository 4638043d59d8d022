package validation

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"testing"
)

func TestRunCrossIdentityUnauthorizedAccessViolation(t *testing.T) {
	t.Parallel()

	// Broken endpoint: every identity gets 200 regardless of credentials.
	env := newValidationEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	f := env.finding("/api/admin/settings")
	identities := []IdentityProbe{
		{IdentityID: "admin", AuthType: AuthBearer, AuthHeader: "Bearer admin-token", ShouldHaveAccess: true},
		{IdentityID: "guest", AuthType: AuthBearer, AuthHeader: "Bearer guest-token", ShouldHaveAccess: false},
	}

	res, err := env.engine.RunCrossIdentity(context.Background(), f, identities)
	if err != nil {
		t.Fatalf("RunCrossIdentity: %v", err)
	}
	if res.AuthorizationEnforced {
		t.Fatal("expected enforcement failure when guest reaches the endpoint")
	}
	want := []string{"guest: Gained unauthorized access (status 200)"}
	if !reflect.DeepEqual(res.Violations, want) {
		t.Fatalf("violations = %v, want %v", res.Violations, want)
	}
	if len(res.Results) != len(identities) {
		t.Fatalf("expected one result per identity, got %d", len(res.Results))
	}
	if res.Results[0].IdentityID != "admin" || res.Results[1].IdentityID != "guest" {
		t.Fatalf("results must keep input order, got %+v", res.Results)
	}
	for _, r := range res.Results {
		if !r.HasAccess {
			t.Fatalf("identity %s: expected access recorded for 200", r.IdentityID)
		}
	}

	tokens := map[string]bool{}
	for _, h := range env.handler.requests(t) {
		tokens[h.Get("Authorization")] = true
	}
	if !tokens["Bearer admin-token"] || !tokens["Bearer guest-token"] {
		t.Fatalf("expected both identities on the wire, saw %v", tokens)
	}

	if kinds := env.history.kinds(t); len(kinds) != 1 || kinds[0] != "cross_identity" {
		t.Fatalf("expected one cross_identity history row, got %v", kinds)
	}
}

func TestRunCrossIdentityDeniedExpectedAccess(t *testing.T) {
	t.Parallel()

	env := newValidationEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Authorization"), "admin") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	f := env.finding("/api/reports")
	res, err := env.engine.RunCrossIdentity(context.Background(), f, []IdentityProbe{
		{IdentityID: "admin", AuthType: AuthBearer, AuthHeader: "Bearer admin-token", ShouldHaveAccess: true},
		{IdentityID: "guest", AuthType: AuthBearer, AuthHeader: "Bearer guest-token", ShouldHaveAccess: false},
	})
	if err != nil {
		t.Fatalf("RunCrossIdentity: %v", err)
	}
	want := []string{
		"admin: Expected access but was denied (status 403)",
		"guest: Gained unauthorized access (status 200)",
	}
	if !reflect.DeepEqual(res.Violations, want) {
		t.Fatalf("violations = %v, want %v", res.Violations, want)
	}
	if res.AuthorizationEnforced {
		t.Fatal("expected enforcement failure")
	}
}

func TestRunCrossIdentityEnforcedWithoutViolations(t *testing.T) {
	t.Parallel()

	env := newValidationEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer admin-token" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})

	res, err := env.engine.RunCrossIdentity(context.Background(), env.finding("/api/admin"), []IdentityProbe{
		{IdentityID: "admin", AuthType: AuthBearer, AuthHeader: "Bearer admin-token", ShouldHaveAccess: true},
		{IdentityID: "guest", AuthType: AuthBearer, AuthHeader: "Bearer guest-token", ShouldHaveAccess: false},
	})
	if err != nil {
		t.Fatalf("RunCrossIdentity: %v", err)
	}
	if !res.AuthorizationEnforced {
		t.Fatalf("expected enforcement, got violations %v", res.Violations)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("expected empty violations slice, got %v", res.Violations)
	}
}

func TestRunCrossIdentityAuthHeaderConstruction(t *testing.T) {
	t.Parallel()

	env := newValidationEnv(t, nil, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	identities := []IdentityProbe{
		{IdentityID: "bearer-user", AuthType: AuthBearer, AuthHeader: "Bearer tok-1", ShouldHaveAccess: true},
		{IdentityID: "basic-user", AuthType: AuthBasic, AuthHeader: "Basic dXNlcjpwYXNz", ShouldHaveAccess: true},
		{IdentityID: "key-user", AuthType: AuthAPIKey, AuthHeader: "key-9000", ShouldHaveAccess: true},
		{IdentityID: "cookie-user", AuthType: AuthCookie, Cookies: map[string]string{"sid": "s1", "csrf": "c1"}, ShouldHaveAccess: true},
	}
	res, err := env.engine.RunCrossIdentity(context.Background(), env.finding("/api/me"), identities)
	if err != nil {
		t.Fatalf("RunCrossIdentity: %v", err)
	}
	if len(res.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(res.Results))
	}

	sawAuth := map[string]bool{}
	sawKey := map[string]bool{}
	sawCookie := map[string]bool{}
	for _, h := range env.handler.requests(t) {
		sawAuth[h.Get("Authorization")] = true
		sawKey[h.Get("X-API-Key")] = true
		sawCookie[h.Get("Cookie")] = true
	}
	if !sawAuth["Bearer tok-1"] || !sawAuth["Basic dXNlcjpwYXNz"] {
		t.Fatalf("missing Authorization variants, saw %v", sawAuth)
	}
	if !sawKey["key-9000"] {
		t.Fatalf("missing X-API-Key header, saw %v", sawKey)
	}
	// Cookie pairs join in sorted key order for stable replay.
	if !sawCookie["csrf=c1; sid=s1"] {
		t.Fatalf("missing sorted Cookie header, saw %v", sawCookie)
	}
}

func TestRunCrossIdentityInputErrors(t *testing.T) {
	t.Parallel()

	env := newValidationEnv(t, nil, nil)

	if _, err := env.engine.RunCrossIdentity(context.Background(), env.finding("/x"), nil); err == nil {
		t.Fatal("expected error for empty identity list")
	}

	_, err := env.engine.RunCrossIdentity(context.Background(), env.finding("/x"), []IdentityProbe{
		{IdentityID: "odd", AuthType: "kerberos"},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown auth_type") {
		t.Fatalf("expected unknown auth_type error, got %v", err)
	}
	if len(env.handler.requests(t)) != 0 {
		t.Fatal("invalid input must not produce wire traffic")
	}
}

func TestRunCrossIdentityOutOfScopeAbortsRun(t *testing.T) {
	t.Parallel()

	env := newValidationEnv(t, nil, nil)
	f := Finding{FindingID: "finding-oos", Request: RequestSpec{Method: http.MethodGet, URL: "http://192.168.1.50/api"}}

	res, err := env.engine.RunCrossIdentity(context.Background(), f, []IdentityProbe{
		{IdentityID: "admin", AuthType: AuthBearer, AuthHeader: "Bearer t", ShouldHaveAccess: true},
	})
	if err == nil {
		t.Fatal("expected scope error to abort the run")
	}
	if res != nil {
		t.Fatalf("expected nil result on abort, got %+v", res)
	}
}
