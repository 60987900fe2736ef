package main

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"pharma-chain.backend/internal/config"
	"pharma-chain.backend/pkg/jwt"
)

type issuerFunc func(subject, address, role string) (string, error)

func (f issuerFunc) GenerateToken(subject, address, role string) (string, error) {
	return f(subject, address, role)
}

func testDeps(out *bytes.Buffer) adminTokenDeps {
	return adminTokenDeps{
		loadEnv: func() error { return errors.New("no .env") },
		loadCfg: func() *config.Config {
			return &config.Config{JWT: config.JWTConfig{Secret: "secret", AccessExpiry: time.Hour}}
		},
		now: func() time.Time { return time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC) },
		out: out,
	}
}

func TestResolveRole(t *testing.T) {
	for _, in := range []string{"admin", "ADMIN", " Manufacturer ", "Pharmacy"} {
		if _, err := resolveRole(in); err != nil {
			t.Fatalf("expected %q to be accepted: %v", in, err)
		}
	}
	for _, in := range []string{"", "None", "root"} {
		if _, err := resolveRole(in); err == nil {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestResolveSubject(t *testing.T) {
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	if got := resolveSubject("ops-1", "admin", now); got != "ops-1" {
		t.Fatalf("expected ops-1 got %s", got)
	}
	if got := resolveSubject("", "Distributor", now); got != "ops-distributor-20260215-120000" {
		t.Fatalf("unexpected generated subject: %s", got)
	}
}

func TestRunAdminToken_IssuesValidToken(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)

	err := runAdminToken([]string{"-subject", "ops-1", "-role", "Manufacturer", "-address", "0xF39Fd6e51aad88F6F4ce6aB8827279cffFb92266"}, deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var token string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "ACCESS_TOKEN=") {
			token = strings.TrimPrefix(line, "ACCESS_TOKEN=")
		}
	}
	if token == "" {
		t.Fatalf("missing token in output: %s", out.String())
	}
	if !strings.Contains(out.String(), "expires_at=2026-02-15T13:00:00Z") {
		t.Fatalf("unexpected expiry: %s", out.String())
	}

	claims, err := jwt.NewJWTService("secret", time.Hour).ValidateToken(token)
	if err != nil {
		t.Fatalf("token does not validate: %v", err)
	}
	if claims.Subject != "ops-1" || claims.Role != "Manufacturer" || claims.Address != "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestRunAdminToken_Errors(t *testing.T) {
	var out bytes.Buffer
	deps := testDeps(&out)

	if err := runAdminToken([]string{"-role", "root"}, deps); err == nil {
		t.Fatal("expected role error")
	}
	if err := runAdminToken([]string{"-address", "0x123"}, deps); err == nil {
		t.Fatal("expected address error")
	}
	if err := runAdminToken([]string{"-unknown"}, deps); err == nil {
		t.Fatal("expected flag error")
	}

	deps.issuer = func(*config.Config) tokenIssuer {
		return issuerFunc(func(string, string, string) (string, error) { return "", errors.New("sign failed") })
	}
	err := runAdminToken(nil, deps)
	if err == nil || !strings.Contains(err.Error(), "failed issuing token") {
		t.Fatalf("expected issuer error, got %v", err)
	}
}

func TestRunAdminToken_DefaultsApplied(t *testing.T) {
	var out bytes.Buffer
	var gotRole string
	deps := adminTokenDeps{
		loadEnv: func() error { return nil },
		loadCfg: testDeps(&out).loadCfg,
		issuer: func(*config.Config) tokenIssuer {
			return issuerFunc(func(_, _, role string) (string, error) {
				gotRole = role
				return "tok", nil
			})
		},
		out: &out,
	}
	if err := runAdminToken(nil, deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRole != "admin" {
		t.Fatalf("expected admin role, got %s", gotRole)
	}
	if !strings.Contains(out.String(), "ACCESS_TOKEN=tok") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestMain_ExitsOnInvalidRole(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_ADMIN_TOKEN") == "1" {
		os.Args = []string{"admin-token", "-role", "root"}
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMain_ExitsOnInvalidRole")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_ADMIN_TOKEN=1")
	if err := cmd.Run(); err == nil {
		t.Fatal("expected helper process to fail on invalid role")
	}
}
