package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"pharma-chain.backend/internal/config"
	"pharma-chain.backend/internal/domain/entities"
	"pharma-chain.backend/pkg/jwt"
)

const adminRole = "admin"

type tokenIssuer interface {
	GenerateToken(subject, address, role string) (string, error)
}

type adminTokenDeps struct {
	loadEnv func() error
	loadCfg func() *config.Config
	issuer  func(cfg *config.Config) tokenIssuer
	now     func() time.Time
	out     io.Writer
}

func defaultAdminTokenDeps() adminTokenDeps {
	return adminTokenDeps{
		loadEnv: func() error { return godotenv.Load() },
		loadCfg: config.Load,
		issuer: func(cfg *config.Config) tokenIssuer {
			return jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiry)
		},
		now: time.Now,
		out: os.Stdout,
	}
}

// resolveRole accepts admin or any ledger participant role
func resolveRole(input string) (string, error) {
	role := strings.TrimSpace(input)
	if strings.EqualFold(role, adminRole) {
		return adminRole, nil
	}
	r := entities.Role(role)
	if !r.Valid() || r == entities.RoleNone {
		return "", fmt.Errorf("invalid role: %s (allowed: admin, Manufacturer, Distributor, Retailer, Pharmacy)", input)
	}
	return role, nil
}

func resolveSubject(input, role string, now time.Time) string {
	if s := strings.TrimSpace(input); s != "" {
		return s
	}
	return fmt.Sprintf("ops-%s-%s", strings.ToLower(role), now.Format("20060102-150405"))
}

func runAdminToken(args []string, deps adminTokenDeps) error {
	def := defaultAdminTokenDeps()
	if deps.loadEnv == nil {
		deps.loadEnv = def.loadEnv
	}
	if deps.loadCfg == nil {
		deps.loadCfg = def.loadCfg
	}
	if deps.issuer == nil {
		deps.issuer = def.issuer
	}
	if deps.now == nil {
		deps.now = def.now
	}
	if deps.out == nil {
		deps.out = def.out
	}

	fs := flag.NewFlagSet("admin-token", flag.ContinueOnError)
	subjectFlag := fs.String("subject", "", "token subject (optional, generated when empty)")
	addressFlag := fs.String("address", "", "operator wallet address (optional)")
	roleFlag := fs.String("role", adminRole, "operator role")
	if err := fs.Parse(args); err != nil {
		return err
	}

	role, err := resolveRole(*roleFlag)
	if err != nil {
		return err
	}
	address := strings.TrimSpace(*addressFlag)
	if address != "" && !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address: %s", address)
	}

	if err := deps.loadEnv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := deps.loadCfg()

	issuedAt := deps.now()
	subject := resolveSubject(*subjectFlag, role, issuedAt)
	token, err := deps.issuer(cfg).GenerateToken(subject, address, role)
	if err != nil {
		return fmt.Errorf("failed issuing token: %w", err)
	}

	_, _ = fmt.Fprintln(deps.out, "Issued operator access token")
	_, _ = fmt.Fprintf(deps.out, "subject=%s\n", subject)
	_, _ = fmt.Fprintf(deps.out, "role=%s\n", role)
	_, _ = fmt.Fprintf(deps.out, "expires_at=%s\n", issuedAt.Add(cfg.JWT.AccessExpiry).UTC().Format(time.RFC3339))
	_, _ = fmt.Fprintf(deps.out, "ACCESS_TOKEN=%s\n", token)
	return nil
}

func main() {
	if err := runAdminToken(os.Args[1:], defaultAdminTokenDeps()); err != nil {
		log.Fatal(err)
	}
}
