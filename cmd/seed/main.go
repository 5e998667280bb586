// seed enrolls a development SMS OTP credential and prints a flow token for trying the step.
// Idempotent: an existing credential for the user is kept unless -rotate is given.
//
//	go run ./cmd/seed -realm acme -user dev-user-001 -phone +15550001234 [-rotate]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"

	"phone-otp-mfa/internal/config"
	credrepo "phone-otp-mfa/internal/credential/repository"
	credservice "phone-otp-mfa/internal/credential/service"
	"phone-otp-mfa/internal/db"
	"phone-otp-mfa/internal/security"
)

func main() {
	realm := flag.String("realm", "acme", "Realm of the dev user")
	userID := flag.String("user", "dev-user-001", "User id")
	phone := flag.String("phone", "+15550001234", "Phone number to enroll")
	rotate := flag.Bool("rotate", false, "Invalidate the credential secret so remembered devices must verify again")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; the seed writes to Postgres")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	codes, err := security.NewCodeMAC(cfg.CodePepper)
	if err != nil {
		log.Fatalf("code mac: %v", err)
	}
	repo := credrepo.NewPostgresRepository(conn.DB)
	provider := credservice.NewProvider(repo, repo, security.NewHasher(cfg.BcryptCost), codes, credservice.Config{
		MaxFailedAttempts: cfg.MaxFailedAttempts,
		TrustWindow:       time.Duration(cfg.TrustWindowSeconds) * time.Second,
	})

	cred, err := provider.GetOtpCredential(ctx, *userID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	switch {
	case cred == nil:
		cred, err = provider.Enroll(ctx, *realm, *userID, *phone)
		if err != nil {
			log.Fatalf("enroll: %v", err)
		}
		log.Printf("enrolled credential %s for %s", cred.ID, *userID)
	case *rotate:
		if err := provider.InvalidateSecret(ctx, *userID); err != nil {
			log.Fatalf("rotate: %v", err)
		}
		log.Printf("rotated secret of credential %s", cred.ID)
	default:
		log.Printf("credential %s already exists for %s; skipping", cred.ID, *userID)
	}

	tokens, err := security.NewFlowTokens(cfg.FlowTokenSecret, cfg.FlowTokenIssuer, cfg.FlowSessionTTL())
	if err != nil {
		log.Fatalf("flow tokens: %v", err)
	}
	flowID := uuid.New().String()
	token, expiresAt, err := tokens.Issue(flowID, *userID, *realm)
	if err != nil {
		log.Fatalf("issue flow token: %v", err)
	}
	fmt.Printf("flow_id=%s\nexpires_at=%s\nAUTH_FLOW=%s\nurl=http://localhost%s%s/%s/login-actions/sms-otp\n",
		flowID, expiresAt.Format("2006-01-02T15:04:05Z07:00"), token,
		cfg.HTTPAddr, cfg.RealmBasePath, url.PathEscape(*realm))
}
