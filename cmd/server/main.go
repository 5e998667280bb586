// server runs the SMS OTP login step: the HTTP pages and the gRPC health service.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"phone-otp-mfa/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	if err := app.runner.Run(ctx); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
