// Command login-url generates one-time login URLs for a user, the way
// an operator would from a shell:
//
//	login-url -user alice@example.com -count 2 \
//	    -activate-at 2025-01-01 -deactivate-at 2025-01-02 \
//	    -retire-at 2025-01-02 -redirect /profile
//
// It prints one URL per generated token. Unparseable time input
// terminates the run with a descriptive error and a non-zero status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	appErrors "github.com/noah-isme/one-time-login-api/pkg/errors"

	"github.com/noah-isme/one-time-login-api/pkg/config"
	"github.com/noah-isme/one-time-login-api/pkg/database"
	"github.com/noah-isme/one-time-login-api/pkg/export"
	"github.com/noah-isme/one-time-login-api/pkg/logger"

	"github.com/noah-isme/one-time-login-api/internal/models"
	"github.com/noah-isme/one-time-login-api/internal/repository"
	"github.com/noah-isme/one-time-login-api/internal/scheduler"
	"github.com/noah-isme/one-time-login-api/internal/service"
)

func main() {
	var (
		user         string
		count        int
		activateAt   string
		deactivateAt string
		retireAt     string
		redirect     string
		pdfPath      string
	)

	flag.StringVar(&user, "user", "", "user id, email address, or login name (required)")
	flag.IntVar(&count, "count", 1, "number of login tokens to generate")
	flag.StringVar(&activateAt, "activate-at", "", "validity start, YYYY-MM-DD or date-time; empty = no lower bound")
	flag.StringVar(&deactivateAt, "deactivate-at", "", "validity end, YYYY-MM-DD or date-time; empty = no upper bound")
	flag.StringVar(&retireAt, "retire-at", "", "retirement: empty or 'immediate' = delete on first use, 'never', a date, minutes, or a duration like 45m")
	flag.StringVar(&redirect, "redirect", "", "relative path to land on after login")
	flag.StringVar(&pdfPath, "pdf", "", "also write the URLs as PDF login slips to this path")
	flag.Parse()

	if user == "" {
		fmt.Fprintln(os.Stderr, "error: -user is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close() //nolint:errcheck

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(userRepo)
	cleanupRepo := repository.NewCleanupRepository(db)

	// The scheduler is not started here: registrations are persisted
	// and the server fires them.
	sched := scheduler.New(cleanupRepo, scheduler.Config{Logger: logr})

	tokenSvc := service.NewTokenService(tokenRepo, userRepo, sched, nil, nil, logr, service.TokenConfig{
		BaseURL:           cfg.Login.BaseURL,
		LoginPath:         cfg.Login.Path,
		DefaultRedirect:   cfg.Login.DefaultRedirect,
		CleanupIncludeNew: cfg.Login.CleanupIncludeNew,
	})
	sched.SetPruner(tokenSvc)

	ctx := context.Background()

	target, err := userRepo.Fetch(ctx, user)
	if err != nil {
		fatalf("could not resolve user %q: %v", user, err)
	}

	res, err := tokenSvc.Issue(ctx, models.IssueRequest{
		UserID:       target.ID,
		Count:        count,
		ActivateAt:   activateAt,
		DeactivateAt: deactivateAt,
		RetireAt:     retireAt,
		Redirect:     redirect,
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			fatalf("%s", appErr.Message)
		}
		fatalf("issue failed: %v", err)
	}

	for _, u := range res.URLs {
		fmt.Println(u)
	}
	if res.CleanupAt != nil {
		fmt.Fprintf(os.Stderr, "pre-existing tokens scheduled for cleanup at %s\n", res.CleanupAt.Format("2006-01-02 15:04:05 MST"))
	}

	if pdfPath != "" {
		slips := make([]export.LoginSlip, 0, len(res.URLs))
		for i, u := range res.URLs {
			slips = append(slips, export.LoginSlip{
				UserLabel:   target.Login,
				URL:         u,
				ActiveFrom:  res.Tokens[i].ActivateAt.Format("2006-01-02 15:04"),
				ActiveUntil: res.Tokens[i].DeactivateAt.Format("2006-01-02 15:04"),
			})
		}
		data, err := export.RenderPDF("One-Time Login URLs", slips)
		if err != nil {
			fatalf("failed to render pdf: %v", err)
		}
		if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
			fatalf("failed to write pdf: %v", err)
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", pdfPath)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
