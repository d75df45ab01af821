package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lithammer/shortuuid/v4"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/quota"
)

func main() {
	var (
		userFlag     string
		typeFlag     string
		amountFlag   int
		expiresFlag  time.Duration
		chargeFlag   int
		providerFlag string
		modelFlag    string
	)

	flag.StringVar(&userFlag, "user", "", "user ID to credit")
	flag.StringVar(&typeFlag, "type", string(domain.GrantTypeQuotaPack), "grant type (daily_free, quota_pack, monthly, yearly)")
	flag.IntVar(&amountFlag, "amount", 100, "credits to grant")
	flag.DurationVar(&expiresFlag, "expires", 0, "grant lifetime (0 never expires)")
	flag.IntVar(&chargeFlag, "seed-charge", 0, "when >0, consume this many credits and create a pending task charged to the grant")
	flag.StringVar(&providerFlag, "provider", "wavespeed", "provider of the seeded task")
	flag.StringVar(&modelFlag, "model", "z-image", "model of the seeded task")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	grantType := domain.GrantType(strings.ToLower(strings.TrimSpace(typeFlag)))
	switch grantType {
	case domain.GrantTypeDailyFree, domain.GrantTypeQuotaPack, domain.GrantTypeMonthly, domain.GrantTypeYearly:
	default:
		exitWithError(fmt.Errorf("unsupported grant type %q", typeFlag))
	}
	if amountFlag <= 0 {
		exitWithError(errors.New("-amount must be positive"))
	}
	if chargeFlag > amountFlag {
		exitWithError(errors.New("-seed-charge exceeds -amount"))
	}

	if err := infra.LoadDotEnv(); err != nil {
		exitWithError(err)
	}
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "quotagrant").Logger()
	runner := infra.NewSQLRunner(pool, logger)
	grants := repo.NewGrantRepository(runner)
	ledger := quota.NewLedger(grants, repo.NewLedgerRepository(runner), logger)

	grant := &domain.QuotaGrant{UserID: userID, Type: grantType, Amount: amountFlag}
	if expiresFlag > 0 {
		expires := time.Now().UTC().Add(expiresFlag)
		grant.ExpiresAt = &expires
	}
	if err := grants.Issue(ctx, grant); err != nil {
		exitWithError(fmt.Errorf("failed to issue grant: %w", err))
	}
	fmt.Printf("Grant %s issued to %s: %d %s credits\n", grant.ID, userID, grant.Amount, grant.Type)

	if chargeFlag <= 0 {
		return
	}

	task := &domain.GenerationTask{
		TaskID:   uuid.NewString(),
		ShareID:  shortuuid.New(),
		UserID:   userID,
		TaskType: "text-to-image",
		Provider: strings.TrimSpace(providerFlag),
		Model:    strings.TrimSpace(modelFlag),
	}
	entry, err := ledger.Consume(ctx, grant.ID, chargeFlag, "task "+task.TaskID)
	if err != nil {
		exitWithError(fmt.Errorf("failed to consume credits: %w", err))
	}
	task.ConsumeTransactionID = &entry.ID
	if err := repo.NewTaskRepository(runner).Create(ctx, task); err != nil {
		exitWithError(fmt.Errorf("failed to create task: %w", err))
	}
	fmt.Printf("Task %s (share %s) pending, charged %d\n", task.TaskID, task.ShareID, chargeFlag)
	fmt.Printf("webhook: POST /webhook/%s/%s\n", task.Provider, task.TaskID)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
