package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/intentgate/internal/config"
	"github.com/goodtune/intentgate/internal/scheduler"
	"github.com/goodtune/intentgate/internal/state"
	"github.com/goodtune/intentgate/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	checkApp string
	checkAt  string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check scheduler decisions interactively",
	Long:  `Check what decision IntentGate would make against the currently persisted state.`,
}

var checkDecisionCmd = &cobra.Command{
	Use:   "decision",
	Short: "Check the launch decision for an app",
	Long:  `Evaluate the decision chain for an app against the persisted state without recording anything.`,
	Example: `  intentgate -c config.yaml check decision --app com.example.feed
  intentgate check decision --app com.example.feed --at 2025-06-01T12:00:00Z`,
	RunE: runCheckDecision,
}

var checkQuotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the remaining shared bypass quota",
	Long:  `Show the shared rolling-window bypass quota against the persisted state.`,
	RunE:  runCheckQuota,
}

func init() {
	checkDecisionCmd.Flags().StringVar(&checkApp, "app", "", "App identifier (required)")
	checkDecisionCmd.Flags().StringVar(&checkAt, "at", "", "Evaluation time (RFC 3339) - defaults to now")
	_ = checkDecisionCmd.MarkFlagRequired("app")

	checkQuotaCmd.Flags().StringVar(&checkAt, "at", "", "Evaluation time (RFC 3339) - defaults to now")

	checkCmd.AddCommand(checkDecisionCmd)
	checkCmd.AddCommand(checkQuotaCmd)
	rootCmd.AddCommand(checkCmd)
}

// loadCheckState loads config, storage, and the persisted state for a
// read-only check. The caller must Close the returned store.
func loadCheckState(at string) (*config.Config, storage.Store, *state.State, time.Time, error) {
	checkTime := time.Now()
	if at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, nil, nil, time.Time{}, fmt.Errorf("invalid --at time (want RFC 3339): %w", err)
		}
		checkTime = parsed
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, time.Time{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, nil, nil, time.Time{}, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := store.State().Load(ctx)
	if err != nil && err != storage.ErrNotFound {
		_ = store.Close()
		return nil, nil, nil, time.Time{}, fmt.Errorf("failed to load state: %w", err)
	}

	return cfg, store, state.FromSnapshot(snap), checkTime, nil
}

func newCheckEngine(cfg *config.Config, at time.Time) *scheduler.Engine {
	// Quiet logger for check mode
	logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()

	engine := scheduler.NewEngine(scheduler.EngineConfig{
		Quota: scheduler.Quota{
			MaxUses:   cfg.Quota.MaxUses,
			Window:    parseDuration(cfg.Quota.Window, time.Hour),
			Unlimited: cfg.Quota.Unlimited,
		},
	}, logger)
	engine.SetClock(&scheduler.TestClock{CurrentTime: at})
	return engine
}

func runCheckDecision(cmd *cobra.Command, args []string) error {
	cfg, store, st, checkTime, err := loadCheckState(checkAt)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := newCheckEngine(cfg, checkTime)
	decision := engine.Decide(checkApp, checkTime, st)

	printDecisionResult(checkApp, checkTime, st, decision)
	return nil
}

func runCheckQuota(cmd *cobra.Command, args []string) error {
	cfg, store, st, checkTime, err := loadCheckState(checkAt)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := newCheckEngine(cfg, checkTime)
	remaining := engine.QuotaRemaining(st, checkTime)

	printQuotaResult(cfg, st, checkTime, remaining, engine.Quota())
	return nil
}

// printDecisionResult prints the decision check result with colors
func printDecisionResult(app string, checkTime time.Time, st *state.State, decision scheduler.Decision) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("DECISION CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("App:        %s\n", app)
	fmt.Printf("Check Time: %s\n", checkTime.Format(time.RFC3339))
	if st.LastForegroundApp != "" {
		fmt.Printf("Foreground: %s\n", st.LastForegroundApp)
	} else {
		fmt.Printf("Foreground: (none recorded)\n")
	}
	if t, ok := st.BypassTimers[app]; ok {
		fmt.Printf("Bypass:     valid until %s\n", t.ExpiresAt.Format(time.RFC3339))
	}
	if t, ok := st.IntentionTimers[app]; ok {
		fmt.Printf("Intention:  valid until %s\n", t.ExpiresAt.Format(time.RFC3339))
	}
	if pe, ok := st.PendingExpiry[app]; ok {
		fmt.Printf("Pending:    expired at %s (foreground: %v)\n", pe.ExpiredAt.Format(time.RFC3339), pe.ExpiredWhileForeground)
	}
	fmt.Println()

	cyan.Print("Decision:   ")
	if !decision.Launch {
		green.Println("SUPPRESS")
		fmt.Println("            → No surface will be launched")
	} else {
		switch decision.Reason {
		case scheduler.ReasonPostExpiryChoice:
			red.Println("POST_EXPIRY_CHOICE")
			fmt.Println("            → A bypass expired while the app was foreground")
			fmt.Println("            → The user must resolve the pending enforcement")
		case scheduler.ReasonOfferBypass:
			yellow.Println("OFFER_BYPASS")
			fmt.Println("            → Quota is available")
			fmt.Println("            → A short bypass will be offered")
		case scheduler.ReasonStartIntervention:
			red.Println("START_INTERVENTION")
			fmt.Println("            → Quota is exhausted")
			fmt.Println("            → The full interruption flow will be launched")
		}
	}
	if decision.QuotaRemaining == scheduler.UnlimitedQuotaRemaining {
		fmt.Printf("Quota Left: unlimited\n")
	} else {
		fmt.Printf("Quota Left: %d\n", decision.QuotaRemaining)
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

// printQuotaResult prints the quota check result with colors
func printQuotaResult(cfg *config.Config, st *state.State, checkTime time.Time, remaining int, quota scheduler.Quota) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	cyan.Println("QUOTA CHECK")
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	fmt.Printf("Check Time: %s\n", checkTime.Format(time.RFC3339))
	fmt.Printf("Window:     %s\n", cfg.Quota.Window)
	if quota.Unlimited {
		fmt.Printf("Budget:     unlimited\n")
	} else {
		fmt.Printf("Budget:     %d uses\n", quota.MaxUses)
	}
	fmt.Printf("Live Uses:  %d\n", st.LiveQuotaUses(checkTime, quota.Window))
	fmt.Println()

	cyan.Print("Remaining:  ")
	if quota.Unlimited {
		green.Println("unlimited")
	} else if remaining > 0 {
		green.Printf("%d\n", remaining)
	} else {
		red.Println("0 (exhausted)")
		fmt.Println("            → The next uncovered foreground event starts an intervention")
	}

	fmt.Println()
	cyan.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}
