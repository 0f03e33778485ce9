package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vigil/internal/app"
	"vigil/internal/audit"
	"vigil/internal/auditdb"
	"vigil/internal/domain"
	"vigil/internal/engine"
	"vigil/internal/policy"
	"vigil/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil CLI",
	Long: `Vigil is a dead-man's-switch continuity orchestrator: it tracks a renewable
deadline and, absent renewal, escalates through ordered disclosure stages,
firing notification actions at each stage.

The engine itself never schedules anything. An external scheduler (cron or
similar) invokes 'vigil tick'; each tick deterministically evaluates the
policy rules against the state file, applies stage transitions, dispatches
the stage's actions exactly-once-per-success and appends to the audit
ledger. Renewal ('vigil renew') pushes the deadline out and de-escalates.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VIGIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(renewCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID == "" {
				return fmt.Errorf("--project required")
			}
			workspace := viper.GetString("workspace")
			if err := app.Init(workspace, projectID, time.Now()); err != nil {
				return err
			}
			fmt.Printf("initialized vigil workspace for %s in %s\n", projectID, workspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func tickCmd() *cobra.Command {
	var dryRun bool
	var nowStr, statePath, policyDir, auditPath string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tick of the escalation engine",
		Long: `Runs one deterministic pass: time evaluation, rule matching, stage
mutation, manual-override check, action selection and dispatch. With
--dry-run everything is evaluated and logged but the state file is not
written and side-effecting adapter calls are suppressed. The exit code
reflects process-level success only; a tick that escalates still exits 0.

When --state, --policies and --audit are all given, no initialized
workspace (vigil.yml) is required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(statePath, policyDir, auditPath)
			if err != nil {
				return err
			}
			if nowStr != "" {
				now, err := time.Parse(time.RFC3339, nowStr)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				a.Now = func() time.Time { return now }
			}
			st, err := a.LoadState()
			if err != nil {
				return err
			}
			e, err := a.Engine(dryRun)
			if err != nil {
				return err
			}
			res, err := e.Tick(cmd.Context(), st)
			if err != nil {
				return err
			}
			if !dryRun {
				if err := a.SaveState(st); err != nil {
					return err
				}
			}
			return printTickResult(res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without persisting state or executing side effects")
	cmd.Flags().StringVar(&nowStr, "now", "", "override current time (RFC3339, for testing)")
	cmd.Flags().StringVar(&statePath, "state", "", "state file path (overrides config)")
	cmd.Flags().StringVar(&policyDir, "policies", "", "policy directory (overrides config)")
	cmd.Flags().StringVar(&auditPath, "audit", "", "audit ledger path (overrides config)")
	return cmd
}

func renewCmd() *cobra.Command {
	var extend int
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Check in: push the deadline out and de-escalate",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			st, err := a.Renew(extend)
			if err != nil {
				return err
			}
			return printStatus(st)
		},
	}
	cmd.Flags().IntVar(&extend, "extend-minutes", 0, "minutes to extend (default from config)")
	return cmd
}

func releaseCmd() *cobra.Command {
	release := &cobra.Command{Use: "release", Short: "Manual release override"}
	release.AddCommand(releaseArmCmd())
	release.AddCommand(releaseStatusCmd())
	return release
}

func releaseArmCmd() *cobra.Command {
	var stage string
	var delay int
	cmd := &cobra.Command{
		Use:   "arm",
		Short: "Arm the manual release override",
		Long: `Arms the override: the next tick at or after the execute-after time
force-sets the target stage, bypassing the rule ladder. Only a renewal
disarms a triggered release.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			st, err := a.ArmRelease(stage, delay)
			if err != nil {
				return err
			}
			return printJSONOrTable(st.Release)
		},
	}
	cmd.Flags().StringVar(&stage, "stage", domain.StageFull, "target stage")
	cmd.Flags().IntVar(&delay, "delay-minutes", 0, "delay before the override takes effect")
	return cmd
}

func releaseStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the release override block",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			st, err := a.LoadState()
			if err != nil {
				return err
			}
			return printJSONOrTable(st.Release)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show timer, stage and action summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			st, err := a.LoadState()
			if err != nil {
				return err
			}
			// Show live timer math without mutating the state file.
			if deadline, err := time.Parse(time.RFC3339, st.Timer.Deadline); err == nil {
				snap := engine.EvaluateTimer(deadline, st.Timer.GraceMinutes, time.Now().UTC())
				st.Timer.MinutesToDeadline = snap.MinutesToDeadline
				st.Timer.MinutesOverdue = snap.MinutesOverdue
			}
			return printStatus(st)
		},
	}
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{
		Use:   "audit",
		Short: "Audit ledger",
		Long:  "The append-only record of everything the engine did: ticks, rule matches, transitions and receipts.",
	}
	aud.AddCommand(auditTailCmd())
	aud.AddCommand(auditQueryCmd())
	return aud
}

func auditTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail ledger events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			events, err := audit.Tail(a.AuditPath(), n)
			if err != nil {
				return err
			}
			return printJSONOrTable(events)
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func auditQueryCmd() *cobra.Command {
	var evtType, tickID, since string
	var limit int
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query the ledger through a SQLite index",
		Long:  "Rebuilds a SQLite index from the NDJSON ledger and runs a filtered query against it. The ledger itself stays untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			events, err := audit.Read(a.AuditPath())
			if err != nil {
				return err
			}
			db, err := auditdb.Open(a.AuditPath() + ".db")
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()
			if err := auditdb.Reindex(ctx, db, events); err != nil {
				return err
			}
			out, err := auditdb.Query(ctx, db, auditdb.Filter{Type: evtType, TickID: tickID, Since: since, Limit: limit})
			if err != nil {
				return err
			}
			return printJSONOrTable(out)
		},
	}
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&tickID, "tick", "", "tick id filter")
	cmd.Flags().StringVar(&since, "since", "", "RFC3339 lower bound")
	cmd.Flags().IntVar(&limit, "limit", 0, "max events")
	return cmd
}

func policyCmd() *cobra.Command {
	pol := &cobra.Command{Use: "policy", Short: "Policy tooling"}
	pol.AddCommand(policyCheckCmd())
	return pol
}

func policyCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate policy documents and lint stage monotonicity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			pol, err := a.LoadPolicy()
			if err != nil {
				return err
			}
			findings := policy.Check(pol, a.Adapters().Names())
			if len(findings) == 0 {
				fmt.Println("policy ok")
				return nil
			}
			hasError := false
			for _, f := range findings {
				if f.Level == "error" {
					hasError = true
				}
				if f.RuleID != "" {
					fmt.Printf("%s: rule %s: %s\n", f.Level, f.RuleID, f.Message)
				} else {
					fmt.Printf("%s: %s\n", f.Level, f.Message)
				}
			}
			if hasError {
				return errors.New("policy check failed")
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp("", "", "")
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("VIGIL_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("VIGIL_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Vigil admin API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func openApp(statePath, policyDir, auditPath string) (*app.App, error) {
	workspace := viper.GetString("workspace")
	a, err := app.Open(workspace)
	if err != nil {
		// With every input path given explicitly, no vigil.yml is needed.
		if statePath == "" || policyDir == "" || auditPath == "" {
			return nil, err
		}
		a = app.OpenDetached(workspace)
	}
	if statePath != "" {
		a.Config.Paths.State = statePath
	}
	if policyDir != "" {
		a.Config.Paths.Policies = policyDir
	}
	if auditPath != "" {
		a.Config.Paths.Audit = auditPath
	}
	return a, nil
}

func printTickResult(res engine.Result) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("tick %s\n", res.TickID)
	if res.DryRun {
		fmt.Println("dry run: state not persisted, side effects suppressed")
	}
	fmt.Printf("stage: %s -> %s\n", res.StageBefore, res.StageAfter)
	if len(res.MatchedRules) > 0 {
		fmt.Printf("matched rules: %s\n", strings.Join(res.MatchedRules, ", "))
	} else {
		fmt.Println("matched rules: none")
	}
	if len(res.Actions) == 0 {
		fmt.Println("actions: none")
		return nil
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Action", "Adapter", "Status", "Code"})
	for _, a := range res.Actions {
		t.AppendRow(table.Row{a.ActionID, a.Adapter, a.Status, a.Code})
	}
	t.Render()
	return nil
}

func printStatus(st *domain.State) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendRows([]table.Row{
		{"project", st.Meta.Project},
		{"stage", st.Escalation.Stage},
		{"deadline", st.Timer.Deadline},
		{"grace minutes", st.Timer.GraceMinutes},
		{"minutes to deadline", st.Timer.MinutesToDeadline},
		{"minutes overdue", st.Timer.MinutesOverdue},
		{"last renewal", st.Renewal.LastRenewalAt},
		{"renewal count", st.Renewal.Count},
		{"release triggered", st.Release.Triggered},
	})
	t.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
