package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/hospital-costing/cmd/costingctl/cli"
	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/auth"
	"github.com/odyssey-erp/hospital-costing/internal/seed"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// BatchOps is the allocation batch lifecycle.
type BatchOps interface {
	Execute(ctx context.Context, in allocation.ExecuteInput) (allocation.ExecutionResult, error)
	Review(ctx context.Context, batchID string) (allocation.Review, error)
	Post(ctx context.Context, batchID string, actorID int64) (allocation.Review, error)
	Rollback(ctx context.Context, batchID string, actorID int64, reason string) (allocation.RollbackResult, error)
}

// TokenIssuer mints API tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, userID int64, name string, ttl time.Duration) (auth.IssuedToken, error)
}

// JobQueue enqueues and inspects background jobs.
type JobQueue interface {
	Trigger(ctx context.Context, name, arg string) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (cli.QueueStats, error)
}

// Env holds the backends a command talks to.
type Env struct {
	Batches BatchOps
	Tokens  TokenIssuer
	Seeder  *seed.Seeder
	Jobs    JobQueue
	Close   func() error
}

// Connector opens the backends. It runs once per command invocation.
type Connector func(ctx context.Context) (*Env, error)

// CLIApp is the operator command line.
type CLIApp struct {
	rootCmd *cobra.Command
	connect Connector
	locale  string
	noColor bool
}

// NewCLIApp builds the command tree.
func NewCLIApp(connect Connector, out io.Writer) *CLIApp {
	a := &CLIApp{connect: connect}
	root := &cobra.Command{
		Use:           "costingctl",
		Short:         "Operate hospital cost allocation batches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if a.noColor {
				pterm.DisableStyling()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&a.locale, "locale", "en", "locale used to format amounts")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "render tables without ANSI styling")

	root.AddCommand(
		a.executeCmd(),
		a.reviewCmd(),
		a.postCmd(),
		a.rollbackCmd(),
		a.seedCmd(),
		a.tokenCmd(),
		a.jobsCmd(),
	)
	a.rootCmd = root
	return a
}

// Execute runs the CLI with os.Args.
func (a *CLIApp) Execute(ctx context.Context) error {
	return a.rootCmd.ExecuteContext(ctx)
}

// Run executes the CLI with explicit arguments.
func (a *CLIApp) Run(ctx context.Context, args ...string) error {
	a.rootCmd.SetArgs(args)
	return a.rootCmd.ExecuteContext(ctx)
}

func (a *CLIApp) withEnv(cmd *cobra.Command, fn func(*Env, *cli.Printer) error) error {
	env, err := a.connect(cmd.Context())
	if err != nil {
		return err
	}
	if env.Close != nil {
		defer func() { _ = env.Close() }()
	}
	return fn(env, cli.NewPrinter(cmd.OutOrStdout(), a.locale))
}

func (a *CLIApp) executeCmd() *cobra.Command {
	var month, start, end, key string
	var actor int64
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Compute a draft allocation batch for a period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			period, err := shared.ResolvePeriod(month, start, end)
			if err != nil {
				return err
			}
			return a.withEnv(cmd, func(env *Env, p *cli.Printer) error {
				res, err := env.Batches.Execute(cmd.Context(), allocation.ExecuteInput{Period: period, ActorID: actor, IdempotencyKey: key})
				if errors.Is(err, allocation.ErrNothingToAllocate) {
					p.Skipped(res.Skipped)
				}
				if err != nil {
					return err
				}
				p.Execution(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&month, "period", "", "month to allocate (YYYY-MM)")
	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "period end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "optional idempotency key")
	cmd.Flags().Int64Var(&actor, "actor", 0, "user id recorded as creator")
	return cmd
}

func (a *CLIApp) reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review BATCH_ID",
		Short: "Show the zero-sum review of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(env *Env, p *cli.Printer) error {
				review, err := env.Batches.Review(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				p.Review(review)
				return nil
			})
		},
	}
}

func (a *CLIApp) postCmd() *cobra.Command {
	var actor int64
	cmd := &cobra.Command{
		Use:   "post BATCH_ID",
		Short: "Post a balanced draft batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == 0 {
				return errors.New("--actor is required")
			}
			return a.withEnv(cmd, func(env *Env, p *cli.Printer) error {
				review, err := env.Batches.Post(cmd.Context(), args[0], actor)
				if err != nil {
					return err
				}
				p.Review(review)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&actor, "actor", 0, "user id recorded as poster")
	return cmd
}

func (a *CLIApp) rollbackCmd() *cobra.Command {
	var actor int64
	var reason string
	cmd := &cobra.Command{
		Use:   "rollback BATCH_ID",
		Short: "Reverse a draft or posted batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == 0 {
				return errors.New("--actor is required")
			}
			return a.withEnv(cmd, func(env *Env, p *cli.Printer) error {
				res, err := env.Batches.Rollback(cmd.Context(), args[0], actor, reason)
				if err != nil {
					return err
				}
				p.Rollback(res)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&actor, "actor", 0, "user id recorded as reverser")
	cmd.Flags().StringVar(&reason, "reason", "", "reason stored in the audit log")
	return cmd
}

func (a *CLIApp) seedCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load YAML fixtures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fx, err := seed.Load(path)
			if err != nil {
				return err
			}
			return a.withEnv(cmd, func(env *Env, _ *cli.Printer) error {
				if env.Seeder == nil {
					return errors.New("seeder not configured")
				}
				sum, err := env.Seeder.Apply(cmd.Context(), fx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d cost centers, %d transactions, %d statistics, %d rules\n",
					sum.CostCenters, sum.Transactions, sum.Statistics, sum.Rules)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "fixtures", "scripts/seed/fixtures.yaml", "fixture file")
	return cmd
}

func (a *CLIApp) tokenCmd() *cobra.Command {
	var user int64
	var name string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user == 0 {
				return errors.New("--user is required")
			}
			return a.withEnv(cmd, func(env *Env, _ *cli.Printer) error {
				issued, err := env.Tokens.Issue(cmd.Context(), user, name, ttl)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "token %s for user %d\n%s\n", issued.Token.ID, user, issued.Plaintext)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&user, "user", 0, "user id owning the token")
	cmd.Flags().StringVar(&name, "name", "costingctl", "token label")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, zero for no expiry")
	return cmd
}

func (a *CLIApp) jobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{Use: "jobs", Short: "Background job utilities"}

	var arg string
	trigger := &cobra.Command{
		Use:       "trigger JOB",
		Short:     "Enqueue a background job",
		Args:      cobra.ExactArgs(1),
		ValidArgs: cli.TriggerableJobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEnv(cmd, func(env *Env, _ *cli.Printer) error {
				info, err := env.Jobs.Trigger(cmd.Context(), args[0], arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}
	trigger.Flags().StringVar(&arg, "period", "", "month for allocation:execute (YYYY-MM), default previous")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEnv(cmd, func(env *Env, _ *cli.Printer) error {
				st, err := env.Jobs.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
					st.Queue, st.Pending, st.Active, st.Scheduled, st.Retry)
				return nil
			})
		},
	}

	jobsCmd.AddCommand(trigger, stats)
	return jobsCmd
}
