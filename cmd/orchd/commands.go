package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/boardflow/orchestrator/internal/checkpoint"
	"github.com/boardflow/orchestrator/internal/command"
	"github.com/boardflow/orchestrator/internal/config"
	"github.com/boardflow/orchestrator/internal/domain"
	"github.com/boardflow/orchestrator/internal/events"
	"github.com/boardflow/orchestrator/internal/progress"
	"github.com/boardflow/orchestrator/internal/resilience"
	"github.com/boardflow/orchestrator/internal/scheduler"
	"github.com/boardflow/orchestrator/web/api"
)

var (
	runPriority string
	runTimeout  int
	purgeAll    bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator API server",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	runCmd := &cobra.Command{
		Use:   "run COMMAND [ARGS...]",
		Short: "Run a single command through the scheduler and wait",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runPriority, "priority", "normal", "job priority (critical|high|normal|low)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 300, "command timeout in seconds")
	rootCmd.AddCommand(runCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue and running counts of a live server",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints TICKET",
		Short: "List a ticket's stored checkpoints",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpoints,
	}
	checkpointsCmd.Flags().BoolVar(&purgeAll, "purge", false, "delete all checkpoints for the ticket")
	rootCmd.AddCommand(checkpointsCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openCheckpointStore(cfg *config.Config) (*checkpoint.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Checkpoint.DatabasePath), 0755); err != nil {
		return nil, err
	}
	return checkpoint.NewStore(cfg.Checkpoint.DatabasePath)
}

func buildExecutor(cfg *config.Config) scheduler.Executor {
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		SuccessThreshold: cfg.Resilience.SuccessThreshold,
		ResetTimeout:     time.Duration(cfg.Resilience.ResetTimeoutSeconds) * time.Second,
	})
	retry := resilience.PresetByName(cfg.Resilience.RetryPreset)
	return scheduler.NewResilientExecutor(command.NewRunner(), retry, breaker)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bus := events.NewBus(256)
	defer bus.Close()

	sched := scheduler.New(buildExecutor(cfg), bus, cfg.Scheduler.MaxConcurrent, nil)
	defer sched.Shutdown()

	tracker := progress.NewTracker(bus)
	tracker.SetLogCap(cfg.Progress.LogCap)

	var profiles map[string][]progress.StageDef
	if cfg.Progress.ProfilesPath != "" {
		if profiles, err = progress.LoadProfiles(cfg.Progress.ProfilesPath); err != nil {
			return fmt.Errorf("loading stage profiles: %w", err)
		}
	}

	store, err := openCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	manager := checkpoint.NewManager(store, checkpoint.Config{
		AutoInterval:     time.Duration(cfg.Checkpoint.AutoIntervalSeconds) * time.Second,
		RetentionAge:     time.Duration(cfg.Checkpoint.RetentionDays) * 24 * time.Hour,
		MaxAutoPerTicket: cfg.Checkpoint.MaxAutoPerTicket,
	}, nil)
	defer manager.Cleanup()

	sweeper, err := checkpoint.NewSweeper(manager, cfg.Checkpoint.SweepCron, nil)
	if err != nil {
		return err
	}
	go sweeper.Start()
	defer sweeper.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(sched, tracker, manager, bus, addr)
	server.SetStageProfiles(profiles)
	server.RunHubs()
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Live reload of the concurrency cap; everything else needs a restart
	watchPath := configPath
	if watchPath == "" {
		watchPath = config.DefaultConfigPath()
	}
	if watcher, err := config.NewWatcher(watchPath, func(newCfg *config.Config) {
		sched.SetMaxConcurrent(newCfg.Scheduler.MaxConcurrent)
	}); err == nil {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	httpServer := &http.Server{Addr: addr, Handler: server}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Printf("orchestrator listening on http://%s\n", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sched := scheduler.New(buildExecutor(cfg), nil, 1, nil)
	defer sched.Shutdown()

	jobID := sched.Submit(scheduler.JobConfig{
		Command:  args[0],
		Args:     args[1:],
		Priority: domain.Priority(runPriority),
		Options: command.Options{
			Timeout: time.Duration(runTimeout) * time.Second,
			OnOutput: func(line string, isStderr bool) {
				if isStderr {
					fmt.Fprintln(os.Stderr, line)
				} else {
					fmt.Println(line)
				}
			},
		},
	})

	job, err := sched.WaitForJob(jobID, time.Duration(runTimeout+60)*time.Second)
	if err != nil {
		return err
	}

	if job.Status != domain.JobCompleted {
		if job.Result != nil {
			return fmt.Errorf("command failed with exit code %d: %s", job.Result.ExitCode, job.Error)
		}
		return fmt.Errorf("command failed: %s", job.Error)
	}

	if job.Result != nil {
		fmt.Printf("completed in %s\n", job.Result.Duration.Round(time.Millisecond))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/api/status", cfg.Web.Host, cfg.Web.Port)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("orchestrator not reachable at %s: %w", url, err)
	}
	defer resp.Body.Close()

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return err
	}

	fmt.Printf("Jobs: %d queued | %d running\n", status.Queued, status.Running)
	return nil
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openCheckpointStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ticketID := args[0]

	if purgeAll {
		n, err := store.DeleteAll(ticketID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d checkpoints for %s\n", n, ticketID)
		return nil
	}

	checkpoints, err := store.FindAll(ticketID)
	if err != nil {
		return err
	}
	if len(checkpoints) == 0 {
		fmt.Printf("no checkpoints for %s\n", ticketID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tTYPE\tCREATED\tPERCENT\tCONTEXT")
	for _, cp := range checkpoints {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d%%\t%s\n",
			cp.Version, cp.Type, humanize.Time(cp.CreatedAt), cp.Data.PercentComplete, cp.Data.Context)
	}
	return w.Flush()
}
