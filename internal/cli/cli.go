package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/queuectl/internal/config"
	"github.com/cuongbtq/queuectl/internal/queue"
	"github.com/cuongbtq/queuectl/shared/database"
	"github.com/cuongbtq/queuectl/shared/logger"
)

// App wires the shared dependencies of every CLI command. The store is
// opened lazily in the root command's PersistentPreRunE so that flag
// parsing and help output never touch the database.
type App struct {
	configPath string
	dbPath     string

	cfg    *config.Config
	logger *slog.Logger
	client *database.Client
	queue  *queue.Queue
}

// NewRootCommand builds the queuectl command tree.
func NewRootCommand() *cobra.Command {
	app := &App{}

	root := &cobra.Command{
		Use:           "queuectl",
		Short:         "Persistent job queue with retries, backoff and a dead letter queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}

	root.PersistentFlags().StringVar(&app.configPath, "config", os.Getenv("QUEUECTL_CONFIG_PATH"), "path to configuration file")
	root.PersistentFlags().StringVar(&app.dbPath, "db", "", "path to the SQLite database (overrides config)")

	root.AddCommand(
		app.enqueueCmd(),
		app.listCmd(),
		app.statusCmd(),
		app.workerCmd(),
		app.dlqCmd(),
		app.configCmd(),
		app.resetStuckCmd(),
	)

	return root
}

func (a *App) init() error {
	cfg, err := config.LoadOrDefault(a.configPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Database.Driver = database.DriverSQLite
		cfg.Database.DSN = a.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	a.cfg = cfg

	a.logger = logger.New(&logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cfg.Logging.Output,
		AddSource: cfg.Logging.EnableCaller,
	})

	client, err := database.NewClient(&database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Std(),
		BusyTimeout:     cfg.Database.BusyTimeout.Std(),
	}, a.logger)
	if err != nil {
		return err
	}
	a.client = client

	store, err := queue.NewStore(client, a.logger)
	if err != nil {
		client.Close()
		return err
	}
	a.queue = queue.New(store, a.logger)

	return nil
}

func (a *App) close() {
	if a.client != nil {
		a.client.Close()
	}
}

// printJobsTable renders jobs the way the status/list commands present them.
func printJobsTable(jobs []queue.Job) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tATTEMPTS\tCOMMAND\tCREATED\tUPDATED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			shorten(job.ID, 12),
			job.State,
			job.Attempts, job.MaxRetries,
			shorten(job.Command, 48),
			job.CreatedAt.Local().Format(time.DateTime),
			job.UpdatedAt.Local().Format(time.DateTime),
		)
	}
	w.Flush()
}

func printJobDetails(job *queue.Job) {
	fmt.Printf("Job ID:      %s\n", job.ID)
	fmt.Printf("Command:     %s\n", job.Command)
	fmt.Printf("State:       %s\n", job.State)
	fmt.Printf("Attempts:    %d/%d\n", job.Attempts, job.MaxRetries)
	fmt.Printf("Created:     %s\n", job.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:     %s\n", job.UpdatedAt.Local().Format(time.DateTime))
	if job.ErrorMessage != nil {
		fmt.Printf("Error:       %s\n", *job.ErrorMessage)
	}
	if job.NextRetryAt != nil {
		fmt.Printf("Next retry:  %s\n", job.NextRetryAt.Local().Format(time.DateTime))
	}
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
