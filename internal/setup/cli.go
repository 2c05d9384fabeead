package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/progress-analytics-server/internal/config"
	"github.com/progress-analytics-server/internal/database"
	"github.com/progress-analytics-server/internal/litestore"
)

type rootOptions struct {
	dataDir    string
	configFile string
	logger     *logrus.Logger
}

// NewRootCommand builds the progressctl command tree.
func NewRootCommand(logger *logrus.Logger) *cobra.Command {
	opts := &rootOptions{logger: logger}

	cmd := &cobra.Command{
		Use:           "progressctl",
		Short:         "Administer the progress analytics servers",
		Long:          "Run database migrations, move lite-store data in and out as JSON, inspect status and register the lite MCP server with a desktop client.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", config.LoadLiteConfig().DataDir, "lite server data directory")
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "server config file (default: search ./, ./config, /etc/progress-server)")

	cmd.AddCommand(
		migrateCmd(opts),
		exportCmd(opts),
		importCmd(opts),
		statusCmd(opts),
		registerCmd(opts),
	)
	return cmd
}

func (o *rootOptions) liteConfig() *config.LiteConfig {
	cfg := config.LoadLiteConfig()
	cfg.DataDir = o.dataDir
	return cfg
}

func (o *rootOptions) openStore() (*litestore.Store, error) {
	cfg := o.liteConfig()
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return litestore.NewSQLiteStore(cfg.DBPath(), o.logger)
}

func (o *rootOptions) configManager() (*config.Manager, error) {
	if o.configFile != "" {
		return config.NewManagerFromFile(o.configFile)
	}
	return config.NewManager()
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:       "migrate up|down|version",
		Short:     "Apply, roll back or report PostgreSQL schema migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := opts.configManager()
			if err != nil {
				return err
			}
			dbCfg := database.ConfigFrom(*manager.GetDatabaseConfig())
			if path == "" {
				path = manager.GetDatabaseConfig().MigrationsPath
			}

			runner, err := database.NewMigrationRunner(dbCfg.URL(), path, opts.logger)
			if err != nil {
				return err
			}
			defer runner.Close()

			ctx := cmd.Context()
			switch args[0] {
			case "up":
				err = runner.Up(ctx)
			case "down":
				err = runner.Down(ctx)
			}
			if err != nil {
				return err
			}

			version, dirty, err := runner.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "migrations directory (default: embedded migrations)")
	return cmd
}

func exportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export lite-store measurements and alerts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if out == "" {
				name := fmt.Sprintf("progress-%s.json", time.Now().UTC().Format("20060102-150405"))
				out = filepath.Join(opts.liteConfig().ExportDir(), name)
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create export file: %w", err)
				}
				defer f.Close()
				w = f
			}

			if err := store.ExportJSON(cmd.Context(), w); err != nil {
				return err
			}
			if out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "exported to %s\n", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, or - for stdout (default: <data-dir>/exports/progress-<time>.json)")
	return cmd
}

func importCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a JSON export into the lite store; existing records are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open import file: %w", err)
			}
			defer f.Close()

			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.ImportJSON(cmd.Context(), f)
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}
}

// Status is the report printed by the status command.
type Status struct {
	DataDir string           `json:"data_dir"`
	DBPath  string           `json:"db_path"`
	Store   *litestore.Stats `json:"store,omitempty"`
	Client  *ClientStatus    `json:"client,omitempty"`
	Issues  []string         `json:"issues"`
}

func statusCmd(opts *rootOptions) *cobra.Command {
	var clientConfig string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report lite-store contents and client registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.liteConfig()
			status := Status{DataDir: cfg.DataDir, DBPath: cfg.DBPath(), Issues: []string{}}

			if _, err := os.Stat(cfg.DBPath()); err == nil {
				stats, err := readStats(cmd.Context(), opts, cfg.DBPath())
				if err != nil {
					status.Issues = append(status.Issues, err.Error())
				} else {
					status.Store = &stats
				}
			} else {
				status.Issues = append(status.Issues, "database will be created on first run")
			}

			if clientConfig == "" {
				clientConfig, _ = ClientConfigPath()
			}
			if clientConfig != "" {
				client, err := GetClientStatus(clientConfig)
				switch {
				case err != nil:
					status.Issues = append(status.Issues, err.Error())
				case !client.Registered:
					status.Issues = append(status.Issues, "lite server is not registered with the desktop client")
					status.Client = client
				default:
					if !client.BinaryOK {
						status.Issues = append(status.Issues, fmt.Sprintf("server binary missing or not executable: %s", client.Command))
					}
					status.Client = client
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
	cmd.Flags().StringVar(&clientConfig, "client-config", "", "desktop client config file (default: platform location)")
	return cmd
}

func readStats(ctx context.Context, opts *rootOptions, dbPath string) (litestore.Stats, error) {
	store, err := litestore.NewSQLiteStore(dbPath, opts.logger)
	if err != nil {
		return litestore.Stats{}, err
	}
	defer store.Close()
	return store.Stats(ctx)
}

func registerCmd(opts *rootOptions) *cobra.Command {
	var ro RegisterOptions
	cmd := &cobra.Command{
		Use:   "register-client",
		Short: "Register the lite MCP server with a desktop MCP client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ro.DataDir == "" {
				ro.DataDir = opts.dataDir
			}
			path, err := RegisterServer(ro)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s in %s\n", ServerName, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&ro.ConfigPath, "client-config", "", "desktop client config file (default: platform location)")
	cmd.Flags().StringVarP(&ro.BinaryPath, "binary", "b", "", "path to mcp-server-lite (default: search PATH and common locations)")
	return cmd
}
