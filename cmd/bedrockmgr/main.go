package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/bedrockmgr/bedrock-server-manager/internal/api"
	"github.com/bedrockmgr/bedrock-server-manager/internal/backup"
	"github.com/bedrockmgr/bedrock-server-manager/internal/config"
	"github.com/bedrockmgr/bedrock-server-manager/internal/database"
	"github.com/bedrockmgr/bedrock-server-manager/internal/logging"
	"github.com/bedrockmgr/bedrock-server-manager/internal/metrics"
	"github.com/bedrockmgr/bedrock-server-manager/internal/players"
	"github.com/bedrockmgr/bedrock-server-manager/internal/properties"
	"github.com/bedrockmgr/bedrock-server-manager/internal/sched"
	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
	"github.com/bedrockmgr/bedrock-server-manager/internal/service"
	"github.com/bedrockmgr/bedrock-server-manager/internal/store"
	"github.com/bedrockmgr/bedrock-server-manager/internal/updater"
)

// app holds the wired components every command works against.
type app struct {
	cfg      *config.Config
	db       *database.DB
	store    *store.Store
	activity *logging.ActivityLogger
	props    *properties.Manager
	services *service.Manager
	sup      *server.Supervisor
	engine   *backup.Engine
	updater  *updater.Updater
	scanner  *players.Scanner
	selfExe  string
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if _, err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	db, err := database.NewDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	st := store.New(db.DB)
	props := properties.NewManager(cfg.ServerDir)

	services, err := service.NewManager(service.Options{Store: st})
	if err != nil {
		db.Close()
		return nil, err
	}

	channel, err := server.NewPlatformChannel()
	if err != nil {
		db.Close()
		return nil, err
	}
	launcher, err := server.NewPlatformLauncher(services)
	if err != nil {
		db.Close()
		return nil, err
	}

	sup := server.New(channel, launcher, server.Options{
		StartTimeout: cfg.StartTimeout(),
		StopTimeout:  cfg.StopTimeout(),
		PollInterval: cfg.PollInterval(),
		RestartGrace: cfg.RestartGrace(),
		Denylist:     cfg.Commands.Denylist,
		Status:       st,
	})

	dest, err := backup.NewDestination(cfg.Backup.Destination)
	if err != nil {
		db.Close()
		return nil, err
	}
	engine := backup.NewEngine(sup, props, cfg.ServerDir, cfg.InstanceBackupDir, dest)

	upd := updater.New(st, sup, engine, cfg.Update.ManifestURL, cfg.Storage.DownloadDir,
		time.Duration(cfg.Update.DownloadTimeout)*time.Second)

	selfExe, err := os.Executable()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to resolve own executable: %w", err)
	}

	return &app{
		cfg:      cfg,
		db:       db,
		store:    st,
		activity: logging.NewActivityLogger(db.DB),
		props:    props,
		services: services,
		sup:      sup,
		engine:   engine,
		updater:  upd,
		scanner:  players.NewScanner(st),
		selfExe:  selfExe,
	}, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	logging.Close()
}

func (a *app) cronBridge() *sched.CronBridge {
	return sched.NewCronBridge(server.ExecRunner{}, a.selfExe)
}

func (a *app) taskBridge() *sched.TaskBridge {
	return sched.NewTaskBridge(server.ExecRunner{}, a.selfExe, func(instance string) string {
		return filepath.Join(a.cfg.Storage.DataDir, "tasks", instance)
	})
}

// instance resolves --server against the store.
func (a *app) instance(name string) (server.Instance, error) {
	record, err := a.store.GetInstance(name)
	if err != nil {
		return server.Instance{}, err
	}
	return server.Instance{Name: record.Name, InstallDir: record.InstallDir}, nil
}

func main() {
	root := &cobra.Command{
		Use:           "bedrockmgr",
		Short:         "Manage Minecraft Bedrock dedicated servers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var a *app
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		built, err := newApp()
		if err != nil {
			return err
		}
		a = built
		return nil
	}
	root.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if a != nil {
			a.Close()
		}
	}

	root.AddCommand(
		serveCmd(&a),
		listCmd(&a),
		createCmd(&a),
		deleteCmd(&a),
		actionCmd(&a, "start", "Start a server and wait until it is running", func(a *app, inst server.Instance) error {
			return a.sup.Start(inst)
		}),
		actionCmd(&a, "stop", "Stop a server and wait until it has exited", func(a *app, inst server.Instance) error {
			return a.sup.Stop(inst)
		}),
		actionCmd(&a, "restart", "Warn players, then stop and start a server", func(a *app, inst server.Instance) error {
			return a.sup.Restart(inst)
		}),
		sendCommandCmd(&a),
		updateCmd(&a),
		backupAllCmd(&a),
		restoreAllCmd(&a),
		pruneCmd(&a),
		scanPlayersCmd(&a),
		serviceCmd(&a),
		scheduleCmd(&a),
		hashPasswordCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serverFlag(cmd *cobra.Command) *string {
	name := cmd.Flags().String("server", "", "server instance name")
	cmd.MarkFlagRequired("server")
	return name
}

// actionCmd builds the shared shape of the lifecycle subcommands. The
// scheduler and the service units re-invoke these, so their names and
// flags are part of the on-disk contract.
func actionCmd(a **app, use, short string, fn func(a *app, inst server.Instance) error) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}
	name := serverFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		if err := fn(*a, inst); err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", inst.Name, (*a).sup.State(inst.Name))
		return nil
	}
	return cmd
}

func serveCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the metrics collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *a
			handler := api.NewHandler(app.cfg, app.store, app.sup, app.engine, app.updater, app.scanner, app.props, app.activity)

			var gatherer prometheus.Gatherer
			if app.cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				collector := metrics.NewCollector(app.store, app.sup,
					time.Duration(app.cfg.Metrics.Interval)*time.Second, reg)
				collector.Start()
				defer collector.Stop()
				gatherer = reg
			}

			router := api.SetupRouter(handler, app.cfg.Logging.Level, gatherer)
			addr := fmt.Sprintf("%s:%d", app.cfg.HTTP.Host, app.cfg.HTTP.Port)
			srv := &http.Server{Addr: addr, Handler: router}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("Listening on %s", addr)
				errCh <- srv.ListenAndServe()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				log.Printf("Received %s, shutting down", sig)
				return srv.Close()
			}
		},
	}
}

func listCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := (*a).store.ListInstances()
			if err != nil {
				return err
			}
			for _, record := range records {
				fmt.Printf("%-24s %-10s version=%s target=%s autostart=%t autoupdate=%t\n",
					record.Name, (*a).sup.State(record.Name),
					orDash(record.InstalledVersion), orDash(record.TargetVersion),
					record.Autostart, record.Autoupdate)
			}
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func createCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "create", Short: "Register a new server instance"}
	name := serverFlag(cmd)
	target := cmd.Flags().String("target-version", "", "version policy: LATEST, PREVIEW or a pinned version")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := store.ValidateInstanceName(*name); err != nil {
			return err
		}
		record := &store.Instance{
			Name:          *name,
			InstallDir:    (*a).cfg.ServerDir(*name),
			TargetVersion: *target,
		}
		if err := (*a).store.CreateInstance(record); err != nil {
			return err
		}
		(*a).activity.RecordAction(*name, logging.ActionServerCreate, "instance registered", nil)
		fmt.Printf("created %s in %s\n", record.Name, record.InstallDir)
		return nil
	}
	return cmd
}

func deleteCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "delete", Short: "Remove a server instance record and its service unit"}
	name := serverFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		if probe, err := (*a).sup.Probe(inst); err == nil && probe.Running {
			return fmt.Errorf("%s is running; stop it first", inst.Name)
		}
		if err := (*a).services.Remove(inst.Name); err != nil {
			return err
		}
		if err := (*a).store.DeleteInstance(inst.Name); err != nil {
			return err
		}
		(*a).sup.ForgetInstance(inst.Name)
		if err := os.RemoveAll((*a).cfg.InstanceBackupDir(inst.Name)); err != nil {
			log.Printf("Failed to remove backups for %s: %v", inst.Name, err)
		}
		(*a).activity.RecordAction(inst.Name, logging.ActionServerDelete, "instance deleted", nil)
		fmt.Printf("deleted %s\n", inst.Name)
		return nil
	}
	return cmd
}

func sendCommandCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-command [command...]",
		Short: "Send one console command to a running server",
		Args:  cobra.MinimumNArgs(1),
	}
	name := serverFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		text := strings.Join(args, " ")
		err = (*a).sup.SendCommand(inst, text)
		(*a).activity.RecordAction(inst.Name, logging.ActionCommandSend, text, err)
		return err
	}
	return cmd
}

func updateCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "update", Short: "Update a server to its target version"}
	name := serverFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		result, err := (*a).updater.Update(inst)
		(*a).activity.RecordAction(inst.Name, logging.ActionUpdate, "update requested", err)
		if err != nil {
			return err
		}
		if result.UpToDate {
			fmt.Printf("%s is already on %s\n", inst.Name, result.ToVersion)
			return nil
		}
		fmt.Printf("%s updated %s -> %s\n", inst.Name, orDash(result.FromVersion), result.ToVersion)
		return nil
	}
	return cmd
}

func backupAllCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "backup-all", Short: "Back up the world and standard config files"}
	name := serverFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		report, err := (*a).engine.BackupAll(inst, true)
		(*a).activity.RecordAction(inst.Name, logging.ActionBackupCreate, "backup-all requested", err)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}
	return cmd
}

func restoreAllCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "restore-all", Short: "Restore the newest backup of each kind"}
	name := serverFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		report, err := (*a).engine.RestoreAll(inst, true)
		(*a).activity.RecordAction(inst.Name, logging.ActionBackupRestore, "restore-all requested", err)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}
	return cmd
}

func pruneCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "prune", Short: "Delete old backups beyond the retention limit"}
	name := serverFlag(cmd)
	keep := cmd.Flags().Int("keep", -1, "backups to keep per kind (defaults to the configured limit)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		limit := *keep
		if limit < 0 {
			limit = (*a).cfg.Backup.KeepPerKind
		}
		report, err := (*a).engine.Prune(inst, limit)
		(*a).activity.RecordAction(inst.Name, logging.ActionBackupPrune, fmt.Sprintf("prune keep=%d", limit), err)
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	}
	return cmd
}

func printReport(report *backup.Report) {
	for _, name := range report.Created {
		fmt.Println("created:", name)
	}
	for _, name := range report.Restored {
		fmt.Println("restored:", name)
	}
	for _, name := range report.Deleted {
		fmt.Println("deleted:", name)
	}
	for _, name := range report.Missing {
		fmt.Println("missing:", name)
	}
	for _, failure := range report.Failures {
		fmt.Printf("failed: %s: %v\n", failure.Item, failure.Err)
	}
	if report.RestartErr != nil {
		fmt.Println("restart failed:", report.RestartErr)
	}
}

func scanPlayersCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "scan-players", Short: "Record player sightings from the console log"}
	name := serverFlag(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		count, err := (*a).scanner.Scan(inst)
		(*a).activity.RecordAction(inst.Name, logging.ActionPlayerScan, "player scan requested", err)
		if err != nil {
			return err
		}
		fmt.Printf("recorded %d players\n", count)
		return nil
	}
	return cmd
}

func serviceCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "service", Short: "Manage per-instance service registrations"}

	configure := &cobra.Command{Use: "configure", Short: "Create or rewrite the instance's service unit"}
	name := serverFlag(configure)
	autostart := configure.Flags().Bool("autostart", false, "start the server at login")
	autoupdate := configure.Flags().Bool("autoupdate", false, "update the server before each service start")
	configure.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}
		err = (*a).services.Configure(inst, *autostart, *autoupdate)
		(*a).activity.RecordAction(inst.Name, logging.ActionServiceChange,
			fmt.Sprintf("configure autostart=%t autoupdate=%t", *autostart, *autoupdate), err)
		return err
	}

	remove := &cobra.Command{Use: "remove", Short: "Disable and delete the instance's service unit"}
	removeName := serverFlag(remove)
	remove.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*removeName)
		if err != nil {
			return err
		}
		err = (*a).services.Remove(inst.Name)
		(*a).activity.RecordAction(inst.Name, logging.ActionServiceChange, "service removed", err)
		return err
	}

	status := &cobra.Command{Use: "status", Short: "Show the instance's service state"}
	statusName := serverFlag(status)
	status.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*statusName)
		if err != nil {
			return err
		}
		enabled, err := (*a).services.IsEnabled(inst.Name)
		if err != nil {
			return err
		}
		fmt.Printf("%s: enabled=%t", inst.Name, enabled)
		if runtime.GOOS == "linux" {
			if states, err := service.ActiveStates([]string{inst.Name}); err == nil {
				if state, ok := states[inst.Name]; ok {
					fmt.Printf(" active=%s", state)
				}
			}
		}
		fmt.Println()
		return nil
	}

	cmd.AddCommand(configure, remove, status)
	return cmd
}

func scheduleCmd(a **app) *cobra.Command {
	cmd := &cobra.Command{Use: "schedule", Short: "Manage recurring tasks on the host scheduler"}

	add := &cobra.Command{Use: "add", Short: "Schedule an allowlisted command"}
	name := serverFlag(add)
	command := add.Flags().String("command", "", "one of update-server, backup-all, start-server, stop-server, restart-server, scan-players")
	hour := add.Flags().Int("hour", 5, "hour of day, 0-23")
	minute := add.Flags().Int("minute", 0, "minute of hour, 0-59")
	days := add.Flags().StringSlice("days", nil, "weekday names for a weekly trigger (Windows only)")
	add.MarkFlagRequired("command")
	add.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*name)
		if err != nil {
			return err
		}

		start := time.Date(2000, 1, 1, *hour, *minute, 0, 0, time.Local)
		trigger := sched.Trigger{Type: sched.TriggerDaily, Start: start}
		if len(*days) > 0 {
			trigger = sched.Trigger{Type: sched.TriggerWeekly, Start: start, Days: *days}
		}
		task := sched.ScheduledTask{Command: *command, Triggers: []sched.Trigger{trigger}}

		if runtime.GOOS == "windows" {
			taskName, err := (*a).taskBridge().Add(inst.Name, task)
			(*a).activity.RecordAction(inst.Name, logging.ActionScheduleChange, "task added: "+taskName, err)
			if err != nil {
				return err
			}
			fmt.Println("registered", taskName)
			return nil
		}

		bridge := (*a).cronBridge()
		line, err := bridge.BuildLine(inst.Name, task)
		if err != nil {
			return err
		}
		err = bridge.Add(line)
		(*a).activity.RecordAction(inst.Name, logging.ActionScheduleChange, "cron added: "+line, err)
		if err != nil {
			return err
		}
		fmt.Println("added", line)
		return nil
	}

	list := &cobra.Command{Use: "list", Short: "List this application's scheduled entries"}
	listName := serverFlag(list)
	list.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*listName)
		if err != nil {
			return err
		}

		if runtime.GOOS == "windows" {
			tasks, names, err := (*a).taskBridge().List(inst.Name)
			if err != nil {
				return err
			}
			for _, taskName := range names {
				fmt.Printf("%s: %s\n", taskName, tasks[taskName].Command)
			}
			return nil
		}

		jobs, err := (*a).cronBridge().List(inst.Name)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			fmt.Printf("%s  %s  next %s\n", job.Schedule, job.Action, job.NextRun.Format(time.RFC3339))
		}
		return nil
	}

	remove := &cobra.Command{Use: "remove", Short: "Remove a scheduled entry"}
	removeName := serverFlag(remove)
	entry := remove.Flags().String("entry", "", "exact crontab line (Linux) or task name (Windows)")
	remove.MarkFlagRequired("entry")
	remove.RunE = func(cmd *cobra.Command, args []string) error {
		inst, err := (*a).instance(*removeName)
		if err != nil {
			return err
		}

		if runtime.GOOS == "windows" {
			err = (*a).taskBridge().Remove(inst.Name, *entry)
		} else {
			err = (*a).cronBridge().Remove(*entry)
		}
		(*a).activity.RecordAction(inst.Name, logging.ActionScheduleChange, "entry removed: "+*entry, err)
		return err
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

// hashPasswordCmd generates the bcrypt hash for the auth.password_hash
// config field. It is the one command that does not need the app wiring.
func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash a password for the configuration file",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := api.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
