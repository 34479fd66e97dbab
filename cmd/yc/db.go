package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/yardcap/internal/config"
	"github.com/zulandar/yardcap/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Yardcap database",
		Long:  "Creates the database when using MySQL, migrates all tables and seeds the nodes and tracks from the config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for yard %q from %s\n", cfg.Yard, configPath)

	if cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database.User, cfg.Database.Host, cfg.Database.Port)
		if err != nil {
			return fmt.Errorf("connect to MySQL at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready\n", cfg.Database.Name)
	}

	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedNodes(gormDB, cfg.Nodes); err != nil {
		return err
	}
	tracks := 0
	for _, n := range cfg.Nodes {
		tracks += len(n.Tracks)
	}
	fmt.Fprintf(out, "Seeded %d nodes, %d tracks\n", len(cfg.Nodes), tracks)

	fmt.Fprintln(out, "\nYardcap database initialized successfully.")
	return nil
}
