package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/config"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/server"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "clicker",
		Short:         "Aim trainer game backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to the YAML config file (env CONFIG_PATH)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and gRPC servers",
			RunE: func(*cobra.Command, []string) error {
				c, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return serve(c)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			RunE: func(*cobra.Command, []string) error {
				c, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				return server.Migrate(c)
			},
		},
	)

	if err := root.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func serve(c server.Config) error {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	failed := make(chan error, 1)
	go func() { failed <- s.Start() }()

	select {
	case <-shutdown:
	case err = <-failed:
	}

	s.Shutdown()
	return err
}

func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
