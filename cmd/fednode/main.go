// Command fednode runs a federation node's execution and verification core:
// the DAG store, quorum engine, execution engine, and cross-scope
// scheduler, fronted by an operator CLI and a small HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coopfed/fednet/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var env string
	log := logrus.New()

	root := &cobra.Command{
		Use:   "fednode",
		Short: "Run and operate a federation execution core node",
	}
	root.PersistentFlags().StringVar(&env, "env", "", "environment name to merge into the default config (e.g. dev, prod)")

	root.AddCommand(newServeCmd(log, &env))
	root.AddCommand(newIdentityCmd())
	root.AddCommand(newConfigCmd(log, &env))
	return root
}

func newConfigCmd(log *logrus.Logger, env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved node configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*env, log)
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", cfg)
			return nil
		},
	}
}
