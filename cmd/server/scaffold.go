package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/fieldver/internal/db"
	"github.com/rpattn/fieldver/internal/scaffold"
	"github.com/rpattn/fieldver/internal/schema"
)

var scaffoldKind string

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold <table>",
	Short: "Print the template variables generated for a table",
	Long: `Derive the template variables of a table from its schema, apply the
versioning hooks for the chosen template kind and print the result as YAML.

Kinds: table, entity, test_case`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conn, err := db.NewConnection(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		provider := schema.NewSQLProvider(conn)
		vars, err := scaffold.Generate(cmd.Context(), provider, args[0])
		if err != nil {
			return err
		}
		if err := scaffold.NewHooks(provider).Run(cmd.Context(), scaffoldKind, vars); err != nil {
			return err
		}
		out, err := vars.YAML()
		if err != nil {
			return fmt.Errorf("failed to render template variables: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	scaffoldCmd.Flags().StringVar(&scaffoldKind, "kind", scaffold.KindTable, "template kind: table, entity or test_case")
	rootCmd.AddCommand(scaffoldCmd)
}
