package main

import (
	"fmt"
	"os"

	"github.com/leandroluk/golem/v2/core"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage tables and collections",
	}
	cmd.AddCommand(newSchemaExistsCommand())
	cmd.AddCommand(newSchemaCreateCommand())
	cmd.AddCommand(newSchemaDropCommand())
	return cmd
}

func newSchemaExistsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <table>",
		Short: "Report whether a table or collection exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeQuietly(cmd, conn)
			exists, err := conn.Schema().TableExists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), exists)
			return nil
		},
	}
}

func newSchemaCreateCommand() *cobra.Command {
	var columnsFile string
	cmd := &cobra.Command{
		Use:   "create <table>",
		Short: "Create a table or collection from a column definition file",
		Long: `Create a table or collection. The columns file is a YAML list:

  - name: id
    type: increments
  - name: email
    type: string
    size: 320
    unique: true
  - name: nickname
    type: string
    nullable: true`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			columnList, err := readColumns(columnsFile)
			if err != nil {
				return err
			}
			conn, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeQuietly(cmd, conn)
			if err := conn.Schema().CreateTable(cmd.Context(), args[0], columnList); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&columnsFile, "columns", "", "YAML file with the column list")
	_ = cmd.MarkFlagRequired("columns")
	return cmd
}

func newSchemaDropCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table or collection if it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := connect(cmd)
			if err != nil {
				return err
			}
			defer closeQuietly(cmd, conn)
			if err := conn.Schema().DropTable(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dropped %s\n", args[0])
			return nil
		},
	}
}

// readColumns decodes and validates a YAML column list.
func readColumns(path string) ([]core.Column, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read columns file: %w", err)
	}
	var columnList []core.Column
	if err := yaml.Unmarshal(data, &columnList); err != nil {
		return nil, fmt.Errorf("failed to parse columns file %s: %w", path, err)
	}
	if len(columnList) == 0 {
		return nil, fmt.Errorf("%w: columns file %s declares no columns", core.ErrInvalidArgument, path)
	}
	for _, column := range columnList {
		if err := column.Validate(); err != nil {
			return nil, err
		}
	}
	return columnList, nil
}
