// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oxen-ai/oxen-go/modules/ekind"
	"github.com/oxen-ai/oxen-go/modules/oxen"
	"github.com/oxen-ai/oxen-go/modules/tabular"
	"github.com/spf13/cobra"
)

func schemaRegistry(repo *oxen.Repository) *tabular.Registry {
	return tabular.NewRegistry(filepath.Join(repo.Control, "schemas", "schemas.db"))
}

// loadWorkingTable reads a tabular file from the working tree and
// records its schema in the registry as a side effect, which is how
// schemas become known to `schemas list`.
func loadWorkingTable(repo *oxen.Repository, path string) (*tabular.Table, error) {
	f, err := os.Open(filepath.Join(repo.Root, path))
	if err != nil {
		return nil, ekind.Wrap(ekind.Io, err, "open %s", path)
	}
	defer f.Close()
	t, err := tabular.ReadCSV(f)
	if err != nil {
		return nil, err
	}
	if _, err := schemaRegistry(repo).Record(&t.Schema); err != nil {
		return nil, err
	}
	return t, nil
}

func newDfCmd() *cobra.Command {
	var opts tabular.TransformOpts
	cmd := &cobra.Command{
		Use:   "df <path>",
		Short: "View and transform a tabular file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			t, err := loadWorkingTable(repo, args[0])
			if err != nil {
				return err
			}
			out, err := tabular.Apply(t, opts)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Slice, "slice", "", "row range start..end")
	cmd.Flags().IntVar(&opts.Take, "take", 0, "first N rows")
	cmd.Flags().StringVar(&opts.Columns, "columns", "", "comma-separated column projection")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "row filter, e.g. 'label == cat'")
	cmd.Flags().StringVar(&opts.Aggregate, "aggregate", "", "aggregate, e.g. 'count(label)'")
	return cmd
}

func newSchemasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "Inspect tabular schemas known to the repository",
	}
	cmd.AddCommand(
		newSchemasListCmd(),
		newSchemasShowCmd(),
		newSchemasNameCmd(),
		newSchemasCreateIndexCmd(),
		newSchemasIndicesCmd(),
		newSchemasQueryCmd(),
	)
	return cmd
}

func newSchemasListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			schemas, err := schemaRegistry(repo).List()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, s := range schemas {
				name := s.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Hash[:12], name, s.Schema.String())
			}
			return nil
		},
	}
}

func newSchemasShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name-or-hash>",
		Short: "Show one schema's fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			s, err := schemaRegistry(repo).Get(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "hash: %s\n", s.Hash)
			if s.Name != "" {
				fmt.Fprintf(w, "name: %s\n", s.Name)
			}
			for _, f := range s.Schema.Fields {
				fmt.Fprintf(w, "  %s: %s\n", f.Name, f.Dtype)
			}
			return nil
		},
	}
}

func newSchemasNameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "name <hash> <name>",
		Short: "Assign a name to a schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			s, err := schemaRegistry(repo).SetName(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", s.Hash[:12], s.Name)
			return nil
		},
	}
}

func newSchemasCreateIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create_index <schema> <column>",
		Short: "Mark a column as indexed for query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			s, err := schemaRegistry(repo).CreateIndex(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indices on %s: %s\n", s.Hash[:12], strings.Join(s.Indices, ", "))
			return nil
		},
	}
}

func newSchemasIndicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indices <schema>",
		Short: "List a schema's indexed columns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			s, err := schemaRegistry(repo).Get(args[0])
			if err != nil {
				return err
			}
			for _, c := range s.Indices {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func newSchemasQueryCmd() *cobra.Command {
	var path, column, value string
	cmd := &cobra.Command{
		Use:   "query <schema>",
		Short: "Query rows of a tabular file by an indexed column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			if path == "" || column == "" {
				return ekind.New(ekind.InvalidArgument, "--path and --column are required")
			}
			t, err := loadWorkingTable(repo, path)
			if err != nil {
				return err
			}
			out, err := schemaRegistry(repo).Query(args[0], t, column, value)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "tabular file to query")
	cmd.Flags().StringVar(&column, "column", "", "indexed column")
	cmd.Flags().StringVar(&value, "value", "", "value to match")
	return cmd
}
