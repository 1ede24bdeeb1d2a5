package main

import (
	"fmt"

	"github.com/FranksOps/trawl/internal/params"
	"github.com/FranksOps/trawl/internal/storage"
	"github.com/spf13/cobra"
)

func newInitDBCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the control and record tables when missing",
		Long: `Create the parameter, run and record tables if they do not exist.

This is a bootstrap for local and test databases. It never alters existing tables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.backend.EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", a.cfg.DB.Driver)
			return nil
		},
	}
}

func newParamCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "param",
		Short: "Manage source parameters",
	}

	set := &cobra.Command{
		Use:   "set SOURCE_ID NAME VALUE",
		Short: "Create or replace one parameter of a source",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			return a.backend.PutParameter(ctx, storage.ParameterRow{SourceID: args[0], Name: args[1], Value: args[2]})
		},
	}

	show := &cobra.Command{
		Use:   "show SOURCE_ID",
		Short: "Resolve and print the parameters of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, root.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			p, err := params.NewClient(a.backend).Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s=%d\n", params.NameCount, p.Count)
			fmt.Fprintf(w, "%s=%s\n", params.NameLanguage, p.Language)
			fmt.Fprintf(w, "%s=%s\n", params.NameQuery, p.Query)
			fmt.Fprintf(w, "%s=%s\n", params.NameSortBy, p.SortBy)
			return nil
		},
	}

	cmd.AddCommand(set, show)
	return cmd
}
