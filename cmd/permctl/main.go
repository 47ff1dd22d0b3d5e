package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"permission-explorer/internal/auth"
	"permission-explorer/internal/export"
	"permission-explorer/internal/metadata"
	"permission-explorer/internal/valuehash"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "permctl",
		Short: "Inspect Hasura permission metadata offline",
		Long: `A CLI tool to inspect a Hasura metadata export without running the server.

Metadata files may be JSON, JSONC or YAML and may be either the bare
metadata object or the {"metadata": {...}} envelope.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(rolesCmd())
	rootCmd.AddCommand(tablesCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(hashCmd())
	rootCmd.AddCommand(hashPasswordCmd())
	return rootCmd
}

// rolesCmd lists every role referenced by any rule.
func rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles FILE",
		Short: "List roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ix, err := open(args[0])
			if err != nil {
				return err
			}
			for _, role := range ix.Roles() {
				fmt.Fprintln(cmd.OutOrStdout(), role)
			}
			return nil
		},
	}
}

func tablesCmd() *cobra.Command {
	var s metadata.Search

	cmd := &cobra.Command{
		Use:   "tables FILE",
		Short: "List tables with at least one field matching the search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ix, err := open(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TABLE\tSCHEMA\tSOURCE\tFIELDS")
			for _, key := range ix.VisibleTableKeys(s.Query, s.ExactMatch, s.CaseSensitive) {
				t := ix.Table(key)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Key(), t.Schema(), t.Source(), strings.Join(t.MatchingFields(s), ","))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&s.Query, "search", "s", "", "Field name search")
	cmd.Flags().BoolVar(&s.ExactMatch, "exact", false, "Match field names exactly")
	cmd.Flags().BoolVar(&s.CaseSensitive, "case-sensitive", false, "Case sensitive search")
	return cmd
}

// showCmd prints the field x role matrix of one table. Operations guarded
// by a row filter are marked with '*'.
func showCmd() *cobra.Command {
	var roles []string

	cmd := &cobra.Command{
		Use:   "show FILE TABLE",
		Short: "Show the permission matrix of a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ix, err := open(args[0])
			if err != nil {
				return err
			}
			t := ix.Table(args[1])
			if t == nil {
				return fmt.Errorf("unknown table: %s", args[1])
			}
			if len(roles) == 0 {
				roles = t.Roles()
			}
			return writeMatrix(cmd.OutOrStdout(), t, roles)
		},
	}

	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "Roles to show (default all)")
	return cmd
}

func writeMatrix(out io.Writer, t *metadata.TableIndex, roles []string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "FIELD\t%s\n", strings.Join(roles, "\t"))
	for _, field := range t.Fields() {
		cells := make([]string, len(roles))
		for i, role := range roles {
			cells[i] = formatEntries(t.PermissionsFor(role, field))
		}
		fmt.Fprintf(w, "%s\t%s\n", field, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	var notes []string
	for _, role := range roles {
		for _, op := range metadata.Operations {
			if f := t.FilterFor(role, op); len(f) > 0 {
				notes = append(notes, fmt.Sprintf("%s %s filter: %s", role, op.FullName(), metadata.FormatFilter(f)))
			}
			if set := t.SetFor(role, op); len(set) > 0 {
				notes = append(notes, fmt.Sprintf("%s %s set: %s", role, op.FullName(), metadata.FormatSet(set, ", ")))
			}
		}
	}
	if len(notes) > 0 {
		fmt.Fprintf(out, "\n%s\n", strings.Join(notes, "\n"))
	}
	return nil
}

func formatEntries(entries []metadata.PermissionEntry) string {
	if len(entries) == 0 {
		return "-"
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(string(e.Operation))
		if e.HasFilter {
			b.WriteByte('*')
		}
	}
	return b.String()
}

func exportCmd() *cobra.Command {
	var (
		tables []string
		roles  []string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write an export bundle for the selected tables",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, ix, err := open(args[0])
			if err != nil {
				return err
			}
			if len(roles) == 0 {
				roles = ix.Roles()
			}
			bundle := export.NewBundle(doc.Raw, roles, tables)

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			_, err = bundle.WriteTo(out)
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "Tables to export (required)")
	cmd.Flags().StringSliceVarP(&roles, "role", "r", nil, "Selected roles recorded in the bundle (default all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	cmd.MarkFlagRequired("table")
	return cmd
}

// hashCmd prints the content hash of a JSON value.
func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash JSON",
		Short: "Print the structural hash of a JSON value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := metadata.Decode([]byte(args[0]), metadata.FormatJSONC)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), valuehash.Sum(v))
			return nil
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password PASSWORD",
		Short: "Print a bcrypt hash for admin_password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func open(path string) (*metadata.Document, *metadata.Index, error) {
	doc, ix, err := metadata.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if perr := ix.Err(); perr != nil {
		return nil, nil, perr
	}
	return doc, ix, nil
}
