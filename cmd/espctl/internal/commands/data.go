package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"espdata/internal/client"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	var (
		galon string
		value float64
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one reading as a device would",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.Send(cmd.Context(), galon, value); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "stored %s=%g\n", galon, value)
			return err
		},
	}
	cmd.Flags().StringVar(&galon, "galon", "", "galon identifier")
	cmd.Flags().Float64Var(&value, "value", 0, "measured value")
	_ = cmd.MarkFlagRequired("galon")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newLatestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "latest [galon]",
		Short: "Show the latest reading of one galon, or of every galon",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				rec, err := c.Latest(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("latest %q: %w", args[0], err)
				}
				return printJSON(cmd.OutOrStdout(), rec)
			}
			recs, err := c.LatestAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var q client.ListQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored readings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			recs, err := c.List(cmd.Context(), q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.Galon, "galon", "", "only this galon")
	f.StringVar(&q.From, "from", "", "start time (inclusive), RFC3339 or 'YYYY-MM-DD HH:MM:SS'")
	f.StringVar(&q.To, "to", "", "end time (exclusive)")
	f.IntVar(&q.Limit, "limit", 0, "max rows (server default 100, max 1000)")
	f.IntVar(&q.Offset, "offset", 0, "rows to skip")
	f.BoolVar(&q.Asc, "asc", false, "oldest first")
	return cmd
}

func newGalonsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "galons",
		Short: "List known galons with reading counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			out, err := c.Galons(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "stats <galon>",
		Short: "Show count/min/max/avg of a galon over a window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			st, err := c.Stats(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start time (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "end time (exclusive)")
	return cmd
}

func newReadyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check that the service and its database are ready",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			if err := c.Ready(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "ready")
			return err
		},
	}
}
