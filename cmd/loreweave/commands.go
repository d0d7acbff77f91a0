package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/loreweave/loom/weave"
	"github.com/spf13/cobra"
)

type turnFlags struct {
	id     string
	system string
	author string
	window int
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "conversation id (required)")
	cmd.Flags().StringVar(&f.system, "system", "", "system instruction for the turn")
	cmd.Flags().StringVar(&f.author, "author", "", "author name attached to the message")
	cmd.Flags().IntVar(&f.window, "window", 0, "override the context window in tokens (0 = configured)")
	_ = cmd.MarkFlagRequired("id")
}

func (f *turnFlags) request(args []string) weave.TurnRequest {
	return weave.TurnRequest{
		ID:             weave.StringID(f.id),
		System:         f.system,
		OverrideWindow: f.window,
		Message:        strings.Join(args, " "),
		Author:         f.author,
	}
}

func newWeaveCmd(a *app) *cobra.Command {
	var flags turnFlags
	cmd := &cobra.Command{
		Use:   "weave [message]",
		Short: "Send a message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeStore, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			reply, err := m.Weave(cmd.Context(), flags.request(args))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newBudgetCmd(a *app) *cobra.Command {
	var flags turnFlags
	cmd := &cobra.Command{
		Use:   "budget [message]",
		Short: "Show the token budget a message would get, without sending it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeStore, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			b, err := m.Budget(cmd.Context(), flags.request(args))
			if err != nil {
				return err
			}
			return writeJSON(cmd, b)
		},
	}
	flags.register(cmd)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		id       string
		instance int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a stored fragment as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, closeStore, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			f, err := m.Fragment(cmd.Context(), weave.StringID(id), instance)
			if err != nil {
				return err
			}
			return writeJSON(cmd, f)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "conversation id (required)")
	cmd.Flags().IntVar(&instance, "instance", 0, "fragment instance (0 = current)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List supported models and their context windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tMAX CONTEXT")
			for _, m := range weave.Models() {
				fmt.Fprintf(w, "%s\t%d\n", m.Name(), m.MaxContext())
			}
			return w.Flush()
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
