package main

import (
	"encoding/json"
	"io"

	"github.com/aretw0/empathyfine/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <project>",
	Short: "List a project's finished training jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := s.core.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		entries, err := s.core.Projects.History(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), entries)
		}
		s.out.Markdown(tui.HistoryMarkdown(p.Name, entries))
		return nil
	},
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	historyCmd.Flags().Bool("json", false, "Print entries as JSON")
	rootCmd.AddCommand(historyCmd)
}
