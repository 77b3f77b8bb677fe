package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var projectCmd = &cobra.Command{
	Use:     "project",
	Aliases: []string{"projects", "p"},
	Short:   "Create, inspect and configure projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project with the default configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		baseModel, _ := cmd.Flags().GetString("base-model")
		framework, _ := cmd.Flags().GetString("framework")
		path, _ := cmd.Flags().GetString("path")

		p, err := s.core.Projects.CreateProject(cmd.Context(), args[0], baseModel, domain.Framework(framework), path)
		if err != nil {
			return err
		}
		s.out.Printf("Created project %s %s\n", p.Name, s.out.Faint(p.ID))
		s.out.Printf("Workspace: %s\n", p.WorkspacePath)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List projects",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		projects, err := s.core.Projects.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tID\tMODEL\tFRAMEWORK\tREVISION\tUPDATED")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", p.Name, p.ID, p.BaseModel, p.Framework,
				p.Configuration.Revision, p.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Show a project and its current configuration",
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
		out, err := yaml.Marshal(map[string]any{
			"id":            p.ID,
			"name":          p.Name,
			"base_model":    p.BaseModel,
			"framework":     string(p.Framework),
			"workspace":     p.WorkspacePath,
			"revision":      p.Configuration.Revision,
			"configuration": map[string]any(p.Configuration.Configuration),
		})
		if err != nil {
			return err
		}
		s.out.Printf("%s", out)
		if h, err := p.Configuration.Configuration.Hyperparameters(); err == nil {
			for _, w := range h.Warnings() {
				s.out.Printf("warning: %s\n", w)
			}
		}
		return nil
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:     "rm <project>",
	Aliases: []string{"delete"},
	Short:   "Delete a project with its datasets and history",
	Long: `Deletes the project record, every configuration revision, dataset and history entry
it owns, and the dataset payload files. The workspace directory itself is kept.
This cannot be undone, so --yes is required.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to delete %q without --yes", args[0])
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := s.core.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := s.core.Projects.DeleteProject(cmd.Context(), p.ID); err != nil {
			return err
		}
		s.out.Printf("Deleted project %s\n", p.Name)
		return nil
	},
}

var projectConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Revise or inspect a project's configuration",
}

var projectConfigSetCmd = &cobra.Command{
	Use:   "set <project> key=value...",
	Short: "Append a configuration revision with the given keys changed",
	Example: `  empathyfine project config set support-bot epochs=5 learning_rate=2e-5
  empathyfine project config set support-bot emotion_balance=false`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		changes, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := s.core.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rev, err := s.core.Projects.UpdateConfiguration(cmd.Context(), p.ID, changes)
		if err != nil {
			return err
		}
		s.out.Printf("Project %s is now at configuration revision %d\n", p.Name, rev.Revision)
		return nil
	},
}

var projectConfigHistoryCmd = &cobra.Command{
	Use:   "history <project>",
	Short: "List every configuration revision",
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
		revs, err := s.core.Projects.Revisions(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		var prev domain.Configuration
		for _, r := range revs {
			s.out.Printf("revision %d  %s\n", r.Revision, r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			for _, line := range diffConfiguration(prev, r.Configuration) {
				s.out.Printf("  %s\n", line)
			}
			prev = r.Configuration
		}
		return nil
	},
}

// parseAssignments decodes each value as YAML so numbers and booleans keep their type.
func parseAssignments(args []string) (domain.Configuration, error) {
	out := domain.Configuration{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, domain.Errorf(domain.KindValidation, "expected key=value, got %q", arg)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

func diffConfiguration(prev, next domain.Configuration) []string {
	keys := make([]string, 0, len(next))
	for k := range next {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var lines []string
	for _, k := range keys {
		old, had := prev[k]
		switch {
		case prev == nil:
			lines = append(lines, fmt.Sprintf("%s = %v", k, next[k]))
		case !had:
			lines = append(lines, fmt.Sprintf("+ %s = %v", k, next[k]))
		case fmt.Sprint(old) != fmt.Sprint(next[k]):
			lines = append(lines, fmt.Sprintf("~ %s: %v -> %v", k, old, next[k]))
		}
	}
	var removed []string
	for k := range prev {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	slices.Sort(removed)
	for _, k := range removed {
		lines = append(lines, "- "+k)
	}
	return lines
}

func init() {
	projectCreateCmd.Flags().String("base-model", "gpt2", "Base model to fine-tune")
	projectCreateCmd.Flags().String("framework", string(domain.FrameworkHuggingFace), "huggingface, openai or custom")
	projectCreateCmd.Flags().String("path", "", "Project directory (default <workspace>/<name>)")
	projectRemoveCmd.Flags().Bool("yes", false, "Confirm the deletion")

	projectConfigCmd.AddCommand(projectConfigSetCmd, projectConfigHistoryCmd)
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectShowCmd, projectRemoveCmd, projectConfigCmd)
	rootCmd.AddCommand(projectCmd)
}
