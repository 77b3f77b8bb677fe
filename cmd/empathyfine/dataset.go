package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"

	"github.com/aretw0/empathyfine/internal/presentation/tui"
	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/aretw0/empathyfine/pkg/ingest"
	"github.com/spf13/cobra"
)

var datasetCmd = &cobra.Command{
	Use:     "dataset",
	Aliases: []string{"datasets", "d"},
	Short:   "Import, validate, tag and export datasets",
}

var datasetImportCmd = &cobra.Command{
	Use:   "import <project> <file>",
	Short: "Import a JSONL or CSV file into a project",
	Long: `Imports one example per JSONL line or CSV row. Rows that fail to parse or validate are
kept and listed in the report; only an unreadable file or an unsupported encoding aborts
the import. Press Ctrl+C to cancel: nothing is stored.`,
	Args: cobra.ExactArgs(2),
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
		format, err := formatFlag(cmd, args[1])
		if err != nil {
			return err
		}
		var opts []ingest.ImportOption
		if name, _ := cmd.Flags().GetString("name"); name != "" {
			opts = append(opts, ingest.WithName(name))
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		op := s.core.Datasets.StartImport(ctx, p.ID, args[1], format, opts...)
		showProgress(s.out, cmd.ErrOrStderr(), op.Progress())
		ds, err := op.Wait(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		s.out.Markdown(tui.ReportMarkdown(ds.Meta(), ds.Report))
		s.out.Printf("Dataset id: %s\n", ds.ID)
		return nil
	},
}

var datasetValidateCmd = &cobra.Command{
	Use:   "validate <project> <dataset>",
	Short: "Re-run validation and print the report",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ds, err := openDataset(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		op := s.core.Datasets.StartValidate(ctx, ds)
		showProgress(s.out, cmd.ErrOrStderr(), op.Progress())
		report, err := op.Wait(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		s.out.Markdown(tui.ReportMarkdown(ds.Meta(), report))
		return nil
	},
}

var datasetTagCmd = &cobra.Command{
	Use:   "tag <project> <dataset> <row> <emotion> <intensity>",
	Short: "Set the emotion and intensity of one example (rows start at 1)",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		row, err := strconv.Atoi(args[2])
		if err != nil {
			return domain.Errorf(domain.KindIndexOutOfRange, "row %q is not a number", args[2])
		}
		intensity, err := strconv.Atoi(args[4])
		if err != nil {
			return domain.Errorf(domain.KindInvalidIntensity, "intensity %q is not a number", args[4])
		}
		emotion, err := domain.ParseEmotion(args[3])
		if err != nil {
			return err
		}

		s, ds, err := openDataset(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		defer s.Close()

		before := ds.Revision
		if err := s.core.Datasets.TagEmotion(ds, row-1, emotion, intensity); err != nil {
			return err
		}
		if err := s.core.Datasets.Save(cmd.Context(), ds); err != nil {
			return err
		}
		s.out.Printf("Row %d tagged %s/%d\n", row, emotion, intensity)
		if ds.Revision != before {
			s.out.Printf("Revision %d is used by a training job; edits continue in revision %d\n", before, ds.Revision)
		}
		return nil
	},
}

var datasetExportCmd = &cobra.Command{
	Use:   "export <project> <dataset>",
	Short: "Write the examples as JSONL or CSV",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ds, err := openDataset(cmd, args[0], args[1])
		if err != nil {
			return err
		}
		defer s.Close()

		output, _ := cmd.Flags().GetString("output")
		format := domain.FormatJSONL
		if f, _ := cmd.Flags().GetString("format"); f != "" {
			if format, err = domain.ParseFormat(f); err != nil {
				return err
			}
		} else if output != "" {
			if fromPath, err := domain.FormatFromPath(output); err == nil {
				format = fromPath
			}
		}
		var opts []ingest.ExportOption
		if validOnly, _ := cmd.Flags().GetBool("valid-only"); validOnly {
			opts = append(opts, ingest.ValidOnly())
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return domain.NewError(domain.KindInvalidPath, output, err)
			}
			defer f.Close()
			w = f
		}
		n, err := s.core.Datasets.Export(cmd.Context(), ds, w, format, opts...)
		if err != nil {
			return err
		}
		if output != "" {
			s.out.Printf("Exported %d examples to %s\n", n, output)
		}
		return nil
	},
}

var datasetListCmd = &cobra.Command{
	Use:     "ls <project>",
	Aliases: []string{"list"},
	Short:   "List a project's datasets",
	Args:    cobra.ExactArgs(1),
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
		metas, err := s.core.Datasets.List(cmd.Context(), p.ID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tID\tREVISION\tPINNED\tEXAMPLES\tVALID\tINVALID")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", m.Name, m.ID, m.Revision, m.PinnedRevision,
				m.ExampleCount, m.ValidCount, m.InvalidCount)
		}
		return w.Flush()
	},
}

func openDataset(cmd *cobra.Command, projectRef, datasetRef string) (*session, *domain.Dataset, error) {
	s, err := openSession(cmd)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.core.Projects.Resolve(cmd.Context(), projectRef)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	meta, err := resolveDataset(cmd.Context(), s, p.ID, datasetRef)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	ds, err := s.core.Datasets.Load(cmd.Context(), meta.ID)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, ds, nil
}

func formatFlag(cmd *cobra.Command, path string) (domain.Format, error) {
	if f, _ := cmd.Flags().GetString("format"); f != "" {
		return domain.ParseFormat(f)
	}
	return domain.FormatFromPath(path)
}

// showProgress prints percentages to w while the operation runs. On a terminal the
// line is redrawn in place.
func showProgress(out *tui.Printer, w io.Writer, updates <-chan ingest.Progress) {
	last := -1
	for p := range updates {
		if p.Percent == last {
			continue
		}
		last = p.Percent
		if out.Styled() {
			fmt.Fprintf(w, "\r%s %3d%% (%d rows)", p.Stage, p.Percent, p.Rows)
		}
	}
	if out.Styled() && last >= 0 {
		fmt.Fprintln(w)
	}
}

func init() {
	datasetImportCmd.Flags().String("format", "", "jsonl or csv (default from the file extension)")
	datasetImportCmd.Flags().String("name", "", "Dataset name (default the file name)")
	datasetValidateCmd.Flags().Bool("json", false, "Print the report as JSON")
	datasetExportCmd.Flags().String("format", "", "jsonl or csv (default from --output, else jsonl)")
	datasetExportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	datasetExportCmd.Flags().Bool("valid-only", false, "Skip examples that fail validation")

	datasetCmd.AddCommand(datasetImportCmd, datasetValidateCmd, datasetTagCmd, datasetExportCmd, datasetListCmd)
	rootCmd.AddCommand(datasetCmd)
}
