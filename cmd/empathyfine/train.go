package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/aretw0/empathyfine/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train <project> <dataset>",
	Short: "Train on the dataset's current revision and wait for the result",
	Long: `Submits a training job with the project's latest configuration and the dataset's
current revision, which stays pinned so later edits cannot change what the job used.
The command waits for the job to finish. Ctrl+C requests cancellation; the trainer gets
the configured grace period before the job is forced to cancelled.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		var extra []sessionOption
		var reg *prometheus.Registry
		if metricsAddr != "" {
			reg = prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			extra = append(extra, withRegisterer(reg))
		}
		s, err := openSession(cmd, extra...)
		if err != nil {
			return err
		}
		defer s.Close()

		if reg != nil {
			srv := serveMetrics(metricsAddr, reg, s)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
		}

		p, err := s.core.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		meta, err := resolveDataset(cmd.Context(), s, p.ID, args[1])
		if err != nil {
			return err
		}
		jobID, err := s.core.Train(cmd.Context(), p.ID, meta.ID)
		if err != nil {
			return err
		}
		sub, err := s.core.Jobs.Subscribe(jobID)
		if err != nil {
			return err
		}
		defer sub.Close()
		s.out.Printf("Job %s submitted for %s (dataset %s revision %d)\n", s.out.Faint(jobID), p.Name, meta.Name, meta.Revision)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-finished:
				return
			case <-ctx.Done():
			}
			stop()
			if err := s.core.Jobs.Cancel(jobID); err == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "\nCancelling, press Ctrl+C again to abort")
			}
		}()

		for point := range sub.All(context.WithoutCancel(ctx)) {
			switch {
			case follow:
				s.out.Printf("epoch %d step %4d  loss %.4f%s\n", point.Epoch, point.Step, point.Loss, formatValues(point.Values))
			case s.out.Styled():
				fmt.Fprintf(cmd.ErrOrStderr(), "\repoch %d step %4d  loss %.4f", point.Epoch, point.Step, point.Loss)
			}
		}
		if !follow && s.out.Styled() {
			fmt.Fprintln(cmd.ErrOrStderr())
		}

		job, err := s.core.Jobs.Wait(context.Background(), jobID)
		if err != nil {
			return err
		}
		printJob(s, job)

		if faults := s.core.Jobs.Faults(); len(faults) > 0 {
			f := faults[len(faults)-1]
			return domain.NewError(domain.KindInfrastructure, "job finished but its history entry was not stored", f.Err)
		}
		if job.State == domain.JobFailed {
			return domain.Errorf(job.Error.Kind, "job failed: %s", job.Error.Message)
		}
		return nil
	},
}

func serveMetrics(addr string, reg *prometheus.Registry, s *session) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		s.logger.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server stopped", "err", err)
		}
	}()
	return srv
}

func formatValues(values map[string]float64) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("  %s %.4g", k, values[k])
	}
	return out
}

func printJob(s *session, job domain.Job) {
	s.out.Printf("Job %s %s after %d metric points\n", s.out.Faint(job.ID), s.out.State(job.State), len(job.Metrics))
	if !job.StartedAt.IsZero() {
		s.out.Printf("Duration: %s\n", job.EndedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
	if job.Result != nil {
		if len(job.Result.Metrics) > 0 {
			s.out.Printf("Metrics:%s\n", formatValues(job.Result.Metrics))
		}
		if job.Result.Artifact != "" {
			s.out.Printf("Artifact: %s\n", job.Result.Artifact)
		}
	}
	if job.Error != nil {
		s.out.Printf("Error (%s): %s\n", job.Error.Kind, job.Error.Message)
	}
}

func init() {
	trainCmd.Flags().BoolP("follow", "f", false, "Print every metric point")
	trainCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while training, e.g. :9090")
	rootCmd.AddCommand(trainCmd)
}
