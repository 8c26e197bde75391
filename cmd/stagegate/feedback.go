package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/stagegate/pkg/models"
)

func parseBandFlag(s string) (models.Band, error) {
	b, ok := models.ParseBand(s)
	if !ok {
		return "", fmt.Errorf("unknown band %q (want simple, moderate, complex or very_complex)", s)
	}
	return b, nil
}

func newFeedbackCmd(a *app) *cobra.Command {
	var (
		band    string
		approve bool
		reject  bool
		note    string
	)
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Record a human approval or rejection for a band",
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return errors.New("exactly one of --approve or --reject is required")
			}
			b, err := parseBandFlag(band)
			if err != nil {
				return err
			}
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			p := rt.engine.Policy()
			if err := p.RecordFeedback(cmd.Context(), b, approve, note); err != nil {
				return err
			}
			rate, err := p.ApprovalRate(cmd.Context(), b)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded. Approval rate for %s: %.2f (threshold %.2f)\n",
				b, rate, a.cfg.AutoRouting.ApprovalRateThreshold)
			return nil
		},
	}
	cmd.Flags().StringVar(&band, "band", "", "complexity band")
	cmd.Flags().BoolVar(&approve, "approve", false, "record an approval")
	cmd.Flags().BoolVar(&reject, "reject", false, "record a rejection")
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	_ = cmd.MarkFlagRequired("band")
	return cmd
}

func newApprovalRateCmd(a *app) *cobra.Command {
	var band string
	cmd := &cobra.Command{
		Use:   "approval-rate",
		Short: "Show the learned approval rate per band",
		RunE: func(cmd *cobra.Command, args []string) error {
			bands := []models.Band{models.BandModerate, models.BandComplex}
			if band != "" {
				b, err := parseBandFlag(band)
				if err != nil {
					return err
				}
				bands = []models.Band{b}
			}
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()

			routing := a.cfg.AutoRouting
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BAND\tRATE\tTHRESHOLD\tAUTO-APPROVE")
			for _, b := range bands {
				rate, err := rt.engine.Policy().ApprovalRate(cmd.Context(), b)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%t\n", b, rate, routing.ApprovalRateThreshold, routing.AutoApprove(b))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&band, "band", "", "limit to one band")
	return cmd
}

func newDecisionsCmd(a *app) *cobra.Command {
	var (
		band  string
		limit int
		since time.Duration
		stats bool
	)
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List logged routing decisions and feedback, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx := cmd.Context()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			if stats {
				rows, err := rt.log.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "BAND\tDECISION\tCOUNT")
				for _, s := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.Band, s.Decision, humanize.Comma(s.Count))
				}
				return w.Flush()
			}

			opts := models.EventQueryOpts{Feature: models.FeatureStage2, Limit: limit}
			if band != "" {
				if opts.Band, err = parseBandFlag(band); err != nil {
					return err
				}
			}
			if since > 0 {
				opts.Since = time.Now().Add(-since)
			}
			events, err := rt.log.Query(ctx, opts)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No decisions logged.")
				return nil
			}
			fmt.Fprintln(w, "WHEN\tBAND\tDECISION\tSCORE\tTOKENS\tREASON")
			for _, e := range events {
				reason := e.Reason
				if note := e.Metadata["note"]; note != "" {
					reason = note
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					humanize.Time(e.CreatedAt), e.Band, e.Decision, e.ComplexityScore,
					humanize.Comma(e.EstimatedTokens), reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&band, "band", "", "filter by band")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 24h)")
	cmd.Flags().BoolVar(&stats, "stats", false, "show counts per band and decision instead")
	return cmd
}
