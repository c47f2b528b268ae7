package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sightline/internal/catalog"
	"github.com/linnemanlabs/sightline/internal/catalog/seed"
	"github.com/linnemanlabs/sightline/internal/partner"
	"github.com/linnemanlabs/sightline/internal/resolve"
	"github.com/linnemanlabs/sightline/internal/triage"
)

// errUnresolved makes the process exit non-zero when any label failed to
// resolve, after every label has been printed.
var errUnresolved = errors.New("one or more labels did not resolve")

func loadCatalog(cmd *cobra.Command, path string) (*catalog.Index, error) {
	if path == "" {
		return seed.Default(cmd.Context(), log.Nop())
	}
	return seed.LoadFile(cmd.Context(), path, log.Nop())
}

func printResolution(w io.Writer, label string, res resolve.Resolution, ok bool) {
	if !ok {
		fmt.Fprintf(w, "%s\tunresolved\n", label)
		return
	}
	via := string(res.MatchedBy)
	if res.Synonym != "" {
		via += " (" + res.Synonym + ")"
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", label, res.Disease, res.Department.Name, res.Confidence, via)
}

func resolveCmd() *cobra.Command {
	var catalogFile string

	cmd := &cobra.Command{
		Use:   "resolve LABEL...",
		Short: "Resolve diagnosis labels to a disease and department",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := loadCatalog(cmd, catalogFile)
			if err != nil {
				return err
			}
			r := resolve.New(idx)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			failed := false
			for _, label := range args {
				res, ok := r.Resolve(label)
				failed = failed || !ok
				printResolution(tw, label, res, ok)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if failed {
				return errUnresolved
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML catalog file (default: built-in ophthalmology catalog)")
	return cmd
}

// thresholdFlags binds the triage windows to a command's flags.
func thresholdFlags(cmd *cobra.Command) *triage.Thresholds {
	th := triage.DefaultThresholds()
	cmd.Flags().Float64Var(&th.AcuteOnsetHours, "acute-hours", th.AcuteOnsetHours, "acute onset window in hours")
	cmd.Flags().Float64Var(&th.SameDayHours, "same-day-hours", th.SameDayHours, "same-day window in hours")
	cmd.Flags().Float64Var(&th.MultiDayHours, "multi-day-hours", th.MultiDayHours, "multi-day window in hours")
	return &th
}

func evaluateCmd() *cobra.Command {
	var (
		pain     string
		vision   []string
		assoc    []string
		hours    float64
		trauma   bool
		chemical bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate questionnaire answers against the triage rules",
		Args:  cobra.NoArgs,
	}
	th := thresholdFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		p, err := triage.ParsePainLevel(pain)
		if err != nil {
			return err
		}
		e, err := triage.NewEngine(*th, triage.DefaultVocabulary())
		if err != nil {
			return err
		}
		a := triage.Answers{
			SessionID:          "sightctl",
			Pain:               p,
			VisionChanges:      vision,
			DurationHours:      hours,
			AssociatedSymptoms: assoc,
			TraumaHistory:      trauma,
			ChemicalExposure:   chemical,
		}
		if err := a.Validate(); err != nil {
			return err
		}
		verdict := e.Evaluate(a)
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "level:  %d (%s)\nrule:   %s\naction: %s\n",
			int(verdict.Level), verdict.Level, verdict.RuleID, verdict.RecommendedAction)
		return err
	}

	cmd.Flags().StringVar(&pain, "pain", "", "pain level (none|mild|moderate|severe or the Chinese wording)")
	cmd.Flags().StringSliceVar(&vision, "vision", nil, "vision change tag, repeatable")
	cmd.Flags().StringSliceVar(&assoc, "assoc", nil, "associated symptom tag, repeatable")
	cmd.Flags().Float64Var(&hours, "hours", 0, "hours since onset")
	cmd.Flags().BoolVar(&trauma, "trauma", false, "history of eye trauma")
	cmd.Flags().BoolVar(&chemical, "chemical", false, "chemical exposure")
	_ = cmd.MarkFlagRequired("pain")
	_ = cmd.MarkFlagRequired("hours")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the ordered triage rule table",
		Args:  cobra.NoArgs,
	}
	th := thresholdFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		e, err := triage.NewEngine(*th, triage.DefaultVocabulary())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		got := e.Thresholds()
		fmt.Fprintf(w, "windows: acute=%gh same_day=%gh multi_day=%gh\n\n", got.AcuteOnsetHours, got.SameDayHours, got.MultiDayHours)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLEVEL\tDESCRIPTION")
		for _, r := range e.Rules() {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", r.ID, int(r.Level), r.Description)
		}
		return tw.Flush()
	}
	return cmd
}

func classifyCmd() *cobra.Command {
	var (
		catalogFile string
		url         string
		timeout     time.Duration
		retries     int
	)

	cmd := &cobra.Command{
		Use:   "classify SYMPTOM...",
		Short: "Send symptoms to the partner model and resolve the returned label",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if retries < 0 {
				return fmt.Errorf("retries must not be negative, got %d", retries)
			}
			idx, err := loadCatalog(cmd, catalogFile)
			if err != nil {
				return err
			}
			policy := partner.DefaultRetryPolicy()
			policy.MaxAttempts = uint(retries) + 1

			client, err := partner.NewClient(url, timeout, policy)
			if err != nil {
				return err
			}
			label, err := client.Classify(cmd.Context(), args)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "partner label: %s", label.Text)
			if label.Confidence != nil {
				fmt.Fprintf(w, " (confidence %.2f)", *label.Confidence)
			}
			fmt.Fprintln(w)

			res, ok := resolve.New(idx).Resolve(label.Text)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			printResolution(tw, label.Text, res, ok)
			if err := tw.Flush(); err != nil {
				return err
			}
			if !ok {
				return errUnresolved
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalogFile, "catalog", "", "YAML catalog file (default: built-in ophthalmology catalog)")
	cmd.Flags().StringVar(&url, "partner-url", partner.DefaultURL, "partner model endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout for a single attempt")
	cmd.Flags().IntVar(&retries, "retries", 3, "retries after the first attempt")
	return cmd
}
