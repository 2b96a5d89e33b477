package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/sarchlab/arbus/bus"
	"github.com/sarchlab/arbus/datarecording"
	"github.com/sarchlab/arbus/sim"
	"github.com/sarchlab/arbus/tracing"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report TRACE.sqlite3",
	Short: "Summarize a trace recorded by the run command.",
	Long: `Report prints the properties of the run, the latency of the ` +
		`recorded transactions per operation, and optionally the first ` +
		`transactions with their steps.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		numTasks, _ := cmd.Flags().GetInt("tasks")

		return printReport(cmd.Context(), args[0], numTasks, cmd.OutOrStdout())
	},
}

func init() {
	reportCmd.Flags().Int("tasks", 0,
		"Also list the first N transactions with their steps")
	rootCmd.AddCommand(reportCmd)
}

// opSummary accumulates the transactions of one operation.
type opSummary struct {
	op          string
	count       int
	totalTime   sim.VTimeInSec
	maxTime     sim.VTimeInSec
	totalWait   sim.VTimeInSec
	totalWords  int
	waitSamples int
}

func (s *opSummary) add(t tracing.Task) {
	s.count++

	d := t.EndTime - t.StartTime
	s.totalTime += d
	if d > s.maxTime {
		s.maxTime = d
	}

	granted := false
	for _, step := range t.Steps {
		switch step.What {
		case bus.TaskStepGrant:
			if !granted {
				s.totalWait += step.Time - t.StartTime
				s.waitSamples++
				granted = true
			}
		case bus.TaskStepWord:
			s.totalWords++
		}
	}
}

func printReport(
	ctx context.Context,
	filename string,
	numTasks int,
	out io.Writer,
) error {
	reader, err := datarecording.NewReader(filename)
	if err != nil {
		return errors.Wrapf(err, "opening %s", filename)
	}
	defer reader.Close()

	if err := printRunInfo(ctx, reader, out); err != nil {
		return err
	}

	traces := tracing.NewTraceReader(reader)

	tasks, err := traces.ListTasks(ctx, tracing.TaskQuery{
		Kind:      bus.TaskKindTransaction,
		WithSteps: true,
	})
	if err != nil {
		return errors.Wrap(err, "reading transactions")
	}

	printOpSummaries(tasks, out)

	if numTasks > 0 {
		printTasks(tasks, numTasks, out)
	}

	return nil
}

func printRunInfo(
	ctx context.Context,
	reader datarecording.DataReader,
	out io.Writer,
) error {
	reader.MapTable(datarecording.RunInfoTable, datarecording.RunInfo{})

	rows, _, err := reader.Query(ctx, datarecording.RunInfoTable,
		datarecording.QueryParams{})
	if err != nil {
		return errors.Wrap(err, "reading run info")
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, row := range rows {
		info := row.(*datarecording.RunInfo)
		fmt.Fprintf(w, "%s\t%s\n", info.Property, info.Value)
	}
	fmt.Fprintln(w)

	return w.Flush()
}

func printOpSummaries(tasks []tracing.Task, out io.Writer) {
	summaries := map[string]*opSummary{}
	for _, t := range tasks {
		s, ok := summaries[t.What]
		if !ok {
			s = &opSummary{op: t.What}
			summaries[t.What] = s
		}

		s.add(t)
	}

	ops := make([]string, 0, len(summaries))
	for op := range summaries {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Op\tCount\tWords\tAvg wait (ns)\tAvg latency (ns)\t"+
		"Max latency (ns)\t")

	for _, op := range ops {
		s := summaries[op]

		avgWait := 0.0
		if s.waitSamples > 0 {
			avgWait = float64(s.totalWait) / float64(s.waitSamples) * 1e9
		}

		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\t%.1f\t%.1f\t\n",
			s.op, s.count, s.totalWords, avgWait,
			float64(s.totalTime)/float64(s.count)*1e9,
			float64(s.maxTime)*1e9)
	}

	w.Flush()
}

func printTasks(tasks []tracing.Task, n int, out io.Writer) {
	if n > len(tasks) {
		n = len(tasks)
	}

	fmt.Fprintln(out)

	for _, t := range tasks[:n] {
		steps := make([]string, len(t.Steps))
		for i, s := range t.Steps {
			steps[i] = fmt.Sprintf("%s@%.1f", s.What, float64(s.Time)*1e9)
		}

		fmt.Fprintf(out, "%s %s [%.1f, %.1f] ns: %s\n",
			t.ID, t.What, float64(t.StartTime)*1e9, float64(t.EndTime)*1e9,
			strings.Join(steps, " "))
	}
}
