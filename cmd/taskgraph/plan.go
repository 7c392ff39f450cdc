package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskgraph/internal/executor"
	"github.com/aristath/taskgraph/internal/pipeline"
	"github.com/aristath/taskgraph/internal/scheduler"
)

var planCmd = &cobra.Command{
	Use:   "plan <pipeline>",
	Short: "Validate a pipeline and print its execution order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, err := pipeline.Load(args[0])
		if err != nil {
			return err
		}
		return printPlan(cmd, def)
	},
}

func printPlan(cmd *cobra.Command, def *pipeline.Definition) error {
	// Nothing runs, so the inline executor is enough to wire the graph.
	plan, err := pipeline.Build(context.Background(), executor.Inline(), def,
		pipeline.RunnerFunc(func(context.Context, pipeline.Command) (pipeline.Output, error) {
			return pipeline.Output{}, fmt.Errorf("plan does not run tasks")
		}), pipeline.Options{})
	if err != nil {
		return err
	}
	order, err := plan.Order()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s: %d task(s)\n", def.Name, len(plan.Tasks))
	for i, name := range order {
		task := plan.Tasks[name]
		line := fmt.Sprintf("%3d. %s [%s]", i+1, name, task.Mode())
		if parents := visibleParents(task); len(parents) > 0 {
			line += " after " + strings.Join(parents, ", ")
		}
		fmt.Fprintln(w, line)
	}
	for _, trigger := range plan.Triggers() {
		names := make([]string, 0, len(plan.Deferred[trigger]))
		for _, n := range plan.Deferred[trigger] {
			names = append(names, n.Name())
		}
		fmt.Fprintf(w, "  on %s: %s\n", trigger, strings.Join(names, ", "))
	}
	return nil
}

// visibleParents names the dependencies of task. A group's end sentinel stands
// for the whole group; root sentinels are not dependencies.
func visibleParents(task *scheduler.Task[pipeline.Output]) []string {
	var names []string
	for _, p := range task.Parents() {
		switch {
		case strings.HasSuffix(p, ".root"):
		case strings.HasSuffix(p, ".end"):
			names = append(names, "group "+strings.TrimSuffix(p, ".end"))
		default:
			names = append(names, p)
		}
	}
	sort.Strings(names)
	return names
}
