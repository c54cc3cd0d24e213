package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/internal/catalog"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var (
		kind     string
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent tasks from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			filter, err := buildTaskFilter(kind, statuses, limit)
			if err != nil {
				return err
			}

			database, err := openDatabase(cfg, ctx.loggerValue())
			if err != nil {
				return err
			}
			defer database.Close()

			repo := catalog.NewRepository(database.Conn(), database.Dialect())
			tasks, err := repo.ListTasks(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks")
				return nil
			}
			fmt.Fprintln(out, renderTaskTable(tasks, time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind (extraction, conversion)")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, started, success, failure)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of tasks to show")
	return cmd
}

func buildTaskFilter(kind string, statuses []string, limit int) (catalog.TaskFilter, error) {
	f := catalog.TaskFilter{Limit: limit}

	if kind != "" {
		k := catalog.TaskKind(strings.ToUpper(kind))
		if k != catalog.TaskExtraction && k != catalog.TaskConversion {
			return f, fmt.Errorf("unknown task kind %q", kind)
		}
		f.Kind = k
	}

	for _, s := range statuses {
		st := catalog.TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
		switch st {
		case catalog.TaskPending, catalog.TaskStarted, catalog.TaskSuccess, catalog.TaskFailure:
			f.Statuses = append(f.Statuses, st)
		default:
			return f, fmt.Errorf("unknown task status %q", s)
		}
	}
	return f, nil
}

func renderTaskTable(tasks []*catalog.Task, now time.Time) string {
	headers := []string{"ID", "Kind", "Subject", "Status", "Updated", "Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			strings.ToLower(string(t.Kind)),
			t.SubjectID,
			string(t.Status),
			formatAge(now.Sub(t.UpdatedAt)),
			truncate(t.Error, 48),
		})
	}
	return renderTable(headers, rows, aligns)
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
