package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"issueflow/internal/app"
	"issueflow/internal/domain"
	"issueflow/internal/engine"
	"issueflow/internal/report"
	"issueflow/internal/timeparse"
)

func issueCmd() *cobra.Command {
	iss := &cobra.Command{Use: "issue", Short: "Manage issues"}
	iss.AddCommand(issueCreateCmd())
	iss.AddCommand(issueShowCmd())
	iss.AddCommand(issueTransitionCmd("start", "Move an issue to IN_PROGRESS", engine.Engine.StartIssue))
	iss.AddCommand(issueTransitionCmd("complete", "Move an issue to DONE", engine.Engine.CompleteIssue))
	iss.AddCommand(issueAssignCmd())
	iss.AddCommand(issueCommentCmd())
	iss.AddCommand(issueCommentsCmd())
	iss.AddCommand(issueHistoryCmd())
	iss.AddCommand(issueSearchCmd())
	return iss
}

func issueCreateCmd() *cobra.Command {
	var d engine.IssueDraft
	var issueType, priority, due string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create an issue in TODO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projectID, err := app.ResolveProject(ctx, a.Store, viper.GetString("project"))
				if err != nil {
					return err
				}
				d.ProjectID = projectID
				d.Title = args[0]
				d.Type = domain.IssueType(strings.ToUpper(issueType))
				d.Priority = domain.Priority(strings.ToUpper(priority))
				if due != "" {
					t, err := timeparse.Parse(due, time.Now())
					if err != nil {
						return fmt.Errorf("--due: %w", err)
					}
					d.DueDate = &t
				}
				if d.ReporterID == "" {
					d.ReporterID = engine.ActorFrom(ctx)
				}
				issue, err := a.Engine.CreateIssue(ctx, d)
				if err != nil {
					return err
				}
				return printIssue(issue)
			})
		},
	}
	cmd.Flags().StringVar(&d.Description, "description", "", "description")
	cmd.Flags().StringVar(&issueType, "type", "TASK", "TASK, BUG or STORY")
	cmd.Flags().StringVar(&priority, "priority", "MEDIUM", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&d.SprintID, "sprint", "", "sprint id")
	cmd.Flags().StringVar(&d.ReporterID, "reporter", "", "reporter user id (defaults to --actor-id)")
	cmd.Flags().StringSliceVar(&d.Labels, "label", nil, "label (repeatable)")
	cmd.Flags().StringVar(&due, "due", "", "due date: YYYY-MM-DD, RFC3339, +3d or natural language")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				issue, err := a.Engine.GetIssue(ctx, args[0])
				if err != nil {
					return err
				}
				return printIssue(issue)
			})
		},
	}
}

func issueTransitionCmd(use, short string, fn func(engine.Engine, context.Context, string) (domain.Issue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <issue-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				issue, err := fn(a.Engine, ctx, args[0])
				if err != nil {
					return err
				}
				return printIssue(issue)
			})
		},
	}
}

func issueAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <issue-id> <user-id>",
		Short: "Assign an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				user, err := a.Store.GetUser(ctx, args[1])
				if err != nil {
					return fmt.Errorf("user %s: %w", args[1], err)
				}
				issue, err := a.Engine.AssignIssue(ctx, args[0], user)
				if err != nil {
					return err
				}
				return printIssue(issue)
			})
		},
	}
}

func issueCommentCmd() *cobra.Command {
	var authorID string
	cmd := &cobra.Command{
		Use:   "comment <issue-id> <text>",
		Short: "Comment on an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if authorID == "" {
					authorID = engine.ActorFrom(ctx)
				}
				if authorID == "" {
					return fmt.Errorf("--author or --actor-id required")
				}
				author, err := a.Store.GetUser(ctx, authorID)
				if err != nil {
					return fmt.Errorf("user %s: %w", authorID, err)
				}
				c, err := a.Engine.AddComment(ctx, args[0], engine.CommentDraft{Author: author, Content: args[1]})
				if err != nil {
					return err
				}
				return printComments([]domain.Comment{c})
			})
		},
	}
	cmd.Flags().StringVar(&authorID, "author", "", "author user id (defaults to --actor-id)")
	return cmd
}

func issueCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <issue-id>",
		Short: "List comments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Comments(ctx, args[0])
				if err != nil {
					return err
				}
				return printComments(items)
			})
		},
	}
}

func issueHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <issue-id>",
		Short: "Show status and assignee changes, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable(table.Row{"When", "By", "Field", "From", "To"})
				for _, h := range entries {
					by := ""
					if h.ChangedBy != nil {
						by = *h.ChangedBy
					}
					oldValue, newValue := h.Change.Values()
					if c, ok := h.Change.(domain.StatusChange); ok {
						oldValue, newValue = colorStatus(c.Old), colorStatus(c.New)
					}
					tw.AppendRow(table.Row{h.ChangedAt.Format(time.RFC3339), by, h.Change.Field(), oldValue, newValue})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func issueSearchCmd() *cobra.Command {
	var status, text string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search issues by status and text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projectID, err := app.ResolveProject(ctx, a.Store, viper.GetString("project"))
				if err != nil {
					return err
				}
				var st *domain.Status
				if status != "" {
					s, err := domain.ParseStatus(strings.ToUpper(status))
					if err != nil {
						return err
					}
					st = &s
				}
				items, err := a.Reader.Search(ctx, projectID, st, text)
				if err != nil {
					return err
				}
				return printIssues(items)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "TODO, IN_PROGRESS or DONE")
	cmd.Flags().StringVar(&text, "text", "", "substring of title or description")
	return cmd
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Reports"}
	rep.AddCommand(reportTopCmd())
	return rep
}

func reportTopCmd() *cobra.Command {
	var from, to string
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank assignees by DONE issues created in a window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now()
				var w report.Window
				var err error
				if from != "" {
					if w.From, err = timeparse.Parse(from, now); err != nil {
						return fmt.Errorf("--from: %w", err)
					}
				}
				if to != "" {
					if w.To, err = timeparse.Parse(to, now); err != nil {
						return fmt.Errorf("--to: %w", err)
					}
				}
				w, err = a.Reader.Resolve(w)
				if err != nil {
					return err
				}
				items, err := a.Reader.TopPerformers(ctx, w, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				fmt.Printf("%s .. %s\n", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
				tw := newTable(table.Row{"#", "Assignee", "Closed"})
				for i, p := range items {
					tw.AppendRow(table.Row{i + 1, p.AssigneeName, p.ClosedCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start (default: to minus reports.window_days)")
	cmd.Flags().StringVar(&to, "to", "", "window end (default: now)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows (default: reports.top_limit)")
	return cmd
}

func printIssue(issue domain.Issue) error {
	if viper.GetBool("json") {
		return printJSON(issue)
	}
	return printIssues([]domain.Issue{issue})
}

func printIssues(items []domain.Issue) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Title", "Type", "Priority", "Status", "Assignee", "Version"})
	for _, i := range items {
		tw.AppendRow(table.Row{i.ID, i.Title, i.Type, colorPriority(i.Priority), colorStatus(i.Status), i.AssigneeName(), i.Version})
	}
	tw.Render()
	return nil
}

func printComments(items []domain.Comment) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable(table.Row{"ID", "Author", "When", "Content"})
	for _, c := range items {
		tw.AppendRow(table.Row{c.ID, c.Author.Username, c.CreatedAt.Format(time.RFC3339), c.Content})
	}
	tw.Render()
	return nil
}
