package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"taskhub/api/internal/store"
	"taskhub/api/internal/tree"
)

// treeSource is the part of the store the tree command reads.
type treeSource interface {
	ListCategories(ctx context.Context, viewer store.Viewer, workspaceID int64) ([]store.Category, error)
	ListComments(ctx context.Context, viewer store.Viewer, kind store.CommentKind, scopeID int64) ([]store.Comment, error)
	ListWorkItems(ctx context.Context, viewer store.Viewer, kind store.ItemKind, filter store.ItemFilter) ([]store.WorkItem, error)
}

type treeOptions struct {
	Kind      string
	Workspace int64
	Category  int64
	Project   int64
	Task      int64
	Highlight int64
	User      int64
	Archived  bool
}

var treeKinds = []string{
	"categories",
	"workspace-comments",
	"category-comments",
	"projects",
	"tasks",
	"project-comments",
	"task-comments",
}

func newTreeCommand(e *env) *cobra.Command {
	var opts treeOptions
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print one scope's tree of categories, projects, tasks or comments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := e.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			out, err := renderScope(ctx, store.NewPostgresStore(db), opts)
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.Kind, "kind", "categories", "one of "+strings.Join(treeKinds, ", "))
	flags.Int64Var(&opts.Workspace, "workspace", 0, "workspace id")
	flags.Int64Var(&opts.Category, "category", 0, "category id")
	flags.Int64Var(&opts.Project, "project", 0, "project id; narrows tasks to one project")
	flags.Int64Var(&opts.Task, "task", 0, "task id")
	flags.Int64Var(&opts.Highlight, "highlight", 0, "node id to emphasise")
	flags.Int64Var(&opts.User, "user", 0, "only show rows created by this user (default: everything)")
	flags.BoolVar(&opts.Archived, "archived", false, "show hidden projects or tasks")
	return cmd
}

func renderScope(ctx context.Context, src treeSource, opts treeOptions) (string, error) {
	viewer := store.Viewer{Admin: true}
	if opts.User != 0 {
		viewer = store.Viewer{UserID: opts.User}
	}
	require := func(name string, value int64) error {
		if value <= 0 {
			return fmt.Errorf("--%s is required for --kind %s", name, opts.Kind)
		}
		return nil
	}

	switch opts.Kind {
	case "categories":
		if err := require("workspace", opts.Workspace); err != nil {
			return "", err
		}
		categories, err := src.ListCategories(ctx, viewer, opts.Workspace)
		if err != nil {
			return "", err
		}
		return draw(categories, store.CategoryRef, func(c store.Category) string {
			return fmt.Sprintf("#%d %s", c.ID, c.Name)
		}, opts.Highlight), nil

	case "workspace-comments":
		if err := require("workspace", opts.Workspace); err != nil {
			return "", err
		}
		return drawComments(ctx, src, viewer, store.WorkspaceComments, opts.Workspace, opts.Highlight)

	case "category-comments":
		if err := require("category", opts.Category); err != nil {
			return "", err
		}
		return drawComments(ctx, src, viewer, store.CategoryComments, opts.Category, opts.Highlight)

	case "project-comments":
		if err := require("project", opts.Project); err != nil {
			return "", err
		}
		return drawComments(ctx, src, viewer, store.ProjectComments, opts.Project, opts.Highlight)

	case "task-comments":
		if err := require("task", opts.Task); err != nil {
			return "", err
		}
		return drawComments(ctx, src, viewer, store.TaskComments, opts.Task, opts.Highlight)

	case "projects", "tasks":
		if err := require("category", opts.Category); err != nil {
			return "", err
		}
		kind := store.Projects
		filter := store.ItemFilter{CategoryID: opts.Category, Archived: opts.Archived}
		if opts.Kind == "tasks" {
			kind = store.Tasks
			if opts.Project != 0 {
				project := opts.Project
				filter.ProjectID = &project
			}
		}
		items, err := src.ListWorkItems(ctx, viewer, kind, filter)
		if err != nil {
			return "", err
		}
		return draw(items, store.WorkItemRef, func(w store.WorkItem) string {
			return fmt.Sprintf("#%d %s", w.ID, w.Title)
		}, opts.Highlight), nil
	}
	return "", errors.New("unknown --kind " + opts.Kind + "; expected one of " + strings.Join(treeKinds, ", "))
}

func drawComments(ctx context.Context, src treeSource, viewer store.Viewer, kind store.CommentKind, scopeID, highlight int64) (string, error) {
	comments, err := src.ListComments(ctx, viewer, kind, scopeID)
	if err != nil {
		return "", err
	}
	return draw(comments, store.CommentRef, func(c store.Comment) string {
		return fmt.Sprintf("#%d %s", c.ID, firstLine(c.Content, 60))
	}, highlight), nil
}

func draw[T any](nodes []T, ref tree.RefFunc[T], label func(T) string, highlight int64) string {
	return tree.Render(tree.Build(nodes, ref), label, highlight)
}

func firstLine(text string, limit int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if utf8.RuneCountInString(line) <= limit {
		return line
	}
	runes := []rune(line)
	return string(runes[:limit]) + "…"
}
