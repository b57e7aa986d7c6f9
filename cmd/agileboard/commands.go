package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

// atEnd is the index meaning "append" for move commands.
const atEnd = math.MaxInt

func (a *app) boardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Manage boards",
	}

	var (
		project   string
		boardType string
		columns   []string
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := agile.NewBoard{ProjectID: project, Name: args[0], Type: agile.BoardType(boardType)}
			for _, name := range columns {
				in.Columns = append(in.Columns, agile.NewColumn{Name: name})
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				v, err := e.CreateBoard(ctx, in)
				return v, nil, err
			})
		},
	}
	create.Flags().StringVarP(&project, "project", "p", "", "project id")
	create.Flags().StringVarP(&boardType, "type", "t", string(agile.BoardTypeKanban), "kanban or scrum")
	create.Flags().StringSliceVar(&columns, "columns", nil, "initial columns (default from template)")
	_ = create.MarkFlagRequired("project")

	show := &cobra.Command{
		Use:   "show <board-id>",
		Short: "Show a board with its columns and cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				v, err := e.GetBoard(ctx, args[0])
				return v, nil, err
			})
		},
	}

	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List the boards of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				v, err := e.ListBoards(ctx, args[0])
				return v, nil, err
			})
		},
	}

	cmd.AddCommand(create, show, list)
	return cmd
}

func (a *app) columnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "column",
		Short: "Manage board columns",
	}

	var (
		wip  int
		done bool
	)
	add := &cobra.Command{
		Use:   "add <board-id> <name>",
		Short: "Append a column to a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := agile.NewColumn{Name: args[1]}
			if cmd.Flags().Changed("wip") {
				in.WIPLimit = &wip
			}
			if cmd.Flags().Changed("done") {
				in.IsDoneColumn = &done
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				v, err := e.CreateColumn(ctx, args[0], in)
				return v, nil, err
			})
		},
	}
	add.Flags().IntVar(&wip, "wip", 0, "WIP limit")
	add.Flags().BoolVar(&done, "done", false, "mark as a done column")

	var (
		moveBoard string
		moveIndex int
	)
	move := &cobra.Command{
		Use:   "move <column-id>",
		Short: "Reorder a column within its board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				board := moveBoard
				if board == "" {
					col, err := e.GetColumn(ctx, args[0])
					if err != nil {
						return nil, nil, err
					}
					board = col.BoardID
				}
				v, err := e.MoveColumn(ctx, args[0], board, moveIndex)
				return v, nil, err
			})
		},
	}
	move.Flags().StringVar(&moveBoard, "board", "", "destination board (default the column's own)")
	move.Flags().IntVar(&moveIndex, "index", atEnd, "destination index")

	del := &cobra.Command{
		Use:   "delete <column-id>",
		Short: "Delete an empty column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				return map[string]string{"deleted": args[0]}, nil, e.DeleteColumn(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(add, move, del)
	return cmd
}

func (a *app) cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Manage cards",
	}

	var (
		cardType string
		priority string
		points   int
		item     string
	)
	add := &cobra.Command{
		Use:   "add <column-id> <title>",
		Short: "Add a card to a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := agile.NewCard{
				Title:    args[1],
				Type:     agile.CardType(cardType),
				Priority: agile.Priority(priority),
			}
			if cmd.Flags().Changed("points") {
				in.StoryPoints = &points
			}
			if item != "" {
				in.BacklogItemID = &item
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				r, err := e.CreateCard(ctx, args[0], in)
				return r.Value, r.Warnings, err
			})
		},
	}
	add.Flags().StringVar(&cardType, "type", "", "story, task, bug or epic-marker")
	add.Flags().StringVar(&priority, "priority", "", "low, medium, high or critical")
	add.Flags().IntVar(&points, "points", 0, "story points")
	add.Flags().StringVar(&item, "item", "", "backlog item to link")

	var moveIndex int
	move := &cobra.Command{
		Use:   "move <card-id> <column-id>",
		Short: "Move a card to a column on the same board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				r, err := e.MoveCard(ctx, args[0], args[1], moveIndex)
				return r.Value, r.Warnings, err
			})
		},
	}
	move.Flags().IntVar(&moveIndex, "index", atEnd, "destination index")

	cmd.AddCommand(add, move)
	return cmd
}

func (a *app) itemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage backlog items",
	}

	var (
		priority string
		points   int
	)
	add := &cobra.Command{
		Use:   "add <project-id> <title>",
		Short: "Append an item to the product backlog",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := agile.NewItem{Title: args[1], Priority: agile.Priority(priority)}
			if cmd.Flags().Changed("points") {
				in.StoryPoints = &points
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				v, err := e.CreateItem(ctx, args[0], in)
				return v, nil, err
			})
		},
	}
	add.Flags().StringVar(&priority, "priority", "", "low, medium, high or critical")
	add.Flags().IntVar(&points, "points", 0, "story points")

	var listSprint string
	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List the product backlog, or a sprint backlog with --sprint",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listSprint == "" && len(args) == 0 {
				return fmt.Errorf("a project id or --sprint is required")
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				if listSprint != "" {
					v, err := e.SprintBacklog(ctx, listSprint)
					return v, nil, err
				}
				v, err := e.ProductBacklog(ctx, args[0])
				return v, nil, err
			})
		},
	}
	list.Flags().StringVar(&listSprint, "sprint", "", "sprint id")

	var (
		moveSprint string
		moveIndex  int
	)
	move := &cobra.Command{
		Use:   "move <item-id>",
		Short: "Reorder an item or move it between the product backlog and a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := agile.BacklogProduct
			if moveSprint != "" {
				dest = agile.BacklogSprint
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				r, err := e.MoveItem(ctx, args[0], dest, moveSprint, moveIndex)
				return r.Value, r.Warnings, err
			})
		},
	}
	move.Flags().StringVar(&moveSprint, "sprint", "", "destination sprint (default product backlog)")
	move.Flags().IntVar(&moveIndex, "index", atEnd, "destination index")

	status := &cobra.Command{
		Use:   "status <item-id> <status>",
		Short: "Change an item's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				r, err := e.UpdateStatus(ctx, args[0], agile.ItemStatus(args[1]))
				return r.Value, r.Warnings, err
			})
		},
	}

	remove := &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove an item from its backlog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				r, err := e.Remove(ctx, args[0])
				return r.Value, r.Warnings, err
			})
		},
	}

	cmd.AddCommand(add, list, move, status, remove)
	return cmd
}

func (a *app) sprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sprint",
		Short: "Plan, run and report on sprints",
	}

	var (
		goal     string
		start    string
		end      string
		capacity int
	)
	create := &cobra.Command{
		Use:   "create <board-id> <name>",
		Short: "Plan a sprint on a board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := agile.NewSprint{Name: args[1], Goal: goal}
			var err error
			if in.StartDate, err = parseDate("start", start); err != nil {
				return err
			}
			if in.EndDate, err = parseDate("end", end); err != nil {
				return err
			}
			if cmd.Flags().Changed("capacity") {
				in.TeamCapacity = &capacity
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				v, err := e.CreateSprint(ctx, args[0], in)
				return v, nil, err
			})
		},
	}
	create.Flags().StringVar(&goal, "goal", "", "sprint goal")
	create.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	create.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	create.Flags().IntVar(&capacity, "capacity", 0, "team capacity in points")

	// Commands that take only a sprint id.
	byID := func(use, short string, fn func(ctx context.Context, e *agile.Engine, id string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <sprint-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
					v, err := fn(ctx, e, args[0])
					return v, nil, err
				})
			},
		}
	}

	startCmd := byID("start", "Start a planned sprint", func(ctx context.Context, e *agile.Engine, id string) (any, error) {
		return e.StartSprint(ctx, id)
	})
	complete := byID("complete", "Complete the active sprint", func(ctx context.Context, e *agile.Engine, id string) (any, error) {
		return e.CompleteSprint(ctx, id)
	})
	progress := byID("progress", "Show sprint progress", func(ctx context.Context, e *agile.Engine, id string) (any, error) {
		return e.SprintProgress(ctx, id)
	})
	burndown := byID("burndown", "Show the sprint burndown", func(ctx context.Context, e *agile.Engine, id string) (any, error) {
		return e.Burndown(ctx, id)
	})

	var carryTo string
	carry := &cobra.Command{
		Use:   "carry-over <sprint-id>",
		Short: "Move unfinished items of a completed sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := agile.BacklogProduct
			if carryTo != "" {
				dest = agile.BacklogSprint
			}
			return a.run(cmd, func(ctx context.Context, e *agile.Engine) (any, []agile.Warning, error) {
				r, err := e.CarryOver(ctx, args[0], dest, carryTo)
				return r.Value, r.Warnings, err
			})
		},
	}
	carry.Flags().StringVar(&carryTo, "to", "", "destination sprint (default product backlog)")

	cmd.AddCommand(create, startCmd, complete, progress, burndown, carry)
	return cmd
}

func parseDate(flag, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s date %q: %w", flag, s, err)
	}
	return &t, nil
}
