package agile

import (
	"context"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxBurndownDays bounds a burndown chart for sprints whose span was never validated, such as
// one started without dates that stays active for a long time.
const maxBurndownDays = 366

// onTrackTolerance is how many percentage points completion may trail elapsed time before a
// sprint is reported at risk.
const onTrackTolerance = 10

// NewSprint describes a sprint to plan on a board.
type NewSprint struct {
	Name         string     `json:"name"`
	Goal         string     `json:"goal,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	TeamCapacity *int       `json:"teamCapacity,omitempty"`
}

// SprintPatch holds the sprint fields to change.
type SprintPatch struct {
	Name          *string    `json:"name,omitempty"`
	Goal          *string    `json:"goal,omitempty"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	TeamCapacity  *int       `json:"teamCapacity,omitempty"`
	ClearCapacity bool       `json:"clearCapacity,omitempty"`
}

// Progress is the computed state of a sprint. It is never stored.
type Progress struct {
	SprintID             string       `json:"sprintId"`
	Status               SprintStatus `json:"status"`
	PlannedPoints        int          `json:"plannedPoints"`
	CommittedPoints      int          `json:"committedPoints"`
	CompletedPoints      int          `json:"completedPoints"`
	RemainingPoints      int          `json:"remainingPoints"`
	CompletionPercentage int          `json:"completionPercentage"`
	ElapsedPercentage    int          `json:"elapsedPercentage"`
	OnTrack              bool         `json:"onTrack"`
	Velocity             float64      `json:"velocity"`
	CapacityUtilization  *int         `json:"capacityUtilization,omitempty"`
}

// BurndownPoint is one day of a burndown chart. Remaining is nil for days still ahead.
type BurndownPoint struct {
	Date      time.Time `json:"date"`
	Ideal     float64   `json:"ideal"`
	Remaining *int      `json:"remaining,omitempty"`
}

func validateSprintDates(op string, start, end *time.Time) error {
	if start == nil || end == nil {
		return nil
	}
	if end.Before(*start) {
		return invalidInput(op, "end date %s is before start date %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if days := calendarDays(*start, *end); days > maxSprintDays {
		return invalidInput(op, "sprint spans %d days, more than %d", days, maxSprintDays)
	}
	return nil
}

func validateCapacity(op string, c *int) error {
	if c != nil && *c < 1 {
		return invalidInput(op, "team capacity must be positive, got %d", *c)
	}
	return nil
}

// CreateSprint plans a new sprint on a board.
func (e *Engine) CreateSprint(ctx context.Context, boardID string, in NewSprint) (*Sprint, error) {
	const op = "createSprint"

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalidInput(op, "sprint name is required")
	}
	if err := validateSprintDates(op, in.StartDate, in.EndDate); err != nil {
		return nil, err
	}
	if err := validateCapacity(op, in.TeamCapacity); err != nil {
		return nil, err
	}

	var sprint *Sprint
	_, err := e.mutate(ctx, op, ActionCreateSprint, boardID, func(tx Tx, m *mutation) error {
		board, err := tx.GetBoard(boardID)
		if err != nil {
			return err
		}
		sprint = &Sprint{
			ID:        e.newID(),
			BoardID:   board.ID,
			ProjectID: board.ProjectID,
			Name:      name,
			Goal:      in.Goal,
			Status:    SprintPlanning,
			CreatedAt: m.at,
			UpdatedAt: m.at,
		}
		if in.StartDate != nil {
			sprint.StartDate = timePtr(*in.StartDate)
		}
		if in.EndDate != nil {
			sprint.EndDate = timePtr(*in.EndDate)
		}
		if in.TeamCapacity != nil {
			sprint.TeamCapacity = intPtr(*in.TeamCapacity)
		}
		return tx.InsertSprint(sprint)
	})
	if err != nil {
		return nil, err
	}
	return sprint, nil
}

// UpdateSprint changes the name, goal, dates or capacity of a sprint. Dates are fixed once the
// sprint is completed.
func (e *Engine) UpdateSprint(ctx context.Context, sprintID string, patch SprintPatch) (*Sprint, error) {
	const op = "updateSprint"
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, invalidInput(op, "sprint name is required")
	}
	if err := validateCapacity(op, patch.TeamCapacity); err != nil {
		return nil, err
	}

	var sprint *Sprint
	_, err := e.mutate(ctx, op, ActionUpdateSprint, sprintID, func(tx Tx, m *mutation) error {
		var err error
		sprint, err = tx.GetSprint(sprintID)
		if err != nil {
			return err
		}
		if (patch.StartDate != nil || patch.EndDate != nil) && sprint.Status == SprintCompleted {
			return newError(KindInvalidState, op, "dates of completed sprint %s cannot change", sprint.ID)
		}
		if patch.Name != nil {
			sprint.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Goal != nil {
			sprint.Goal = *patch.Goal
		}
		if patch.StartDate != nil {
			sprint.StartDate = timePtr(*patch.StartDate)
		}
		if patch.EndDate != nil {
			sprint.EndDate = timePtr(*patch.EndDate)
		}
		if err := validateSprintDates(op, sprint.StartDate, sprint.EndDate); err != nil {
			return err
		}
		switch {
		case patch.ClearCapacity:
			sprint.TeamCapacity = nil
		case patch.TeamCapacity != nil:
			sprint.TeamCapacity = intPtr(*patch.TeamCapacity)
		}
		sprint.UpdatedAt = m.at
		return tx.UpdateSprint(sprint)
	})
	if err != nil {
		return nil, err
	}
	return sprint, nil
}

// GetSprint returns one sprint.
func (e *Engine) GetSprint(ctx context.Context, sprintID string) (*Sprint, error) {
	var sprint *Sprint
	err := e.view(ctx, "getSprint", func(tx Tx) error {
		var err error
		sprint, err = tx.GetSprint(sprintID)
		return err
	})
	return sprint, err
}

// ListSprints returns the sprints of a board in creation order.
func (e *Engine) ListSprints(ctx context.Context, boardID string) ([]*Sprint, error) {
	var sprints []*Sprint
	err := e.view(ctx, "listSprints", func(tx Tx) error {
		if _, err := tx.GetBoard(boardID); err != nil {
			return err
		}
		var err error
		sprints, err = tx.ListSprints(boardID)
		return err
	})
	return sprints, err
}

// StartSprint activates a planned sprint and records its planned points baseline. At most
// one sprint per board may be active.
func (e *Engine) StartSprint(ctx context.Context, sprintID string) (*Sprint, error) {
	const op = "start"

	var sprint *Sprint
	_, err := e.mutate(ctx, op, ActionStartSprint, sprintID, func(tx Tx, m *mutation) error {
		var err error
		sprint, err = tx.GetSprint(sprintID)
		if err != nil {
			return err
		}
		if sprint.Status != SprintPlanning {
			return newError(KindInvalidState, op, "sprint %s is %s, not planning", sprint.ID, sprint.Status)
		}
		others, err := tx.ListSprints(sprint.BoardID)
		if err != nil {
			return err
		}
		for _, o := range others {
			if o.ID != sprint.ID && o.Status == SprintActive {
				return newError(KindSprintAlreadyActive, op, "sprint %q is already active on board %s", o.Name, o.BoardID)
			}
		}

		items, err := tx.ListItems(SprintList(sprint.ID))
		if err != nil {
			return err
		}
		if sprint.StartDate == nil {
			sprint.StartDate = timePtr(m.at)
		}
		sprint.Status = SprintActive
		sprint.PlannedStoryPoints = committedPoints(items)
		sprint.CompletedStoryPoints = donePoints(items)
		sprint.Velocity = velocity(sprint.CompletedStoryPoints, *sprint.StartDate, m.at)
		sprint.UpdatedAt = m.at
		m.emit(Event{Kind: EventSprintStarted, BoardID: sprint.BoardID, SprintID: sprint.ID})
		return tx.UpdateSprint(sprint)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("sprint started", zap.String("sprint", sprint.ID), zap.Int("planned", sprint.PlannedStoryPoints))
	return sprint, nil
}

// CompleteSprint closes an active sprint and freezes its completed points and velocity.
// Unfinished items stay in the sprint until CarryOver or MoveItem takes them elsewhere.
func (e *Engine) CompleteSprint(ctx context.Context, sprintID string) (*Sprint, error) {
	const op = "complete"

	var sprint *Sprint
	_, err := e.mutate(ctx, op, ActionCompleteSprint, sprintID, func(tx Tx, m *mutation) error {
		var err error
		sprint, err = tx.GetSprint(sprintID)
		if err != nil {
			return err
		}
		if sprint.Status != SprintActive {
			return newError(KindInvalidState, op, "sprint %s is %s, not active", sprint.ID, sprint.Status)
		}
		items, err := tx.ListItems(SprintList(sprint.ID))
		if err != nil {
			return err
		}
		if sprint.StartDate == nil {
			sprint.StartDate = timePtr(m.at)
		}
		if sprint.EndDate == nil {
			sprint.EndDate = timePtr(m.at)
		}
		sprint.Status = SprintCompleted
		sprint.CompletedStoryPoints = donePoints(items)
		sprint.Velocity = velocity(sprint.CompletedStoryPoints, *sprint.StartDate, *sprint.EndDate)
		sprint.CompletedAt = timePtr(m.at)
		sprint.UpdatedAt = m.at
		m.emit(Event{Kind: EventSprintCompleted, BoardID: sprint.BoardID, SprintID: sprint.ID})
		return tx.UpdateSprint(sprint)
	})
	if err != nil {
		return nil, err
	}
	e.log.Info("sprint completed",
		zap.String("sprint", sprint.ID),
		zap.Int("completed", sprint.CompletedStoryPoints),
		zap.Float64("velocity", sprint.Velocity))
	return sprint, nil
}

// CarryOver moves every unfinished item of a completed sprint, in order, to the end of the
// product backlog or of another sprint's backlog.
func (e *Engine) CarryOver(ctx context.Context, sprintID string, destType BacklogType, destSprintID string) (Result[[]*BacklogItem], error) {
	const op = "carryOver"

	var moved []*BacklogItem
	warnings, err := e.mutate(ctx, op, ActionCarryOver, sprintID, func(tx Tx, m *mutation) error {
		moved = nil
		sprint, err := tx.GetSprint(sprintID)
		if err != nil {
			return err
		}
		if sprint.Status != SprintCompleted {
			return newError(KindInvalidState, op, "sprint %s is %s, not completed", sprint.ID, sprint.Status)
		}
		if destType == BacklogSprint && destSprintID == sprint.ID {
			return newError(KindInvalidDestination, op, "cannot carry sprint %s over into itself", sprint.ID)
		}

		items, err := tx.ListItems(SprintList(sprint.ID))
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Status == StatusDone {
				continue
			}
			if err := e.moveItem(op, tx, m, item, destType, destSprintID, math.MaxInt); err != nil {
				return err
			}
			moved = append(moved, item)
		}
		return nil
	})
	if err != nil {
		return Result[[]*BacklogItem]{}, err
	}
	return Result[[]*BacklogItem]{Value: moved, Warnings: warnings}, nil
}

// SprintProgress computes the live progress of a sprint. Completed sprints report their frozen
// totals.
func (e *Engine) SprintProgress(ctx context.Context, sprintID string) (*Progress, error) {
	var p *Progress
	err := e.view(ctx, "sprintProgress", func(tx Tx) error {
		sprint, err := tx.GetSprint(sprintID)
		if err != nil {
			return err
		}
		board, err := tx.GetBoard(sprint.BoardID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(SprintList(sprint.ID))
		if err != nil {
			return err
		}
		p = progressOf(sprint, board.Settings, items, e.now().UTC())
		return nil
	})
	return p, err
}

func progressOf(s *Sprint, settings BoardSettings, items []*BacklogItem, now time.Time) *Progress {
	p := &Progress{
		SprintID:        s.ID,
		Status:          s.Status,
		CommittedPoints: committedPoints(items),
	}

	var elapsed float64
	switch s.Status {
	case SprintPlanning:
		p.PlannedPoints = p.CommittedPoints
		p.CompletedPoints = donePoints(items)
	case SprintActive:
		p.PlannedPoints = s.PlannedStoryPoints
		p.CompletedPoints = donePoints(items)
		p.Velocity = velocity(p.CompletedPoints, startOf(s, now), now)
		elapsed = elapsedFraction(s, settings, now)
	case SprintCompleted:
		p.PlannedPoints = s.PlannedStoryPoints
		p.CompletedPoints = s.CompletedStoryPoints
		p.Velocity = s.Velocity
		elapsed = 100
	}
	p.ElapsedPercentage = int(math.Round(elapsed))

	p.RemainingPoints = max(0, p.CommittedPoints-donePoints(items))
	p.CompletionPercentage = completionPercentage(p.CompletedPoints, p.PlannedPoints)
	// The band is applied to the unrounded elapsed share.
	p.OnTrack = float64(p.CompletionPercentage) >= elapsed-onTrackTolerance
	if s.TeamCapacity != nil {
		u := int(math.Round(100 * float64(p.CommittedPoints) / float64(*s.TeamCapacity)))
		p.CapacityUtilization = &u
	}
	return p
}

// Burndown returns one point per calendar day from the sprint start to its end date, or to the
// board's default sprint length when no end date is set.
func (e *Engine) Burndown(ctx context.Context, sprintID string) ([]BurndownPoint, error) {
	const op = "burndown"

	var points []BurndownPoint
	err := e.view(ctx, op, func(tx Tx) error {
		sprint, err := tx.GetSprint(sprintID)
		if err != nil {
			return err
		}
		if sprint.StartDate == nil {
			return newError(KindInvalidState, op, "sprint %s has no start date", sprint.ID)
		}
		board, err := tx.GetBoard(sprint.BoardID)
		if err != nil {
			return err
		}
		items, err := tx.ListItems(SprintList(sprint.ID))
		if err != nil {
			return err
		}
		points = burndownOf(sprint, board.Settings, items, e.now().UTC())
		return nil
	})
	return points, err
}

func burndownOf(s *Sprint, settings BoardSettings, items []*BacklogItem, now time.Time) []BurndownPoint {
	start := dayOf(*s.StartDate)
	end := dayOf(plannedEnd(s, settings))
	if end.Before(start) {
		end = start
	}
	days := calendarDays(start, end)

	scope := committedPoints(items)
	baseline := s.PlannedStoryPoints
	if s.Status == SprintPlanning || baseline == 0 {
		baseline = scope
	}
	known := dayOf(now)
	if s.Status == SprintCompleted {
		known = end
	}

	shown := min(days, maxBurndownDays)
	points := make([]BurndownPoint, 0, shown+1)
	for i := 0; i <= shown; i++ {
		date := start.AddDate(0, 0, i)
		ideal := float64(baseline)
		if days > 0 {
			ideal = float64(baseline) * (1 - float64(i)/float64(days))
		}
		pt := BurndownPoint{Date: date, Ideal: math.Round(ideal*100) / 100}
		if s.Status != SprintPlanning && !date.After(known) {
			remaining := scope - doneBy(items, date.AddDate(0, 0, 1))
			pt.Remaining = &remaining
		}
		points = append(points, pt)
	}
	return points
}

// refreshSprint recomputes the stored totals of an active sprint after one of its items changed.
func (e *Engine) refreshSprint(tx Tx, m *mutation, sprintID *string) error {
	if sprintID == nil {
		return nil
	}
	sprint, err := tx.GetSprint(*sprintID)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if sprint.Status != SprintActive {
		return nil
	}
	items, err := tx.ListItems(SprintList(sprint.ID))
	if err != nil {
		return err
	}
	completed := donePoints(items)
	vel := velocity(completed, startOf(sprint, m.at), m.at)
	if completed == sprint.CompletedStoryPoints && vel == sprint.Velocity {
		return nil
	}
	sprint.CompletedStoryPoints = completed
	sprint.Velocity = vel
	sprint.UpdatedAt = m.at
	return tx.UpdateSprint(sprint)
}

func committedPoints(items []*BacklogItem) int {
	n := 0
	for _, it := range items {
		if it.Status != StatusRemoved {
			n += it.Points()
		}
	}
	return n
}

func donePoints(items []*BacklogItem) int {
	n := 0
	for _, it := range items {
		if it.Status == StatusDone {
			n += it.Points()
		}
	}
	return n
}

// doneBy sums the points of items completed before cutoff. Done items without a completion
// time count from the start.
func doneBy(items []*BacklogItem, cutoff time.Time) int {
	n := 0
	for _, it := range items {
		if it.Status != StatusDone {
			continue
		}
		if it.CompletedAt == nil || it.CompletedAt.Before(cutoff) {
			n += it.Points()
		}
	}
	return n
}

func completionPercentage(completed, planned int) int {
	return int(math.Round(100 * float64(completed) / float64(max(1, planned))))
}

// elapsedFraction is the unrounded share of the planned duration that has passed, in percent.
func elapsedFraction(s *Sprint, settings BoardSettings, now time.Time) float64 {
	if s.StartDate == nil {
		return 0
	}
	start := *s.StartDate
	total := plannedEnd(s, settings).Sub(start)
	elapsed := now.Sub(start)
	switch {
	case total <= 0 || elapsed >= total:
		return 100
	case elapsed <= 0:
		return 0
	}
	return 100 * float64(elapsed) / float64(total)
}

func plannedEnd(s *Sprint, settings BoardSettings) time.Time {
	if s.EndDate != nil {
		return *s.EndDate
	}
	days := settings.DefaultSprintDays
	if days < 1 {
		days = DefaultBoardSettings().DefaultSprintDays
	}
	return s.StartDate.AddDate(0, 0, days)
}

func startOf(s *Sprint, fallback time.Time) time.Time {
	if s.StartDate != nil {
		return *s.StartDate
	}
	return fallback
}

// velocity is points per elapsed calendar day, at least one day.
func velocity(points int, start, end time.Time) float64 {
	days := max(1, calendarDays(start, end))
	return float64(points) / float64(days)
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func calendarDays(from, to time.Time) int {
	return int(dayOf(to).Sub(dayOf(from)).Hours() / 24)
}
