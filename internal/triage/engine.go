// Package triage defines the narrow contract the Plugin Bus consumes from
// the task-triage engine (§6 "Collaborator contract") and a MemoryEngine
// reference implementation sufficient to exercise the Core Actions API in
// tests. The real ranking/classification arithmetic and issue-tracker
// client are external collaborators, out of scope (§1).
package triage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// TaskClass is the closed classification enum from §6.
type TaskClass string

const (
	ClassPriorityEligible TaskClass = "priority_eligible"
	ClassAdministrative   TaskClass = "administrative"
	ClassLongRunning      TaskClass = "long_running"
	ClassBlocking         TaskClass = "blocking"
	ClassDependent        TaskClass = "dependent"
)

// Task is one unit of work pulled from the (external) issue tracker.
type Task struct {
	Key           string
	Title         string
	Class         TaskClass
	EstimateDays  float64
	RankScore     float64
}

// Subtask is one ordered step of a decomposed Task.
type Subtask struct {
	Key          string
	Title        string
	EstimateDays float64
	Order        int
}

// Plan is the daily plan produced by GeneratePlan: at most 3 priorities,
// one administrative block of at most 90 minutes, and the ordered
// remainder (§6).
type Plan struct {
	UserID       string
	Date         time.Time
	Priorities   []Task
	AdminBlock   *Task
	Remainder    []Task
	RenderedText string
}

// ClosureRecord exposes the completion accounting for one plan date (§6).
type ClosureRecord struct {
	UserID             string
	Date               time.Time
	TotalPriorities    int
	CompletedPriorities int
	ClosureRate        float64
	IncompleteTasks    []string
}

// AdminBlockMax bounds the single administrative block in a generated plan.
const AdminBlockMax = 90 * time.Minute

// MaxPriorities bounds the number of priority tasks in a generated plan.
const MaxPriorities = 3

// Engine is the collaborator contract the Core Actions API calls into.
type Engine interface {
	ActiveTasks(ctx context.Context, userID string) ([]Task, error)
	Classify(ctx context.Context, task Task) (TaskClass, error)
	GeneratePlan(ctx context.Context, userID string, date time.Time, closureRate *float64) (*Plan, error)
	Decompose(ctx context.Context, userID, taskKey string, targetDays float64) ([]Subtask, error)
	ClosureRecord(ctx context.Context, userID string, date time.Time) (*ClosureRecord, error)
	RecordApproval(ctx context.Context, userID string, date time.Time, approved bool, feedback string) error
	RecordRejection(ctx context.Context, userID string, date time.Time, feedback string) (*Plan, error)
	UpdateSettings(ctx context.Context, userID string, settings map[string]any) error
}

// MemoryEngine is an in-memory Engine sufficient to exercise every Core
// Actions operation in tests, standing in for the real issue-tracker-backed
// engine (§1 Non-goals: ranking arithmetic itself is out of scope).
type MemoryEngine struct {
	tasks       map[string][]Task
	plans       map[string]*Plan
	closures    map[string]*ClosureRecord
	settings    map[string]map[string]any
	approvals   map[string]bool
}

// NewMemoryEngine creates an empty MemoryEngine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		tasks:     make(map[string][]Task),
		plans:     make(map[string]*Plan),
		closures:  make(map[string]*ClosureRecord),
		settings:  make(map[string]map[string]any),
		approvals: make(map[string]bool),
	}
}

// SeedTasks lets tests populate a user's active task list.
func (m *MemoryEngine) SeedTasks(userID string, tasks []Task) {
	m.tasks[userID] = tasks
}

func planKey(userID string, date time.Time) string {
	return userID + "|" + date.Format("2006-01-02")
}

func (m *MemoryEngine) ActiveTasks(ctx context.Context, userID string) ([]Task, error) {
	return m.tasks[userID], nil
}

func (m *MemoryEngine) Classify(ctx context.Context, task Task) (TaskClass, error) {
	if task.Class != "" {
		return task.Class, nil
	}
	return ClassPriorityEligible, nil
}

// GeneratePlan ranks the user's active tasks and builds a Plan enforcing
// the ≤3-priorities / single ≤90min-admin-block / ordered-remainder shape
// (§6).
func (m *MemoryEngine) GeneratePlan(ctx context.Context, userID string, date time.Time, closureRate *float64) (*Plan, error) {
	tasks := append([]Task(nil), m.tasks[userID]...)
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].RankScore > tasks[j].RankScore })

	plan := &Plan{UserID: userID, Date: date}

	var adminBlock *Task
	var remainder []Task
	for i := range tasks {
		t := tasks[i]
		switch t.Class {
		case ClassAdministrative:
			estimate := time.Duration(t.EstimateDays * 24 * float64(time.Hour))
			if adminBlock == nil && estimate <= AdminBlockMax {
				adminBlock = &t
				continue
			}
			remainder = append(remainder, t)
		case ClassPriorityEligible:
			if len(plan.Priorities) < MaxPriorities {
				plan.Priorities = append(plan.Priorities, t)
				continue
			}
			remainder = append(remainder, t)
		default:
			remainder = append(remainder, t)
		}
	}

	plan.AdminBlock = adminBlock
	plan.Remainder = remainder
	plan.RenderedText = renderPlan(plan)

	m.plans[planKey(userID, date)] = plan
	return plan, nil
}

func renderPlan(p *Plan) string {
	text := fmt.Sprintf("Plan for %s", p.Date.Format("2006-01-02"))
	for i, t := range p.Priorities {
		text += fmt.Sprintf("\n%d. %s", i+1, t.Title)
	}
	if p.AdminBlock != nil {
		text += fmt.Sprintf("\nAdmin: %s", p.AdminBlock.Title)
	}
	return text
}

func (m *MemoryEngine) Decompose(ctx context.Context, userID, taskKey string, targetDays float64) ([]Subtask, error) {
	for _, t := range m.tasks[userID] {
		if t.Key != taskKey {
			continue
		}
		count := int(t.EstimateDays/targetDays + 0.999)
		if count < 1 {
			count = 1
		}
		subtasks := make([]Subtask, count)
		for i := 0; i < count; i++ {
			subtasks[i] = Subtask{
				Key:          fmt.Sprintf("%s-%d", taskKey, i+1),
				Title:        fmt.Sprintf("%s (part %d/%d)", t.Title, i+1, count),
				EstimateDays: targetDays,
				Order:        i,
			}
		}
		return subtasks, nil
	}
	return nil, fmt.Errorf("task not found: %s", taskKey)
}

func (m *MemoryEngine) ClosureRecord(ctx context.Context, userID string, date time.Time) (*ClosureRecord, error) {
	if rec, ok := m.closures[planKey(userID, date)]; ok {
		return rec, nil
	}
	return nil, nil
}

func (m *MemoryEngine) RecordApproval(ctx context.Context, userID string, date time.Time, approved bool, feedback string) error {
	m.approvals[planKey(userID, date)] = approved
	return nil
}

func (m *MemoryEngine) RecordRejection(ctx context.Context, userID string, date time.Time, feedback string) (*Plan, error) {
	m.approvals[planKey(userID, date)] = false
	return m.GeneratePlan(ctx, userID, date, nil)
}

func (m *MemoryEngine) UpdateSettings(ctx context.Context, userID string, settings map[string]any) error {
	existing := m.settings[userID]
	if existing == nil {
		existing = make(map[string]any)
	}
	for k, v := range settings {
		existing[k] = v
	}
	m.settings[userID] = existing
	return nil
}
