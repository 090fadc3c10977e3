package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var errNegativeVersion = errors.New("schema versions start at 0")

// MigrationFunc transforms a decoded value between adjacent schema versions.
type MigrationFunc func(value any) (any, error)

// MigrationStep moves a value from FromVersion to FromVersion+1 (Up) and
// back (Down). Down may be nil for one-way schemas.
type MigrationStep struct {
	FromVersion int
	Up          MigrationFunc
	Down        MigrationFunc
}

// Migrator holds the ordered schema transforms for one kind of state.
// The current schema version is one past the highest registered step.
type Migrator struct {
	mu    sync.RWMutex
	steps map[int]MigrationStep
	order []int
}

func NewMigrator(steps ...MigrationStep) (*Migrator, error) {
	m := &Migrator{steps: make(map[int]MigrationStep)}
	for _, step := range steps {
		if err := m.AddMigration(step); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AddMigration registers a step. Steps must be added in ascending
// FromVersion order.
func (m *Migrator) AddMigration(step MigrationStep) error {
	if step.FromVersion < 0 {
		return fmt.Errorf("migration from version %d: version must not be negative", step.FromVersion)
	}
	if step.Up == nil {
		return fmt.Errorf("migration from version %d: up transform is required", step.FromVersion)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.steps[step.FromVersion]; exists {
		return fmt.Errorf("migration from version %d already registered", step.FromVersion)
	}
	if n := len(m.order); n > 0 && step.FromVersion < m.order[n-1] {
		return fmt.Errorf("migration from version %d registered after version %d", step.FromVersion, m.order[n-1])
	}

	m.steps[step.FromVersion] = step
	m.order = append(m.order, step.FromVersion)
	sort.Ints(m.order)
	return nil
}

// CurrentVersion is the schema version new tokens are written with.
func (m *Migrator) CurrentVersion() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return 0
	}
	return m.order[len(m.order)-1] + 1
}

func (m *Migrator) NeedsMigration(version int) bool {
	return version < m.CurrentVersion()
}

// Migrate applies Up transforms for every version in [from, to). All
// steps are checked before any runs, so a gap never yields a partially
// migrated value.
func (m *Migrator) Migrate(value any, from, to int) (any, error) {
	if from > to {
		return nil, fmt.Errorf("cannot migrate forward from %d to older version %d", from, to)
	}
	if from < 0 {
		return nil, &MigrationError{From: from, To: to, Missing: from, Err: errNegativeVersion}
	}
	if from == to {
		return value, nil
	}
	if m == nil {
		return nil, &MigrationError{From: from, To: to, Missing: from}
	}

	m.mu.RLock()
	plan := make([]MigrationStep, 0, to-from)
	for v := from; v < to; v++ {
		step, ok := m.steps[v]
		if !ok {
			m.mu.RUnlock()
			return nil, &MigrationError{From: from, To: to, Missing: v}
		}
		plan = append(plan, step)
	}
	m.mu.RUnlock()

	current := value
	for _, step := range plan {
		next, err := step.Up(current)
		if err != nil {
			return nil, &MigrationError{From: from, To: to, Missing: step.FromVersion, Err: err}
		}
		current = next
	}
	return current, nil
}

// Rollback applies Down transforms from `from` back to `to`.
func (m *Migrator) Rollback(value any, from, to int) (any, error) {
	if to > from {
		return nil, fmt.Errorf("cannot roll back from %d to newer version %d", from, to)
	}
	if to < 0 {
		return nil, &MigrationError{From: from, To: to, Missing: to, Err: errNegativeVersion}
	}
	if from == to {
		return value, nil
	}
	if m == nil {
		return nil, &MigrationError{From: from, To: to, Missing: from - 1}
	}

	m.mu.RLock()
	plan := make([]MigrationStep, 0, from-to)
	for v := from - 1; v >= to; v-- {
		step, ok := m.steps[v]
		if !ok || step.Down == nil {
			m.mu.RUnlock()
			return nil, &MigrationError{From: from, To: to, Missing: v}
		}
		plan = append(plan, step)
	}
	m.mu.RUnlock()

	current := value
	for _, step := range plan {
		next, err := step.Down(current)
		if err != nil {
			return nil, &MigrationError{From: from, To: to, Missing: step.FromVersion, Err: err}
		}
		current = next
	}
	return current, nil
}

// RenameField returns a reversible step that moves the value at oldPath
// to newPath. Paths use gjson dot syntax.
func RenameField(from int, oldPath, newPath string) MigrationStep {
	return MigrationStep{
		FromVersion: from,
		Up:          movePath(oldPath, newPath),
		Down:        movePath(newPath, oldPath),
	}
}

// SetDefault returns a step that fills path with def when it is absent.
// Down removes the field again.
func SetDefault(from int, path string, def any) MigrationStep {
	return MigrationStep{
		FromVersion: from,
		Up: jsonTransform(func(doc []byte) ([]byte, error) {
			if gjson.GetBytes(doc, path).Exists() {
				return doc, nil
			}
			return sjson.SetBytes(doc, path, def)
		}),
		Down: jsonTransform(func(doc []byte) ([]byte, error) {
			return sjson.DeleteBytes(doc, path)
		}),
	}
}

func movePath(src, dst string) MigrationFunc {
	return jsonTransform(func(doc []byte) ([]byte, error) {
		found := gjson.GetBytes(doc, src)
		if !found.Exists() {
			return doc, nil
		}
		out, err := sjson.SetRawBytes(doc, dst, []byte(found.Raw))
		if err != nil {
			return nil, err
		}
		return sjson.DeleteBytes(out, src)
	})
}

func jsonTransform(fn func(doc []byte) ([]byte, error)) MigrationFunc {
	return func(value any) (any, error) {
		doc, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		out, err := fn(doc)
		if err != nil {
			return nil, err
		}
		var result any
		if err := json.Unmarshal(out, &result); err != nil {
			return nil, err
		}
		return result, nil
	}
}
