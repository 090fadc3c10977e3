package codec

import (
	"errors"
	"reflect"
	"testing"
)

func addField(name string, value any) MigrationFunc {
	return func(v any) (any, error) {
		m := v.(map[string]any)
		out := make(map[string]any, len(m)+1)
		for k, val := range m {
			out[k] = val
		}
		out[name] = value
		return out, nil
	}
}

func TestMigrator_AddMigration(t *testing.T) {
	m, _ := NewMigrator()

	if m.CurrentVersion() != 0 {
		t.Errorf("expected version 0, got %d", m.CurrentVersion())
	}

	if err := m.AddMigration(MigrationStep{FromVersion: 0, Up: addField("a", 1)}); err != nil {
		t.Fatalf("AddMigration() error = %v", err)
	}
	if err := m.AddMigration(MigrationStep{FromVersion: 0, Up: addField("a", 1)}); err == nil {
		t.Error("expected duplicate step error")
	}
	if err := m.AddMigration(MigrationStep{FromVersion: 1}); err == nil {
		t.Error("expected error for step without up transform")
	}
	if err := m.AddMigration(MigrationStep{FromVersion: 3, Up: addField("c", 3)}); err != nil {
		t.Fatalf("AddMigration() error = %v", err)
	}
	if err := m.AddMigration(MigrationStep{FromVersion: 2, Up: addField("b", 2)}); err == nil {
		t.Error("expected error for out-of-order step")
	}

	if m.CurrentVersion() != 4 {
		t.Errorf("expected version 4, got %d", m.CurrentVersion())
	}
	if !m.NeedsMigration(3) || m.NeedsMigration(4) {
		t.Error("NeedsMigration mismatch")
	}
}

func TestMigrator_Migrate(t *testing.T) {
	m, _ := NewMigrator(
		MigrationStep{FromVersion: 0, Up: addField("a", 1)},
		MigrationStep{FromVersion: 1, Up: addField("b", 2)},
		MigrationStep{FromVersion: 2, Up: addField("c", 3)},
	)

	got, err := m.Migrate(map[string]any{}, 1, 3)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	want := map[string]any{"b": 2, "c": 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMigrator_GapIsFatal(t *testing.T) {
	calls := 0
	counting := func(v any) (any, error) {
		calls++
		return v, nil
	}

	m, _ := NewMigrator(
		MigrationStep{FromVersion: 0, Up: counting},
		MigrationStep{FromVersion: 2, Up: counting},
	)

	_, err := m.Migrate(map[string]any{}, 0, 3)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected MigrationError, got %v", err)
	}
	if migErr.Missing != 1 {
		t.Errorf("expected missing step 1, got %d", migErr.Missing)
	}
	if calls != 0 {
		t.Errorf("expected no partial migration, %d steps ran", calls)
	}
}

func TestMigrator_StepError(t *testing.T) {
	boom := errors.New("boom")
	m, _ := NewMigrator(MigrationStep{FromVersion: 0, Up: func(any) (any, error) { return nil, boom }})

	_, err := m.Migrate(1, 0, 1)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped step error, got %v", err)
	}
}

func TestMigrator_Rollback(t *testing.T) {
	m, _ := NewMigrator(
		RenameField(0, "name", "title"),
		SetDefault(1, "tags", []any{"inbox"}),
	)

	original := map[string]any{"name": "groceries", "items": []any{"milk"}}

	up, err := m.Migrate(original, 0, 2)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	down, err := m.Rollback(up, 2, 0)
	if err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if !reflect.DeepEqual(down, map[string]any{"name": "groceries", "items": []any{"milk"}}) {
		t.Errorf("down(up(v)) != v: got %v", down)
	}
}

func TestMigrator_RollbackWithoutDown(t *testing.T) {
	m, _ := NewMigrator(MigrationStep{FromVersion: 0, Up: addField("a", 1)})

	_, err := m.Rollback(map[string]any{}, 1, 0)
	var migErr *MigrationError
	if !errors.As(err, &migErr) {
		t.Fatalf("expected MigrationError, got %v", err)
	}
}

func TestRenameField_Nested(t *testing.T) {
	step := RenameField(0, "settings.theme", "appearance.theme")

	got, err := step.Up(map[string]any{"settings": map[string]any{"theme": "dark", "lang": "en"}})
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	want := map[string]any{
		"settings":   map[string]any{"lang": "en"},
		"appearance": map[string]any{"theme": "dark"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSetDefault_KeepsExisting(t *testing.T) {
	step := SetDefault(0, "limit", 10)

	got, err := step.Up(map[string]any{"limit": 3.0})
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if got.(map[string]any)["limit"] != 3.0 {
		t.Errorf("existing value overwritten: %v", got)
	}
}

func TestMigrator_Bounds(t *testing.T) {
	var none *Migrator
	if none.CurrentVersion() != 0 {
		t.Errorf("nil migrator version = %d", none.CurrentVersion())
	}
	if got, err := none.Migrate("v", 0, 0); err != nil || got != "v" {
		t.Errorf("nil Migrate(0, 0) = %v, %v", got, err)
	}

	m, _ := NewMigrator(MigrationStep{FromVersion: 0, Up: addField("a", 1), Down: addField("b", 2)})

	tests := []struct {
		name string
		run  func() (any, error)
	}{
		{"nil migrator forward", func() (any, error) { return none.Migrate("v", 0, 1) }},
		{"nil migrator rollback", func() (any, error) { return none.Rollback("v", 1, 0) }},
		{"negative from", func() (any, error) { return m.Migrate(map[string]any{}, -1, 1) }},
		{"negative rollback target", func() (any, error) { return m.Rollback(map[string]any{}, 1, -1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.run()
			var migErr *MigrationError
			if !errors.As(err, &migErr) {
				t.Errorf("expected MigrationError, got %v", err)
			}
		})
	}
}
