// Package schema declares the fixed ONYX table enumeration the sync
// engine iterates over. The schema is deliberately static: the sync
// layer never introspects the storage engine's live table list.
package schema

// Table describes one named collection in the ONYX schema.
type Table struct {
	Name string

	// LocalOnly tables hold device-local UI state and never leave the
	// device: they are excluded from incremental sync and from the
	// one-time migration.
	LocalOnly bool
}

// Tables is the full ONYX schema. Order matters only for determinism
// of sync sessions and migration batches.
var Tables = []Table{
	{Name: "profile"},
	{Name: "settings"},
	{Name: "habits"},
	{Name: "habit_checkins"},
	{Name: "tasks"},
	{Name: "finance_transactions"},
	{Name: "fixed_expenses"},
	{Name: "pacer_workouts"},
	{Name: "books"},
	{Name: "reading_sessions"},
	{Name: "study_sessions"},
	{Name: "work_tasks"},
	{Name: "session_goals"},
	{Name: "goal_checkins"},
	{Name: "goal_templates"},
	{Name: "quotes"},
	{Name: "app_state", LocalOnly: true},
}

// SyncTables returns the tables included in incremental sync sessions.
func SyncTables() []Table {
	return syncable(Tables)
}

// MigrationTables returns the tables copied by the one-time migration.
// Same exclusion as sync: only device-local state stays behind.
func MigrationTables() []Table {
	return syncable(Tables)
}

func syncable(all []Table) []Table {
	out := make([]Table, 0, len(all))

	for _, t := range all {
		if t.LocalOnly {
			continue
		}

		out = append(out, t)
	}

	return out
}

// Lookup returns the table with the given name.
func Lookup(name string) (Table, bool) {
	for _, t := range Tables {
		if t.Name == name {
			return t, true
		}
	}

	return Table{}, false
}

// Names returns the names of the given tables.
func Names(tables []Table) []string {
	out := make([]string, len(tables))
	for i, t := range tables {
		out[i] = t.Name
	}

	return out
}
