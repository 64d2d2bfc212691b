package action

import "fmt"

// DBCreate implements db.create: create a database via createdb.
type DBCreate struct{}

func (a *DBCreate) Validate(params map[string]string) error {
	return required(params, "db.create", "name")
}

func (a *DBCreate) Argv(params map[string]string) ([]string, error) {
	argv := []string{"createdb"}
	if owner := params["owner"]; owner != "" {
		argv = append(argv, "-O", owner)
	}
	return append(argv, params["name"]), nil
}

func (a *DBCreate) Describe(params map[string]string) string {
	return fmt.Sprintf("Would create database %q", params["name"])
}

// DBSQL implements db.sql: run a SQL statement through psql.
type DBSQL struct{}

func (a *DBSQL) Validate(params map[string]string) error {
	return required(params, "db.sql", "sql")
}

func (a *DBSQL) Argv(params map[string]string) ([]string, error) {
	argv := []string{"psql", "-X", "-A", "-t"}
	if db := params["database"]; db != "" {
		argv = append(argv, "-d", db)
	}
	return append(argv, "-c", params["sql"]), nil
}

func (a *DBSQL) Describe(params map[string]string) string {
	return fmt.Sprintf("Would run SQL: %s", params["sql"])
}

// DBRestore implements db.restore: restore a dump file with pg_restore.
// The dump path is an explicit parameter, never spliced into a shell string.
type DBRestore struct{}

func (a *DBRestore) Validate(params map[string]string) error {
	return required(params, "db.restore", "file", "database")
}

func (a *DBRestore) Argv(params map[string]string) ([]string, error) {
	argv := []string{"pg_restore", "--no-owner"}
	if params["clean"] == "true" {
		argv = append(argv, "--clean", "--if-exists")
	}
	argv = append(argv, "-d", params["database"], params["file"])
	return argv, nil
}

func (a *DBRestore) Describe(params map[string]string) string {
	return fmt.Sprintf("Would restore %s into database %q", params["file"], params["database"])
}
