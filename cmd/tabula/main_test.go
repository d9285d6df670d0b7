package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mercator-hq/tabula/pkg/cli"
	"mercator-hq/tabula/pkg/export"
)

const usersCSV = "ID,Email\n1,user1@example.com\n2,user2@example.com\n"

// testEnv is a config file with a seeded dataset database and local disks
// under a temporary directory.
type testEnv struct {
	dir     string
	config  string
	exports string
	archive string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:     dir,
		config:  filepath.Join(dir, "config.yaml"),
		exports: filepath.Join(dir, "exports"),
		archive: filepath.Join(dir, "archive"),
	}

	dbPath := filepath.Join(dir, "app.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		"CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)",
		"INSERT INTO users (id, email) VALUES (1, 'user1@example.com'), (2, 'user2@example.com')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to seed database: %v", err)
		}
	}

	yaml := fmt.Sprintf(`
export:
  default_format: xlsx
  temp_dir: %[1]s
disks:
  local:
    driver: local
    root: %[2]s
  archive:
    driver: local
    root: %[3]s
queue:
  driver: local
  workers: 1
  status:
    driver: sqlite
    path: %[4]s
datasets:
  users:
    dsn: %[5]s
    query: SELECT id, email FROM users ORDER BY id
    headings: [ID, Email]
    file_name: users.csv
telemetry:
  logging:
    level: error
    format: text
`, dir, env.exports, env.archive, filepath.Join(dir, "jobs.db"), dbPath)

	if err := os.WriteFile(env.config, []byte(yaml), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return env
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// execute runs the root command with args and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	Version, GitCommit = "1.2.3-test", "abc123"
	defer func() { Version, GitCommit = origVersion, origCommit }()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	for _, want := range []string{"Tabula 1.2.3-test", "Git Commit: abc123", "Go Version:", "OS/Arch:", "Formats: csv, json, tsv, xlsx"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCommand(t *testing.T) {
	env := newTestEnv(t)

	t.Run("valid", func(t *testing.T) {
		out, err := execute(t, "validate", "-c", env.config)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		if !strings.Contains(out, "datasets:  1") || !strings.Contains(out, "disks:     2") {
			t.Errorf("unexpected summary:\n%s", out)
		}
	})

	t.Run("connect", func(t *testing.T) {
		out, err := execute(t, "validate", "--connect", "-c", env.config)
		if err != nil {
			t.Fatalf("validate --connect failed: %v\n%s", err, out)
		}
		for _, want := range []string{"✓ datasets reachable", "✓ disks reachable", "✓ queue reachable"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := execute(t, "validate", "-c", filepath.Join(env.dir, "missing.yaml"))
		if err == nil {
			t.Fatal("expected an error")
		}
		if code := cli.ExitCode(err); code != cli.ExitConfig {
			t.Errorf("exit code = %d, want %d", code, cli.ExitConfig)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		bad := filepath.Join(env.dir, "bad.yaml")
		if err := os.WriteFile(bad, []byte("queue:\n  driver: kafka\n"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := execute(t, "validate", "-c", bad)
		if err == nil || !strings.Contains(err.Error(), "queue.driver") {
			t.Fatalf("expected a queue.driver error, got %v", err)
		}
	})
}

func TestExportCommand_Download(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		output string
		format string
		want   string
	}{
		{name: "extension selects format", output: "users.csv", want: usersCSV},
		{name: "tsv extension", output: "people.tsv", want: "ID\tEmail\n1\tuser1@example.com\n2\tuser2@example.com\n"},
		{name: "format flag wins", output: "report.txt", format: "csv", want: usersCSV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(env.dir, "out", tt.output)
			args := []string{"export", "users", "-c", env.config, "-o", dest}
			if tt.format != "" {
				args = append(args, "--format", tt.format)
			}

			out, err := execute(t, args...)
			if err != nil {
				t.Fatalf("export failed: %v", err)
			}
			if !strings.Contains(out, "Exported 2 rows") {
				t.Errorf("unexpected output: %s", out)
			}

			data, err := os.ReadFile(dest)
			if err != nil {
				t.Fatalf("failed to read export: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("content = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestExportCommand_Stdout(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "export", "users", "-c", env.config, "-o", "-")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if out != usersCSV {
		t.Errorf("stdout = %q, want %q", out, usersCSV)
	}
}

func TestExportCommand_Store(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "export", "users", "-c", env.config, "--store", "reports/users.csv", "--disk", "archive")
	if err != nil {
		t.Fatalf("export --store failed: %v", err)
	}
	if !strings.Contains(out, "Stored archive:reports/users.csv") {
		t.Errorf("unexpected output: %s", out)
	}

	data, err := os.ReadFile(filepath.Join(env.archive, "reports", "users.csv"))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if string(data) != usersCSV {
		t.Errorf("content = %q, want %q", data, usersCSV)
	}
}

func TestExportCommand_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown dataset", args: []string{"export", "orders"}},
		{name: "unknown format", args: []string{"export", "users", "--format", "pdf", "-o", "-"}},
		{name: "bad visibility", args: []string{"export", "users", "--store", "a.csv", "--visibility", "hidden"}},
		{name: "unknown disk", args: []string{"export", "users", "--store", "a.csv", "--disk", "s3"}},
		{name: "exclusive modes", args: []string{"export", "users", "--store", "a.csv", "--queue", "b.csv"}},
		{name: "missing dataset argument", args: []string{"export"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "-c", env.config)
			if _, err := execute(t, args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestExportCommand_QueueAndJobs(t *testing.T) {
	env := newTestEnv(t)

	out, err := execute(t, "export", "users", "-c", env.config, "--queue", "nightly/users.csv", "--copy-to", "archive")
	if err != nil {
		t.Fatalf("export --queue failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "completed: local:nightly/users.csv") {
		t.Errorf("unexpected output: %s", out)
	}

	for _, path := range []string{
		filepath.Join(env.exports, "nightly", "users.csv"),
		filepath.Join(env.archive, "nightly", "users.csv"),
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected %s: %v", path, err)
		}
		if string(data) != usersCSV {
			t.Errorf("%s content = %q, want %q", path, data, usersCSV)
		}
	}

	out, err = execute(t, "jobs", "list", "-c", env.config, "-o", "json")
	if err != nil {
		t.Fatalf("jobs list failed: %v", err)
	}
	var jobs []export.JobStatus
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].State != export.JobCompleted || jobs[0].Format != export.CSV {
		t.Errorf("unexpected job: %+v", jobs[0])
	}

	out, err = execute(t, "jobs", "status", jobs[0].ID, "-c", env.config)
	if err != nil {
		t.Fatalf("jobs status failed: %v", err)
	}
	if !strings.Contains(out, jobs[0].ID) || !strings.Contains(out, "completed") {
		t.Errorf("unexpected status output:\n%s", out)
	}

	if _, err := execute(t, "jobs", "status", "no-such-job", "-c", env.config); err == nil {
		t.Error("expected an error for an unknown job")
	}

	out, err = execute(t, "jobs", "prune", "--older-than", "1h", "-c", env.config)
	if err != nil {
		t.Fatalf("jobs prune failed: %v", err)
	}
	if !strings.Contains(out, "Pruned 0 jobs") {
		t.Errorf("unexpected prune output: %s", out)
	}
}

func TestJobsCommand_MemoryStore(t *testing.T) {
	env := newTestEnv(t)
	data, err := os.ReadFile(env.config)
	if err != nil {
		t.Fatal(err)
	}
	data = bytes.Replace(data, []byte("driver: sqlite"), []byte("driver: memory"), 1)
	if err := os.WriteFile(env.config, data, 0644); err != nil {
		t.Fatal(err)
	}

	_, err = execute(t, "jobs", "list", "-c", env.config)
	if err == nil {
		t.Fatal("expected an error")
	}
	if code := cli.ExitCode(err); code != cli.ExitConfig {
		t.Errorf("exit code = %d, want %d", code, cli.ExitConfig)
	}
}

func TestDatasetsCommand(t *testing.T) {
	env := newTestEnv(t)

	t.Run("list", func(t *testing.T) {
		out, err := execute(t, "datasets", "list", "-c", env.config, "-o", "csv")
		if err != nil {
			t.Fatalf("datasets list failed: %v", err)
		}
		want := "name,driver,format,file_name,disk,path\nusers,sqlite3,,users.csv,,\n"
		if out != want {
			t.Errorf("output = %q, want %q", out, want)
		}
	})

	t.Run("columns", func(t *testing.T) {
		out, err := execute(t, "datasets", "columns", "users", "-c", env.config)
		if err != nil {
			t.Fatalf("datasets columns failed: %v", err)
		}
		if out != "id\nemail\n" {
			t.Errorf("output = %q, want %q", out, "id\nemail\n")
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := execute(t, "datasets", "columns", "orders", "-c", env.config); err == nil {
			t.Error("expected an error")
		}
	})
}
