package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "actionqueue/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	name := "journal.jsonl"
	if driver == "sqlite" {
		name = "journal.db"
	}
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "sub", name), BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) = %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = (%v, %v), want (nil, nil)", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path accepted")
	}
}

func TestJournalDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			for i, outcome := range []string{"success", "failure", "cancel", "success"} {
				r := Record{
					At:       base.Add(time.Duration(i) * time.Minute),
					ID:       "act-" + string(rune('a'+i)),
					Name:     "job",
					Mode:     "append",
					Outcome:  outcome,
					Enqueued: base,
					Took:     time.Duration(i) * time.Millisecond,
					Extra:    `["job",1]`,
				}
				if outcome != "cancel" {
					r.Started = base.Add(time.Second)
				}
				if outcome == "failure" {
					r.Error = "boom"
				}
				if err := st.Append(ctx, r); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			recent, err := st.Recent(ctx, 3)
			if err != nil {
				t.Fatal(err)
			}
			if len(recent) != 3 || recent[0].ID != "act-b" || recent[2].ID != "act-d" {
				t.Fatalf("Recent(3) ids = %v", ids(recent))
			}
			if recent[0].Error != "boom" || recent[0].Took != time.Millisecond || recent[0].Extra != `["job",1]` {
				t.Fatalf("record = %+v", recent[0])
			}
			if !recent[1].Started.IsZero() {
				t.Fatalf("cancelled record has start time %v", recent[1].Started)
			}
			if !recent[2].At.Equal(base.Add(3 * time.Minute)) {
				t.Fatalf("At = %v", recent[2].At)
			}

			n, err := st.Prune(ctx, base.Add(2*time.Minute))
			if err != nil || n != 2 {
				t.Fatalf("Prune = (%d, %v), want (2, nil)", n, err)
			}
			if err := st.Append(ctx, Record{ID: "act-e", Outcome: "success", Enqueued: base}); err != nil {
				t.Fatalf("Append after prune: %v", err)
			}
			all, err := st.Recent(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			if got := ids(all); len(got) != 3 || got[0] != "act-c" || got[2] != "act-e" {
				t.Fatalf("ids after prune = %v", got)
			}

			if err := st.Close(); err != nil {
				t.Fatal(err)
			}
			if err := st.Append(ctx, Record{ID: "late"}); err == nil {
				t.Fatal("Append after Close succeeded")
			}
		})
	}
}

func TestFileJournalSkipsTornLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "j.jsonl")
	if err := os.WriteFile(path, []byte("{\"id\":\"ok\",\"outcome\":\"success\"}\n{\"id\":\"tor"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if err := st.Append(context.Background(), Record{ID: "next", Outcome: "success"}); err != nil {
		t.Fatal(err)
	}
	recs, err := st.Recent(context.Background(), 5)
	if err != nil || len(recs) != 2 || recs[0].ID != "ok" || recs[1].ID != "next" {
		t.Fatalf("Recent = (%v, %v)", ids(recs), err)
	}
}

func ids(rs []Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestParseDriver(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "", want: DriverNone},
		{in: " None", want: DriverNone},
		{in: "FILE", want: DriverFile},
		{in: "sqlite", want: DriverSQLite},
		{in: "sqlite3", want: DriverSQLite},
		{in: "redis", err: true},
	}
	for _, tt := range tests {
		got, err := ParseDriver(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Fatalf("ParseDriver(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}
