package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "tickcron/pkg/logx"
)

var drivers = []struct {
	driver string
	file   string
}{
	{"file", "runs.jsonl"},
	{"sqlite", "runs.sqlite"},
	{"bolt", "runs.bolt"},
}

func openTest(t *testing.T, driver, file string, maxRecords int) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:     driver,
		Path:       filepath.Join(t.TempDir(), "data", file),
		MaxRecords: maxRecords,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) = %v", driver, err)
	}
	if st == nil {
		t.Fatalf("Open(%s) returned a nil store", driver)
	}
	return st
}

func record(i int, task string) RunRecord {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := RunRecord{
		ID:         fmt.Sprintf("run-%d", i),
		Task:       task,
		Slot:       base.Add(time.Duration(i) * time.Second),
		Started:    base.Add(time.Duration(i)*time.Second + 3*time.Millisecond),
		DurationMS: int64(i),
		OK:         i%2 == 0,
	}
	if !r.OK {
		r.Error = "exit status 1"
	}
	return r
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
	for _, d := range drivers {
		d := d
		if _, err := Open(Config{Driver: d.driver}, logx.Nop()); err == nil {
			t.Fatalf("%s: empty path accepted", d.driver)
		}
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		d := d
		t.Run(d.driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, d.driver, d.file, 0)
			defer st.Close()
			ctx := context.Background()

			for i := 1; i <= 6; i++ {
				task := "backup"
				if i%3 == 0 {
					task = "ping"
				}
				if err := st.AppendRun(ctx, record(i, task)); err != nil {
					t.Fatalf("AppendRun(%d) = %v", i, err)
				}
			}

			all, err := st.RecentRuns(ctx, "", 10)
			if err != nil {
				t.Fatalf("RecentRuns() = %v", err)
			}
			if len(all) != 6 || all[0].ID != "run-6" || all[5].ID != "run-1" {
				t.Fatalf("RecentRuns(all) = %+v", all)
			}

			backups, err := st.RecentRuns(ctx, "backup", 2)
			if err != nil {
				t.Fatalf("RecentRuns(backup) = %v", err)
			}
			if len(backups) != 2 || backups[0].ID != "run-5" || backups[1].ID != "run-4" {
				t.Fatalf("RecentRuns(backup, 2) = %+v", backups)
			}

			got := backups[0]
			want := record(5, "backup")
			if got.Error != want.Error || got.OK != want.OK || got.DurationMS != want.DurationMS ||
				!got.Slot.Equal(want.Slot) || !got.Started.Equal(want.Started) {
				t.Fatalf("round trip = %+v, want %+v", got, want)
			}

			if none, err := st.RecentRuns(ctx, "missing", 5); err != nil || len(none) != 0 {
				t.Fatalf("RecentRuns(missing) = %v, %v", none, err)
			}
			if none, err := st.RecentRuns(ctx, "", 0); err != nil || len(none) != 0 {
				t.Fatalf("RecentRuns(limit 0) = %v, %v", none, err)
			}
		})
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		d := d
		t.Run(d.driver, func(t *testing.T) {
			t.Parallel()
			st := openTest(t, d.driver, d.file, 0)
			if err := st.Close(); err != nil {
				t.Fatalf("Close() = %v", err)
			}
			if err := st.AppendRun(context.Background(), record(1, "a")); !errors.Is(err, ErrClosed) {
				t.Fatalf("AppendRun after Close = %v, want ErrClosed", err)
			}
			if _, err := st.RecentRuns(context.Background(), "", 1); !errors.Is(err, ErrClosed) {
				t.Fatalf("RecentRuns after Close = %v, want ErrClosed", err)
			}
		})
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	t.Parallel()
	for _, d := range drivers {
		d := d
		t.Run(d.driver, func(t *testing.T) {
			t.Parallel()
			cfg := Config{Driver: d.driver, Path: filepath.Join(t.TempDir(), d.file)}
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open() = %v", err)
			}
			if err := st.AppendRun(context.Background(), record(1, "a")); err != nil {
				t.Fatalf("AppendRun() = %v", err)
			}
			_ = st.Close()

			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen = %v", err)
			}
			defer st.Close()
			got, err := st.RecentRuns(context.Background(), "a", 5)
			if err != nil || len(got) != 1 || got[0].ID != "run-1" {
				t.Fatalf("after reopen RecentRuns() = %+v, %v", got, err)
			}
		})
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		st := openTest(t, "sqlite", "runs.sqlite", 3)
		defer st.Close()
		st.(*sqliteStore).pruneEvery = 1
		for i := 1; i <= 5; i++ {
			if err := st.AppendRun(ctx, record(i, "a")); err != nil {
				t.Fatalf("AppendRun(%d) = %v", i, err)
			}
		}
		got, err := st.RecentRuns(ctx, "", 10)
		if err != nil || len(got) != 3 || got[2].ID != "run-3" {
			t.Fatalf("after prune RecentRuns() = %+v, %v", got, err)
		}
	})

	t.Run("bolt", func(t *testing.T) {
		t.Parallel()
		st := openTest(t, "bolt", "runs.bolt", 3)
		defer st.Close()
		st.(*boltStore).pruneEvery = 1
		for i := 1; i <= 5; i++ {
			if err := st.AppendRun(ctx, record(i, "a")); err != nil {
				t.Fatalf("AppendRun(%d) = %v", i, err)
			}
		}
		got, err := st.RecentRuns(ctx, "", 10)
		if err != nil || len(got) != 3 || got[2].ID != "run-3" {
			t.Fatalf("after prune RecentRuns() = %+v, %v", got, err)
		}
	})
}

func TestRunKeyOrdersByStart(t *testing.T) {
	t.Parallel()
	a := runKey(time.Unix(10, 0), 9)
	b := runKey(time.Unix(11, 0), 1)
	c := runKey(time.Unix(11, 0), 2)
	if string(a) >= string(b) || string(b) >= string(c) {
		t.Fatal("runKey does not sort by start time then sequence")
	}
}
