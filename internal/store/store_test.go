package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Mutter0815/OABroadcast/pkg/model"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func report() model.RunReport {
	return model.RunReport{
		RunID: "run-1", State: "completed",
		StartedAt: t0, FinishedAt: t0.Add(time.Second),
		Total: 2, Succeeded: 1, Failed: 1,
		Outcomes: []model.OutcomeRecord{
			{RecipientID: "u1", Status: "sent", Code: "SPRING", At: t0},
			{RecipientID: "u2", Status: "failed", Reason: "user not allowed", GatewayCode: -213, At: t0},
		},
	}
}

func TestInsertRun_WithOutcomes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := New(db)
	ctx := context.Background()
	r := report()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO runs`).
		WithArgs("run-1", "completed", t0, t0.Add(time.Second), 2, 1, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("run-1"))
	mock.ExpectExec(`INSERT INTO outcomes`).
		WithArgs("run-1", "u1", "sent", nil, nil, "SPRING", t0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO outcomes`).
		WithArgs("run-1", "u2", "failed", "user not allowed", -213, nil, t0).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		inserted, e := s.InsertRun(ctx, tx, r)
		if e != nil {
			return e
		}
		if !inserted {
			t.Fatal("want inserted")
		}
		for _, o := range r.Outcomes {
			if e := s.InsertOutcome(ctx, tx, r.RunID, o); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestInsertRun_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := New(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO runs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		inserted, e := s.InsertRun(ctx, tx, report())
		if inserted {
			t.Fatal("duplicate run reported as inserted")
		}
		return e
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := New(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err = s.WithTx(context.Background(), func(tx *sql.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListRuns_WithStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := New(db)
	cols := []string{"id", "state", "started_at", "finished_at", "total", "succeeded", "failed", "archived_at"}
	mock.ExpectQuery(`FROM runs`).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("run-2", "cancelled", t0, t0, 1, 1, 0, t0).
			AddRow("run-1", "completed", t0, t0, 2, 1, 1, t0))
	mock.ExpectQuery(`FROM outcomes`).
		WithArgs(`{"run-2","run-1"}`).
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "total", "sent", "cooldown", "invalid", "failed"}).
			AddRow("run-1", 2, 1, 0, 0, 1))

	runs, stats, err := s.ListRuns(context.Background(), 0, -5)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || len(stats) != 2 {
		t.Fatalf("want 2 runs and stats, got %d/%d", len(runs), len(stats))
	}
	if stats[0] != (RunStats{}) {
		t.Fatalf("run-2 has no outcomes, got %+v", stats[0])
	}
	if stats[1].Sent != 1 || stats[1].Failed != 1 {
		t.Fatalf("unexpected stats %+v", stats[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListOutcomes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM outcomes`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "status", "reason", "gateway_code", "code", "at"}).
			AddRow("u1", "sent", "", 0, "SPRING", t0).
			AddRow("u2", "cooldown", "cooldown active", 0, "", t0).
			AddRow("u3", "failed", "user not allowed", -213, "", t0))

	out, err := New(db).ListOutcomes(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[1].Reason != "cooldown active" {
		t.Fatalf("unexpected outcomes %+v", out)
	}
	if out[0].GatewayCode != 0 || out[2].GatewayCode != -213 {
		t.Fatalf("gateway code not read back: %+v", out)
	}
}

func TestTextArray(t *testing.T) {
	v, _ := textArray{`a"b`, `c\d`}.Value()
	if v != `{"a\"b","c\\d"}` {
		t.Fatalf("got %v", v)
	}
	v, _ = textArray(nil).Value()
	if v != "{}" {
		t.Fatalf("got %v", v)
	}
}
