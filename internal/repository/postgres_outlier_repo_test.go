package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/outlierscout/internal/model"
)

// コンパイル時チェック
var _ OutlierRepository = (*PostgresOutlierRepo)(nil)

func testOutliers() []model.OutlierRecord {
	return []model.OutlierRecord{
		{
			ID: "1", Title: "Vestido A", ProductURL: "https://br.shein.com/p-1.html",
			PriceBRL: 52, ReviewCount: 50, ReviewGrowthWeekly: 300,
			Tags: []string{"HOT SALE"}, Justification: "j",
			CollectedAt: testCollectedAt, Category: "vestidos de verão",
		},
		{
			ID: "2", Title: "Vestido B", ProductURL: "https://br.shein.com/p-2.html",
			PriceBRL: 89.9, ReviewCount: 120, ReviewGrowthWeekly: 33.33,
			Tags: []string{}, Justification: "j",
			CollectedAt: testCollectedAt, Category: "vestidos de verão",
		},
	}
}

var insertOutlierSQL = regexp.QuoteMeta(`INSERT INTO shein_outliers`)

func TestPostgresOutlierRepo_InsertOutliers(t *testing.T) {
	_, repo, mock := newMockDB(t)
	outliers := testOutliers()
	snapshotID := "vestidos de verão-1792400400000"

	payload0, _ := json.Marshal(outliers[0])
	payload1, _ := json.Marshal(outliers[1])

	mock.ExpectBegin()
	mock.ExpectExec(insertOutlierSQL).
		WithArgs(sqlmock.AnyArg(), "1", snapshotID, string(payload0), "52", "300", testCollectedAt, "vestidos de verão").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertOutlierSQL).
		WithArgs(sqlmock.AnyArg(), "2", snapshotID, string(payload1), "89.9", "33.33", testCollectedAt, "vestidos de verão").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.InsertOutliers(context.Background(), snapshotID, outliers); err != nil {
		t.Fatalf("InsertOutliers がエラーを返した: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("期待したクエリが実行されていない: %v", err)
	}
}

func TestPostgresOutlierRepo_InsertOutliers_EmptyIsNoOp(t *testing.T) {
	_, repo, mock := newMockDB(t)

	if err := repo.InsertOutliers(context.Background(), "x", nil); err != nil {
		t.Fatalf("InsertOutliers がエラーを返した: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("クエリは実行されないべき: %v", err)
	}
}

func TestPostgresOutlierRepo_InsertOutliers_CommitError(t *testing.T) {
	_, repo, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertOutlierSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertOutlierSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	if err := repo.InsertOutliers(context.Background(), "x", testOutliers()); err == nil {
		t.Fatal("コミット失敗時はエラーを返すべき")
	}
}

func TestPostgresOutlierRepo_ListRecent(t *testing.T) {
	_, repo, mock := newMockDB(t)

	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow([]byte(`{"id":"2","title":"Vestido B"}`)).
		AddRow([]byte(`{"id":"1","title":"Vestido A"}`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT payload FROM shein_outliers ORDER BY collected_at DESC LIMIT $1`)).
		WithArgs(20).
		WillReturnRows(rows)

	got, err := repo.ListRecent(context.Background(), 20)
	if err != nil {
		t.Fatalf("ListRecent がエラーを返した: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("件数 = %d, want 2", len(got))
	}
	if string(got[0]) != `{"id":"2","title":"Vestido B"}` {
		t.Errorf("先頭のpayload = %s", got[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("期待したクエリが実行されていない: %v", err)
	}
}

func TestPostgresOutlierRepo_ListRecent_Empty(t *testing.T) {
	_, repo, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM shein_outliers`)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	got, err := repo.ListRecent(context.Background(), 20)
	if err != nil {
		t.Fatalf("ListRecent がエラーを返した: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("結果 = %#v, want 空スライス（JSONで [] になるよう）", got)
	}
}
