package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hitoshi/outlierscout/internal/model"
)

// コンパイル時チェック
var _ SnapshotRepository = (*PostgresSnapshotRepo)(nil)

var testCollectedAt = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*PostgresSnapshotRepo, *PostgresOutlierRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock の初期化に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresSnapshotRepo(db), NewPostgresOutlierRepo(db), mock
}

func testSnapshot() *model.Snapshot {
	return &model.Snapshot{
		SnapshotID:  "vestidos de verão-1792400400000",
		CollectedAt: testCollectedAt,
		Category:    "vestidos de verão",
		Products: []model.RawProduct{
			{ID: "1", Name: "Vestido A", Price: 59.9, Currency: "BRL", DetailURL: "https://br.shein.com/p-1.html", ReviewCount: 12, Tags: []model.ProductTag{}},
			{ID: "2", Name: "Vestido B", Price: 10, Currency: "USD", DetailURL: "https://br.shein.com/p-2.html", ReviewCount: 99, Tags: []model.ProductTag{{Tag: "HOT SALE"}}},
		},
	}
}

var insertSnapshotSQL = regexp.QuoteMeta(`INSERT INTO shein_raw_snapshots`)

func TestPostgresSnapshotRepo_InsertSnapshot_InsertsEveryProductInOneTx(t *testing.T) {
	repo, _, mock := newMockDB(t)
	snap := testSnapshot()

	payload0, _ := json.Marshal(snap.Products[0])
	payload1, _ := json.Marshal(snap.Products[1])

	mock.ExpectBegin()
	mock.ExpectExec(insertSnapshotSQL).
		WithArgs(sqlmock.AnyArg(), snap.SnapshotID, "1", string(payload0), snap.Category, 12, testCollectedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertSnapshotSQL).
		WithArgs(sqlmock.AnyArg(), snap.SnapshotID, "2", string(payload1), snap.Category, 99, testCollectedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.InsertSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("InsertSnapshot がエラーを返した: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("期待したクエリが実行されていない: %v", err)
	}
}

func TestPostgresSnapshotRepo_InsertSnapshot_PayloadKeepsSourceFieldNames(t *testing.T) {
	payload, err := json.Marshal(testSnapshot().Products[1])
	if err != nil {
		t.Fatalf("エンコードに失敗: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("デコードに失敗: %v", err)
	}
	for _, key := range []string{"goods_id", "goods_name", "salePrice", "salePriceCurrency", "detail_url", "review_num", "tag_list"} {
		if _, ok := m[key]; !ok {
			t.Errorf("payload に %q が含まれていない: %s", key, payload)
		}
	}
}

func TestPostgresSnapshotRepo_InsertSnapshot_EmptyIsNoOp(t *testing.T) {
	repo, _, mock := newMockDB(t)

	snap := testSnapshot()
	snap.Products = nil
	if err := repo.InsertSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("InsertSnapshot がエラーを返した: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("クエリは実行されないべき: %v", err)
	}
}

func TestPostgresSnapshotRepo_InsertSnapshot_RollsBackOnError(t *testing.T) {
	repo, _, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(insertSnapshotSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertSnapshotSQL).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.InsertSnapshot(context.Background(), testSnapshot())
	if err == nil {
		t.Fatal("挿入失敗時はエラーを返すべき")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("ロールバックされていない: %v", err)
	}
}

func TestPostgresSnapshotRepo_ListHistory(t *testing.T) {
	repo, _, mock := newMockDB(t)
	since := testCollectedAt.Add(-14 * 24 * time.Hour)

	rows := sqlmock.NewRows([]string{"goods_id", "review_num", "collected_at"}).
		AddRow("1", 10, testCollectedAt.Add(-48*time.Hour)).
		AddRow("1", 30, testCollectedAt.Add(-24*time.Hour)).
		AddRow("2", nil, testCollectedAt.Add(-24*time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM shein_raw_snapshots`)).
		WithArgs("vestidos de verão", since).
		WillReturnRows(rows)

	got, err := repo.ListHistory(context.Background(), "vestidos de verão", since)
	if err != nil {
		t.Fatalf("ListHistory がエラーを返した: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("件数 = %d, want 3", len(got))
	}
	if got[1].GoodsID != "1" || got[1].ReviewNum != 30 {
		t.Errorf("2行目 = %+v, want goods_id=1 review_num=30", got[1])
	}
	if got[2].ReviewNum != 0 {
		t.Errorf("NULLのreview_numは0として扱うべき: %d", got[2].ReviewNum)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("期待したクエリが実行されていない: %v", err)
	}
}

func TestPostgresSnapshotRepo_ListHistory_QueryError(t *testing.T) {
	repo, _, mock := newMockDB(t)
	sentinel := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM shein_raw_snapshots`)).WillReturnError(sentinel)

	_, err := repo.ListHistory(context.Background(), "vestidos de verão", testCollectedAt)
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want 原因エラーをラップしたもの", err)
	}
}

func TestPostgresSnapshotRepo_DeleteCollectedBefore(t *testing.T) {
	repo, _, mock := newMockDB(t)
	before := testCollectedAt.Add(-90 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM shein_raw_snapshots WHERE collected_at < $1`)).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := repo.DeleteCollectedBefore(context.Background(), before)
	if err != nil {
		t.Fatalf("DeleteCollectedBefore がエラーを返した: %v", err)
	}
	if deleted != 42 {
		t.Errorf("削除件数 = %d, want 42", deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("期待したクエリが実行されていない: %v", err)
	}
}
