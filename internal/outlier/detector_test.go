package outlier

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/hitoshi/outlierscout/internal/model"
)

// --- テスト用モック ---

// mockStore はHistoryReader・SnapshotWriter・OutlierWriterをまとめて実装するモック。
type mockStore struct {
	history []model.HistoryRecord

	listCalls     int
	listCategory  string
	listSince     time.Time
	snapshotCalls int
	outlierCalls  int
	writtenSnap   *model.Snapshot
	writtenID     string
	written       []model.OutlierRecord

	listErr     error
	snapshotErr error
	outlierErr  error
}

func (m *mockStore) ListHistory(_ context.Context, category string, since time.Time) ([]model.HistoryRecord, error) {
	m.listCalls++
	m.listCategory = category
	m.listSince = since
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.history, nil
}

func (m *mockStore) InsertSnapshot(_ context.Context, snapshot *model.Snapshot) error {
	m.snapshotCalls++
	m.writtenSnap = snapshot
	return m.snapshotErr
}

func (m *mockStore) InsertOutliers(_ context.Context, snapshotID string, outliers []model.OutlierRecord) error {
	m.outlierCalls++
	m.writtenID = snapshotID
	m.written = outliers
	return m.outlierErr
}

// コンパイル時チェック
var (
	_ HistoryReader  = (*mockStore)(nil)
	_ SnapshotWriter = (*mockStore)(nil)
	_ OutlierWriter  = (*mockStore)(nil)
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestDetector(store *mockStore) *Detector {
	var buf bytes.Buffer
	return NewDetector(store, store, store, newTestLogger(&buf))
}

var collectedAt = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func product(id string, reviews int, tags ...string) model.RawProduct {
	p := model.RawProduct{
		ID:          id,
		Name:        "Produto " + id,
		Price:       100,
		Currency:    "BRL",
		ImageURL:    "https://img.example.com/" + id + ".jpg",
		DetailURL:   "https://br.shein.com/p-" + id + ".html",
		ReviewCount: reviews,
		Tags:        []model.ProductTag{},
	}
	for _, t := range tags {
		p.Tags = append(p.Tags, model.ProductTag{Tag: t})
	}
	return p
}

func snapshotOf(category string, products ...model.RawProduct) *model.Snapshot {
	return &model.Snapshot{
		SnapshotID:  category + "-1792400400000",
		CollectedAt: collectedAt,
		Category:    category,
		Products:    products,
	}
}

// --- 成長率・判定 ---

func TestGrowth_SyntheticBaseline(t *testing.T) {
	// reviewCount=50, baseline=0 → 代替ベースライン12.5 → 300%
	got := Growth(50, 0)
	if got.String() != "300" {
		t.Errorf("Growth(50, 0) = %s, want 300", got)
	}
}

func TestGrowth_SyntheticBaselineFloorIsOne(t *testing.T) {
	// reviewCount=2 → 0.5 ではなく1を使う → 100%
	if got := Growth(2, 0); got.String() != "100" {
		t.Errorf("Growth(2, 0) = %s, want 100", got)
	}
	// reviewCount=0 → ベースライン1 → -100%
	if got := Growth(0, 0); got.String() != "-100" {
		t.Errorf("Growth(0, 0) = %s, want -100", got)
	}
}

func TestEvaluate_GrowthThreshold(t *testing.T) {
	tests := []struct {
		name     string
		reviews  int
		baseline int
		want     bool
		growth   float64
	}{
		{"ちょうど20%は対象", 120, 100, true, 20},
		{"19.99%は対象外", 11999, 10000, false, 0},
		{"減少は対象外", 80, 100, false, 0},
		{"初出商品は代替ベースラインで300%", 50, 0, true, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := Evaluate(product("1", tt.reviews), tt.baseline, collectedAt, "vestidos de verão")
			if ok != tt.want {
				t.Fatalf("判定 = %v, want %v", ok, tt.want)
			}
			if !ok {
				return
			}
			if rec.ReviewGrowthWeekly != tt.growth {
				t.Errorf("ReviewGrowthWeekly = %v, want %v", rec.ReviewGrowthWeekly, tt.growth)
			}
			if rec.Justification != JustificationGrowth {
				t.Errorf("Justification = %q, want 成長率の根拠文", rec.Justification)
			}
		})
	}
}

func TestEvaluate_ScarceHotSale(t *testing.T) {
	tests := []struct {
		name    string
		reviews int
		tags    []string
		want    bool
	}{
		{"HOT SALEかつ99件は対象", 99, []string{"HOT SALE"}, true},
		{"HOT SALEかつ100件は対象外", 100, []string{"HOT SALE"}, false},
		{"部分一致も対象", 10, []string{"Hottest"}, true},
		{"Hotタグなしは対象外", 10, []string{"Novo"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 成長率ルールが成立しないよう十分大きいベースラインを与える
			rec, ok := Evaluate(product("1", tt.reviews, tt.tags...), 1000, collectedAt, "vestidos de verão")
			if ok != tt.want {
				t.Fatalf("判定 = %v, want %v", ok, tt.want)
			}
			if ok && rec.Justification != JustificationScarceHotSale {
				t.Errorf("Justification = %q, want Hot Saleの根拠文", rec.Justification)
			}
		})
	}
}

func TestEvaluate_BothRules_ScarceHotSaleTakesPrecedence(t *testing.T) {
	rec, ok := Evaluate(product("1", 50, "hot sale"), 0, collectedAt, "vestidos de verão")
	if !ok {
		t.Fatal("外れ値と判定されるべき")
	}
	if rec.Justification != JustificationScarceHotSale {
		t.Errorf("Justification = %q, want Hot Saleの根拠文が優先", rec.Justification)
	}
	if rec.ReviewGrowthWeekly != 300 {
		t.Errorf("ReviewGrowthWeekly = %v, want 300", rec.ReviewGrowthWeekly)
	}
}

func TestEvaluate_RoundsGrowthToTwoDecimals(t *testing.T) {
	// (40-30)/30*100 = 33.333...
	rec, ok := Evaluate(product("1", 40), 30, collectedAt, "vestidos de verão")
	if !ok {
		t.Fatal("外れ値と判定されるべき")
	}
	if rec.ReviewGrowthWeekly != 33.33 {
		t.Errorf("ReviewGrowthWeekly = %v, want 33.33", rec.ReviewGrowthWeekly)
	}
}

func TestEvaluate_TagsTrimmedAndEmptiesRemoved(t *testing.T) {
	rec, ok := Evaluate(product("1", 10, "  Hot Sale ", "", "   ", "Novo"), 0, collectedAt, "vestidos de verão")
	if !ok {
		t.Fatal("外れ値と判定されるべき")
	}
	want := []string{"Hot Sale", "Novo"}
	if !reflect.DeepEqual(rec.Tags, want) {
		t.Errorf("Tags = %#v, want %#v", rec.Tags, want)
	}
}

func TestPriceBRL(t *testing.T) {
	tests := []struct {
		price    float64
		currency string
		want     float64
	}{
		{10, "USD", 52},
		{10, "BRL", 10},
		{19.9, "EUR", 103.48},
		{0, "USD", 0},
	}

	for _, tt := range tests {
		if got := PriceBRL(tt.price, tt.currency); got != tt.want {
			t.Errorf("PriceBRL(%v, %q) = %v, want %v", tt.price, tt.currency, got, tt.want)
		}
	}
}

func TestBaselines_RunningMax(t *testing.T) {
	history := []model.HistoryRecord{
		{GoodsID: "a", ReviewNum: 10},
		{GoodsID: "a", ReviewNum: 30},
		{GoodsID: "a", ReviewNum: 20},
		{GoodsID: "b", ReviewNum: 0},
	}

	got := Baselines(history)
	if got["a"] != 30 {
		t.Errorf("baseline[a] = %d, want 30", got["a"])
	}
	if v, ok := got["b"]; !ok || v != 0 {
		t.Errorf("baseline[b] = %d (ok=%v), want 0", v, ok)
	}
	if _, ok := got["c"]; ok {
		t.Error("履歴のないIDはベースラインを持たないべき")
	}
}

// --- Detect ---

func TestDetect_DisallowedCategory_NoReadsOrWrites(t *testing.T) {
	store := &mockStore{}
	d := newTestDetector(store)

	got, err := d.Detect(context.Background(), snapshotOf("outerwear", product("1", 50, "hot")))
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("結果 = %#v, want 空スライス", got)
	}
	if store.listCalls != 0 || store.snapshotCalls != 0 || store.outlierCalls != 0 {
		t.Errorf("読み書き回数 = list:%d snapshot:%d outlier:%d, want すべて0",
			store.listCalls, store.snapshotCalls, store.outlierCalls)
	}
}

func TestDetect_MixedProducts_PreservesOrder(t *testing.T) {
	store := &mockStore{
		history: []model.HistoryRecord{
			{GoodsID: "growth", ReviewNum: 100},
			{GoodsID: "growth", ReviewNum: 80},
			{GoodsID: "neither", ReviewNum: 500},
		},
	}
	d := newTestDetector(store)

	snap := snapshotOf("conjuntos de alfaiataria",
		product("growth", 150),
		product("neither", 510),
		product("hot", 40, "HOT SALE"),
	)
	// hot は履歴がなく代替ベースラインで300%になるため両ルールが成立する
	got, err := d.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("外れ値数 = %d, want 2", len(got))
	}
	if got[0].ID != "growth" || got[1].ID != "hot" {
		t.Errorf("外れ値の順序 = [%s %s], want [growth hot]", got[0].ID, got[1].ID)
	}
	if got[0].ReviewGrowthWeekly != 50 {
		t.Errorf("growth の成長率 = %v, want 50", got[0].ReviewGrowthWeekly)
	}
	if got[1].Justification != JustificationScarceHotSale {
		t.Errorf("hot の根拠文 = %q", got[1].Justification)
	}
	if !got[0].CollectedAt.Equal(collectedAt) || got[0].Category != "conjuntos de alfaiataria" {
		t.Errorf("CollectedAt/Category がスナップショットから引き継がれていない: %+v", got[0])
	}

	// 履歴は14日前以降を同一カテゴリで読む
	if store.listCategory != "conjuntos de alfaiataria" {
		t.Errorf("履歴取得カテゴリ = %q", store.listCategory)
	}
	if want := collectedAt.Add(-14 * 24 * time.Hour); !store.listSince.Equal(want) {
		t.Errorf("履歴取得開始 = %v, want %v", store.listSince, want)
	}

	// 全商品の履歴と外れ値の両方が書き込まれる
	if store.snapshotCalls != 1 || store.writtenSnap != snap {
		t.Errorf("スナップショット書き込み = %d回, want 1回", store.snapshotCalls)
	}
	if store.outlierCalls != 1 || store.writtenID != snap.SnapshotID || len(store.written) != 2 {
		t.Errorf("外れ値書き込み = %d回 (id=%q, %d件), want 1回・2件", store.outlierCalls, store.writtenID, len(store.written))
	}
}

func TestDetect_NoOutliers_WritesSnapshotOnly(t *testing.T) {
	store := &mockStore{
		history: []model.HistoryRecord{{GoodsID: "1", ReviewNum: 100}},
	}
	d := newTestDetector(store)

	got, err := d.Detect(context.Background(), snapshotOf("vestidos de verão", product("1", 101)))
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("外れ値数 = %d, want 0", len(got))
	}
	if store.snapshotCalls != 1 {
		t.Errorf("スナップショット書き込み = %d回, want 1回", store.snapshotCalls)
	}
	if store.outlierCalls != 0 {
		t.Errorf("外れ値書き込み = %d回, want 0回", store.outlierCalls)
	}
}

func TestDetect_EmptySnapshot_NoWrites(t *testing.T) {
	store := &mockStore{}
	d := newTestDetector(store)

	got, err := d.Detect(context.Background(), snapshotOf("vestidos de verão"))
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("外れ値数 = %d, want 0", len(got))
	}
	if store.listCalls != 1 {
		t.Errorf("履歴取得 = %d回, want 1回", store.listCalls)
	}
	if store.snapshotCalls != 0 || store.outlierCalls != 0 {
		t.Errorf("商品0件では書き込まないべき: snapshot:%d outlier:%d", store.snapshotCalls, store.outlierCalls)
	}
}

func TestDetect_SameInputTwice_SameContent(t *testing.T) {
	store := &mockStore{}
	d := newTestDetector(store)
	snap := snapshotOf("vestidos de verão", product("1", 50), product("2", 7, "hot"))

	first, err := d.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	second, err := d.Detect(context.Background(), snap)
	if err != nil {
		t.Fatalf("Detect がエラーを返した: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("同一入力の結果が異なる:\n first=%+v\nsecond=%+v", first, second)
	}
	if store.snapshotCalls != 2 {
		t.Errorf("書き込みは呼び出しごとに行われるべき: %d回", store.snapshotCalls)
	}
}

func TestDetect_Failures_Propagate(t *testing.T) {
	sentinel := errors.New("db down")

	tests := []struct {
		name  string
		store *mockStore
	}{
		{"履歴取得の失敗", &mockStore{listErr: sentinel}},
		{"スナップショット書き込みの失敗", &mockStore{snapshotErr: sentinel}},
		{"外れ値書き込みの失敗", &mockStore{outlierErr: sentinel}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDetector(tt.store)
			got, err := d.Detect(context.Background(), snapshotOf("vestidos de verão", product("1", 50)))
			if !errors.Is(err, sentinel) {
				t.Fatalf("err = %v, want 原因エラーをラップしたもの", err)
			}
			if got != nil {
				t.Errorf("失敗時は nil を返すべき: %+v", got)
			}
		})
	}
}

func TestIsAllowedCategory(t *testing.T) {
	if !IsAllowedCategory("conjuntos de alfaiataria") || !IsAllowedCategory("vestidos de verão") {
		t.Error("許可カテゴリが対象外と判定された")
	}
	if IsAllowedCategory("Vestidos de Verão") {
		t.Error("カテゴリは小文字化済みで比較されるべき")
	}
}
