package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/topasig/PolicyBroker/internal/db"
	"github.com/topasig/PolicyBroker/internal/models"
	"github.com/topasig/PolicyBroker/internal/provider/rca"
	"github.com/topasig/PolicyBroker/internal/storage"
	"github.com/topasig/PolicyBroker/internal/tasks"
	"gorm.io/gorm"
)

func openDocumentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:documents_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestStore(t *testing.T, conn *gorm.DB) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	blobs, errNew := storage.NewLocal(root)
	if errNew != nil {
		t.Fatalf("local storage: %v", errNew)
	}
	return NewStore(conn, blobs), root
}

func countFiles(t *testing.T, root string) int {
	t.Helper()
	count := 0
	errWalk := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if errWalk != nil {
		t.Fatalf("walk: %v", errWalk)
	}
	return count
}

// fakeParts answers part requests after a per-part delay so completions arrive out of order.
type fakeParts struct {
	calls  atomic.Int32
	delays map[rca.DocumentPart]time.Duration
	fail   rca.DocumentPart
}

func (f *fakeParts) GetFile(ctx context.Context, documentID string, part rca.DocumentPart, contractType string) ([]byte, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delays[part]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if part == f.fail {
		return nil, errors.New("provider unavailable")
	}
	return []byte(string(part)), nil
}

type fakeForms struct {
	forms [][]byte
	err   error
}

func (f *fakeForms) PrintForms(ctx context.Context, uin string) ([][]byte, error) {
	return f.forms, f.err
}

type joinMerger struct{}

func (joinMerger) Merge(parts [][]byte) ([]byte, error) {
	return bytes.Join(parts, []byte("|")), nil
}

func TestRetrieveMergesInFixedOrder(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, _ := newTestStore(t, conn)
	parts := &fakeParts{delays: map[rca.DocumentPart]time.Duration{
		rca.PartContract:        30 * time.Millisecond,
		rca.PartDemand:          20 * time.Millisecond,
		rca.PartInsurancePolicy: 0,
	}}
	pipeline := NewPipeline(store, parts, nil, joinMerger{}, 3)

	doc, data, errRetrieve := pipeline.Retrieve(context.Background(), "DOC-1", models.ContractTypeRCAI)
	if errRetrieve != nil {
		t.Fatalf("retrieve: %v", errRetrieve)
	}
	if string(data) != "Contract|Demand|InsurancePolicy" {
		t.Fatalf("unexpected merge order %q", data)
	}
	if doc.Type != models.DocumentTypeRCA || doc.Name != "DOC-1.pdf" || doc.ContentType != PDFContentType {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestRetrieveIsMemoized(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, root := newTestStore(t, conn)
	parts := &fakeParts{}
	pipeline := NewPipeline(store, parts, nil, joinMerger{}, 3)
	ctx := context.Background()

	first, _, errFirst := pipeline.Retrieve(ctx, "DOC-1", models.ContractTypeGreenCard)
	if errFirst != nil {
		t.Fatalf("first retrieve: %v", errFirst)
	}
	second, data, errSecond := pipeline.Retrieve(ctx, "DOC-1", models.ContractTypeGreenCard)
	if errSecond != nil {
		t.Fatalf("second retrieve: %v", errSecond)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same artifact, got %d and %d", first.ID, second.ID)
	}
	if string(data) != "Contract|Demand|InsurancePolicy" {
		t.Fatalf("unexpected stored bytes %q", data)
	}
	if calls := parts.calls.Load(); calls != 3 {
		t.Fatalf("expected 3 provider calls, got %d", calls)
	}
	if files := countFiles(t, root); files != 1 {
		t.Fatalf("expected one blob, got %d", files)
	}
}

func TestRetrieveConcurrentCallersShareOneAssembly(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, _ := newTestStore(t, conn)
	parts := &fakeParts{delays: map[rca.DocumentPart]time.Duration{rca.PartContract: 20 * time.Millisecond}}
	pipeline := NewPipeline(store, parts, nil, joinMerger{}, 3)

	var wg sync.WaitGroup
	ids := make(chan uint64, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, _, errRetrieve := pipeline.Retrieve(context.Background(), "DOC-1", models.ContractTypeRCAI)
			if errRetrieve != nil {
				t.Errorf("retrieve: %v", errRetrieve)
				return
			}
			ids <- doc.ID
		}()
	}
	wg.Wait()
	close(ids)

	var seen uint64
	for id := range ids {
		if seen != 0 && id != seen {
			t.Fatalf("callers got different artifacts")
		}
		seen = id
	}
	var count int64
	conn.Model(&models.IssuedDocument{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}
}

func TestRetrievePartialFailureStoresNothing(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, root := newTestStore(t, conn)
	parts := &fakeParts{fail: rca.PartDemand}
	pipeline := NewPipeline(store, parts, nil, joinMerger{}, 3)

	if _, _, errRetrieve := pipeline.Retrieve(context.Background(), "DOC-1", models.ContractTypeRCAI); errRetrieve == nil {
		t.Fatalf("expected failure")
	}
	var count int64
	conn.Model(&models.IssuedDocument{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}
	if files := countFiles(t, root); files != 0 {
		t.Fatalf("expected no blobs, got %d", files)
	}
}

func TestRetrieveMedicalForms(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, _ := newTestStore(t, conn)
	forms := &fakeForms{forms: [][]byte{[]byte("policy"), []byte("conditions")}}
	pipeline := NewPipeline(store, nil, forms, joinMerger{}, 3)

	doc, data, errRetrieve := pipeline.Retrieve(context.Background(), "UIN-1", models.ContractTypeMedical)
	if errRetrieve != nil {
		t.Fatalf("retrieve: %v", errRetrieve)
	}
	if string(data) != "policy|conditions" || doc.Type != models.DocumentTypeMedical {
		t.Fatalf("unexpected result %q %+v", data, doc)
	}

	empty := NewPipeline(store, nil, &fakeForms{}, joinMerger{}, 3)
	if _, _, errRetrieve = empty.Retrieve(context.Background(), "UIN-2", models.ContractTypeMedical); errRetrieve == nil {
		t.Fatalf("expected empty print forms to fail")
	}
}

func TestRetrieveRejectsUnknownContract(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, _ := newTestStore(t, conn)
	pipeline := NewPipeline(store, &fakeParts{}, nil, joinMerger{}, 3)
	if _, _, errRetrieve := pipeline.Retrieve(context.Background(), "DOC-1", "XYZ"); !errors.Is(errRetrieve, ErrUnsupportedContract) {
		t.Fatalf("expected ErrUnsupportedContract, got %v", errRetrieve)
	}
}

func TestSaveArtifactRemovesBlobWhenInsertFails(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, root := newTestStore(t, conn)
	errInsert := errors.New("insert failed")
	if errRegister := conn.Callback().Create().Before("gorm:create").Register("test:fail_create", func(tx *gorm.DB) {
		_ = tx.AddError(errInsert)
	}); errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}

	_, errSave := store.SaveArtifact(context.Background(), "DOC-1", models.DocumentTypeRCA, "DOC-1.pdf", PDFContentType, []byte("pdf"), nil)
	if !errors.Is(errSave, errInsert) {
		t.Fatalf("expected insert error, got %v", errSave)
	}
	if files := countFiles(t, root); files != 0 {
		t.Fatalf("expected orphan blob removed, got %d files", files)
	}
}

func TestDeleteRemovesRowAndBlob(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, root := newTestStore(t, conn)
	ctx := context.Background()
	if _, errSave := store.SaveArtifact(ctx, "qr-1", models.DocumentTypeQR, "qr-1.png", "image/png", []byte("png"), nil); errSave != nil {
		t.Fatalf("save: %v", errSave)
	}
	if errDelete := store.Delete(ctx, "qr-1"); errDelete != nil {
		t.Fatalf("delete: %v", errDelete)
	}
	if _, errFind := store.Find(ctx, "qr-1"); !errors.Is(errFind, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", errFind)
	}
	if files := countFiles(t, root); files != 0 {
		t.Fatalf("expected blob removed, got %d files", files)
	}
}

func TestRetrieveTaskDecodesPayload(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, _ := newTestStore(t, conn)
	parts := &fakeParts{}
	pipeline := NewPipeline(store, parts, nil, joinMerger{}, 3)

	task, _ := tasks.New(tasks.TypeRetrieveDocuments, tasks.RetrievePayload{ExternalID: "DOC-9", ContractType: models.ContractTypeRCAI}, time.Now())
	if errRun := pipeline.RetrieveTask(context.Background(), task); errRun != nil {
		t.Fatalf("run task: %v", errRun)
	}
	if _, errFind := store.Find(context.Background(), "DOC-9"); errFind != nil {
		t.Fatalf("expected stored artifact: %v", errFind)
	}
}

func TestPDFMergerSinglePartPassesThrough(t *testing.T) {
	merger := NewPDFMerger()
	out, errMerge := merger.Merge([][]byte{[]byte("%PDF-1.4 only")})
	if errMerge != nil || string(out) != "%PDF-1.4 only" {
		t.Fatalf("unexpected merge %q %v", out, errMerge)
	}
	if _, errMerge = merger.Merge(nil); errMerge == nil {
		t.Fatalf("expected error for no parts")
	}
}

// onePagePDF builds a minimal single-page PDF whose page is width points wide.
func onePagePDF(width int) []byte {
	content := "0 0 m 10 10 l S"
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d 842] /Resources << >> /Contents 4 0 R >>", width),
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, object := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, object)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, offset := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offset)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func pageWidths(t *testing.T, pdf []byte) []float64 {
	t.Helper()
	dims, errDims := api.PageDims(bytes.NewReader(pdf), model.NewDefaultConfiguration())
	if errDims != nil {
		t.Fatalf("page dims: %v", errDims)
	}
	widths := make([]float64, 0, len(dims))
	for _, dim := range dims {
		widths = append(widths, dim.Width)
	}
	return widths
}

func stampImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if errEncode := png.Encode(&buf, img); errEncode != nil {
		t.Fatalf("encode png: %v", errEncode)
	}
	return buf.Bytes()
}

func TestPDFMergerJoinsRealDocumentsInOrder(t *testing.T) {
	merger := NewPDFMerger()
	merged, errMerge := merger.Merge([][]byte{onePagePDF(500), onePagePDF(510), onePagePDF(520)})
	if errMerge != nil {
		t.Fatalf("merge: %v", errMerge)
	}
	widths := pageWidths(t, merged)
	if len(widths) != 3 || widths[0] != 500 || widths[1] != 510 || widths[2] != 520 {
		t.Fatalf("expected pages 500, 510, 520 in order, got %v", widths)
	}
}

func TestPDFStamperMarksLastPage(t *testing.T) {
	stamper, errNew := NewPDFStamper(stampImage(t))
	if errNew != nil {
		t.Fatalf("new stamper: %v", errNew)
	}
	merged, errMerge := NewPDFMerger().Merge([][]byte{onePagePDF(595), onePagePDF(595)})
	if errMerge != nil {
		t.Fatalf("merge: %v", errMerge)
	}

	stamped, errStamp := stamper.Stamp(merged)
	if errStamp != nil {
		t.Fatalf("stamp: %v", errStamp)
	}
	if bytes.Equal(stamped, merged) {
		t.Fatalf("expected stamped output to differ from input")
	}
	count, errCount := api.PageCount(bytes.NewReader(stamped), model.NewDefaultConfiguration())
	if errCount != nil || count != 2 {
		t.Fatalf("expected 2 pages after stamping, got %d (%v)", count, errCount)
	}

	if _, errBad := NewPDFStamper([]byte("not an image")); errBad == nil {
		t.Fatalf("expected invalid stamp image to be rejected")
	}
}

type countingStamper struct {
	calls atomic.Int32
}

func (s *countingStamper) Stamp(pdf []byte) ([]byte, error) {
	s.calls.Add(1)
	return append(pdf, []byte("+stamp")...), nil
}

func TestRetrieveStampsVehicleDocumentsOnly(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, _ := newTestStore(t, conn)
	stamper := &countingStamper{}
	forms := &fakeForms{forms: [][]byte{[]byte("policy")}}
	pipeline := NewPipeline(store, &fakeParts{}, forms, joinMerger{}, 3).WithStamper(stamper)
	ctx := context.Background()

	_, data, errRetrieve := pipeline.Retrieve(ctx, "DOC-1", models.ContractTypeGreenCard)
	if errRetrieve != nil {
		t.Fatalf("retrieve green card: %v", errRetrieve)
	}
	if string(data) != "Contract|Demand|InsurancePolicy+stamp" {
		t.Fatalf("expected stamped green card, got %q", data)
	}
	doc, errFind := store.Find(ctx, "DOC-1")
	if errFind != nil {
		t.Fatalf("find: %v", errFind)
	}
	if stored, _ := store.Open(ctx, doc); string(stored) != string(data) {
		t.Fatalf("expected stamped bytes stored, got %q", stored)
	}

	_, medical, errMedical := pipeline.Retrieve(ctx, "UIN-1", models.ContractTypeMedical)
	if errMedical != nil {
		t.Fatalf("retrieve medical: %v", errMedical)
	}
	if string(medical) != "policy" {
		t.Fatalf("expected unstamped medical forms, got %q", medical)
	}
	if calls := stamper.calls.Load(); calls != 1 {
		t.Fatalf("expected one stamp, got %d", calls)
	}
}

func TestRetrieveReturnsWinnerBytesOfEqualSize(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, root := newTestStore(t, conn)
	ctx := context.Background()
	winnerBytes := []byte(strings.Repeat("W", len("Contract|Demand|InsurancePolicy")))
	if errPut := store.blobs.Put(ctx, "winner/DOC-1.pdf", winnerBytes, PDFContentType); errPut != nil {
		t.Fatalf("put winner blob: %v", errPut)
	}

	var raced atomic.Bool
	if errRegister := conn.Callback().Create().Before("gorm:create").Register("test:concurrent_winner", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Dest.(*models.IssuedDocument); !ok || !raced.CompareAndSwap(false, true) {
			return
		}
		errWinner := tx.Session(&gorm.Session{NewDB: true}).Exec(
			"INSERT INTO issued_documents (external_id, name, type, storage_path, content_type, size, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
			"DOC-1", "DOC-1.pdf", models.DocumentTypeRCA, "winner/DOC-1.pdf", PDFContentType, len(winnerBytes), time.Now().UTC(),
		).Error
		if errWinner != nil {
			_ = tx.AddError(errWinner)
		}
	}); errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}

	pipeline := NewPipeline(store, &fakeParts{}, nil, joinMerger{}, 3)
	doc, data, errRetrieve := pipeline.Retrieve(ctx, "DOC-1", models.ContractTypeRCAI)
	if errRetrieve != nil {
		t.Fatalf("retrieve: %v", errRetrieve)
	}
	if doc.StoragePath != "winner/DOC-1.pdf" {
		t.Fatalf("expected winner record, got %+v", doc)
	}
	if !bytes.Equal(data, winnerBytes) {
		t.Fatalf("expected winner bytes, got %q", data)
	}
	if files := countFiles(t, root); files != 1 {
		t.Fatalf("expected only the winner blob to remain, got %d files", files)
	}
}

func TestRetrieveSurvivesFirstCallerCancellation(t *testing.T) {
	conn := openDocumentsTestDB(t)
	store, _ := newTestStore(t, conn)
	parts := &fakeParts{delays: map[rca.DocumentPart]time.Duration{rca.PartContract: 80 * time.Millisecond}}
	pipeline := NewPipeline(store, parts, nil, joinMerger{}, 3)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, _, errRetrieve := pipeline.Retrieve(firstCtx, "DOC-1", models.ContractTypeRCAI)
		firstDone <- errRetrieve
	}()
	time.Sleep(10 * time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		_, _, errRetrieve := pipeline.Retrieve(context.Background(), "DOC-1", models.ContractTypeRCAI)
		secondDone <- errRetrieve
	}()
	time.Sleep(10 * time.Millisecond)
	cancelFirst()

	if errFirst := <-firstDone; !errors.Is(errFirst, context.Canceled) {
		t.Fatalf("expected first caller to see cancellation, got %v", errFirst)
	}
	if errSecond := <-secondDone; errSecond != nil {
		t.Fatalf("expected second caller to succeed, got %v", errSecond)
	}
	if calls := parts.calls.Load(); calls != 3 {
		t.Fatalf("expected one shared assembly, got %d part calls", calls)
	}
}
