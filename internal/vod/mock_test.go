package vod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/vodpipe/internal/db"
	"github.com/abdul-hamid-achik/vodpipe/internal/transcode"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func nowPgtype() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now(), Valid: true}
}

type metadataKey struct {
	vod pgtype.UUID
	id  string
}

// MockQuerier is an in-memory db.TxQuerier. ExecTx serializes transactions
// and rolls back every write made by a failing callback.
type MockQuerier struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	assocs     map[pgtype.UUID]db.VodAssociation
	metadata   map[metadataKey]db.VodMetadatum
	thumbnails map[pgtype.UUID]db.VodThumbnail
	staged     map[int64]db.StagedClip
	clips      map[pgtype.UUID]db.VodClip
	matchClips []db.MatchClip
	copies     map[pgtype.UUID][]db.VodStorageCopy

	Writes  int
	Commits int

	// BeforeCommit runs inside ExecTx after the callback succeeded.
	BeforeCommit func()

	DeleteCopiesErr error
}

var _ db.TxQuerier = (*MockQuerier)(nil)

func NewMockQuerier() *MockQuerier {
	return &MockQuerier{
		assocs:     make(map[pgtype.UUID]db.VodAssociation),
		metadata:   make(map[metadataKey]db.VodMetadatum),
		thumbnails: make(map[pgtype.UUID]db.VodThumbnail),
		staged:     make(map[int64]db.StagedClip),
		clips:      make(map[pgtype.UUID]db.VodClip),
		copies:     make(map[pgtype.UUID][]db.VodStorageCopy),
	}
}

type mockSnapshot struct {
	assocs     map[pgtype.UUID]db.VodAssociation
	metadata   map[metadataKey]db.VodMetadatum
	thumbnails map[pgtype.UUID]db.VodThumbnail
	staged     map[int64]db.StagedClip
	clips      map[pgtype.UUID]db.VodClip
	matchClips []db.MatchClip
	copies     map[pgtype.UUID][]db.VodStorageCopy
	writes     int
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *MockQuerier) snapshot() mockSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mockSnapshot{
		assocs:     cloneMap(m.assocs),
		metadata:   cloneMap(m.metadata),
		thumbnails: cloneMap(m.thumbnails),
		staged:     cloneMap(m.staged),
		clips:      cloneMap(m.clips),
		matchClips: append([]db.MatchClip(nil), m.matchClips...),
		copies:     cloneMap(m.copies),
		writes:     m.Writes,
	}
}

func (m *MockQuerier) restore(s mockSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assocs = s.assocs
	m.metadata = s.metadata
	m.thumbnails = s.thumbnails
	m.staged = s.staged
	m.clips = s.clips
	m.matchClips = s.matchClips
	m.copies = s.copies
	m.Writes = s.writes
}

func (m *MockQuerier) ExecTx(ctx context.Context, fn func(db.Querier) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	if m.BeforeCommit != nil {
		m.BeforeCommit()
	}
	m.mu.Lock()
	m.Commits++
	m.mu.Unlock()
	return nil
}

func (m *MockQuerier) write() {
	m.Writes++
}

func (m *MockQuerier) AddVod(a db.VodAssociation, md db.VodMetadatum) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assocs[a.VideoUuid] = a
	m.metadata[metadataKey{md.VideoUuid, md.ID}] = md
}

func (m *MockQuerier) AddStagedClip(c db.StagedClip) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged[c.ID] = c
}

func (m *MockQuerier) AddStorageCopy(c db.VodStorageCopy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.copies[c.VideoUuid] = append(m.copies[c.VideoUuid], c)
}

func (m *MockQuerier) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Writes
}

func (m *MockQuerier) Metadata(vod uuid.UUID) (db.VodMetadatum, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.metadata[metadataKey{db.UUID(vod), DefaultMetadataID}]
	return md, ok
}

func (m *MockQuerier) Association(vod uuid.UUID) (db.VodAssociation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assocs[db.UUID(vod)]
	return a, ok
}

func (m *MockQuerier) Clips() []db.VodClip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.VodClip, 0, len(m.clips))
	for _, c := range m.clips {
		out = append(out, c)
	}
	return out
}

func (m *MockQuerier) MatchClips() []db.MatchClip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]db.MatchClip(nil), m.matchClips...)
}

func (m *MockQuerier) Thumbnail(vod uuid.UUID) (db.VodThumbnail, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.thumbnails[db.UUID(vod)]
	return t, ok
}

func (m *MockQuerier) StagedClip(id int64) db.StagedClip {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.staged[id]
}

func (m *MockQuerier) AddVodThumbnail(ctx context.Context, arg db.AddVodThumbnailParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write()
	m.thumbnails[arg.VideoUuid] = db.VodThumbnail(arg)
	return nil
}

func (m *MockQuerier) CreateVodClip(ctx context.Context, arg db.CreateVodClipParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clips[arg.ClipUuid]; ok {
		return errors.New("duplicate clip")
	}
	m.write()
	m.clips[arg.ClipUuid] = db.VodClip{
		ClipUuid:      arg.ClipUuid,
		ParentVodUuid: arg.ParentVodUuid,
		ClipUserUuid:  arg.ClipUserUuid,
		Title:         arg.Title,
		Description:   arg.Description,
		Tm:            nowPgtype(),
	}
	return nil
}

func (m *MockQuerier) CreateVodMetadata(ctx context.Context, arg db.CreateVodMetadataParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write()
	m.metadata[metadataKey{arg.VideoUuid, arg.ID}] = db.VodMetadatum{
		VideoUuid:  arg.VideoUuid,
		ID:         arg.ID,
		ResX:       arg.ResX,
		ResY:       arg.ResY,
		Fps:        arg.Fps,
		MinBitrate: arg.MinBitrate,
		AvgBitrate: arg.AvgBitrate,
		MaxBitrate: arg.MaxBitrate,
		Bucket:     arg.Bucket,
		SessionID:  arg.SessionID,
	}
	return nil
}

func (m *MockQuerier) DeleteVodAssociation(ctx context.Context, videoUuid pgtype.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assocs[videoUuid]; !ok {
		return 0, nil
	}
	m.write()
	delete(m.assocs, videoUuid)
	delete(m.thumbnails, videoUuid)
	for k := range m.metadata {
		if k.vod == videoUuid {
			delete(m.metadata, k)
		}
	}
	return 1, nil
}

func (m *MockQuerier) DeleteVodStorageCopies(ctx context.Context, videoUuid pgtype.UUID) (int64, error) {
	if m.DeleteCopiesErr != nil {
		return 0, m.DeleteCopiesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.copies[videoUuid]))
	if n > 0 {
		m.write()
	}
	delete(m.copies, videoUuid)
	return n, nil
}

func (m *MockQuerier) GetStagedClip(ctx context.Context, id int64) (db.StagedClip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.staged[id]
	if !ok {
		return db.StagedClip{}, pgx.ErrNoRows
	}
	return c, nil
}

func (m *MockQuerier) GetVodAssociation(ctx context.Context, videoUuid pgtype.UUID) (db.VodAssociation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assocs[videoUuid]
	if !ok {
		return db.VodAssociation{}, pgx.ErrNoRows
	}
	return a, nil
}

func (m *MockQuerier) GetVodMetadata(ctx context.Context, arg db.GetVodMetadataParams) (db.VodMetadatum, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.metadata[metadataKey{arg.VideoUuid, arg.ID}]
	if !ok {
		return db.VodMetadatum{}, pgx.ErrNoRows
	}
	return md, nil
}

func (m *MockQuerier) GetVodThumbnail(ctx context.Context, videoUuid pgtype.UUID) (db.VodThumbnail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.thumbnails[videoUuid]
	if !ok {
		return db.VodThumbnail{}, pgx.ErrNoRows
	}
	return t, nil
}

func (m *MockQuerier) IsVodPublic(ctx context.Context, videoUuid pgtype.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assocs[videoUuid]
	if !ok {
		return false, pgx.ErrNoRows
	}
	return a.IsPublic, nil
}

func (m *MockQuerier) LinkClipToMatch(ctx context.Context, arg db.LinkClipToMatchParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write()
	m.matchClips = append(m.matchClips, db.MatchClip(arg))
	return nil
}

func (m *MockQuerier) ListPendingStagedClips(ctx context.Context, vodUuid pgtype.UUID) ([]db.StagedClip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []db.StagedClip
	for _, c := range m.staged {
		if c.VodUuid == vodUuid && !c.ExecuteTime.Valid {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockQuerier) ListStalledUploads(ctx context.Context, arg db.ListStalledUploadsParams) ([]db.ListStalledUploadsRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []db.ListStalledUploadsRow
	for k, md := range m.metadata {
		a := m.assocs[k.vod]
		if !md.SessionID.Valid || md.HasFastify || !a.CreatedAt.Time.Before(arg.CreatedAt.Time) {
			continue
		}
		out = append(out, db.ListStalledUploadsRow{
			VideoUuid:          md.VideoUuid,
			ID:                 md.ID,
			Bucket:             md.Bucket,
			SessionID:          md.SessionID,
			RawContainerFormat: a.RawContainerFormat,
			CreatedAt:          a.CreatedAt,
		})
		if int32(len(out)) == arg.Limit {
			break
		}
	}
	return out, nil
}

func (m *MockQuerier) MarkStagedClipExecuted(ctx context.Context, arg db.MarkStagedClipExecutedParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.staged[arg.ID]
	if !ok || c.ExecuteTime.Valid {
		return 0, nil
	}
	m.write()
	c.ExecuteTime = nowPgtype()
	c.ClipUuid = arg.ClipUuid
	m.staged[arg.ID] = c
	return 1, nil
}

func (m *MockQuerier) MarkVodFastify(ctx context.Context, arg db.MarkVodFastifyParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := metadataKey{arg.VideoUuid, arg.ID}
	md, ok := m.metadata[k]
	if !ok {
		return pgx.ErrNoRows
	}
	m.write()
	md.HasFastify = true
	m.metadata[k] = md
	return nil
}

func (m *MockQuerier) MarkVodPreview(ctx context.Context, arg db.MarkVodPreviewParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := metadataKey{arg.VideoUuid, arg.ID}
	md, ok := m.metadata[k]
	if !ok {
		return pgx.ErrNoRows
	}
	m.write()
	md.HasPreview = true
	m.metadata[k] = md
	return nil
}

func (m *MockQuerier) ReserveVodAssociation(ctx context.Context, arg db.ReserveVodAssociationParams) (db.VodAssociation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assocs[arg.VideoUuid]; ok {
		return db.VodAssociation{}, errors.New("duplicate association")
	}
	m.write()
	a := db.VodAssociation{
		VideoUuid:          arg.VideoUuid,
		MatchUuid:          arg.MatchUuid,
		UserUuid:           arg.UserUuid,
		StartTime:          arg.StartTime,
		EndTime:            arg.EndTime,
		RawContainerFormat: arg.RawContainerFormat,
		IsClip:             arg.IsClip,
		IsLocal:            arg.IsLocal,
		IsPublic:           arg.IsPublic,
		CreatedAt:          nowPgtype(),
	}
	m.assocs[arg.VideoUuid] = a
	return a, nil
}

func (m *MockQuerier) StoreVodMd5(ctx context.Context, arg db.StoreVodMd5Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assocs[arg.VideoUuid]
	if !ok {
		return pgx.ErrNoRows
	}
	m.write()
	a.Md5 = arg.Md5
	m.assocs[arg.VideoUuid] = a
	return nil
}

// fakeTranscoder writes deterministic outputs instead of running ffmpeg.
type fakeTranscoder struct {
	mu    sync.Mutex
	calls []string
	err   error
	// gate, when set, blocks Clip until closed.
	gate chan struct{}
}

var _ transcode.Transcoder = (*fakeTranscoder)(nil)

func (f *fakeTranscoder) record(op, input string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+input)
	return f.err
}

func (f *fakeTranscoder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTranscoder) Fastify(ctx context.Context, input, output string) error {
	if err := f.record("fastify", input); err != nil {
		return err
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	return os.WriteFile(output, append([]byte("faststart:"), data...), 0o644)
}

func (f *fakeTranscoder) Preview(ctx context.Context, input, output string, length time.Duration) error {
	if err := f.record("preview", input); err != nil {
		return err
	}
	return os.WriteFile(output, []byte("preview"), 0o644)
}

func (f *fakeTranscoder) Thumbnail(ctx context.Context, input, output string, length time.Duration) error {
	if err := f.record("thumbnail", input); err != nil {
		return err
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 36))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return err
	}
	return os.WriteFile(output, buf.Bytes(), 0o644)
}

func (f *fakeTranscoder) Clip(ctx context.Context, input, output string, start, end time.Duration, audio bool) error {
	if err := f.record("clip", input); err != nil {
		return err
	}
	if f.gate != nil {
		<-f.gate
	}
	return os.WriteFile(output, []byte("clip "+start.String()+"-"+end.String()), 0o644)
}

func (f *fakeTranscoder) Probe(ctx context.Context, input string) (*transcode.Metadata, error) {
	return &transcode.Metadata{Duration: 3 * time.Second, Width: 1280, Height: 720, FrameRate: 59.94, Bitrate: 4_000_000}, nil
}

type published struct {
	queue    string
	task     Task
	priority uint8
	maxAge   time.Duration
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *mockPublisher) Publish(ctx context.Context, queue string, body []byte, priority uint8, maxAge time.Duration) error {
	if p.err != nil {
		return p.err
	}
	t, err := DecodeTask(body)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{queue: queue, task: t, priority: priority, maxAge: maxAge})
	return nil
}

func (p *mockPublisher) Tasks() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type mockSearch struct {
	mu      sync.Mutex
	updates []uuid.UUID
	syncs   [][]uuid.UUID
}

func (s *mockSearch) RequestUpdateVodData(ctx context.Context, videoUUID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, videoUUID)
}

func (s *mockSearch) RequestSyncVod(ctx context.Context, videoUUIDs []uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs = append(s.syncs, videoUUIDs)
}

// mustJSON is a test helper for hand-built payloads.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func fileMD5Bytes(data []byte) (string, error) {
	f, err := os.CreateTemp("", "md5-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return fileMD5(f.Name())
}
