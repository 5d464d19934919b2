package scoring

import (
	"context"
	"sync"
	"testing"

	"lead_lifecycle_engine/internal/audit"
	"lead_lifecycle_engine/internal/events"
	"lead_lifecycle_engine/internal/lead"
	"lead_lifecycle_engine/internal/locking"
	"lead_lifecycle_engine/platform/apperr"
	"lead_lifecycle_engine/platform/logger"

	"github.com/google/uuid"
)

type fakeRepo struct {
	mu     sync.Mutex
	models map[uuid.UUID]Model
	scores map[uuid.UUID]Score
	reads  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{models: map[uuid.UUID]Model{}, scores: map[uuid.UUID]Score{}}
}

func (r *fakeRepo) CreateModel(_ context.Context, m Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.ID] = m
	return nil
}

func (r *fakeRepo) UpdateModel(_ context.Context, m Model) error {
	return r.CreateModel(context.Background(), m)
}

func (r *fakeRepo) SupersedeModel(_ context.Context, previous, next Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous.SupersededBy = &next.ID
	previous.IsActive = false
	r.models[previous.ID] = previous
	r.models[next.ID] = next
	return nil
}

func (r *fakeRepo) GetModel(_ context.Context, id uuid.UUID) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	if !ok {
		return Model{}, apperr.NotFound("model not found")
	}
	return m, nil
}

func (r *fakeRepo) GetActiveModel(context.Context) (Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	for _, m := range r.models {
		if m.IsActive {
			return m, nil
		}
	}
	return Model{}, apperr.NotFound("no active scoring model")
}

func (r *fakeRepo) ListModels(context.Context) ([]Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out, nil
}

func (r *fakeRepo) ActivateModel(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, m := range r.models {
		m.IsActive = k == id
		r.models[k] = m
	}
	return nil
}

func (r *fakeRepo) IsModelReferenced(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.scores {
		if s.ModelID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) GetScore(_ context.Context, leadID uuid.UUID) (Score, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scores[leadID]
	if !ok {
		return Score{}, apperr.NotFound("score not found")
	}
	return s, nil
}

func (r *fakeRepo) SaveScore(_ context.Context, s Score) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores[s.LeadID] = s
	return nil
}

type fakeLeads struct {
	snapshots map[uuid.UUID]lead.Snapshot
}

func (f *fakeLeads) GetSnapshot(_ context.Context, id uuid.UUID) (lead.Snapshot, error) {
	s, ok := f.snapshots[id]
	if !ok {
		return lead.Snapshot{}, apperr.NotFound("lead not found")
	}
	return s, nil
}

func (f *fakeLeads) ListOpen(context.Context, lead.ListParams) ([]lead.Snapshot, error) {
	return nil, nil
}

func (f *fakeLeads) UpdateStatus(context.Context, uuid.UUID, string) error { return nil }

type recordingBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

type recordingBandHandler struct {
	bands []string
}

func (h *recordingBandHandler) HandleBandEntered(_ context.Context, snapshot lead.Snapshot, band Band, _ Score) error {
	if snapshot.Score == nil || snapshot.Score.Band != band.Label {
		panic("band handler must receive the rescored snapshot")
	}
	h.bands = append(h.bands, band.Label)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakeLeads, *recordingBus, *recordingBandHandler) {
	t.Helper()
	repo := newFakeRepo()
	leads := &fakeLeads{snapshots: map[uuid.UUID]lead.Snapshot{}}
	bus := &recordingBus{}
	handler := &recordingBandHandler{}
	svc := New(repo, leads, bus, audit.Nop{}, locking.NewKeyedMutex(), logger.Discard())
	svc.SetBandActionHandler(handler)
	return svc, repo, leads, bus, handler
}

func createActive(t *testing.T, svc *Service) Model {
	t.Helper()
	m := testModel()
	created, err := svc.CreateModel(context.Background(), ModelInput{Name: m.Name, Groups: m.Groups, Bands: m.Bands, Activate: true})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	return created
}

func TestRecalculateFiresBandActionsOnlyOnChange(t *testing.T) {
	svc, _, leads, bus, handler := newTestService(t)
	createActive(t, svc)

	snap := testSnapshot(0)
	leads.snapshots[snap.LeadID] = snap

	first, err := svc.Recalculate(context.Background(), snap.LeadID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.BandChanged || first.Score.Band != "hot" {
		t.Fatalf("expected first calculation to enter hot, got %+v", first)
	}

	second, err := svc.Recalculate(context.Background(), snap.LeadID)
	if err != nil {
		t.Fatal(err)
	}
	if second.BandChanged || second.Score.Total != first.Score.Total {
		t.Fatalf("unchanged snapshot must not change band: %+v", second)
	}

	if len(handler.bands) != 1 || handler.bands[0] != "hot" {
		t.Fatalf("expected one hot band action run, got %v", handler.bands)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected one band change event, got %d", len(bus.published))
	}
}

func TestUpdateReferencedModelRequiresSupersede(t *testing.T) {
	svc, repo, leads, _, _ := newTestService(t)
	model := createActive(t, svc)
	snap := testSnapshot(2)
	leads.snapshots[snap.LeadID] = snap
	if _, err := svc.Recalculate(context.Background(), snap.LeadID); err != nil {
		t.Fatal(err)
	}

	in := ModelInput{Name: "default v2", Groups: model.Groups, Bands: model.Bands}
	_, err := svc.UpdateModel(context.Background(), model.ID, in, false)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	next, err := svc.UpdateModel(context.Background(), model.ID, in, true)
	if err != nil {
		t.Fatal(err)
	}
	if next.Version != 2 || !next.IsActive {
		t.Fatalf("expected active version 2, got %+v", next)
	}
	old, _ := repo.GetModel(context.Background(), model.ID)
	if old.IsActive || old.SupersededBy == nil || *old.SupersededBy != next.ID {
		t.Fatalf("previous version must be superseded, got %+v", old)
	}

	active, err := svc.ActiveModel(context.Background())
	if err != nil || active.ID != next.ID {
		t.Fatalf("cache must observe the new version, got %v %v", active.ID, err)
	}
}

func TestActiveModelIsCachedUntilWrite(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t)
	createActive(t, svc)

	for i := 0; i < 3; i++ {
		if _, err := svc.ActiveModel(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if repo.reads != 1 {
		t.Fatalf("expected a single repository read, got %d", repo.reads)
	}

	second := testModel()
	created, err := svc.CreateModel(context.Background(), ModelInput{Name: "alt", Groups: second.Groups, Bands: second.Bands, Activate: true})
	if err != nil {
		t.Fatal(err)
	}
	active, _ := svc.ActiveModel(context.Background())
	if active.ID != created.ID {
		t.Fatal("activation must invalidate the cache")
	}
}

func TestCreateModelRejectsInvalidBands(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	m := testModel()
	m.Bands = m.Bands[:2]
	_, err := svc.CreateModel(context.Background(), ModelInput{Name: "x", Groups: m.Groups, Bands: m.Bands})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

type racingRepo struct {
	*fakeRepo
	afterRead func()
}

func (r *racingRepo) GetActiveModel(ctx context.Context) (Model, error) {
	m, err := r.fakeRepo.GetActiveModel(ctx)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return m, err
}

func TestActiveModelReadRacingActivationIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := &racingRepo{fakeRepo: newFakeRepo()}
	svc := New(repo, &fakeLeads{snapshots: map[uuid.UUID]lead.Snapshot{}}, &recordingBus{}, audit.Nop{}, locking.NewKeyedMutex(), logger.Discard())

	first := createActive(t, svc)
	m := testModel()
	second, err := svc.CreateModel(ctx, ModelInput{Name: "alt", Groups: m.Groups, Bands: m.Bands})
	if err != nil {
		t.Fatal(err)
	}

	repo.afterRead = func() {
		if err := svc.ActivateModel(ctx, second.ID); err != nil {
			t.Errorf("activate: %v", err)
		}
	}
	stale, err := svc.ActiveModel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stale.ID != first.ID {
		t.Fatalf("expected the read that started before activation to see the first model")
	}

	active, err := svc.ActiveModel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected activated model %s after the racing read, got %s", second.ID, active.ID)
	}
}
