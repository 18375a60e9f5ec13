package consultation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/domain/bed"
	"github.com/JavidSumra/care-be/internal/domain/facility"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/events"
	"github.com/JavidSumra/care-be/internal/platform/predicate"
)

var testNow = time.Date(2024, 12, 24, 12, 0, 0, 0, time.UTC)

type fakeResolver struct {
	sets  map[int64][]int64
	calls int
	err   error
}

func (f *fakeResolver) AccessibleFacilities(_ context.Context, userID int64) ([]int64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.sets[userID], nil
}

type txKey struct{}

// fakeTx runs callbacks directly, marking the context so repositories can
// tell whether they ran inside a transaction.
type fakeTx struct {
	calls int
}

func (f *fakeTx) InTx(ctx context.Context, fn func(context.Context) error) error {
	f.calls++
	return fn(context.WithValue(ctx, txKey{}, true))
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// memRepo keeps rows in maps and derives the access attributes from the
// patient and facility rows the way the SQL joins do.
type memRepo struct {
	facilities    map[int64]*facility.Facility
	patients      map[int64]*Patient
	consultations map[int64]*Consultation
	nextID        int64

	lockedOutsideTx bool
	locks           int
	linkErr         error
	updateErr       error
}

func newMemRepo() *memRepo {
	return &memRepo{
		facilities:    make(map[int64]*facility.Facility),
		patients:      make(map[int64]*Patient),
		consultations: make(map[int64]*Consultation),
		nextID:        100,
	}
}

func (r *memRepo) hydrate(stored *Consultation) *Consultation {
	c := *stored
	p := r.patients[c.PatientID]
	c.PatientExternalID = p.ExternalID
	c.PatientName = p.Name
	c.PatientActive = p.IsActive
	c.PatientFacilityID = p.FacilityID
	c.PatientFacilityStateID = nil
	c.PatientFacilityDistrictID = nil
	if p.FacilityID != nil {
		if pf, ok := r.facilities[*p.FacilityID]; ok {
			c.PatientFacilityStateID = pf.StateID
			c.PatientFacilityDistrictID = pf.DistrictID
		}
	}
	if f, ok := r.facilities[c.FacilityID]; ok {
		c.FacilityExternalID = f.ExternalID
		c.FacilityName = f.Name
	}
	return &c
}

func (r *memRepo) visible(pred predicate.Expr) []*Consultation {
	var out []*Consultation
	for _, stored := range r.consultations {
		c := r.hydrate(stored)
		if pred.Eval(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (r *memRepo) List(_ context.Context, pred predicate.Expr, f Filter, limit, offset int) ([]*Consultation, int, error) {
	var matched []*Consultation
	for _, c := range r.visible(pred) {
		if f.PatientExternalID != nil && c.PatientExternalID != *f.PatientExternalID {
			continue
		}
		if f.FacilityID != nil && c.FacilityID != *f.FacilityID {
			continue
		}
		matched = append(matched, c)
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *memRepo) Get(_ context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consultation, error) {
	for _, c := range r.visible(pred) {
		if c.ExternalID == externalID {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) GetForUpdate(ctx context.Context, pred predicate.Expr, externalID uuid.UUID) (*Consultation, error) {
	r.locks++
	if !inTx(ctx) {
		r.lockedOutsideTx = true
	}
	return r.Get(ctx, pred, externalID)
}

func (r *memRepo) Create(_ context.Context, c *Consultation) error {
	r.nextID++
	c.ID = r.nextID
	c.ExternalID = uuid.New()
	c.CreatedDate = testNow
	c.ModifiedDate = testNow
	stored := *c
	r.consultations[c.ID] = &stored
	return nil
}

func (r *memRepo) Update(_ context.Context, c *Consultation) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.consultations[c.ID]; !ok {
		return ErrNotFound
	}
	stored := *c
	r.consultations[c.ID] = &stored
	return nil
}

func (r *memRepo) LatestActiveInAssignment(_ context.Context, assignmentID int64) (*Consultation, error) {
	for _, c := range r.visible(predicate.All()) {
		if c.CurrentBedID != nil && *c.CurrentBedID == assignmentID && c.PatientActive {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memRepo) GetPatient(_ context.Context, externalID uuid.UUID) (*Patient, error) {
	for _, p := range r.patients {
		if p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPatientNotFound
}

func (r *memRepo) HasOpenConsultation(_ context.Context, patientID int64) (bool, error) {
	for _, c := range r.consultations {
		if c.PatientID == patientID && !c.IsDischarged() {
			return true, nil
		}
	}
	return false, nil
}

func (r *memRepo) LinkPatient(_ context.Context, patientID, consultationID, facilityID int64) error {
	if r.linkErr != nil {
		return r.linkErr
	}
	p := r.patients[patientID]
	p.LastConsultationID = &consultationID
	p.FacilityID = &facilityID
	p.IsActive = true
	return nil
}

func (r *memRepo) SetPatientActive(_ context.Context, patientID int64, active bool) error {
	r.patients[patientID].IsActive = active
	return nil
}

func (r *memRepo) addFacility(id int64, state, district *int64) *facility.Facility {
	f := &facility.Facility{ID: id, ExternalID: uuid.New(), Name: "Facility", StateID: state, DistrictID: district}
	r.facilities[id] = f
	return f
}

func (r *memRepo) addPatient(id int64, facilityID int64, active bool) *Patient {
	fid := facilityID
	p := &Patient{ID: id, ExternalID: uuid.New(), Name: "Patient", FacilityID: &fid, IsActive: active}
	r.patients[id] = p
	return p
}

func (r *memRepo) addConsultation(id, patientID, facilityID int64) *Consultation {
	c := &Consultation{
		ID:            id,
		ExternalID:    uuid.New(),
		PatientID:     patientID,
		FacilityID:    facilityID,
		Suggestion:    SuggestionAdmission,
		EncounterDate: testNow.Add(-72 * time.Hour),
	}
	r.consultations[id] = c
	return c
}

func (r *memRepo) stored(id int64) *Consultation {
	return r.hydrate(r.consultations[id])
}

type memBeds struct {
	beds        map[int64]*bed.Bed
	assignments map[int64]*bed.Assignment
	// assetBeds are the asset_bed links; the asset's location is its bed's.
	assetBeds []*assetLink
	nextID    int64
	createErr error
}

type assetLink struct {
	assetID int64
	link    *bed.AssetBed
	preset  string
}

func newMemBeds() *memBeds {
	return &memBeds{
		beds:        make(map[int64]*bed.Bed),
		assignments: make(map[int64]*bed.Assignment),
		nextID:      500,
	}
}

func (b *memBeds) GetByExternalID(_ context.Context, externalID uuid.UUID) (*bed.Bed, error) {
	for _, bd := range b.beds {
		if bd.ExternalID == externalID {
			return bd, nil
		}
	}
	return nil, bed.ErrNotFound
}

func (b *memBeds) OpenAssignmentForAsset(_ context.Context, assetID int64) (*bed.Assignment, error) {
	var best *bed.Assignment
	for _, a := range b.assignments {
		if !a.IsOpen() {
			continue
		}
		match := false
		for _, asset := range a.Assets {
			if asset.ID == assetID {
				match = true
			}
		}
		for _, l := range b.assetBeds {
			if l.assetID == assetID && l.link.Bed.ID == a.BedID {
				match = true
			}
		}
		if match && (best == nil || a.ID > best.ID) {
			best = a
		}
	}
	if best == nil {
		return nil, bed.ErrAssignmentNotFound
	}
	cp := *best
	cp.Bed = nil
	return &cp, nil
}

func (b *memBeds) OpenAssignmentForBed(_ context.Context, bedID int64) (*bed.Assignment, error) {
	for _, a := range b.assignments {
		if a.BedID == bedID && a.IsOpen() {
			return a, nil
		}
	}
	return nil, bed.ErrAssignmentNotFound
}

func (b *memBeds) CreateAssignment(_ context.Context, a *bed.Assignment) error {
	if b.createErr != nil {
		return b.createErr
	}
	b.nextID++
	a.ID = b.nextID
	a.ExternalID = uuid.New()
	stored := *a
	b.assignments[a.ID] = &stored
	return nil
}

func (b *memBeds) CloseAssignment(_ context.Context, assignmentID int64, end time.Time) error {
	a, ok := b.assignments[assignmentID]
	if !ok || !a.IsOpen() {
		return bed.ErrAssignmentNotFound
	}
	a.EndDate = &end
	return nil
}

func (b *memBeds) Assignments(_ context.Context, ids []int64) (map[int64]*bed.Assignment, error) {
	out := make(map[int64]*bed.Assignment)
	for _, id := range ids {
		if a, ok := b.assignments[id]; ok {
			cp := *a
			cp.Bed = b.beds[a.BedID]
			if cp.Assets == nil {
				cp.Assets = []*bed.Asset{}
			}
			out[id] = &cp
		}
	}
	return out, nil
}

func (b *memBeds) ListAssetBeds(_ context.Context, _ int64, bedID int64, preset string) ([]*bed.AssetBed, error) {
	var out []*bed.AssetBed
	for _, l := range b.assetBeds {
		if l.link.Bed.ID == bedID && strings.Contains(strings.ToLower(l.preset), strings.ToLower(preset)) {
			out = append(out, l.link)
		}
	}
	return out, nil
}

func (b *memBeds) addBed(id, facilityID int64) *bed.Bed {
	bd := &bed.Bed{ID: id, ExternalID: uuid.New(), Name: "Bed", FacilityID: facilityID}
	b.beds[id] = bd
	return bd
}

func (b *memBeds) addAssignment(id, consultationID, bedID int64, end *time.Time, assets ...*bed.Asset) *bed.Assignment {
	a := &bed.Assignment{
		ID:             id,
		ExternalID:     uuid.New(),
		ConsultationID: consultationID,
		BedID:          bedID,
		StartDate:      testNow.Add(-48 * time.Hour),
		EndDate:        end,
		Assets:         assets,
	}
	b.assignments[id] = a
	return a
}

type memUsers struct {
	users  map[int64]*user.User
	skills map[int64][]user.Skill
}

func (m *memUsers) GetByExternalID(_ context.Context, externalID uuid.UUID) (*user.User, error) {
	for _, u := range m.users {
		if u.ExternalID == externalID {
			return u, nil
		}
	}
	return nil, user.ErrNotFound
}

func (m *memUsers) GetByIDs(_ context.Context, ids []int64) (map[int64]*user.User, error) {
	out := make(map[int64]*user.User)
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (m *memUsers) SkillsFor(_ context.Context, ids []int64) (map[int64][]user.Skill, error) {
	out := make(map[int64][]user.Skill)
	for _, id := range ids {
		out[id] = m.skills[id]
	}
	return out, nil
}

type memFacilities struct {
	repo *memRepo
}

func (m memFacilities) GetByExternalID(_ context.Context, externalID uuid.UUID) (*facility.Facility, error) {
	for _, f := range m.repo.facilities {
		if f.ExternalID == externalID {
			return f, nil
		}
	}
	return nil, facility.ErrNotFound
}

type fixture struct {
	repo     *memRepo
	beds     *memBeds
	users    *memUsers
	resolver *fakeResolver
	tx       *fakeTx
	events   *events.Recorder
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newMemRepo(),
		beds:     newMemBeds(),
		users:    &memUsers{users: map[int64]*user.User{}, skills: map[int64][]user.Skill{}},
		resolver: &fakeResolver{sets: map[int64][]int64{}},
		tx:       &fakeTx{},
		events:   &events.Recorder{},
	}
	f.svc = NewService(f.repo, f.beds, f.users, memFacilities{repo: f.repo}, f.resolver, f.tx, zerolog.Nop())
	f.svc.SetPublisher(f.events)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) addUser(u *user.User) *user.User {
	if u.ExternalID == uuid.Nil {
		u.ExternalID = uuid.New()
	}
	u.IsActive = true
	f.users.users[u.ID] = u
	return u
}

func ptr[T any](v T) *T { return &v }

var errBoom = errors.New("boom")
