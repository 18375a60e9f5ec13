package integration

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JavidSumra/care-be/internal/domain/consent"
	"github.com/JavidSumra/care-be/internal/domain/consultation"
	"github.com/JavidSumra/care-be/internal/domain/user"
)

// seedConsultation inserts an open consultation held at facilityID.
func seedConsultation(t *testing.T, ctx context.Context, patientID, facilityID int64) uuid.UUID {
	t.Helper()
	var ext uuid.UUID
	err := pool.QueryRow(ctx, `
		INSERT INTO patient_consultation (patient_id, facility_id, suggestion)
		VALUES ($1, $2, 'A') RETURNING external_id`, patientID, facilityID).Scan(&ext)
	if err != nil {
		t.Fatalf("seed consultation: %v", err)
	}
	return ext
}

func externalIDOf(t *testing.T, ctx context.Context, table string, id int64) uuid.UUID {
	t.Helper()
	var ext uuid.UUID
	if err := pool.QueryRow(ctx, `SELECT external_id FROM `+table+` WHERE id = $1`, id).Scan(&ext); err != nil {
		t.Fatalf("external id of %s %d: %v", table, id, err)
	}
	return ext
}

func visible(t *testing.T, ctx context.Context, s *stack, u *user.User, facilityID int64) []uuid.UUID {
	t.Helper()
	cs, total, err := s.consultations.List(ctx, u, consultation.Filter{FacilityID: &facilityID}, 100, 0)
	if err != nil {
		t.Fatalf("list consultations: %v", err)
	}
	if total != len(cs) {
		t.Fatalf("count %d does not match %d rows", total, len(cs))
	}
	ids := make([]uuid.UUID, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ExternalID)
	}
	return ids
}

func sameIDs(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	sorted := func(ids []uuid.UUID) []string {
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		sort.Strings(out)
		return out
	}
	x, y := sorted(a), sorted(b)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestConsultationVisibility(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	g := seedGeo(t, ctx)
	home := seedFacility(t, ctx, g.state, g.districtA)
	member := seedFacility(t, ctx, g.state, g.districtA)
	other := seedFacility(t, ctx, g.state, g.districtB)

	doctor := seedUser(t, ctx, user.Doctor, &home, &g.state, &g.districtA, member)

	// Registered at a member facility, treated elsewhere.
	viaMembership := seedConsultation(t, ctx, seedPatient(t, ctx, member), other)
	// Registered elsewhere, treated at the home facility.
	viaHome := seedConsultation(t, ctx, seedPatient(t, ctx, other), home)
	hidden := seedConsultation(t, ctx, seedPatient(t, ctx, other), other)

	all := func(u *user.User) []uuid.UUID {
		var ids []uuid.UUID
		for _, f := range []int64{home, member, other} {
			ids = append(ids, visible(t, ctx, s, u, f)...)
		}
		return ids
	}

	t.Run("general user", func(t *testing.T) {
		got := all(doctor)
		if !sameIDs(got, []uuid.UUID{viaMembership, viaHome}) {
			t.Fatalf("doctor sees %v", got)
		}
		if _, err := s.consultations.Get(ctx, doctor, hidden); !errors.Is(err, consultation.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for hidden consultation, got %v", err)
		}
	})

	t.Run("district admin", func(t *testing.T) {
		admin := seedUser(t, ctx, user.DistrictAdmin, nil, &g.state, &g.districtB)
		got := all(admin)
		if !sameIDs(got, []uuid.UUID{viaHome, hidden}) {
			t.Fatalf("district admin sees %v", got)
		}
	})

	t.Run("state admin", func(t *testing.T) {
		admin := seedUser(t, ctx, user.StateLabAdmin, nil, &g.state, nil)
		got := all(admin)
		if !sameIDs(got, []uuid.UUID{viaMembership, viaHome, hidden}) {
			t.Fatalf("state admin sees %v", got)
		}
	})

	t.Run("inactive patient drops the membership disjunct", func(t *testing.T) {
		mustExec(t, ctx, `
			UPDATE patient SET is_active = FALSE
			WHERE id = (SELECT patient_id FROM patient_consultation WHERE external_id = $1)`, viaMembership)
		got := all(doctor)
		if !sameIDs(got, []uuid.UUID{viaHome}) {
			t.Fatalf("doctor sees %v after deactivation", got)
		}
	})
}

func admit(t *testing.T, ctx context.Context, s *stack, u *user.User, facilityID, patientID, bedID int64) *consultation.Consultation {
	t.Helper()
	bedExt := externalIDOf(t, ctx, "bed", bedID)
	c, err := s.consultations.Create(ctx, u, &consultation.CreateRequest{
		Patient:       externalIDOf(t, ctx, "patient", patientID),
		Facility:      externalIDOf(t, ctx, "facility", facilityID),
		Suggestion:    consultation.SuggestionAdmission,
		EncounterDate: ptr(time.Now().Add(-time.Hour)),
		Bed:           &bedExt,
	})
	if err != nil {
		t.Fatalf("admit patient: %v", err)
	}
	return c
}

func TestDischargeUnderRowLock(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	g := seedGeo(t, ctx)
	home := seedFacility(t, ctx, g.state, g.districtA)
	doctor := seedUser(t, ctx, user.Doctor, &home, nil, nil)
	bedID, _ := seedBed(t, ctx, home)
	patientID := seedPatient(t, ctx, home)

	c := admit(t, ctx, s, doctor, home, patientID, bedID)
	if c.CurrentBedID == nil {
		t.Fatal("expected the admission to hold a bed")
	}

	const attempts = 4
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at := time.Now().Add(-time.Minute)
			errs <- s.consultations.Discharge(ctx, doctor, c.ExternalID, &consultation.DischargeRequest{
				NewDischargeReason: consultation.DischargeRecovered,
				DischargeDate:      &at,
			})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, consultation.ErrAlreadyDischarged), errors.Is(err, consultation.ErrNotFound):
		default:
			t.Fatalf("unexpected discharge error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one discharge to succeed, got %d", succeeded)
	}

	var active bool
	var currentBed *int64
	var ended *time.Time
	err := pool.QueryRow(ctx, `
		SELECT p.is_active, c.current_bed_id, cb.end_date
		FROM patient_consultation c
		JOIN patient p ON p.id = c.patient_id
		JOIN consultation_bed cb ON cb.id = $2
		WHERE c.external_id = $1`, c.ExternalID, *c.CurrentBedID).Scan(&active, &currentBed, &ended)
	if err != nil {
		t.Fatalf("load discharged state: %v", err)
	}
	if active {
		t.Error("patient should be inactive after discharge")
	}
	if currentBed != nil {
		t.Error("consultation should no longer hold a bed")
	}
	if ended == nil {
		t.Error("bed assignment should be closed")
	}
}

func TestPatientFromAsset(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	g := seedGeo(t, ctx)
	home := seedFacility(t, ctx, g.state, g.districtA)
	doctor := seedUser(t, ctx, user.Doctor, &home, nil, nil)
	bedID, assetID := seedBed(t, ctx, home)
	c := admit(t, ctx, s, doctor, home, seedPatient(t, ctx, home), bedID)

	mustExec(t, ctx, `INSERT INTO asset_bed (asset_id, bed_id, meta) VALUES ($1, $2, '{"preset_name": "bedside"}')`,
		assetID, bedID)

	device := seedUser(t, ctx, user.Staff, nil, nil, nil)
	mustExec(t, ctx, `UPDATE users SET asset_id = $2 WHERE id = $1`, device.ID, assetID)
	device.AssetID = &assetID

	got, err := s.consultations.PatientFromAsset(ctx, device, "")
	if err != nil {
		t.Fatalf("patient from asset: %v", err)
	}
	if got.ConsultationID != c.ExternalID {
		t.Fatalf("expected consultation %s, got %s", c.ExternalID, got.ConsultationID)
	}
	if got.BedID != externalIDOf(t, ctx, "bed", bedID) {
		t.Fatalf("unexpected bed %s", got.BedID)
	}

	got, err = s.consultations.PatientFromAsset(ctx, device, "bedside")
	if err != nil {
		t.Fatalf("patient from asset with preset: %v", err)
	}
	if len(got.AssetBeds) != 1 {
		t.Fatalf("expected one asset bed for the preset, got %d", len(got.AssetBeds))
	}

	if _, err := s.consultations.PatientFromAsset(ctx, doctor, ""); !errors.Is(err, consultation.ErrAssetOnly) {
		t.Fatalf("expected ErrAssetOnly for a person account, got %v", err)
	}
}

func TestConsentSupersedesSameType(t *testing.T) {
	ctx := context.Background()
	s := newStack()
	g := seedGeo(t, ctx)
	home := seedFacility(t, ctx, g.state, g.districtA)
	elsewhere := seedFacility(t, ctx, g.state, g.districtB)
	doctor := seedUser(t, ctx, user.Doctor, &home, nil, nil)
	stranger := seedUser(t, ctx, user.Doctor, &elsewhere, nil, nil)
	cons := seedConsultation(t, ctx, seedPatient(t, ctx, home), home)

	first, err := s.consents.Create(ctx, doctor, cons, &consent.CreateRequest{Type: consent.ConsentForAdmission})
	if err != nil {
		t.Fatalf("create first consent: %v", err)
	}
	second, err := s.consents.Create(ctx, doctor, cons, &consent.CreateRequest{Type: consent.ConsentForAdmission})
	if err != nil {
		t.Fatalf("create second consent: %v", err)
	}
	if _, err := s.consents.Create(ctx, doctor, cons, &consent.CreateRequest{Type: consent.HighRiskConsent}); err != nil {
		t.Fatalf("create other consent: %v", err)
	}

	reloaded, err := s.consents.Get(ctx, doctor, cons, first.ExternalID)
	if err != nil {
		t.Fatalf("get first consent: %v", err)
	}
	if !reloaded.Archived || reloaded.ArchivedByID == nil || *reloaded.ArchivedByID != doctor.ID {
		t.Fatalf("first consent should be archived by the doctor: %+v", reloaded)
	}

	active, total, err := s.consents.List(ctx, doctor, cons, ptr(false), 10, 0)
	if err != nil {
		t.Fatalf("list active consents: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 active consents, got %d", total)
	}
	listed := make([]uuid.UUID, 0, len(active))
	for _, c := range active {
		listed = append(listed, c.ExternalID)
		if c.ExternalID == first.ExternalID {
			t.Fatal("archived consent listed as active")
		}
	}
	if !containsID(listed, second.ExternalID) {
		t.Fatalf("latest consent missing from %v", listed)
	}

	if _, _, err := s.consents.List(ctx, stranger, cons, nil, 10, 0); !errors.Is(err, consultation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound outside the consultation's scope, got %v", err)
	}
}
