package consultation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JavidSumra/care-be/internal/domain/bed"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/auth"
	"github.com/JavidSumra/care-be/internal/platform/db"
)

func newTestServer(w *ward) (*echo.Echo, *db.AtomicRequests) {
	e := echo.New()
	atomic := db.NewAtomicRequests(nil, zerolog.Nop())
	NewHandler(w.svc, zerolog.Nop()).RegisterRoutes(e.Group("/api/v1"), atomic)
	return e, atomic
}

func do(e *echo.Echo, u *user.User, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if u != nil {
		assetID := ""
		if u.IsAssetUser() {
			assetID = "asset"
		}
		ctx := auth.WithIdentity(req.Context(), u.Username, assetID)
		req = req.WithContext(user.WithUser(ctx, u))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func dischargeBody(at time.Time) string {
	return `{"new_discharge_reason":1,"discharge_date":"` + at.Format(time.RFC3339) + `"}`
}

func TestHandler_CreateIsExemptFromRequestTransaction(t *testing.T) {
	_, atomic := newTestServer(newWard())

	assert.True(t, atomic.IsExempt(http.MethodPost, "/api/v1/consultation/"))
	assert.False(t, atomic.IsExempt(http.MethodPost, "/api/v1/consultation/:external_id/discharge_patient/"))
	assert.False(t, atomic.IsExempt(http.MethodPut, "/api/v1/consultation/:external_id/"))
}

func TestHandler_List(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)

	rec := do(e, w.doctor, http.MethodGet, "/api/v1/consultation/?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.Nil(t, body["next"])
	results := body["results"].([]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, w.consultation.ExternalID.String(), results[0].(map[string]interface{})["id"])
}

func TestHandler_ListEmpty(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)
	stranger := w.addUser(&user.User{ID: 9, UserType: user.Doctor})

	rec := do(e, stranger, http.MethodGet, "/api/v1/consultation/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, decode(t, rec)["results"])
}

func TestHandler_Get(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)
	path := "/api/v1/consultation/" + w.consultation.ExternalID.String() + "/"

	rec := do(e, w.doctor, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, w.consultation.ExternalID.String(), decode(t, rec)["id"])

	stranger := w.addUser(&user.User{ID: 9, UserType: user.Doctor})
	assert.Equal(t, http.StatusNotFound, do(e, stranger, http.MethodGet, path, "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, w.doctor, http.MethodGet, "/api/v1/consultation/not-a-uuid/", "").Code)
}

func TestHandler_RequiresUser(t *testing.T) {
	e, _ := newTestServer(newWard())
	assert.Equal(t, http.StatusUnauthorized, do(e, nil, http.MethodGet, "/api/v1/consultation/", "").Code)
}

func TestHandler_Discharge(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)
	path := "/api/v1/consultation/" + w.consultation.ExternalID.String() + "/discharge_patient/"

	rec := do(e, w.doctor, http.MethodPost, path, dischargeBody(testNow.Add(-time.Hour)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Nil(t, w.repo.stored(11).CurrentBedID)

	rec = do(e, w.doctor, http.MethodPost, path, dischargeBody(testNow.Add(-time.Minute)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)["errors"].(map[string]interface{})
	assert.Equal(t, ErrAlreadyDischarged.Error(), errs["non_field_errors"])
}

func TestHandler_DischargeValidation(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)
	path := "/api/v1/consultation/" + w.consultation.ExternalID.String() + "/discharge_patient/"

	rec := do(e, w.doctor, http.MethodPost, path, `{"new_discharge_reason":3}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)["errors"].(map[string]interface{})
	assert.Contains(t, errs, "discharge_date")
	assert.Contains(t, errs, "death_datetime")
	assert.Contains(t, errs, "death_confirmed_doctor")
}

func TestHandler_AssetUsersMayOnlyRead(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)
	asset := assetUser(w.fixture, 900)
	path := "/api/v1/consultation/" + w.consultation.ExternalID.String() + "/discharge_patient/"

	rec := do(e, asset, http.MethodPost, path, dischargeBody(testNow.Add(-time.Hour)))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, w.repo.stored(11).DischargeDate)
}

func TestHandler_PatientFromAsset(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)
	w.assignment.Assets = []*bed.Asset{{ID: 900}}

	rec := do(e, w.doctor, http.MethodGet, "/api/v1/consultation/patient_from_asset/", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, assetUser(w.fixture, 900), http.MethodGet, "/api/v1/consultation/patient_from_asset/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, w.consultation.ExternalID.String(), body["consultation_id"])
	assert.Equal(t, []interface{}{}, body["asset_beds"])

	rec = do(e, assetUser(w.fixture, 901), http.MethodGet, "/api/v1/consultation/patient_from_asset/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Create(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)
	req, _ := admission(w)
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	rec := do(e, w.doctor, http.MethodPost, "/api/v1/consultation/", string(payload))
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "A", body["suggestion"])
	assert.NotNil(t, body["current_bed"])
}

func TestHandler_Export(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)

	rec := do(e, w.doctor, http.MethodGet, "/api/v1/consultation/export/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "consultations.xlsx")
	assert.NotZero(t, rec.Body.Len())
}

func TestHandler_UnknownFacilityFilter(t *testing.T) {
	w := newWard()
	e, _ := newTestServer(w)

	rec := do(e, w.doctor, http.MethodGet, "/api/v1/consultation/?facility=6f1c2b8e-0000-4000-8000-000000000000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	rec = do(e, w.doctor, http.MethodGet, "/api/v1/consultation/?facility="+w.repo.facilities[1].ExternalID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])
}
