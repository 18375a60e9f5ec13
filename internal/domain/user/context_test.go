package user

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JavidSumra/care-be/internal/platform/auth"
)

type fakeRepo struct {
	byUsername map[string]*User
	byAsset    map[uuid.UUID]*User
	err        error
}

func (f *fakeRepo) GetByIDs(context.Context, []int64) (map[int64]*User, error) {
	return map[int64]*User{}, nil
}

func (f *fakeRepo) GetByExternalID(context.Context, uuid.UUID) (*User, error) {
	return nil, ErrNotFound
}

func (f *fakeRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byUsername[username]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) GetByAssetExternalID(_ context.Context, id uuid.UUID) (*User, error) {
	if u, ok := f.byAsset[id]; ok {
		return u, nil
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) SkillsFor(context.Context, []int64) (map[int64][]Skill, error) {
	return map[int64][]Skill{}, nil
}

func run(t *testing.T, repo Repository, subject, assetID string) (*User, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultation/", nil)
	if subject != "" || assetID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), subject, assetID))
	}
	var got *User
	err := Middleware(repo, zerolog.Nop())(func(c echo.Context) error {
		got = FromContext(c.Request().Context())
		return nil
	})(e.NewContext(req, httptest.NewRecorder()))
	return got, err
}

func statusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return 0
}

func TestMiddleware_ResolvesByUsername(t *testing.T) {
	nurse := &User{ID: 7, Username: "nurse.asha", UserType: Nurse, IsActive: true}
	repo := &fakeRepo{byUsername: map[string]*User{"nurse.asha": nurse}}

	got, err := run(t, repo, "nurse.asha", "")
	require.NoError(t, err)
	assert.Same(t, nurse, got)
}

func TestMiddleware_ResolvesAssetAccount(t *testing.T) {
	assetID := uuid.New()
	var asset int64 = 3
	device := &User{ID: 9, Username: "monitor-3", IsActive: true, AssetID: &asset}
	repo := &fakeRepo{byAsset: map[uuid.UUID]*User{assetID: device}}

	got, err := run(t, repo, "monitor-3", assetID.String())
	require.NoError(t, err)
	assert.Same(t, device, got)
	assert.True(t, got.IsAssetUser())
}

func TestMiddleware_Rejects(t *testing.T) {
	inactive := &User{Username: "gone", IsActive: false}
	repo := &fakeRepo{byUsername: map[string]*User{"gone": inactive}}

	_, err := run(t, repo, "gone", "")
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	_, err = run(t, repo, "nobody", "")
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))

	_, err = run(t, repo, "device", "not-a-uuid")
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))
}

func TestMiddleware_RepoFailure(t *testing.T) {
	_, err := run(t, &fakeRepo{err: errors.New("db down")}, "nurse.asha", "")
	assert.Equal(t, http.StatusInternalServerError, statusOf(err))
}

func TestMiddleware_AnonymousPassesThrough(t *testing.T) {
	got, err := run(t, &fakeRepo{}, "", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRequire(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err := Require()(func(echo.Context) error { return nil })(c)
	assert.Equal(t, http.StatusUnauthorized, statusOf(err))
}

func TestType(t *testing.T) {
	assert.Equal(t, "StateLabAdmin", StateLabAdmin.String())
	assert.Equal(t, "Unknown", Type(1).String())
	assert.True(t, StateAdmin.AtLeast(StateLabAdmin))
	assert.True(t, DistrictLabAdmin.AtLeast(DistrictLabAdmin))
	assert.False(t, Doctor.AtLeast(DistrictLabAdmin))
}

func TestSummary_EmptySkills(t *testing.T) {
	u := &User{Username: "doc", UserType: Doctor}
	s := u.Summary(nil)
	assert.NotNil(t, s.Skills)
	assert.Equal(t, "Doctor", s.UserType)
}
