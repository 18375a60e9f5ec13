package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRecord map[Field]any

func (m mapRecord) Value(f Field) (any, bool) {
	v, ok := m[f]
	return v, ok
}

const (
	fState    Field = "facility.state"
	fFacility Field = "facility.id"
	fActive   Field = "patient.active"
)

var testColumns = map[Field]string{
	fState:    "f.state_id",
	fFacility: "f.id",
	fActive:   "p.is_active",
}

func TestEval(t *testing.T) {
	rec := mapRecord{fState: int64(7), fFacility: int64(3), fActive: true}

	tests := []struct {
		name string
		expr Expr
		want bool
	}{
		{"all", All(), true},
		{"eq match", Eq(fState, int64(7)), true},
		{"eq mismatch", Eq(fState, int64(8)), false},
		{"eq wrong type", Eq(fState, 7), false},
		{"eq missing field", Eq("unknown", int64(7)), false},
		{"in match", In(fFacility, []int64{1, 3}), true},
		{"in empty", In(fFacility, nil), false},
		{"and", And(Eq(fActive, true), In(fFacility, []int64{3})), true},
		{"and short", And(Eq(fActive, false), In(fFacility, []int64{3})), false},
		{"empty and", And(), true},
		{"or", Or(Eq(fActive, false), Eq(fState, int64(7))), true},
		{"empty or", Or(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.expr.Eval(rec))
		})
	}
}

func TestQuery_RendersPositionalArgs(t *testing.T) {
	q := NewQuery("facility f JOIN patient p ON p.facility_id = f.id", "f.id", testColumns)
	q.Add("f.deleted = $%d", false)
	q.Where(Or(
		And(Eq(fActive, true), In(fFacility, []int64{1, 2})),
		Eq(fFacility, int64(9)),
	))
	q.OrderBy("f.id DESC")
	require.NoError(t, q.Err())

	assert.Equal(t,
		"SELECT COUNT(*) FROM facility f JOIN patient p ON p.facility_id = f.id WHERE 1=1 AND f.deleted = $1 AND ((p.is_active = $2 AND f.id = ANY($3)) OR f.id = $4)",
		q.CountSQL())
	assert.Equal(t,
		"SELECT f.id FROM facility f JOIN patient p ON p.facility_id = f.id WHERE 1=1 AND f.deleted = $1 AND ((p.is_active = $2 AND f.id = ANY($3)) OR f.id = $4) ORDER BY f.id DESC LIMIT $5 OFFSET $6",
		q.DataSQL())
	assert.Equal(t, []interface{}{false, true, []int64{1, 2}, int64(9), 20, 40}, q.DataArgs(20, 40))
}

func TestQuery_AllAddsNothing(t *testing.T) {
	q := NewQuery("facility f", "f.id", testColumns).Where(All())
	assert.Equal(t, "SELECT COUNT(*) FROM facility f WHERE 1=1", q.CountSQL())
	assert.Empty(t, q.Args())
}

func TestQuery_EmptyInBindsEmptySlice(t *testing.T) {
	q := NewQuery("facility f", "f.id", testColumns).Where(In(fFacility, nil))
	require.Len(t, q.Args(), 1)
	assert.Equal(t, []int64{}, q.Args()[0])
}

func TestQuery_UnknownField(t *testing.T) {
	q := NewQuery("facility f", "f.id", testColumns).Where(Eq("nope", int64(1)))
	assert.Error(t, q.Err())
}

func TestQuery_ForUpdateComesLast(t *testing.T) {
	q := NewQuery("facility f", "f.id", testColumns).Where(Eq(fFacility, int64(1))).ForUpdate("f")
	assert.Equal(t, "SELECT f.id FROM facility f WHERE 1=1 AND f.id = $1 LIMIT 1 FOR UPDATE OF f", q.FirstSQL())
}

func TestIn_CopiesInput(t *testing.T) {
	ids := []int64{1}
	e := In(fFacility, ids)
	ids[0] = 2
	assert.True(t, e.Eval(mapRecord{fFacility: int64(1)}))
}
