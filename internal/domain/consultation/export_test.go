package consultation

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JavidSumra/care-be/internal/domain/bed"
	"github.com/JavidSumra/care-be/internal/domain/user"
)

func TestWriteExport(t *testing.T) {
	discharged := testNow.Add(-2 * time.Hour)
	reason := DischargeExpired
	cs := []*Consultation{
		{
			ExternalID:        uuid.New(),
			PatientExternalID: uuid.New(),
			PatientName:       "Asha",
			FacilityName:      "District Hospital",
			Suggestion:        SuggestionAdmission,
			EncounterDate:     time.Date(2024, 12, 20, 9, 30, 0, 0, time.UTC),
			AssignedTo:        &user.Summary{Username: "doc"},
			CurrentBed:        &bed.Assignment{Bed: &bed.Bed{Name: "ICU-1"}},
		},
		{
			ExternalID:         uuid.New(),
			PatientExternalID:  uuid.New(),
			PatientName:        "Ravi",
			FacilityName:       "CHC",
			Suggestion:         SuggestionHomeIsolation,
			EncounterDate:      testNow.Add(-48 * time.Hour),
			DischargeDate:      &discharged,
			NewDischargeReason: &reason,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, cs))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{exportSheet}, f.GetSheetList())

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeaders, rows[0])

	assert.Equal(t, cs[0].ExternalID.String(), rows[1][0])
	assert.Equal(t, "Asha", rows[1][2])
	assert.Equal(t, "A", rows[1][4])
	assert.Equal(t, "2024-12-20 09:30", rows[1][5])
	assert.Equal(t, "ICU-1", rows[1][8])
	assert.Equal(t, "doc", rows[1][9])

	assert.Equal(t, "2024-12-24 10:00", rows[2][6])
	assert.Equal(t, "expired", rows[2][7])

	panes, err := f.GetPanes(exportSheet)
	require.NoError(t, err)
	assert.True(t, panes.Freeze)
	assert.Equal(t, 1, panes.YSplit)
}

func TestWriteExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
