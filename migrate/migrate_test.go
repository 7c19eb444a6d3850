package migrate

import (
	"errors"
	"strings"
	"testing"

	"github.com/dnldd/klinesync/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/spf13/afero"
)

const (
	testDataset   = "data/ETHUSDT_5m.csv"
	testWatermark = "state/last_open_time_ETHUSDT_5m.txt"
)

var basicDataset = strings.Join([]string{
	strings.Join(shared.Basic.Header(), ","),
	"1700000000000,2000.10000000,2010.00000000,1995.50000000,2001.25000000,123.45600000," +
		"1700000299999,246912.00000000,42,60.00000000,120000.00000000",
	"1700000300000,2001.25000000,2003.00000000,1999.00000000,2002.00000000,10.00000000," +
		"1700000599999,20020.00000000,7,5.00000000,10010.00000000",
}, "\n") + "\n"

func TestDataset(t *testing.T) {
	fs := afero.NewMemMapFs()

	// Ensure a missing dataset is reported.
	_, err := Dataset(fs, testDataset)
	var missingErr *shared.MissingFileError
	assert.True(t, errors.As(err, &missingErr))
	assert.Equal(t, missingErr.Path, testDataset)

	// Ensure a basic dataset is rewritten with the utc column.
	assert.NoError(t, afero.WriteFile(fs, testDataset, []byte(basicDataset), filePerm))
	res, err := Dataset(fs, testDataset)
	assert.NoError(t, err)
	assert.True(t, res.Migrated)
	assert.Equal(t, res.Rows, 2)

	b, err := afero.ReadFile(fs, testDataset)
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	want := []string{
		strings.Join(shared.Extended.Header(), ","),
		"1700000000000,2023-11-14 22:13:20 UTC,2000.10000000,2010.00000000,1995.50000000," +
			"2001.25000000,123.45600000,1700000299999,246912.00000000,42,60.00000000,120000.00000000",
		"1700000300000,2023-11-14 22:18:20 UTC,2001.25000000,2003.00000000,1999.00000000," +
			"2002.00000000,10.00000000,1700000599999,20020.00000000,7,5.00000000,10010.00000000",
	}
	if diff := cmp.Diff(want, lines); diff != "" {
		t.Errorf("unexpected migrated dataset (-want +got):\n%s", diff)
	}

	exists, err := afero.Exists(fs, testDataset+tmpSuffix)
	assert.NoError(t, err)
	assert.False(t, exists)

	// Ensure a second run detects the utc column and leaves the file untouched.
	res, err = Dataset(fs, testDataset)
	assert.NoError(t, err)
	assert.False(t, res.Migrated)
	assert.False(t, res.Empty)
	assert.Equal(t, res.Rows, 0)

	again, err := afero.ReadFile(fs, testDataset)
	assert.NoError(t, err)
	assert.Equal(t, string(again), string(b))
}

func TestDatasetEdgeCases(t *testing.T) {
	fs := afero.NewMemMapFs()

	// Ensure a zero-length dataset is reported empty and needs no migration.
	assert.NoError(t, afero.WriteFile(fs, testDataset, nil, filePerm))
	res, err := Dataset(fs, testDataset)
	assert.NoError(t, err)
	assert.False(t, res.Migrated)
	assert.True(t, res.Empty)

	// Ensure a header-only dataset gains the utc column.
	header := strings.Join(shared.Basic.Header(), ",") + "\n"
	assert.NoError(t, afero.WriteFile(fs, testDataset, []byte(header), filePerm))
	res, err = Dataset(fs, testDataset)
	assert.NoError(t, err)
	assert.True(t, res.Migrated)
	assert.False(t, res.Empty)
	assert.Equal(t, res.Rows, 0)

	b, err := afero.ReadFile(fs, testDataset)
	assert.NoError(t, err)
	assert.Equal(t, string(b), strings.Join(shared.Extended.Header(), ",")+"\n")

	// Ensure a corrupt row aborts the migration without touching the original.
	corrupt := header + "not-a-time,1,1,1,1,1,2,1,1,1,1\n"
	assert.NoError(t, afero.WriteFile(fs, testDataset, []byte(corrupt), filePerm))
	_, err = Dataset(fs, testDataset)
	assert.Error(t, err)

	b, err = afero.ReadFile(fs, testDataset)
	assert.NoError(t, err)
	assert.Equal(t, string(b), corrupt)

	exists, err := afero.Exists(fs, testDataset+tmpSuffix)
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestWatermark(t *testing.T) {
	fs := afero.NewMemMapFs()

	// Ensure a missing watermark is left alone.
	migrated, err := Watermark(fs, testWatermark)
	assert.NoError(t, err)
	assert.False(t, migrated)

	// Ensure a blank watermark is left alone.
	assert.NoError(t, afero.WriteFile(fs, testWatermark, []byte("\n"), filePerm))
	migrated, err = Watermark(fs, testWatermark)
	assert.NoError(t, err)
	assert.False(t, migrated)

	// Ensure a legacy watermark is rewritten with the utc encoding.
	assert.NoError(t, afero.WriteFile(fs, testWatermark, []byte("1700000000000\n"), filePerm))
	migrated, err = Watermark(fs, testWatermark)
	assert.NoError(t, err)
	assert.True(t, migrated)

	b, err := afero.ReadFile(fs, testWatermark)
	assert.NoError(t, err)
	assert.Equal(t, string(b), "2023-11-14 22:13:20 UTC")

	// Ensure a current watermark is left alone.
	migrated, err = Watermark(fs, testWatermark)
	assert.NoError(t, err)
	assert.False(t, migrated)

	// Ensure unrecognised text is a format error.
	assert.NoError(t, afero.WriteFile(fs, testWatermark, []byte("soon"), filePerm))
	_, err = Watermark(fs, testWatermark)
	var formatErr *shared.FormatError
	assert.True(t, errors.As(err, &formatErr))
}
