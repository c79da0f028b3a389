package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetEquality(t *testing.T) {
	a := NewDataset("PostISR", map[string]any{"visit": 88, "ccd": 22, "amp": 3})
	b := NewDataset("PostISR", map[string]any{"amp": int64(3), "ccd": 22, "visit": 88})
	b.Path = "/data/postisr/88/22/3"
	b.Valid = false

	assert.True(t, a.Equal(b), "path and valid must not affect equality")
	assert.False(t, a.Equal(a.WithID("amp", 4)))
	assert.False(t, a.Equal(NewDataset("CcdAssembly", a.IDs)))
}

func TestDatasetKeyStableUnderIDOrder(t *testing.T) {
	a := NewDataset("PostISR", map[string]any{"visit": 88, "ccd": 22, "amp": 3})
	b := NewDataset("PostISR", nil).WithID("amp", 3).WithID("visit", 88).WithID("ccd", 22)

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "PostISR-amp3-ccd22-visit88", a.Key())
}

func TestDatasetFormatWithPath(t *testing.T) {
	ds := NewDataset("Raw", map[string]any{"visit": 1})
	ds.Path = "/data/raw/1.fits"

	assert.Equal(t, "Raw-visit1", ds.Format(false))
	assert.Equal(t, "Raw-visit1@/data/raw/1.fits", ds.Format(true))
}

func TestDatasetRecordRoundTrip(t *testing.T) {
	ds := NewDataset("PostISR", map[string]any{
		"visit":  88,
		"ra":     12.5,
		"filter": "r",
	})
	ds.Path = "/data/x.fits"
	ds.Valid = false

	decoded, err := DecodeDataset(ds.Encode())
	require.NoError(t, err)

	assert.True(t, ds.Equal(decoded))
	assert.Equal(t, ds.Path, decoded.Path)
	assert.Equal(t, ds.Valid, decoded.Valid)
	assert.Equal(t, int64(88), decoded.IDs["visit"])
	assert.Equal(t, 12.5, decoded.IDs["ra"])
	assert.Equal(t, "r", decoded.IDs["filter"])
}

func TestDatasetRecordNumericStringID(t *testing.T) {
	// A string identifier that looks like a number must stay a string.
	ds := NewDataset("Calib", map[string]any{"serial": "0042"})

	decoded, err := DecodeDataset(ds.Encode())
	require.NoError(t, err)
	assert.Equal(t, "0042", decoded.IDs["serial"])
}

func TestDatasetRecordMissingType(t *testing.T) {
	_, err := DecodeDataset("valid: true\nids.visit: 1\n")
	assert.ErrorIs(t, err, ErrBadDatasetRecord)
}

func TestRecordFloatKeepsType(t *testing.T) {
	rec := NewRecord()
	rec.Set("ids.exposure", 2.0)

	decoded, err := DecodeRecord(rec.Encode())
	require.NoError(t, err)
	v, _ := decoded.Get("ids.exposure")
	assert.Equal(t, 2.0, v)
}

func TestRecordBadLine(t *testing.T) {
	_, err := DecodeRecord("type PostISR\n")
	assert.Error(t, err)
}
