package item

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvenance_IsImmutable(t *testing.T) {
	rec := map[string]any{"source": "manual", "params": map[string]any{"k": 1}}
	p := NewProvenance(rec)
	rec["source"] = "changed"
	rec["params"].(map[string]any)["k"] = 2

	got := p.Record()
	assert.Equal(t, "manual", got["source"])
	assert.Equal(t, 1, got["params"].(map[string]any)["k"])

	got["source"] = "mutated"
	v, ok := p.Get("source")
	require.True(t, ok)
	assert.Equal(t, "manual", v)
}

func TestProvenance_JSONRoundTrip(t *testing.T) {
	p := NewProvenance(map[string]any{"source": "manual", "n": 3})
	b, err := json.Marshal(p)
	require.NoError(t, err)

	var back Provenance
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, p.Equal(&back))
	assert.Nil(t, NewProvenance(nil))
	assert.True(t, (*Provenance)(nil).Equal(nil))
}

func TestBackendProvenance(t *testing.T) {
	p := BackendProvenance("file_system", map[string]any{"base_dir": "/data"})
	typ, _ := p.Get("type")
	host, _ := p.Get("host")
	assert.Equal(t, "file_system", typ)
	assert.Equal(t, Hostname, host)
}

func TestFormat_DefaultAuxPaths(t *testing.T) {
	aux := NiftiGzX.DefaultAuxPaths("/d/scan.nii.gz")
	assert.Equal(t, map[string]string{"json": "/d/scan.json"}, aux)
	assert.Empty(t, Text.DefaultAuxPaths("/d/notes.txt"))
	assert.Equal(t, "/d/scan.nii.gz", NiftiGzX.PrimaryPath("/d/scan"))
}

func TestInferFormat(t *testing.T) {
	tests := []struct {
		name     string
		files    []string
		dirs     map[string]bool
		wantName string
		wantExt  string
		wantAux  map[string]string
	}{
		{"nifti with side-car", []string{"scan.json", "scan.nii.gz"}, nil, "niftix_gz", ".nii.gz", map[string]string{"json": ".json"}},
		{"plain text", []string{"notes.txt"}, nil, "text", ".txt", nil},
		{"directory", []string{"dicom"}, map[string]bool{"dicom": true}, "directory", "", nil},
		{"unknown single", []string{"image.png"}, nil, "generic.png", ".png", nil},
		{"unknown with side-car", []string{"image.png", "image.json"}, nil, "generic.png", ".png", map[string]string{"json": ".json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := InferFormat(tt.files, tt.dirs)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, f.Name)
			assert.Equal(t, tt.wantExt, f.Ext)
			if tt.wantAux == nil {
				assert.Empty(t, f.SideCars)
			} else {
				assert.Equal(t, tt.wantAux, f.SideCars)
			}
		})
	}

	_, err := InferFormat([]string{"a.png", "a.jpg"}, nil)
	assert.Error(t, err)
	_, err = InferFormat(nil, nil)
	assert.Error(t, err)
}

func TestStemOf(t *testing.T) {
	assert.Equal(t, "scan", StemOf("scan.nii.gz"))
	assert.Equal(t, "scan", StemOf("/x/y/scan"))
}

func TestDataType_Coerce(t *testing.T) {
	v, err := Int.Coerce(float64(34), false)
	require.NoError(t, err)
	assert.Equal(t, int64(34), v)

	v, err = Int.Coerce(int64(34), false)
	require.NoError(t, err)
	assert.Equal(t, int64(34), v)

	_, err = Int.Coerce(34.5, false)
	assert.Error(t, err)

	v, err = Float.Coerce("1.5", false)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = Str.Coerce(int64(7), false)
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	v, err = Bool.Coerce("true", false)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Int.Coerce([]any{int64(1), float64(2)}, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, v)

	_, err = Int.Coerce(int64(1), true)
	assert.Error(t, err)
}

func TestInferDataType(t *testing.T) {
	dt, arr := InferDataType(int64(1))
	assert.Equal(t, Int, dt)
	assert.False(t, arr)
	dt, arr = InferDataType([]any{1.5})
	assert.Equal(t, Float, dt)
	assert.True(t, arr)
	dt, _ = InferDataType("x")
	assert.Equal(t, Str, dt)
	dt, _ = InferDataType(json.Number("3"))
	assert.Equal(t, Int, dt)
}
