package iojson

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteLine(&buf, map[string]any{"moduleId": "ad_manager", "mode": "copilot"}))
	require.NoError(t, WriteLine(&buf, map[string]any{"moduleId": "seo_optimizer"}))

	assert.Equal(t, "{\"mode\":\"copilot\",\"moduleId\":\"ad_manager\"}\n{\"moduleId\":\"seo_optimizer\"}\n", buf.String())
}

func TestWriteLine_MarshalError(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteLine(&buf, make(chan int)))
	assert.Empty(t, buf.String())
}

func TestWriteWith(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, WriteWith(&out, &errOut, map[string]int{"total": 3}))
	assert.Equal(t, "{\n  \"total\": 3\n}\n", out.String())
	assert.Empty(t, errOut.String())

	out.Reset()
	require.NoError(t, WriteWith(&out, &errOut, make(chan int)))
	assert.Empty(t, out.String())

	var e map[string]any
	require.NoError(t, json.Unmarshal(errOut.Bytes(), &e))
	assert.Equal(t, "error marshaling in iojson.Write", e["message"])
}

func TestFileReader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rule.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"weekly digest","runCount":2}`), 0o644))

	type rule struct {
		Name     string `json:"name"`
		RunCount int    `json:"runCount"`
	}
	fr := FileReader[rule]{fileFlagValue: path}
	got, err := fr.Read()
	require.NoError(t, err)
	assert.Equal(t, rule{Name: "weekly digest", RunCount: 2}, got)

	fr = FileReader[rule]{fileFlagValue: filepath.Join(t.TempDir(), "missing.json")}
	_, err = fr.Read()
	assert.Error(t, err)
}
