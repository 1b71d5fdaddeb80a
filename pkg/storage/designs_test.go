package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_design_dir_loads_json_files_in_name_order(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_order.json"), []byte(`{"id":"order"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_ticket.json"), []byte(`{"id":"ticket"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a design"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o755))

	raws, err := DesignDir{Dir: dir}.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.JSONEq(t, `{"id":"ticket"}`, string(raws[0]))
	assert.JSONEq(t, `{"id":"order"}`, string(raws[1]))
}

func Test_design_dir_missing_directory(t *testing.T) {
	_, err := DesignDir{Dir: "/does/not/exist"}.LoadAll(context.Background())
	assert.Error(t, err)
}

func Test_static_designs_return_what_they_hold(t *testing.T) {
	src := StaticDesigns{[]byte(`{"id":"a"}`)}
	raws, err := src.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, raws, 1)
}
