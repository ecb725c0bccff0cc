package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	name  string
	order *[]string
	err   error
}

func (c *recordingCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return c.err
}

func TestUserHomeIsNotEmpty(t *testing.T) {
	assert.NotEmpty(t, UserHome())
}

func TestCheckFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	assert.False(t, CheckFileExists(path))
	require.NoError(t, os.WriteFile(path, []byte("x: 1\n"), 0o600))
	assert.True(t, CheckFileExists(path))
}

func TestCloseAllReverseOrder(t *testing.T) {
	var order []string
	RegisterCloser(&recordingCloser{name: "listener", order: &order})
	RegisterCloser(&recordingCloser{name: "conn", order: &order, err: errors.New("already closed")})

	CloseAll()
	assert.Equal(t, []string{"conn", "listener"}, order)

	CloseAll()
	assert.Len(t, order, 2)
}
