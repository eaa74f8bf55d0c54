package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToGivenWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)
	l.Print("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestNewFileLoggerExpandsTemplateAndWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("capnweb-{{pid}}.log"))

	fl, err := NewFileLogger(path)
	require.NoError(t, err)
	defer fl.Close()

	fl.Logger().Print("session started")

	expanded := filepath.Join(dir, fmt.Sprintf("capnweb-%d.log", os.Getpid()))
	contents, err := os.ReadFile(expanded)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "session started")
}

func TestNewFileLoggerRejectsRelativePath(t *testing.T) {
	_, err := NewFileLogger("relative/path.log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute")
}
