package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigPath_JoinsDirAndFile(t *testing.T) {
	path := DefaultConfigPath()
	if path == "" {
		t.Skip("no home directory available in this environment")
	}

	assert.Equal(t, configFileName, filepath.Base(path))
}

func TestDefaultStatePath_JoinsDirAndFile(t *testing.T) {
	path := DefaultStatePath()
	if path == "" {
		t.Skip("no home directory available in this environment")
	}

	assert.Equal(t, stateFileName, filepath.Base(path))
}
