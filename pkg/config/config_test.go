package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	valid bool
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	s.valid = true
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_NAME", "decks")
	p := writeFile(t, t.TempDir(), "c.yaml", "name: ${SAMPLE_NAME}\nport: 9000\n")

	var s sample
	require.NoError(t, Load(p, &s))
	assert.Equal(t, "decks", s.Name)
	assert.Equal(t, 9000, s.Port)
	assert.True(t, s.valid)
}

func TestLoad_ValidationError(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", "name: x\n")

	var s sample
	err := Load(p, &s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_BadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", "name: [unterminated\n")

	var s sample
	assert.Error(t, Load(p, &s))
}

func TestLoadOptional_MissingKeepsDefaults(t *testing.T) {
	s := sample{Name: "default", Port: 8080}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &s)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "default", s.Name)
	assert.True(t, s.valid, "defaults not validated")
}

func TestLoadOptional_OverridesDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", "port: 1234\n")

	s := sample{Name: "default", Port: 8080}
	found, err := LoadOptional(p, &s)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "default", s.Name)
	assert.Equal(t, 1234, s.Port)
}

func TestLoadWithDefaults_Fallback(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "default.yaml", "port: 7000\n")

	var s sample
	require.NoError(t, LoadWithDefaults(filepath.Join(dir, "missing.yaml"), def, &s))
	assert.Equal(t, 7000, s.Port)

	assert.Error(t, LoadWithDefaults(filepath.Join(dir, "missing.yaml"), "", &s), "no default file")
}
