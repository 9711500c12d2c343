package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ircd.local", cfg.Server.Name)
	assert.Equal(t, 6667, cfg.Server.Port)
	assert.Equal(t, 512, cfg.Limits.MaxLineLen)
	assert.False(t, cfg.Broadcast.EchoToSender)
}

func TestLoadYAML(t *testing.T) {
	path := writeTempConfig(t, "ircd.yaml", `
server:
  name: irc.example.net
  network: ExampleNet
  port: 7000
  password: sekrit
limits:
  max_clients: 10
  idle_timeout_seconds: 30
broadcast:
  echo_to_sender: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "irc.example.net", cfg.Server.Name)
	assert.Equal(t, "ExampleNet", cfg.Server.Network)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "sekrit", cfg.Server.Password)
	assert.Equal(t, 10, cfg.Limits.MaxClients)
	assert.True(t, cfg.Broadcast.EchoToSender)
	// Untouched fields keep their defaults.
	assert.Equal(t, 512, cfg.Limits.MaxLineLen)
	assert.Equal(t, path, cfg.Source)
}

func TestLoadTOML(t *testing.T) {
	path := writeTempConfig(t, "ircd.toml", `
[server]
name = "irc.toml.net"
network = "TomlNet"
port = 7001

[[operators]]
username = "root"
password_hash = "$2a$10$abcdefghijklmnopqrstuv"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "irc.toml.net", cfg.Server.Name)
	require.Len(t, cfg.Operators, 1)
	assert.Equal(t, "root", cfg.Operators[0].Username)
}

func TestLoadJSON(t *testing.T) {
	path := writeTempConfig(t, "ircd.json", `{"server":{"name":"irc.json.net","network":"JsonNet","port":7002}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "irc.json.net", cfg.Server.Name)
	assert.Equal(t, 7002, cfg.Server.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("IRCD_SERVER_NAME", "irc.env.net")
	t.Setenv("IRCD_PORT", "7003")
	t.Setenv("IRCD_ECHO_TO_SENDER", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "irc.env.net", cfg.Server.Name)
	assert.Equal(t, 7003, cfg.Server.Port)
	assert.True(t, cfg.Broadcast.EchoToSender)
}

func TestValidationRejectsBadPort(t *testing.T) {
	path := writeTempConfig(t, "bad.yaml", `
server:
  name: irc.example.net
  network: ExampleNet
  port: 99999
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidationRejectsOperatorWithoutHash(t *testing.T) {
	path := writeTempConfig(t, "op.yaml", `
server:
  name: irc.example.net
  network: ExampleNet
operators:
  - username: root
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestAddresses(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 6667
	assert.Equal(t, "127.0.0.1:6667", cfg.ListenAddress())
	assert.Equal(t, "127.0.0.1:8090", cfg.AdminAddress())
}
