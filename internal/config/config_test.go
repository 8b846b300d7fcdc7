package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
  siteURL: https://sign.example.com/
mail:
  from: noreply@example.com
  adminMail: office@example.com
storage:
  backend: local
  localPath: /var/lib/countersign
notify:
  transport: redis
  redisAddr: 127.0.0.1:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("DB_NAME", "signing")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://sign.example.com", cfg.Server.SiteURL)
	assert.Equal(t, "signing", cfg.Database.DBName)
	assert.Equal(t, "office@example.com", cfg.Mail.AdminMail)
	assert.Equal(t, "redis", cfg.Notify.Transport)
	assert.Equal(t, "countersign:mail", cfg.Notify.RedisStream)
	assert.Equal(t, "/var/lib/countersign", cfg.Storage.LocalPath)
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	cfg := &Config{
		Storage: StorageConfig{Backend: "minio"},
		Mail:    MailConfig{Host: "smtp", From: "a@example.com", AdminMail: "b@example.com"},
		Notify:  NotifyConfig{Transport: "smtp"},
	}
	assert.Error(t, cfg.Validate())

	cfg.Storage = StorageConfig{Backend: "local", LocalPath: "data"}
	assert.NoError(t, cfg.Validate())

	cfg.Notify.Transport = "amqp"
	assert.Error(t, cfg.Validate())

	cfg.Notify.Transport = "pigeon"
	assert.Error(t, cfg.Validate())

	cfg.Notify.Transport = "smtp"
	cfg.Mail.AdminMail = ""
	assert.Error(t, cfg.Validate())
}
