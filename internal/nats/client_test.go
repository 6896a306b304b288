package nats

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahuti/autoreply/pkg/logger"
)

func TestConnectOptions(t *testing.T) {
	opts, err := connectOptions(Config{URL: "nats://localhost:4222"}, logger.Nop())
	require.NoError(t, err)
	withToken, err := connectOptions(Config{URL: "nats://localhost:4222", Token: "s3cret"}, logger.Nop())
	require.NoError(t, err)
	assert.Len(t, withToken, len(opts)+1)
}

func TestLoadTLSErrors(t *testing.T) {
	dir := t.TempDir()
	notPEM := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(notPEM, []byte("not a certificate"), 0o600))

	_, err := loadTLS(Config{CAFile: filepath.Join(dir, "missing.pem")})
	assert.ErrorContains(t, err, "failed to read CA file")

	_, err = loadTLS(Config{CAFile: notPEM})
	assert.ErrorContains(t, err, "no certificates found")

	_, err = connectOptions(Config{CAFile: notPEM}, logger.Nop())
	assert.Error(t, err)
}

func TestPingWithoutConnection(t *testing.T) {
	c := &Client{}
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotConnected)
}
