// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/interpretation-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-process JetStream server and connects to it.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		natsServer.Shutdown()
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		natsServer.Shutdown()
	})

	return natsServer, natsConnection
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "exports", objectstore.Options{})
	require.NoError(t, err)

	ctx := context.Background()
	key := "0b6f6c0e.md"
	uploadData := []byte("# Persona Interpretations\n")

	err = store.Upload(ctx, key, uploadData, "text/markdown; charset=utf-8")
	require.NoError(t, err)

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uploadData, downloadData)

	contentType, err := store.ContentType(key)
	require.NoError(t, err)
	assert.Equal(t, "text/markdown; charset=utf-8", contentType)
}

func TestNatsObjectStore_BindsToExistingBucket(t *testing.T) {
	t.Parallel()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "exports", objectstore.Options{})
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "kept.txt", []byte("kept"), ""))

	second, err := objectstore.New(jetstreamContext, "exports", objectstore.Options{})
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "kept.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), data)
}

func TestNatsObjectStore_DownloadMissing(t *testing.T) {
	t.Parallel()

	_, natsConnection := StartTestServer(t)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "exports", objectstore.Options{})
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "missing.txt")
	require.ErrorIs(t, err, nats.ErrObjectNotFound)
}
