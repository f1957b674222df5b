package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mleone/deckwarden/internal/database"
	testhelpers "github.com/mleone/deckwarden/internal/testing"
)

// memBlobStore keeps uploaded objects in memory.
type memBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	when    map[string]time.Time
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{objects: map[string][]byte{}, when: map[string]time.Time{}}
}

func (m *memBlobStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.when[key] = time.Now()
	return nil
}

func (m *memBlobStore) List(ctx context.Context, prefix string) ([]StoredObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StoredObject
	for key, data := range m.objects {
		out = append(out, StoredObject{Key: key, SizeBytes: int64(len(data)), Modified: m.when[key]})
	}
	return out, nil
}

func (m *memBlobStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func newBackupFixture(t *testing.T) (*BackupService, *memBlobStore, func()) {
	t.Helper()
	coreDB, coreCleanup := testhelpers.NewTestDB(t, "core")
	cacheDB, cacheCleanup := testhelpers.NewTestDB(t, "cache")

	store := newMemBlobStore()
	svc := NewBackupService(map[string]*database.DB{
		"core":  coreDB,
		"cache": cacheDB,
	}, store, t.TempDir(), zerolog.Nop())

	return svc, store, func() {
		cacheCleanup()
		coreCleanup()
	}
}

func TestCreateAndUploadArchivesAllDatabases(t *testing.T) {
	svc, store, cleanup := newBackupFixture(t)
	defer cleanup()

	name, err := svc.CreateAndUpload(context.Background())
	require.NoError(t, err)
	assert.Contains(t, name, backupPrefix)
	require.Equal(t, 1, store.count())

	// The archive holds both database snapshots plus the metadata file
	entries := readArchiveEntries(t, store.objects[name])
	assert.ElementsMatch(t, []string{"cache.db", "core.db", "backup-metadata.json"}, entries)
}

func TestListBackupsNewestFirst(t *testing.T) {
	svc, store, cleanup := newBackupFixture(t)
	defer cleanup()

	store.objects[backupPrefix+"2026-08-20-030000"+backupSuffix] = []byte("old")
	store.objects[backupPrefix+"2026-08-22-030000"+backupSuffix] = []byte("new")
	store.objects["unrelated.txt"] = []byte("junk")

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[0].Timestamp.After(backups[1].Timestamp))
}

func TestRotateKeepsMinimumBackups(t *testing.T) {
	svc, store, cleanup := newBackupFixture(t)
	defer cleanup()

	// Five ancient backups; rotation must keep the newest three
	for _, stamp := range []string{
		"2020-01-01-030000", "2020-01-02-030000", "2020-01-03-030000",
		"2020-01-04-030000", "2020-01-05-030000",
	} {
		store.objects[backupPrefix+stamp+backupSuffix] = []byte("x")
	}

	require.NoError(t, svc.RotateOldBackups(context.Background(), 7))
	assert.Equal(t, minBackupsToKeep, store.count())
}

func TestRotateZeroRetentionKeepsEverything(t *testing.T) {
	svc, store, cleanup := newBackupFixture(t)
	defer cleanup()

	for _, stamp := range []string{
		"2020-01-01-030000", "2020-01-02-030000", "2020-01-03-030000", "2020-01-04-030000",
	} {
		store.objects[backupPrefix+stamp+backupSuffix] = []byte("x")
	}

	require.NoError(t, svc.RotateOldBackups(context.Background(), 0))
	assert.Equal(t, 4, store.count())
}

func readArchiveEntries(t *testing.T, data []byte) []string {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}
