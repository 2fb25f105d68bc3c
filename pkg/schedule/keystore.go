package schedule

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// KeyStore persists the content key computed for each job from one engine
// run to the next, so §4.E step 3's freshness comparison survives process
// restarts. Two backends are provided: FileKeyStore (the default) and
// RedisKeyStore (opt-in, for sharing freshness state across a small
// cluster of engine invocations building the same corpus).
type KeyStore interface {
	Get(ctx context.Context, jobID string) (string, bool, error)
	Set(ctx context.Context, jobID, key string) error
	Close() error
}

// FileKeyStore is a JSON-serialised map persisted to a single file under the
// work directory, grounded on the teacher's cache.FileCache layout (a
// directory-based store keyed by a hashed key) simplified to one file since
// the engine's key space (one entry per job) is orders of magnitude smaller
// than a general-purpose HTTP response cache.
type FileKeyStore struct {
	mu   sync.Mutex
	path string
	data map[string]string
}

// NewFileKeyStore loads (or initializes) the content-key map at path.
func NewFileKeyStore(path string) (*FileKeyStore, error) {
	s := &FileKeyStore{path: path, data: map[string]string{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("schedule: corrupt content-key store %s: %w", path, err)
	}
	return s, nil
}

// Get implements KeyStore.
func (s *FileKeyStore) Get(_ context.Context, jobID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[jobID]
	return v, ok, nil
}

// Set implements KeyStore, persisting the whole map atomically (temp file +
// rename) after each update — the same atomic-publish idiom the scheduler
// itself uses for job outputs.
func (s *FileKeyStore) Set(_ context.Context, jobID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[jobID] = key
	return s.persistLocked()
}

func (s *FileKeyStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Close implements KeyStore.
func (s *FileKeyStore) Close() error { return nil }

// RedisKeyStore backs the content-key map with a Redis hash, letting several
// engine invocations across a small cluster share freshness state instead of
// recomputing everything per host.
type RedisKeyStore struct {
	client   *redis.Client
	hashName string
}

// NewRedisKeyStore builds a RedisKeyStore against an existing client,
// storing all job keys under one hash so a corpus's freshness state can be
// inspected or cleared with a single Redis command.
func NewRedisKeyStore(client *redis.Client, corpusID string) *RedisKeyStore {
	return &RedisKeyStore{client: client, hashName: "sparv:content-keys:" + corpusID}
}

// Get implements KeyStore.
func (s *RedisKeyStore) Get(ctx context.Context, jobID string) (string, bool, error) {
	v, err := s.client.HGet(ctx, s.hashName, jobID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements KeyStore.
func (s *RedisKeyStore) Set(ctx context.Context, jobID, key string) error {
	return s.client.HSet(ctx, s.hashName, jobID, key).Err()
}

// Close implements KeyStore.
func (s *RedisKeyStore) Close() error { return s.client.Close() }

// InputStat is one declared input's freshness fingerprint at content-key
// computation time.
type InputStat struct {
	Path    string
	ModUnix int64
	Size    int64
}

// ContentKeyInputs bundles everything §4.E step 3 says a content key is
// computed from: "the producer rule identifier, the resolved parameter
// bindings, the modification times and sizes of declared input files, the
// chosen model versions, and the effective configuration subtree that the
// rule declares sensitivity to."
type ContentKeyInputs struct {
	RuleID        string
	Bindings      map[string]any
	Inputs        []InputStat
	ModelVersions map[string]string
	ConfigSubtree map[string]any
	// RegistryHash is included unless the caller passes
	// --ignore-registry-hash (Open Question Decision: registry hash IS part
	// of the content key by default, since a processor code change should
	// invalidate cached output).
	RegistryHash string
}

// ComputeContentKey hashes the sorted, canonical JSON encoding of in,
// mirroring the teacher's cache.Hash (SHA-256, full 64-hex-char digest).
func ComputeContentKey(in ContentKeyInputs) string {
	sort.Slice(in.Inputs, func(i, j int) bool { return in.Inputs[i].Path < in.Inputs[j].Path })
	data, _ := json.Marshal(in)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
