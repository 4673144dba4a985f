package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/listing-harness/pkg/models"
)

// Default file naming convention: credentials.json, credentials.staging.json, ...
const (
	DefaultPrefix = "credentials"
	DefaultSuffix = ".json"
)

// ErrUnknownAccount is returned by Resolve for an account no file defines.
var ErrUnknownAccount = fmt.Errorf("%w: unknown account", models.ErrConfiguration)

// Store merges account records from every credential file in a directory
type Store struct {
	dir    string
	prefix string
	suffix string
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]models.CredentialRecord
	sources []string
}

// NewStore creates a store reading <dir>/credentials*.json
func NewStore(dir string, logger *zap.Logger) *Store {
	return NewStoreWithPattern(dir, DefaultPrefix, DefaultSuffix, logger)
}

// NewStoreWithPattern creates a store with a custom file prefix and suffix
func NewStoreWithPattern(dir, prefix, suffix string, logger *zap.Logger) *Store {
	return &Store{
		dir:     dir,
		prefix:  prefix,
		suffix:  suffix,
		logger:  logger.Named("credentials"),
		records: make(map[string]models.CredentialRecord),
	}
}

// LoadAll reads every matching file in lexical order. Later files override
// earlier ones for the same account.
func (s *Store) LoadAll() error {
	pattern := filepath.Join(s.dir, s.prefix+"*"+s.suffix)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("%w: bad credentials pattern %q: %v", models.ErrConfiguration, pattern, err)
	}
	sort.Strings(files)

	merged := make(map[string]models.CredentialRecord)
	for _, file := range files {
		records, err := readFile(file)
		if err != nil {
			return err
		}
		for id, record := range records {
			if _, exists := merged[id]; exists {
				s.logger.Debug("account overridden", zap.String("account", id), zap.String("file", file))
			}
			record.AccountID = id
			merged[id] = record
		}
	}

	s.mu.Lock()
	s.records = merged
	s.sources = files
	s.mu.Unlock()

	s.logger.Info("credentials loaded", zap.Int("files", len(files)), zap.Int("accounts", len(merged)))
	return nil
}

// Resolve returns the merged record for accountID
func (s *Store) Resolve(accountID string) (models.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[accountID]
	if !ok {
		return models.CredentialRecord{}, fmt.Errorf("%w %q (loaded from %d file(s) in %s)", ErrUnknownAccount, accountID, len(s.sources), s.dir)
	}
	return record, nil
}

// Accounts returns the known account ids, sorted
func (s *Store) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := lo.Keys(s.records)
	sort.Strings(ids)
	return ids
}

// Sources returns the files merged by the last LoadAll, in merge order
func (s *Store) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.sources...)
}

func readFile(path string) (map[string]models.CredentialRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read credentials file %s: %v", models.ErrConfiguration, path, err)
	}

	var records map[string]models.CredentialRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: invalid credentials file %s: %v", models.ErrConfiguration, path, err)
	}
	return records, nil
}
