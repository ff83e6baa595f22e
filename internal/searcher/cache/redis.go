package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

const keyPrefix = "search:session:"

// Hash field names of a stored session.
const (
	fieldFingerprint           = "fingerprint"
	fieldSort                  = "sort"
	fieldTotal                 = "total"
	fieldResults               = "results"
	fieldGeneCountsFingerprint = "gene_counts_fingerprint"
	fieldGeneCounts            = "gene_counts"
)

// HashClient is the subset of pkg/redis.Client the store needs.
type HashClient interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	ReplaceHash(ctx context.Context, key string, fields map[string]any, ttl time.Duration) error
}

// RedisStore keeps one hash per session. A zero ttl keeps sessions until
// they are overwritten.
type RedisStore struct {
	client HashClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(client HashClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "session-store"),
	}
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*SessionState, bool, error) {
	key := keyPrefix + sessionID
	fields, err := r.client.HGetAll(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	state := &SessionState{
		Fingerprint:           fields[fieldFingerprint],
		Sort:                  fields[fieldSort],
		GeneCountsFingerprint: fields[fieldGeneCountsFingerprint],
	}
	if v := fields[fieldTotal]; v != "" {
		if state.Total, err = strconv.Atoi(v); err != nil {
			return nil, false, fmt.Errorf("decoding session %s total: %w", sessionID, err)
		}
	}
	if v := fields[fieldResults]; v != "" {
		if err := json.Unmarshal([]byte(v), &state.Results); err != nil {
			return nil, false, fmt.Errorf("decoding session %s results: %w", sessionID, err)
		}
	}
	if v := fields[fieldGeneCounts]; v != "" {
		if err := json.Unmarshal([]byte(v), &state.GeneCounts); err != nil {
			return nil, false, fmt.Errorf("decoding session %s gene counts: %w", sessionID, err)
		}
	}
	return state, true, nil
}

func (r *RedisStore) Save(ctx context.Context, sessionID string, state *SessionState) error {
	results, err := json.Marshal(state.Results)
	if err != nil {
		return fmt.Errorf("encoding session %s results: %w", sessionID, err)
	}
	fields := map[string]any{
		fieldFingerprint: state.Fingerprint,
		fieldSort:        state.Sort,
		fieldTotal:       state.Total,
		fieldResults:     results,
	}
	if state.GeneCounts != nil {
		counts, err := json.Marshal(state.GeneCounts)
		if err != nil {
			return fmt.Errorf("encoding session %s gene counts: %w", sessionID, err)
		}
		fields[fieldGeneCounts] = counts
		fields[fieldGeneCountsFingerprint] = state.GeneCountsFingerprint
	}

	if err := r.client.ReplaceHash(ctx, keyPrefix+sessionID, fields, r.ttl); err != nil {
		return fmt.Errorf("saving session %s: %w", sessionID, err)
	}
	r.logger.Debug("session saved", "session_id", sessionID, "results", len(state.Results), "total", state.Total)
	return nil
}
