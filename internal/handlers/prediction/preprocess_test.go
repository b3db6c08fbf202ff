package prediction

import (
	"context"
	"testing"
	"time"

	"flowgate/internal/config"
	"flowgate/internal/flowconfig"
	"flowgate/internal/limits"
	"flowgate/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ctxStore answers from memory unless told to honor a done context
type ctxStore struct {
	*limits.MemoryStore
	countCtx bool
	claimCtx bool
}

func (s ctxStore) IncrementAndCheck(ctx context.Context, key string, limit int64, window time.Duration) (bool, time.Time, error) {
	if s.countCtx && ctx.Err() != nil {
		return false, time.Time{}, ctx.Err()
	}
	return s.MemoryStore.IncrementAndCheck(ctx, key, limit, window)
}

func (s ctxStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if s.claimCtx && ctx.Err() != nil {
		return false, ctx.Err()
	}
	return s.MemoryStore.SetIfAbsent(ctx, key, ttl)
}

type ctxMetadata struct {
	honorCtx bool
}

func (m ctxMetadata) GetFlowOverrides(ctx context.Context, _ uint64, _ string) (map[string]any, error) {
	if m.honorCtx {
		return nil, ctx.Err()
	}
	return nil, nil
}

func (m ctxMetadata) GetCredential(context.Context, uint64) (*flowconfig.CredentialRecord, error) {
	return nil, nil
}

func (m ctxMetadata) GetStoreNamespace(context.Context, uint64) (string, error) {
	return "", nil
}

func newTestHandler(t *testing.T, store limits.Store, meta flowconfig.MetadataStore) *PredictionHandler {
	t.Helper()
	log := zap.NewNop().Sugar()
	return NewPredictionHandler(Dependencies{
		Limits:      config.Default().Limits,
		RateLimiter: limits.NewRateLimiter(store, 10, time.Minute),
		Idempotency: limits.NewIdempotencyTracker(store, time.Minute),
		Resolver:    flowconfig.NewResolver(meta, nil, "system-key", log),
		Log:         log,
	})
}

func TestPreprocess_Succeeds(t *testing.T) {
	mem := limits.NewMemoryStore(0)
	defer mem.Close()
	ph := newTestHandler(t, ctxStore{MemoryStore: mem}, ctxMetadata{})

	info, err := ph.Preprocess(PreprocessInput{
		Ctx:            context.Background(),
		Body:           []byte(`{"flowId":"f","question":"q","sessionId":"s"}`),
		User:           shared.UserMetadata{UserID: 3},
		RequestID:      "req_1",
		IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "f", info.FlowID)
	assert.Equal(t, "system-key", info.Credential)
	assert.Equal(t, "s", info.Payload.OverrideConfig[shared.SessionIDOverrideKey])
}

func TestPreprocess_CanceledClientIsNotAStoreFailure(t *testing.T) {
	tests := []struct {
		name  string
		store ctxStore
		meta  ctxMetadata
	}{
		{"during rate limit", ctxStore{countCtx: true}, ctxMetadata{}},
		{"during idempotency claim", ctxStore{claimCtx: true}, ctxMetadata{}},
		{"during metadata lookup", ctxStore{}, ctxMetadata{honorCtx: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := limits.NewMemoryStore(0)
			defer mem.Close()
			tt.store.MemoryStore = mem
			ph := newTestHandler(t, tt.store, tt.meta)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := ph.Preprocess(PreprocessInput{
				Ctx:            ctx,
				Body:           []byte(`{"flowId":"f","question":"q"}`),
				User:           shared.UserMetadata{UserID: 3},
				IdempotencyKey: "k",
			})

			require.Error(t, err)
			assert.ErrorIs(t, err, shared.ErrBackendContext)
			assert.NotErrorIs(t, err, shared.ErrStoreUnavailable)
			assert.NotErrorIs(t, err, shared.ErrInternalServerError)
		})
	}
}
