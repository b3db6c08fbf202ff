package flowconfig

import (
	"context"
	"errors"
	"sync"

	"flowgate/internal/metrics"
	"flowgate/internal/shared"

	"go.uber.org/zap"
)

// MetadataStore is the persistence the resolver reads from. Lookups that
// find nothing return a zero value and a nil error.
type MetadataStore interface {
	GetFlowOverrides(ctx context.Context, userID uint64, flowID string) (map[string]any, error)
	GetCredential(ctx context.Context, userID uint64) (*CredentialRecord, error)
	GetStoreNamespace(ctx context.Context, userID uint64) (string, error)
}

type Resolver struct {
	store            MetadataStore
	decryptor        Decryptor
	systemCredential string
	log              *zap.SugaredLogger
}

func NewResolver(store MetadataStore, decryptor Decryptor, systemCredential string, log *zap.SugaredLogger) *Resolver {
	return &Resolver{
		store:            store,
		decryptor:        decryptor,
		systemCredential: systemCredential,
		log:              log,
	}
}

type ResolveInput struct {
	Ctx       context.Context
	UserID    uint64
	FlowID    string
	SessionID string
	Overrides map[string]any
}

type Resolved struct {
	OverrideConfig map[string]any
	Credential     Credential
}

// Resolve fetches stored overrides, the credential record and the store
// namespace concurrently, then merges and picks the credential.
func (r *Resolver) Resolve(input ResolveInput) (*Resolved, error) {
	var (
		wg        sync.WaitGroup
		stored    map[string]any
		record    *CredentialRecord
		namespace string
		errs      [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		stored, errs[0] = r.store.GetFlowOverrides(input.Ctx, input.UserID, input.FlowID)
	}()
	go func() {
		defer wg.Done()
		record, errs[1] = r.store.GetCredential(input.Ctx, input.UserID)
	}()
	go func() {
		defer wg.Done()
		namespace, errs[2] = r.store.GetStoreNamespace(input.Ctx, input.UserID)
	}()
	wg.Wait()

	if err := errors.Join(errs[:]...); err != nil {
		if ctxErr := input.Ctx.Err(); ctxErr != nil {
			return nil, errors.Join(shared.ErrBackendContext, ctxErr)
		}
		return nil, errors.Join(shared.ErrInternalServerError, errors.New("failed loading flow metadata"), err)
	}

	credential, err := ResolveCredential(record, r.decryptor, r.systemCredential)
	if err != nil {
		r.log.Errorw("No backend credential available", "user_id", input.UserID, "has_record", record != nil)
		return nil, err
	}
	if record != nil && credential.Source == CredentialSourceSystem {
		r.log.Warnw("User credential unusable, falling back to system credential", "user_id", input.UserID)
	}
	metrics.CredentialSource.WithLabelValues(credential.Source).Inc()

	defaults := map[string]any{}
	if input.SessionID != "" {
		defaults[shared.SessionIDOverrideKey] = input.SessionID
	}
	if namespace != "" {
		defaults[shared.StoreNamespaceOverrideKey] = namespace
	}

	return &Resolved{
		OverrideConfig: Merge(stored, input.Overrides, defaults),
		Credential:     credential,
	}, nil
}
