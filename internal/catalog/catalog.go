// Package catalog resolves which wire protocol descriptors are configured for
// a provider service and fills in their credentials.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
)

// Repository is the read side of the catalog collaborator.
type Repository interface {
	GetService(ctx context.Context, serviceID int64) (domain.ServiceCatalogEntry, error)
	ResolveDescriptors(ctx context.Context, serviceID int64) ([]domain.ProtocolDescriptor, error)
}

// SecretStore returns the secret registered under a credential reference.
type SecretStore interface {
	Secret(ref string) (string, bool)
}

// ConfigSecrets is a SecretStore backed by the providers.credentials map.
type ConfigSecrets map[string]string

func (s ConfigSecrets) Secret(ref string) (string, bool) {
	v, ok := s[strings.ToLower(ref)]
	return v, ok
}

// Preference selects which family Resolve returns first.
type Preference int

const (
	PreferResource Preference = iota
	ForceLegacy
)

// Target is everything a connector needs to reach one service: the catalog
// entry and whichever descriptors exist. A missing family is nil.
type Target struct {
	Entry    domain.ServiceCatalogEntry
	Resource *domain.ProtocolDescriptor
	Legacy   *domain.ProtocolDescriptor
}

// Descriptor returns the descriptor of the given family, or nil.
func (t Target) Descriptor(f domain.ProtocolFamily) *domain.ProtocolDescriptor {
	switch f {
	case domain.FamilyResourceHTTP:
		return t.Resource
	case domain.FamilyLegacyRPC:
		return t.Legacy
	}
	return nil
}

type Resolver struct {
	repo    Repository
	secrets SecretStore
	logger  *zap.Logger
}

func NewResolver(repo Repository, secrets SecretStore, logger *zap.Logger) *Resolver {
	if repo == nil {
		panic("catalog repository cannot be nil")
	}
	if secrets == nil {
		secrets = ConfigSecrets{}
	}
	return &Resolver{repo: repo, secrets: secrets, logger: logging.OrNop(logger).Named("catalog")}
}

// Lookup returns the service entry with both descriptor families. Absence of a
// family is reported as nil, never as an error.
func (r *Resolver) Lookup(ctx context.Context, serviceID int64) (Target, error) {
	entry, err := r.repo.GetService(ctx, serviceID)
	if err != nil {
		return Target{}, fmt.Errorf("catalog: service %d: %w", serviceID, err)
	}
	if !entry.Active {
		return Target{}, fmt.Errorf("catalog: service %d: %w", serviceID, failure.ErrServiceInactive)
	}

	descriptors, err := r.repo.ResolveDescriptors(ctx, serviceID)
	if err != nil {
		return Target{}, fmt.Errorf("catalog: descriptors for service %d: %w", serviceID, err)
	}

	t := Target{Entry: entry}
	for i := range descriptors {
		d := descriptors[i]
		if d.CredentialRef != "" {
			secret, ok := r.secrets.Secret(d.CredentialRef)
			if !ok {
				return Target{}, fmt.Errorf("catalog: service %d: credential %q not found", serviceID, d.CredentialRef)
			}
			d.Credential = secret
		}
		switch d.Family {
		case domain.FamilyResourceHTTP:
			if t.Resource != nil {
				return Target{}, fmt.Errorf("catalog: service %d has more than one %s descriptor", serviceID, d.Family)
			}
			t.Resource = &d
		case domain.FamilyLegacyRPC:
			if t.Legacy != nil {
				return Target{}, fmt.Errorf("catalog: service %d has more than one %s descriptor", serviceID, d.Family)
			}
			t.Legacy = &d
		default:
			r.logger.Warn("ignoring descriptor with unknown family",
				zap.Int64("service_id", serviceID), zap.String("family", string(d.Family)))
		}
	}
	return t, nil
}

// Resolve returns a single descriptor honouring pref and the entry's
// PreferLegacy flag, falling back to the other family when the preferred one
// is absent.
func (r *Resolver) Resolve(ctx context.Context, serviceID int64, pref Preference) (domain.ProtocolDescriptor, error) {
	t, err := r.Lookup(ctx, serviceID)
	if err != nil {
		return domain.ProtocolDescriptor{}, err
	}
	order := []*domain.ProtocolDescriptor{t.Resource, t.Legacy}
	if pref == ForceLegacy || t.Entry.PreferLegacy {
		order = []*domain.ProtocolDescriptor{t.Legacy, t.Resource}
	}
	for _, d := range order {
		if d != nil {
			return *d, nil
		}
	}
	return domain.ProtocolDescriptor{}, fmt.Errorf("catalog: service %d: %w", serviceID, failure.ErrNoProtocolConfigured)
}
