package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/yourorg/travel-orchestrator/internal/config"
	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
)

// MemoryRepository is an in-memory catalog, seeded from configuration or by tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	services    map[int64]domain.ServiceCatalogEntry
	descriptors map[int64][]domain.ProtocolDescriptor
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		services:    make(map[int64]domain.ServiceCatalogEntry),
		descriptors: make(map[int64][]domain.ProtocolDescriptor),
	}
}

// AddService registers or replaces a service and its descriptors.
func (r *MemoryRepository) AddService(entry domain.ServiceCatalogEntry, descriptors ...domain.ProtocolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[entry.ID] = entry
	ds := make([]domain.ProtocolDescriptor, len(descriptors))
	for i, d := range descriptors {
		d.ServiceID = entry.ID
		ds[i] = d
	}
	r.descriptors[entry.ID] = ds
}

func (r *MemoryRepository) GetService(_ context.Context, serviceID int64) (domain.ServiceCatalogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.services[serviceID]
	if !ok {
		return domain.ServiceCatalogEntry{}, failure.ErrServiceNotFound
	}
	return entry, nil
}

func (r *MemoryRepository) ResolveDescriptors(_ context.Context, serviceID int64) ([]domain.ProtocolDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.descriptors[serviceID]
	out := make([]domain.ProtocolDescriptor, len(src))
	copy(out, src)
	return out, nil
}

// Services lists every registered entry.
func (r *MemoryRepository) Services() []domain.ServiceCatalogEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ServiceCatalogEntry, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	return out
}

// FromConfig builds a repository from the catalog.services section.
func FromConfig(cfg config.CatalogConfig) (*MemoryRepository, error) {
	repo := NewMemoryRepository()
	for _, sc := range cfg.Services {
		entry, descriptors, err := ServiceFromConfig(sc)
		if err != nil {
			return nil, err
		}
		repo.AddService(entry, descriptors...)
	}
	return repo, nil
}

// ServiceFromConfig converts one configured service into domain values.
func ServiceFromConfig(sc config.ServiceConfig) (domain.ServiceCatalogEntry, []domain.ProtocolDescriptor, error) {
	kind, err := domain.ParseProductKind(sc.Kind)
	if err != nil {
		return domain.ServiceCatalogEntry{}, nil, fmt.Errorf("catalog: service %d: %w", sc.ID, err)
	}
	entry := domain.ServiceCatalogEntry{
		ID:                sc.ID,
		Kind:              kind,
		Name:              sc.Name,
		SettlementAccount: sc.SettlementAccount,
		Active:            sc.Active,
		PreferLegacy:      sc.PreferLegacy,
	}
	var descriptors []domain.ProtocolDescriptor
	for _, dc := range sc.Descriptors {
		family, err := domain.ParseProtocolFamily(dc.Family)
		if err != nil {
			return domain.ServiceCatalogEntry{}, nil, fmt.Errorf("catalog: service %d: %w", sc.ID, err)
		}
		paths := make(map[domain.Operation]string, len(dc.Paths))
		for op, p := range dc.Paths {
			paths[domain.Operation(op)] = p
		}
		descriptors = append(descriptors, domain.ProtocolDescriptor{
			ServiceID:     sc.ID,
			Family:        family,
			BaseURL:       dc.BaseURL,
			Paths:         paths,
			CredentialRef: dc.CredentialRef,
		})
	}
	return entry, descriptors, nil
}
