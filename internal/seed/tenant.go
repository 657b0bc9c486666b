package seed

import (
	"context"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/internal/repository"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// DevDomain is the tenant domain of the local dev actor.
const DevDomain = "localhost"

// EnsureTenant returns the tenant for domain, creating it when missing.
func EnsureTenant(ctx context.Context, store repository.TenantStore, logger *logging.Logger, name, domain string) (*models.Tenant, error) {
	tenant, err := store.GetTenantByDomain(ctx, domain)
	if err == nil {
		logger.Info("found existing tenant", "id", tenant.ID, "domain", domain)
		return tenant, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}
	logger.Info("creating tenant", "domain", domain)
	tenant = &models.Tenant{Name: name, Domain: domain}
	if err := store.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// InstantiateAll creates each template the caller's tenant does not already
// have by name. It returns the names it created.
func (s *Seeder) InstantiateAll(ctx context.Context, tpls []*Template, tenantID string) ([]string, error) {
	var created []string
	for _, tpl := range tpls {
		exists, err := s.Exists(ctx, tpl.Name)
		if err != nil {
			return created, err
		}
		if exists {
			s.logger.Info("skipping existing workflow", "name", tpl.Name)
			continue
		}
		res, err := s.Instantiate(ctx, tpl, tenantID)
		if err != nil {
			return created, err
		}
		s.logger.Info("seeded workflow", "name", tpl.Name, "id", res.Workflow.ID,
			"tasks", len(res.TaskIDs), "dependencies", res.Dependencies)
		created = append(created, tpl.Name)
	}
	return created, nil
}
