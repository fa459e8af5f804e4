package services

import (
	"context"
	"strings"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/clients/revela"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/repos"
	"github.com/movescan/movescan-backend/internal/types"
)

// SourceService mediates between the decompiler and the module rows:
// source is fetched once and cached on the module.
type SourceService interface {
	// EnsureSource returns the module's source, fetching from the
	// decompiler and persisting it when the cached field is empty. The
	// passed module is updated in place on a successful fetch.
	EnsureSource(ctx context.Context, module *types.Module) (string, error)
	// Resolve fetches decompiled source plus the function-level call list
	// without touching any module row.
	Resolve(ctx context.Context, packageAddress, moduleName, network string) (*revela.DecompileResult, error)
}

type sourceService struct {
	log      *logger.Logger
	resolver revela.Client
	packages repos.PackageRepo
	modules  repos.ModuleRepo
}

func NewSourceService(
	log *logger.Logger,
	resolver revela.Client,
	packages repos.PackageRepo,
	modules repos.ModuleRepo,
) SourceService {
	return &sourceService{
		log:      log.With("service", "SourceService"),
		resolver: resolver,
		packages: packages,
		modules:  modules,
	}
}

func (s *sourceService) EnsureSource(ctx context.Context, module *types.Module) (string, error) {
	if module == nil {
		return "", apperrors.Validation("module required")
	}
	if module.SourceCode != nil && strings.TrimSpace(*module.SourceCode) != "" {
		return *module.SourceCode, nil
	}

	addr, name, ok := types.SplitModuleFullName(module.FullName)
	if !ok {
		return "", apperrors.Validation("malformed module full name %q", module.FullName)
	}

	network := "mainnet"
	if pkg, err := s.packages.GetByID(ctx, nil, module.PackageID); err == nil {
		network = pkg.Network
	}

	result, err := s.resolver.Decompile(ctx, addr, name, network)
	if err != nil {
		return "", err
	}

	if err := s.modules.UpdateSource(ctx, nil, module.ID, result.SourceCode); err != nil {
		return "", err
	}
	module.SourceCode = &result.SourceCode
	return result.SourceCode, nil
}

func (s *sourceService) Resolve(ctx context.Context, packageAddress, moduleName, network string) (*revela.DecompileResult, error) {
	return s.resolver.Decompile(ctx, packageAddress, moduleName, network)
}
