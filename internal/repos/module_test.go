package repos

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/movescan/movescan-backend/internal/apperrors"
	"github.com/movescan/movescan-backend/internal/logger"
	"github.com/movescan/movescan-backend/internal/types"
)

func newRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&types.Package{}, &types.Module{}, &types.RagDocument{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedPackageAndModule(t *testing.T, db *gorm.DB, fullName string) *types.Module {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()
	addr, name, ok := types.SplitModuleFullName(fullName)
	if !ok {
		t.Fatalf("bad full name %q", fullName)
	}
	pkg, err := NewPackageRepo(db, log).UpsertByAddress(ctx, nil, &types.Package{Address: addr, Network: "mainnet"})
	if err != nil {
		t.Fatalf("seed package: %v", err)
	}
	module, err := NewModuleRepo(db, log).UpsertByFullName(ctx, nil, &types.Module{
		FullName:  fullName,
		Name:      name,
		PackageID: pkg.ID,
	})
	if err != nil {
		t.Fatalf("seed module: %v", err)
	}
	return module
}

func TestModuleUpsertPreservesExplanation(t *testing.T) {
	db := newRepoTestDB(t)
	ctx := context.Background()
	repo := NewModuleRepo(db, logger.NewNop())

	module := seedPackageAndModule(t, db, "0xabc::coin")
	ultra := "mints coins"
	if err := repo.UpdateExplanation(ctx, nil, module.ID, "full explanation", &ultra, types.ExplanationDone); err != nil {
		t.Fatalf("explain: %v", err)
	}

	// A graph re-run upserts the same natural key with fresh structure.
	again, err := repo.UpsertByFullName(ctx, nil, &types.Module{
		FullName:  "0xabc::coin",
		Name:      "coin",
		PackageID: module.PackageID,
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	if again.ID != module.ID {
		t.Fatalf("upsert created a second row: %s vs %s", again.ID, module.ID)
	}
	if again.Explanation == nil || *again.Explanation != "full explanation" {
		t.Fatalf("explanation clobbered: %v", again.Explanation)
	}
	if again.UltraSummary == nil || *again.UltraSummary != "mints coins" {
		t.Fatalf("ultra summary clobbered: %v", again.UltraSummary)
	}
	if again.ExplanationStatus != types.ExplanationDone {
		t.Fatalf("status clobbered: %s", again.ExplanationStatus)
	}
}

func TestModuleResolveRef(t *testing.T) {
	db := newRepoTestDB(t)
	ctx := context.Background()
	repo := NewModuleRepo(db, logger.NewNop())
	module := seedPackageAndModule(t, db, "0xabc::coin")

	byID, err := repo.ResolveRef(ctx, nil, module.ID.String())
	if err != nil || byID.ID != module.ID {
		t.Fatalf("resolve by id: %v, %v", byID, err)
	}
	byName, err := repo.ResolveRef(ctx, nil, "0xabc::coin")
	if err != nil || byName.ID != module.ID {
		t.Fatalf("resolve by full name: %v, %v", byName, err)
	}

	_, err = repo.ResolveRef(ctx, nil, uuid.NewString())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want not found", err)
	}
	_, err = repo.ResolveRef(ctx, nil, "0xabc::missing")
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown name err = %v, want not found", err)
	}
}

func TestRagDocumentUpsertIsSingleRowPerDocType(t *testing.T) {
	db := newRepoTestDB(t)
	ctx := context.Background()
	repo := NewRagDocumentRepo(db, logger.NewNop())
	module := seedPackageAndModule(t, db, "0xabc::coin")

	first, err := repo.Upsert(ctx, nil, &types.RagDocument{
		ModuleID:       module.ID,
		DocType:        types.DocTypeSource,
		PackageAddress: "0xabc",
		ModuleName:     "coin",
		Content:        "v1",
	})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := repo.Upsert(ctx, nil, &types.RagDocument{
		ModuleID:       module.ID,
		DocType:        types.DocTypeSource,
		PackageAddress: "0xabc",
		ModuleName:     "coin",
		Content:        "v2",
	})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	if second.ID != first.ID {
		t.Fatalf("doc id changed on re-index: %s vs %s", second.ID, first.ID)
	}
	if second.Content != "v2" {
		t.Fatalf("content not replaced: %q", second.Content)
	}

	// A different doc type for the same module is an independent row.
	other, err := repo.Upsert(ctx, nil, &types.RagDocument{
		ModuleID:       module.ID,
		DocType:        types.DocTypeModuleAnalysis,
		PackageAddress: "0xabc",
		ModuleName:     "coin",
		Content:        "analysis",
	})
	if err != nil {
		t.Fatalf("analysis upsert: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("doc types share a row")
	}

	var n int64
	db.Model(&types.RagDocument{}).Count(&n)
	if n != 2 {
		t.Fatalf("rows = %d, want 2", n)
	}
}
