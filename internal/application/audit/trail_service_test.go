package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/saaskit/backend/internal/domain/audit"
	"github.com/saaskit/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockRecordRepository struct {
	mock.Mock
}

func (m *mockRecordRepository) Create(ctx context.Context, record *audit.Record) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *mockRecordRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*audit.Record, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*audit.Record), args.Error(1)
}

func (m *mockRecordRepository) ListByTarget(ctx context.Context, tenantID uuid.UUID, kind audit.TargetKind, targetID uuid.UUID) ([]*audit.Record, error) {
	args := m.Called(ctx, tenantID, kind, targetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Record), args.Error(1)
}

func (m *mockRecordRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]*audit.Record, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*audit.Record), args.Error(1)
}

// stubSigner marks selected records as broken by ID
type stubSigner struct {
	broken map[uuid.UUID]bool
}

func (s *stubSigner) Seal(record *audit.Record) error {
	record.Seal("checksum", "signature")
	return nil
}

func (s *stubSigner) Verify(record *audit.Record) error {
	if s.broken[record.ID] {
		return shared.NewDomainError("AUDIT_SEAL_BROKEN", "Audit record failed integrity verification")
	}
	return nil
}

func testRecord(t *testing.T, tenantID uuid.UUID, action string) *audit.Record {
	t.Helper()
	record, err := audit.NewRecord(tenantID, audit.ActorTypeSystem, action, audit.TargetKindInvoice, uuid.New())
	require.NoError(t, err)
	record.WithSnapshots(nil, json.RawMessage(`{"status":"open"}`))
	record.Seal("checksum", "signature")
	return record
}

func TestTrailService_ListByTenant(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("clamps the page size", func(t *testing.T) {
		repo := new(mockRecordRepository)
		service := NewTrailService(repo, &stubSigner{}, zap.NewNop())

		records := []*audit.Record{testRecord(t, tenantID, "invoice.finalize")}
		repo.On("ListByTenant", mock.Anything, tenantID, maxPageSize, 0).Return(records, nil)

		got, err := service.ListByTenant(ctx, tenantID, 10_000, -5)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		repo.AssertExpectations(t)
	})

	t.Run("defaults the page size", func(t *testing.T) {
		repo := new(mockRecordRepository)
		service := NewTrailService(repo, &stubSigner{}, zap.NewNop())

		repo.On("ListByTenant", mock.Anything, tenantID, defaultPageSize, 0).Return([]*audit.Record{}, nil)

		_, err := service.ListByTenant(ctx, tenantID, 0, 0)
		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("missing tenant rejected", func(t *testing.T) {
		service := NewTrailService(new(mockRecordRepository), &stubSigner{}, zap.NewNop())

		_, err := service.ListByTenant(ctx, uuid.Nil, 10, 0)
		assert.ErrorIs(t, err, shared.ErrMissingTenantContext)
	})
}

func TestTrailService_ListByTarget(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()
	targetID := uuid.New()

	t.Run("lists records for one target", func(t *testing.T) {
		repo := new(mockRecordRepository)
		service := NewTrailService(repo, &stubSigner{}, zap.NewNop())

		records := []*audit.Record{
			testRecord(t, tenantID, "invoice.build"),
			testRecord(t, tenantID, "invoice.finalize"),
		}
		repo.On("ListByTarget", mock.Anything, tenantID, audit.TargetKindInvoice, targetID).Return(records, nil)

		got, err := service.ListByTarget(ctx, tenantID, audit.TargetKindInvoice, targetID)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("unknown target kind rejected", func(t *testing.T) {
		service := NewTrailService(new(mockRecordRepository), &stubSigner{}, zap.NewNop())

		_, err := service.ListByTarget(ctx, tenantID, audit.TargetKind("warehouse"), targetID)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_TARGET_KIND", domainErr.Code)
	})
}

func TestTrailService_VerifyRecord(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("intact record verifies", func(t *testing.T) {
		repo := new(mockRecordRepository)
		service := NewTrailService(repo, &stubSigner{}, zap.NewNop())

		record := testRecord(t, tenantID, "ledger.post")
		repo.On("FindByID", mock.Anything, tenantID, record.ID).Return(record, nil)

		require.NoError(t, service.VerifyRecord(ctx, tenantID, record.ID))
	})

	t.Run("broken record reported", func(t *testing.T) {
		repo := new(mockRecordRepository)
		record := testRecord(t, tenantID, "ledger.post")
		signer := &stubSigner{broken: map[uuid.UUID]bool{record.ID: true}}
		service := NewTrailService(repo, signer, zap.NewNop())

		repo.On("FindByID", mock.Anything, tenantID, record.ID).Return(record, nil)

		err := service.VerifyRecord(ctx, tenantID, record.ID)
		require.Error(t, err)
		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "AUDIT_SEAL_BROKEN", domainErr.Code)
	})

	t.Run("unknown record", func(t *testing.T) {
		repo := new(mockRecordRepository)
		service := NewTrailService(repo, &stubSigner{}, zap.NewNop())

		missing := uuid.New()
		repo.On("FindByID", mock.Anything, tenantID, missing).Return(nil, nil)

		assert.ErrorIs(t, service.VerifyRecord(ctx, tenantID, missing), shared.ErrNotFound)
	})
}

func TestTrailService_VerifyTrail(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("reports broken records without repairing", func(t *testing.T) {
		repo := new(mockRecordRepository)

		intact := testRecord(t, tenantID, "ledger.post")
		tampered := testRecord(t, tenantID, "invoice.finalize")
		signer := &stubSigner{broken: map[uuid.UUID]bool{tampered.ID: true}}
		service := NewTrailService(repo, signer, zap.NewNop())

		repo.On("ListByTenant", mock.Anything, tenantID, defaultPageSize, 0).
			Return([]*audit.Record{intact, tampered}, nil)

		report, err := service.VerifyTrail(ctx, tenantID, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Checked)
		assert.False(t, report.Intact())
		assert.Equal(t, []uuid.UUID{tampered.ID}, report.Broken)
	})

	t.Run("clean trail is intact", func(t *testing.T) {
		repo := new(mockRecordRepository)
		service := NewTrailService(repo, &stubSigner{}, zap.NewNop())

		records := []*audit.Record{
			testRecord(t, tenantID, "usage.record"),
			testRecord(t, tenantID, "ledger.post"),
		}
		repo.On("ListByTenant", mock.Anything, tenantID, 2, 0).Return(records, nil)

		report, err := service.VerifyTrail(ctx, tenantID, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Checked)
		assert.True(t, report.Intact())
	})
}
