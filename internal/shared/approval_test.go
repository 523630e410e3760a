package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestApprovalLogValidate(t *testing.T) {
	valid := ApprovalLog{Module: "ALLOCATION_RULE", RefID: 4, ActorID: 2, Action: ApprovalApprove}
	require.NoError(t, valid.Validate())

	missingActor := valid
	missingActor.ActorID = 0
	require.ErrorIs(t, missingActor.Validate(), ErrInvalidApproval)

	missingAction := valid
	missingAction.Action = ""
	require.ErrorIs(t, missingAction.Validate(), ErrInvalidApproval)

	missingRef := valid
	missingRef.RefID = 0
	require.ErrorContains(t, missingRef.Validate(), "ref id required")
}

func TestAuditLoggerRejectsIncompleteEntries(t *testing.T) {
	logger := NewAuditLogger(nil)
	err := logger.Record(context.Background(), AuditLog{Action: "allocation_batch.post", Entity: "allocation_batch"})
	require.ErrorIs(t, err, ErrInvalidAudit)
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	require.True(t, IsUniqueViolation(wrapped))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("plain")))
	require.False(t, IsUniqueViolation(nil))
}
