package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestDomainErrorMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", domainErr(KindInsufficientBalance, "available balance is 4.9 USDT"))

	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "INSUFFICIENT_BALANCE: available balance is 4.9 USDT")

	de, ok := AsDomainError(err)
	assert.True(t, ok)
	assert.Equal(t, KindInsufficientBalance, de.Kind)
}

func TestInviteCapIsACapExceeded(t *testing.T) {
	err := domainErr(KindInviteCapReached, "limit")
	assert.ErrorIs(t, err, ErrInviteCapReached)
	assert.ErrorIs(t, err, ErrCapExceeded)
	assert.NotErrorIs(t, domainErr(KindCapExceeded, "x"), ErrInviteCapReached)
}

func TestInfraErrorKeepsDomainErrorsIntact(t *testing.T) {
	assert.Nil(t, infra("op", nil))

	de := domainErr(KindSelfInvite, "nope")
	assert.Same(t, de, infra("op", de))

	storage := errors.New("connection refused")
	err := infra("load user", storage)
	assert.True(t, IsInfraError(err))
	assert.ErrorIs(t, err, storage)
	assert.False(t, IsInfraError(de))
	assert.Equal(t, "load user: connection refused", err.Error())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.True(t, isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: check_ins.user_id, check_ins.day_number (2067)")))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("timeout")))
}
