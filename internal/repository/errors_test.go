package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}
	err := classify(fmt.Errorf("reserve: %w", deadlock))
	assert.ErrorIs(t, err, ErrRetryable)
	var me *mysql.MySQLError
	assert.ErrorAs(t, err, &me, "driver error stays reachable")

	assert.ErrorIs(t, classify(&mysql.MySQLError{Number: 1205}), ErrRetryable)

	dup := &mysql.MySQLError{Number: 1062}
	assert.Same(t, dup, classify(dup))
	plain := errors.New("connection refused")
	assert.Equal(t, plain, classify(plain))
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, isDuplicate(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062})))
	assert.False(t, isDuplicate(&mysql.MySQLError{Number: 1213}))
	assert.False(t, isDuplicate(errors.New("x")))
}
