// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CourtCheck Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtcheck/courtcheck/pkg/errutil"
)

type flakyDB struct {
	failures int
	calls    int
}

func (f *flakyDB) Ping(context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForDatabase(t *testing.T) {
	t.Run("recovers within attempts", func(t *testing.T) {
		db := &flakyDB{failures: 2}
		require.NoError(t, waitForDatabase(context.Background(), db, 3, time.Millisecond))
		assert.Equal(t, 3, db.calls)
	})

	t.Run("gives up", func(t *testing.T) {
		db := &flakyDB{failures: 10}
		err := waitForDatabase(context.Background(), db, 2, time.Millisecond)
		errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
		assert.Equal(t, 3, db.calls)
	})

	t.Run("zero attempts pings once", func(t *testing.T) {
		db := &flakyDB{failures: 1}
		require.Error(t, waitForDatabase(context.Background(), db, 0, time.Millisecond))
		assert.Equal(t, 1, db.calls)
	})
}

func TestOpenPool_BadURL(t *testing.T) {
	_, err := OpenPool(context.Background(), PoolConfig{URL: "postgres://%zz"})
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
