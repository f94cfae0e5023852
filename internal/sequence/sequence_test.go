package sequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/clinicbill/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:seq_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&BillingSequence{}))
	return db
}

func TestFormat(t *testing.T) {
	at := time.Date(2025, 4, 9, 0, 0, 0, 0, time.UTC)

	out, err := Format("INV-{YYYY}{MM}-{SEQ6}", at, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV-202504-000042", out)

	out, err = Format("R{YY}{DD}-{SEQ}", at, 7)
	require.NoError(t, err)
	assert.Equal(t, "R2509-7", out)

	_, err = Format("", at, 1)
	assert.Error(t, err)
	_, err = Format("INV-{SEQ6}", at, 0)
	assert.Error(t, err)
	_, err = Format("INV-{BOGUS}", at, 1)
	assert.Error(t, err)
}

func TestDBSequencerIncrementsPerScope(t *testing.T) {
	seq := NewDBSequencer(setupDB(t), zap.NewNop(), clock.SystemClock{})
	ctx := context.Background()

	inv := Scope{ClinicID: 1, Name: ScopeInvoice}
	pay := Scope{ClinicID: 1, Name: ScopePayment}
	other := Scope{ClinicID: 2, Name: ScopeInvoice}

	for want := int64(1); want <= 3; want++ {
		got, err := seq.Next(ctx, inv)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	got, err := seq.Next(ctx, pay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = seq.Next(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	_, err = seq.Next(ctx, Scope{Name: ScopeInvoice})
	assert.ErrorIs(t, err, ErrInvalidScope)
}

func TestDBSequencerConcurrentCallersGetDistinctNumbers(t *testing.T) {
	seq := NewDBSequencer(setupDB(t), zap.NewNop(), clock.SystemClock{})
	scope := Scope{ClinicID: 9, Name: ScopeRefund}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := seq.Next(context.Background(), scope)
			if err != nil {
				return
			}
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 5)
}

type fakeIncr struct {
	counts map[string]int64
	err    error
}

func (f *fakeIncr) Incr(ctx context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func TestRedisSequencer(t *testing.T) {
	fake := &fakeIncr{counts: map[string]int64{}}
	seq := &RedisSequencer{client: fake, prefix: "clinicbill:seq"}
	scope := Scope{ClinicID: 5, Name: ScopeInvoice}

	n, err := seq.Next(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = seq.Next(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, int64(2), fake.counts["clinicbill:seq:5:invoice"])

	fake.err = errors.New("down")
	_, err = seq.Next(context.Background(), scope)
	assert.Error(t, err)
}
