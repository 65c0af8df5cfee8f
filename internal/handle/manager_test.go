package handle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/arkilian/memstress/internal/auth"
	apperrors "github.com/arkilian/memstress/internal/errors"
	"github.com/arkilian/memstress/internal/table"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCredential struct {
	calls atomic.Int32
	err   error
}

func (c *countingCredential) Token(context.Context) (auth.Token, error) {
	n := c.calls.Add(1)
	if c.err != nil {
		return auth.Token{}, c.err
	}
	return auth.Token{Options: table.StorageOptions{table.OptionBearerToken: fmt.Sprintf("tok-%d", n)}}, nil
}

func bearer(tok string) table.StorageOptions {
	return table.StorageOptions{table.OptionBearerToken: tok}
}

var testLoc = table.Location{Scheme: "file", Account: "someaccount", Container: "somecontainer", Path: "some/path/table"}

var testSchema = arrow.NewSchema([]arrow.Field{{Name: "colStringTest", Type: arrow.BinaryTypes.String}}, nil)

func newManager(t *testing.T) (*Manager, *table.MockService, *countingCredential) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := table.NewMockService(ctrl)
	cred := &countingCredential{}
	return NewManager(svc, cred, testLoc, testSchema), svc, cred
}

func TestManager_ConcurrentFirstCalls(t *testing.T) {
	m, svc, cred := newManager(t)
	want := &table.Table{}

	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, nil).Times(1)
	svc.EXPECT().Create(gomock.Any(), testLoc, testSchema, bearer("tok-1")).
		DoAndReturn(func(context.Context, table.Location, *arrow.Schema, table.StorageOptions) (*table.Table, error) {
			time.Sleep(20 * time.Millisecond)
			return want, nil
		}).Times(1)

	const n = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	got := make([]*table.Table, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i], errs[i] = m.GetHandle(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, want, got[i])
	}
	assert.Equal(t, int32(1), cred.calls.Load())
	assert.Equal(t, StateReady, m.State())
}

func TestManager_BenignRaceLoadsOnce(t *testing.T) {
	for _, raceErr := range []*table.Error{
		{Kind: table.KindGeneric, Message: "SaveMode `ErrorIfExists` is not allowed for create operation"},
		{Kind: table.KindTransaction, Message: "transaction failed, version 0 already exists"},
	} {
		t.Run(raceErr.Kind.String(), func(t *testing.T) {
			m, svc, cred := newManager(t)
			loaded := &table.Table{}

			gomock.InOrder(
				svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, nil),
				svc.EXPECT().Create(gomock.Any(), testLoc, testSchema, bearer("tok-1")).Return(nil, raceErr),
				svc.EXPECT().Load(gomock.Any(), testLoc, bearer("tok-2")).Return(loaded, nil).Times(1),
			)

			h, err := m.GetHandle(context.Background())
			require.NoError(t, err)
			assert.Same(t, loaded, h)
			assert.Equal(t, int32(2), cred.calls.Load())
		})
	}
}

func TestManager_FatalCreateIsReturnedUnchanged(t *testing.T) {
	m, svc, _ := newManager(t)
	fatal := &table.Error{Kind: table.KindStorage, Message: "failed to commit version 0", Cause: errors.New("connection reset")}

	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, nil)
	svc.EXPECT().Create(gomock.Any(), testLoc, testSchema, gomock.Any()).Return(nil, fatal)

	h, err := m.GetHandle(context.Background())
	assert.Nil(t, h)
	assert.Same(t, fatal, err)
	assert.Equal(t, StateUninitialized, m.State())

	// The failure is not cached; the next call starts over.
	created := &table.Table{}
	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, nil)
	svc.EXPECT().Create(gomock.Any(), testLoc, testSchema, gomock.Any()).Return(created, nil)

	h, err = m.GetHandle(context.Background())
	require.NoError(t, err)
	assert.Same(t, created, h)
}

func TestManager_ExistingTableIsLoaded(t *testing.T) {
	m, svc, _ := newManager(t)
	loaded := &table.Table{}

	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(true, nil)
	svc.EXPECT().Load(gomock.Any(), testLoc, bearer("tok-1")).Return(loaded, nil)

	h, err := m.GetHandle(context.Background())
	require.NoError(t, err)
	assert.Same(t, loaded, h)
}

func TestManager_ReadyMakesNoCalls(t *testing.T) {
	m, svc, cred := newManager(t)
	want := &table.Table{}
	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(true, nil).Times(1)
	svc.EXPECT().Load(gomock.Any(), testLoc, gomock.Any()).Return(want, nil).Times(1)

	first, err := m.GetHandle(context.Background())
	require.NoError(t, err)
	calls := cred.calls.Load()

	for i := 0; i < 10; i++ {
		h, err := m.GetHandle(context.Background())
		require.NoError(t, err)
		assert.Same(t, first, h)
	}
	assert.Equal(t, calls, cred.calls.Load())
}

func TestManager_ExistsErrorPropagates(t *testing.T) {
	m, svc, cred := newManager(t)
	boom := &table.Error{Kind: table.KindStorage, Message: "failed to list"}
	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, boom)

	_, err := m.GetHandle(context.Background())
	assert.Same(t, boom, err)
	assert.Equal(t, int32(0), cred.calls.Load())
}

func TestManager_TokenFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := table.NewMockService(ctrl)
	cred := &countingCredential{err: errors.New("expired refresh token")}
	m := NewManager(svc, cred, testLoc, testSchema)

	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, nil)

	_, err := m.GetHandle(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCategoryHandle, apperrors.GetCategory(err))
	assert.Equal(t, apperrors.CodeTokenUnavailable, apperrors.GetCode(err))
}

func TestManager_LoadFailureIsNotCached(t *testing.T) {
	t.Run("existing table", func(t *testing.T) {
		m, svc, cred := newManager(t)
		loadErr := &table.Error{Kind: table.KindStorage, Message: "failed to read transaction log"}

		gomock.InOrder(
			svc.EXPECT().Exists(gomock.Any(), testLoc).Return(true, nil),
			svc.EXPECT().Load(gomock.Any(), testLoc, bearer("tok-1")).Return(nil, loadErr),
		)
		h, err := m.GetHandle(context.Background())
		assert.Nil(t, h)
		assert.Same(t, loadErr, err)
		assert.Equal(t, StateUninitialized, m.State())

		loaded := &table.Table{}
		gomock.InOrder(
			svc.EXPECT().Exists(gomock.Any(), testLoc).Return(true, nil),
			svc.EXPECT().Load(gomock.Any(), testLoc, bearer("tok-2")).Return(loaded, nil),
		)
		h, err = m.GetHandle(context.Background())
		require.NoError(t, err)
		assert.Same(t, loaded, h)
		assert.Equal(t, StateReady, m.State())
		assert.Equal(t, int32(2), cred.calls.Load())
	})

	t.Run("after concurrent create", func(t *testing.T) {
		m, svc, cred := newManager(t)
		raceErr := &table.Error{Kind: table.KindTransaction, Message: "transaction failed, version 0 already exists"}
		loadErr := &table.Error{Kind: table.KindStorage, Message: "failed to read transaction log"}

		gomock.InOrder(
			svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, nil),
			svc.EXPECT().Create(gomock.Any(), testLoc, testSchema, bearer("tok-1")).Return(nil, raceErr),
			svc.EXPECT().Load(gomock.Any(), testLoc, bearer("tok-2")).Return(nil, loadErr),
		)
		h, err := m.GetHandle(context.Background())
		assert.Nil(t, h)
		assert.Same(t, loadErr, err)
		assert.Equal(t, StateUninitialized, m.State())

		loaded := &table.Table{}
		gomock.InOrder(
			svc.EXPECT().Exists(gomock.Any(), testLoc).Return(false, nil),
			svc.EXPECT().Create(gomock.Any(), testLoc, testSchema, bearer("tok-3")).Return(nil, raceErr),
			svc.EXPECT().Load(gomock.Any(), testLoc, bearer("tok-4")).Return(loaded, nil),
		)
		h, err = m.GetHandle(context.Background())
		require.NoError(t, err)
		assert.Same(t, loaded, h)
		assert.Equal(t, int32(4), cred.calls.Load())
	})
}

type expiringCredential struct{ expires time.Time }

func (c expiringCredential) Token(context.Context) (auth.Token, error) {
	return auth.Token{Options: bearer("tok"), ExpiresAt: c.expires}, nil
}

func TestManager_ExpiredToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := table.NewMockService(ctrl)
	m := NewManager(svc, expiringCredential{expires: time.Now().Add(-time.Minute)}, testLoc, testSchema)

	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(true, nil)

	_, err := m.GetHandle(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTokenUnavailable, apperrors.GetCode(err))
	assert.Equal(t, StateUninitialized, m.State())
}

func TestManager_UnexpiredTokenIsUsed(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := table.NewMockService(ctrl)
	m := NewManager(svc, expiringCredential{expires: time.Now().Add(time.Hour)}, testLoc, testSchema)
	loaded := &table.Table{}

	svc.EXPECT().Exists(gomock.Any(), testLoc).Return(true, nil)
	svc.EXPECT().Load(gomock.Any(), testLoc, bearer("tok")).Return(loaded, nil)

	h, err := m.GetHandle(context.Background())
	require.NoError(t, err)
	assert.Same(t, loaded, h)
}
