package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"accountanalytics/internal/config"
	"accountanalytics/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// 测试替身
// ============================================================

type fakeStore struct {
	states      map[string]*model.AccountAnalytics
	getErrs     int // 前 N 次 Get 返回错误
	upsertErrs  int // 前 N 次 Upsert 返回错误
	getCalls    int
	upsertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]*model.AccountAnalytics)}
}

func (f *fakeStore) GetByAccountID(_ context.Context, accountID string) (*model.AccountAnalytics, error) {
	f.getCalls++
	if f.getErrs > 0 {
		f.getErrs--
		return nil, errors.New("连接超时")
	}
	a, ok := f.states[accountID]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (f *fakeStore) Upsert(_ context.Context, a *model.AccountAnalytics) error {
	f.upsertCalls++
	if f.upsertErrs > 0 {
		f.upsertErrs--
		return errors.New("连接超时")
	}
	f.states[a.AccountID] = a.Clone()
	return nil
}

type fakeCache struct {
	values   map[string]*model.AccountAnalytics
	setErr   bool
	setCalls int
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: make(map[string]*model.AccountAnalytics)}
}

func (f *fakeCache) Get(_ context.Context, accountID string) (*model.AccountAnalytics, error) {
	a, ok := f.values[accountID]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

func (f *fakeCache) Set(_ context.Context, a *model.AccountAnalytics) error {
	f.setCalls++
	if f.setErr {
		return errors.New("缓存不可用")
	}
	f.values[a.AccountID] = a.Clone()
	return nil
}

func (f *fakeCache) Delete(_ context.Context, accountID string) error {
	delete(f.values, accountID)
	return nil
}

type fakeNotifier struct {
	notices []*model.RecalculatedNotice
	err     error
}

func (f *fakeNotifier) PublishRecalculated(n *model.RecalculatedNotice) error {
	if f.err != nil {
		return f.err
	}
	f.notices = append(f.notices, n)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Analytics: config.AnalyticsConfig{
			HighThreshold:     0.75,
			ModerateThreshold: 0.35,
			DedupWindow:       500,
		},
		Consumer: config.ConsumerConfig{
			MaxRetry:    3,
			BaseDelayMs: 1,
		},
	}
}

func depositEvent(key string) *model.AccountEvent {
	return &model.AccountEvent{
		Kind:           model.EventKindTransactionPosted,
		AccountID:      "acc-1",
		OccurredAt:     time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC),
		IdempotencyKey: key,
		Payload:        model.EventPayload{Amount: decimal.RequireFromString("100")},
	}
}

// ============================================================
// 测试
// ============================================================

func TestProcessEventCreatesStateLazily(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	coordinator := NewStoreCoordinator(store, cc, nil, testConfig())

	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))

	persisted := store.states["acc-1"]
	require.NotNil(t, persisted)
	assert.EqualValues(t, 1, persisted.TransactionCount)
	assert.True(t, persisted.TotalBalance.Equal(decimal.RequireFromString("100")))
	assert.True(t, persisted.HasProcessed("tx-1"))
	assert.False(t, persisted.LastUpdated.IsZero())
	require.NoError(t, persisted.Validate())

	// 缓存是落库快照的视图
	cached := cc.values["acc-1"]
	require.NotNil(t, cached)
	assert.EqualValues(t, 1, cached.TransactionCount)
}

// 同一幂等键重复投递只生效一次
func TestProcessEventDeduplicates(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	coordinator := NewStoreCoordinator(store, cc, nil, testConfig())

	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))
	before, err := json.Marshal(store.states["acc-1"])
	require.NoError(t, err)

	// 重复事件静默确认，状态逐字节不变
	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))

	after, err := json.Marshal(store.states["acc-1"])
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.EqualValues(t, 1, store.states["acc-1"].TransactionCount)
	assert.Equal(t, 1, store.upsertCalls, "重复事件不应触发写库")
}

// 权威库写失败时缓存保持原样
func TestProcessEventDurableFailureLeavesCacheUntouched(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	coordinator := NewStoreCoordinator(store, cc, nil, testConfig())

	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))
	cachedBefore, err := json.Marshal(cc.values["acc-1"])
	require.NoError(t, err)

	// 接下来所有写库尝试都失败（超过重试次数）
	store.upsertErrs = 100
	err = coordinator.ProcessEvent(context.Background(), depositEvent("tx-2"))
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))

	cachedAfter, err := json.Marshal(cc.values["acc-1"])
	require.NoError(t, err)
	assert.Equal(t, string(cachedBefore), string(cachedAfter), "失败的更新不能碰缓存")
}

// 刷缓存失败不影响更新结果
func TestProcessEventCacheFailureIsNonFatal(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	cc.setErr = true
	coordinator := NewStoreCoordinator(store, cc, nil, testConfig())

	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))

	// 权威库已更新，缓存留空等修复
	assert.NotNil(t, store.states["acc-1"])
	assert.Empty(t, cc.values)
}

func TestProcessEventRetriesTransientErrors(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	store.upsertErrs = 2 // 前两次失败，第三次成功
	coordinator := NewStoreCoordinator(store, cc, nil, testConfig())

	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))
	assert.Equal(t, 3, store.upsertCalls)
	assert.NotNil(t, store.states["acc-1"])
}

func TestProcessEventLoadFailureIsTransient(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	store.getErrs = 100
	coordinator := NewStoreCoordinator(store, cc, nil, testConfig())

	err := coordinator.ProcessEvent(context.Background(), depositEvent("tx-1"))
	require.Error(t, err)
	assert.True(t, model.IsTransient(err))
	assert.Zero(t, store.upsertCalls)
}

// 损坏的已落库状态触发一致性错误，绝不参与折叠
func TestProcessEventDetectsCorruptState(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()

	corrupt := model.NewAccountAnalytics("acc-1")
	corrupt.TransactionCount = 7 // 计数对不上
	store.states["acc-1"] = corrupt

	coordinator := NewStoreCoordinator(store, cc, nil, testConfig())

	err := coordinator.ProcessEvent(context.Background(), depositEvent("tx-1"))
	require.Error(t, err)
	assert.True(t, model.IsConsistency(err))
	assert.Zero(t, store.upsertCalls)
}

func TestProcessEventRejectsInvalidEnvelope(t *testing.T) {
	coordinator := NewStoreCoordinator(newFakeStore(), newFakeCache(), nil, testConfig())

	ev := depositEvent("tx-1")
	ev.AccountID = ""

	err := coordinator.ProcessEvent(context.Background(), ev)
	assert.True(t, model.IsValidation(err))
}

func TestProcessEventPublishesNotice(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	notifier := &fakeNotifier{}
	coordinator := NewStoreCoordinator(store, cc, notifier, testConfig())

	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))

	require.Len(t, notifier.notices, 1)
	notice := notifier.notices[0]
	assert.Equal(t, "acc-1", notice.AccountID)
	assert.Equal(t, store.states["acc-1"].SpendingPattern, notice.SpendingPattern)
	assert.NotEmpty(t, notice.NoticeNo)
}

// 通知失败不影响更新结果
func TestProcessEventNotifyFailureIgnored(t *testing.T) {
	store, cc := newFakeStore(), newFakeCache()
	notifier := &fakeNotifier{err: errors.New("broker 不可用")}
	coordinator := NewStoreCoordinator(store, cc, notifier, testConfig())

	require.NoError(t, coordinator.ProcessEvent(context.Background(), depositEvent("tx-1")))
	assert.NotNil(t, store.states["acc-1"])
}
