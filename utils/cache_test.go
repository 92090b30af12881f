package utils

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Perceptus-Labs/label-reader/models"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockLabelAnalyzer struct {
	mock.Mock
}

func (m *MockLabelAnalyzer) Analyze(ctx context.Context, images [][]byte, lang models.Language) (models.StructuredResult, error) {
	args := m.Called(ctx, images, lang)
	return args.Get(0).(models.StructuredResult), args.Error(1)
}

var cachedSoup = models.StructuredResult{ItemName: "Tomato soup", Expiry: "2026", Usage: "Heat"}

func TestCacheKey(t *testing.T) {
	a := CacheKey([][]byte{{1, 2}, {3}}, models.LanguageEnglish)
	assert.Equal(t, a, CacheKey([][]byte{{1, 2}, {3}}, models.LanguageEnglish))
	assert.NotEqual(t, a, CacheKey([][]byte{{1}, {2, 3}}, models.LanguageEnglish), "frame boundaries are part of the key")
	assert.NotEqual(t, a, CacheKey([][]byte{{1, 2}, {3}}, models.LanguageHindi))
	assert.Contains(t, a, "label-reader:analysis:")
}

func TestCacheKey_StableDigest(t *testing.T) {
	// sha256("en" || uint64le(1) || 0x07)
	assert.Equal(t,
		"label-reader:analysis:09efb775dd785b6cc5a7447f69f953a3e884896dc99753044ceacf15418aaabe",
		CacheKey([][]byte{{7}}, models.LanguageEnglish))
}

func TestAnalysisCache_MissThenStore(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	next := new(MockLabelAnalyzer)
	images := [][]byte{{0xff, 0xd8}}
	key := CacheKey(images, models.LanguageEnglish)
	data, _ := json.Marshal(cachedSoup)

	redisMock.ExpectGet(key).RedisNil()
	next.On("Analyze", mock.Anything, images, models.LanguageEnglish).Return(cachedSoup, nil).Once()
	redisMock.ExpectSet(key, string(data), 10*time.Minute).SetVal("OK")

	cache := NewAnalysisCache(db, next, 10*time.Minute, zap.NewNop())
	result, err := cache.Analyze(context.TODO(), images, models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, cachedSoup, result)

	// Second scan of the same view is served from Redis.
	redisMock.ExpectGet(key).SetVal(string(data))
	result, err = cache.Analyze(context.TODO(), images, models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, cachedSoup, result)

	next.AssertExpectations(t)
	if err := redisMock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestAnalysisCache_RedisDownFallsThrough(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	next := new(MockLabelAnalyzer)
	images := [][]byte{{1}}
	key := CacheKey(images, models.LanguageEnglish)
	data, _ := json.Marshal(cachedSoup)

	redisMock.ExpectGet(key).SetErr(errors.New("connection refused"))
	next.On("Analyze", mock.Anything, images, models.LanguageEnglish).Return(cachedSoup, nil)
	redisMock.ExpectSet(key, string(data), time.Minute).SetErr(errors.New("connection refused"))

	cache := NewAnalysisCache(db, next, time.Minute, zap.NewNop())
	result, err := cache.Analyze(context.TODO(), images, models.LanguageEnglish)
	require.NoError(t, err)
	assert.Equal(t, "Tomato soup", result.ItemName)
}

func TestAnalysisCache_ErrorsAreNotCached(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	next := new(MockLabelAnalyzer)
	images := [][]byte{{2}}
	key := CacheKey(images, models.LanguageEnglish)

	redisMock.ExpectGet(key).RedisNil()
	next.On("Analyze", mock.Anything, images, models.LanguageEnglish).
		Return(models.StructuredResult{}, models.NewAnalysisError("malformed analysis response", nil))

	cache := NewAnalysisCache(db, next, time.Minute, zap.NewNop())
	_, err := cache.Analyze(context.TODO(), images, models.LanguageEnglish)
	assert.True(t, models.IsCode(err, models.ErrAnalysis))

	if err := redisMock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestAnalysisCache_CorruptEntryIsIgnored(t *testing.T) {
	db, redisMock := redismock.NewClientMock()
	next := new(MockLabelAnalyzer)
	images := [][]byte{{3}}
	key := CacheKey(images, models.LanguageEnglish)
	data, _ := json.Marshal(cachedSoup)

	redisMock.ExpectGet(key).SetVal("{not json")
	next.On("Analyze", mock.Anything, images, models.LanguageEnglish).Return(cachedSoup, nil)
	redisMock.ExpectSet(key, string(data), time.Minute).SetVal("OK")

	cache := NewAnalysisCache(db, next, time.Minute, zap.NewNop())
	_, err := cache.Analyze(context.TODO(), images, models.LanguageEnglish)
	require.NoError(t, err)
	next.AssertNumberOfCalls(t, "Analyze", 1)
}
