package cache

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/kjstillabower/trends-watcher/internal/models"
)

// createTestTrends creates a representative trends payload for benchmarks.
func createTestTrends(geo string) models.TrendsResponse {
	google := make([]models.TrendKeyword, 0, 20)
	for i := 0; i < 20; i++ {
		google = append(google, models.TrendKeyword{
			Name:   fmt.Sprintf("topic %d", i),
			Value:  "50K+",
			Source: "Google Trends (US)",
			URL:    "https://www.google.com/search?q=topic&udm=50",
		})
	}
	return models.TrendsResponse{
		Google:    google,
		Github:    []models.TrendKeyword{{Name: "owner/repo", Value: "+1234", Source: "GitHub Trends", URL: "https://github.com/owner/repo"}},
		Timestamp: time.Now(),
		Params:    models.TrendsParams{Timeframe: "now 1-d", Geo: geo},
	}
}

// BenchmarkInMemoryCache_Get_Hit benchmarks cache Get operation on cache hit.
func BenchmarkInMemoryCache_Get_Hit(b *testing.B) {
	cache := NewInMemoryCache[models.TrendsResponse](DefaultTTL)
	ctx := context.Background()

	// Pre-populate cache
	_ = cache.Set(ctx, "trends?geo=us", createTestTrends("US"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = cache.Get(ctx, "trends?geo=us")
	}
}

// BenchmarkInMemoryCache_Get_Miss benchmarks cache Get operation on cache miss.
func BenchmarkInMemoryCache_Get_Miss(b *testing.B) {
	cache := NewInMemoryCache[models.TrendsResponse](DefaultTTL)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = cache.Get(ctx, "nonexistent")
	}
}

// BenchmarkInMemoryCache_Set benchmarks cache Set operation.
func BenchmarkInMemoryCache_Set(b *testing.B) {
	cache := NewInMemoryCache[models.TrendsResponse](DefaultTTL)
	ctx := context.Background()
	testData := createTestTrends("US")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.Set(ctx, "trends?geo=us", testData)
	}
}

// BenchmarkInMemoryCache_Concurrent benchmarks concurrent cache operations.
func BenchmarkInMemoryCache_Concurrent(b *testing.B) {
	cache := NewInMemoryCache[models.TrendsResponse](DefaultTTL)
	ctx := context.Background()
	_ = cache.Set(ctx, "trends?geo=us", createTestTrends("US"))

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _, _ = cache.Get(ctx, "trends?geo=us")
		}
	})
}

// BenchmarkMemcachedCache_Get_Hit benchmarks Memcached Get on cache hit.
// Requires: Memcached running (skip if unavailable).
func BenchmarkMemcachedCache_Get_Hit(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping Memcached benchmark in short mode")
	}

	conn, err := NewMemcachedConn("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		b.Skipf("Memcached not available: %v", err)
	}
	defer conn.Close()
	cache := NewMemcachedCache[models.TrendsResponse](conn, DefaultTTL)

	ctx := context.Background()
	if err := cache.Set(ctx, "trends?geo=us", createTestTrends("US")); err != nil {
		b.Skipf("Memcached not available: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = cache.Get(ctx, "trends?geo=us")
	}
}

// BenchmarkMemcachedCache_Set benchmarks Memcached Set operation.
func BenchmarkMemcachedCache_Set(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping Memcached benchmark in short mode")
	}

	conn, err := NewMemcachedConn("localhost:11211", 500*time.Millisecond, 2)
	if err != nil {
		b.Skipf("Memcached not available: %v", err)
	}
	defer conn.Close()
	cache := NewMemcachedCache[models.TrendsResponse](conn, DefaultTTL)

	ctx := context.Background()
	testData := createTestTrends("US")
	if err := conn.Ping(); err != nil {
		b.Skipf("Memcached not available: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.Set(ctx, "trends?geo=us", testData)
	}
}

// BenchmarkInMemoryCache_MemoryPerEntry estimates memory usage per cache entry.
func BenchmarkInMemoryCache_MemoryPerEntry(b *testing.B) {
	cache := NewInMemoryCache[models.TrendsResponse](DefaultTTL)
	ctx := context.Background()
	testData := createTestTrends("US")

	var m1, m2 runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m1)

	for i := 0; i < b.N; i++ {
		_ = cache.Set(ctx, fmt.Sprintf("trends?geo=%d", i), testData)
	}

	runtime.GC()
	runtime.ReadMemStats(&m2)

	bytesPerEntry := float64(m2.Alloc-m1.Alloc) / float64(b.N)
	b.ReportMetric(bytesPerEntry, "bytes/entry")
}
