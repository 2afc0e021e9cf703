package memory

import (
	"fmt"
	"testing"
	"time"

	"viralindex/backend/internal/domain"
)

func BenchmarkMemoryStore_SaveDailyScore(b *testing.B) {
	store := NewStore()
	store.SaveModel(&domain.Model{ID: "m1", Slug: "chatgpt", Name: "ChatGPT", IsActive: true})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		score := &domain.DailyScore{
			ID:      fmt.Sprintf("score-%d", i),
			ModelID: "m1",
			Date:    fmt.Sprintf("2026-%02d-%02d", i%12+1, i%28+1),
			Score:   float64(i % 100),
		}
		store.SaveDailyScore(score)
	}
}

func BenchmarkMemoryStore_GetLeaderboard(b *testing.B) {
	store := NewStore()
	date := "2026-03-01"

	// Pre-populate with test data
	for i := 0; i < 200; i++ {
		modelID := fmt.Sprintf("model-%d", i)
		store.SaveModel(&domain.Model{
			ID:       modelID,
			Slug:     fmt.Sprintf("model-%03d", i),
			Name:     fmt.Sprintf("Model %d", i),
			IsActive: true,
		})
		store.SaveDailyScore(&domain.DailyScore{
			ID:      fmt.Sprintf("score-%d", i),
			ModelID: modelID,
			Date:    date,
			Score:   float64(i % 100),
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.GetLeaderboard(date, 50)
	}
}

func BenchmarkMemoryStore_IncrementRateLimit(b *testing.B) {
	store := NewStore()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("ratelimit:ip:10.0.%d.%d", i%256, i%100)
		store.IncrementRateLimit(key, time.Minute)
	}
}

func BenchmarkMemoryStore_ConcurrentAccess(b *testing.B) {
	store := NewStore()
	store.SaveModel(&domain.Model{ID: "m1", Slug: "chatgpt", Name: "ChatGPT", IsActive: true})
	store.SaveDailyScore(&domain.DailyScore{ID: "s1", ModelID: "m1", Date: "2026-03-01", Score: 90})

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("ratelimit:user:user-%d", i%50)
			store.IncrementRateLimit(key, time.Minute)
			store.GetLeaderboard("2026-03-01", 10)
			i++
		}
	})
}
