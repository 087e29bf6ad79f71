package service

import (
	"context"
	"time"

	"member_comms/internal/repository"
	"member_comms/pkg/logger"
)

type RateLimitService interface {
	// Allow counts one hit for key and reports whether it is within limit.
	// Backend failures fail open.
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

type rateLimitService struct {
	rateLimitRepo repository.RateLimitRepository
	log           logger.Logger
}

func NewRateLimitService(rateLimitRepo repository.RateLimitRepository, log logger.Logger) RateLimitService {
	return &rateLimitService{
		rateLimitRepo: rateLimitRepo,
		log:           log,
	}
}

func (s *rateLimitService) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	allowed, err := s.rateLimitRepo.Allow(ctx, key, limit, window)
	if err != nil {
		s.log.Warn("Rate limit check failed", "error", err, "key", key)
		return true
	}
	return allowed
}
