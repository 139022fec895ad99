package throttle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const suspensionKeyPrefix = "linkcheck:suspend:"

type suspensionPayload struct {
	ResumeAt int64  `json:"resume_at"`
	Reason   string `json:"reason"`
}

// RedisSuspensions shares domain suspensions through Redis. Timed
// suspensions expire on their own once the resume time has passed.
type RedisSuspensions struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSuspensions wraps client.
func NewRedisSuspensions(client redis.UniversalClient) *RedisSuspensions {
	return &RedisSuspensions{client: client, now: time.Now}
}

func suspensionKey(domain string) string {
	return suspensionKeyPrefix + domain
}

// Suspend stores s for domain.
func (r *RedisSuspensions) Suspend(ctx context.Context, domain string, s Suspension) error {
	p := suspensionPayload{Reason: s.Reason}
	var ttl time.Duration
	if !s.ResumeAt.IsZero() {
		p.ResumeAt = s.ResumeAt.Unix()
		ttl = s.ResumeAt.Sub(r.now())
		if ttl <= 0 {
			return r.Clear(ctx, domain)
		}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, suspensionKey(domain), data, ttl).Err(); err != nil {
		return fmt.Errorf("store suspension for %s: %w", domain, err)
	}
	return nil
}

// Lookup returns the suspension stored for domain, if any.
func (r *RedisSuspensions) Lookup(ctx context.Context, domain string) (Suspension, bool, error) {
	data, err := r.client.Get(ctx, suspensionKey(domain)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Suspension{}, false, nil
	}
	if err != nil {
		return Suspension{}, false, fmt.Errorf("lookup suspension for %s: %w", domain, err)
	}
	var p suspensionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Suspension{}, false, fmt.Errorf("decode suspension for %s: %w", domain, err)
	}
	s := Suspension{Reason: p.Reason}
	if p.ResumeAt > 0 {
		s.ResumeAt = time.Unix(p.ResumeAt, 0)
	}
	return s, true, nil
}

// Clear removes any suspension for domain.
func (r *RedisSuspensions) Clear(ctx context.Context, domain string) error {
	if err := r.client.Del(ctx, suspensionKey(domain)).Err(); err != nil {
		return fmt.Errorf("clear suspension for %s: %w", domain, err)
	}
	return nil
}
