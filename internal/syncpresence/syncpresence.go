// Package syncpresence mirrors live room occupancy into Redis so the room
// list served by other services can show who is around.
package syncpresence

import (
	"context"
	"time"

	"studysync/internal/ws"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	liveSet     = "rooms:live"
	hashPrefix  = "room:"
	hashSuffix  = ":live"
	pipeTimeout = 1500 * time.Millisecond
)

func LiveKey(roomID string) string { return hashPrefix + roomID + hashSuffix }

// Source lists the rooms that have at least one connection.
type Source interface {
	Summaries() []ws.RoomSummary
}

type Syncer struct {
	rdc  *redis.Client
	src  Source
	ttl  time.Duration
	now  func() time.Time
	prev map[string]struct{}
}

func NewSyncer(rdc *redis.Client, src Source, ttl time.Duration) *Syncer {
	return &Syncer{rdc: rdc, src: src, ttl: ttl, now: time.Now, prev: map[string]struct{}{}}
}

// Run mirrors occupancy every interval until ctx is done.
func (s *Syncer) Run(ctx context.Context, every time.Duration) {
	tk := time.NewTicker(every)
	go func() {
		defer tk.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				if err := s.syncOnce(ctx); err != nil {
					zap.L().Error("syncpresence.pipeline", zap.Error(err))
				}
			}
		}
	}()
}

// syncOnce writes every live room and drops the ones that emptied since the
// last pass, in one pipelined round-trip.
func (s *Syncer) syncOnce(ctx context.Context) error {
	rooms := s.src.Summaries()
	if len(rooms) == 0 && len(s.prev) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, pipeTimeout)
	defer cancel()

	now := s.now().Unix()
	live := make(map[string]struct{}, len(rooms))
	pipe := s.rdc.Pipeline()
	for _, r := range rooms {
		live[r.ID] = struct{}{}
		key := LiveKey(r.ID)
		pipe.HSet(ctx, key,
			"name", r.Name,
			"members", r.Members,
			"inCall", r.InCall,
			"speakers", r.Speakers,
			"updatedAt", now,
		)
		pipe.Expire(ctx, key, s.ttl)
		pipe.SAdd(ctx, liveSet, r.ID)
	}
	for id := range s.prev {
		if _, ok := live[id]; !ok {
			pipe.Del(ctx, LiveKey(id))
			pipe.SRem(ctx, liveSet, id)
		}
	}
	pipe.Expire(ctx, liveSet, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	s.prev = live
	return nil
}
