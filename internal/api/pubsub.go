package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	SessionFinished struct {
		Session     Session `json:"session"`
		Overwritten bool    `json:"overwritten"`
	}
)

// PublishSessionFinished notifies every participant of the session on their own channel.
func (a *API) PublishSessionFinished(ctx context.Context, e domain.EventSessionFinished) error {
	data := SessionFinished{
		Session:     toSession(e.Session),
		Overwritten: e.Overwritten,
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, u := range e.Session.Participants {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(u), e.Name(), data)
		})
	}

	return eg.Wait()
}

// PublishLeaderboardUpdated broadcasts the new top list on the shared leaderboard channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, a.leaderboardChannel(), e.Name(), toLeaderboard(e.Leaderboard))
}

func (a *API) userChannel(userID string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, userID)
}

func (a *API) leaderboardChannel() string {
	return fmt.Sprintf("%s:leaderboard", a.prefix)
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}
