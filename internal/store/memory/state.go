package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/models"
)

func (s *Store) ListCredentials(context.Context) ([]models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Credential, len(s.creds))
	for i, c := range s.creds {
		if c.LastUsedAt != nil {
			t := *c.LastUsedAt
			c.LastUsedAt = &t
		}
		out[i] = c
	}
	return out, nil
}

func (s *Store) TouchCredential(_ context.Context, username string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.credIndex(username)
	if err != nil {
		return err
	}
	s.creds[i].LastUsedAt = &usedAt
	return nil
}

func (s *Store) SetCredentialActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.credIndex(username)
	if err != nil {
		return err
	}
	s.creds[i].Active = active
	return nil
}

func (s *Store) AddCredential(_ context.Context, c models.Credential) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.credIndex(c.Username); err == nil {
		return false, nil
	}
	c.ID = s.id()
	s.creds = append(s.creds, c)
	return true, nil
}

func (s *Store) credIndex(username string) (int, error) {
	for i := range s.creds {
		if s.creds[i].Username == username {
			return i, nil
		}
	}
	return -1, fmt.Errorf("credential %s not found", username)
}

func (s *Store) LoadSchedules(context.Context) ([]models.TopicSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.TopicSchedule, 0, len(s.schedules))
	for _, ts := range s.schedules {
		out = append(out, ts)
	}
	return out, nil
}

func (s *Store) SaveSchedule(_ context.Context, ts models.TopicSchedule) error {
	if ts.CriticalInterval > ts.NormalInterval {
		return fmt.Errorf("schedule %s: critical interval exceeds normal interval", ts.Topic)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[ts.Topic] = ts
	return nil
}
