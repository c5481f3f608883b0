package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	quizzly "github.com/quizzly/quizzly/sdk/golang"
)

var (
	errUnknownTicket = errors.New("unknown or already used ticket")
	errTicketExpired = errors.New("ticket expired")
	errTicketSession = errors.New("ticket issued for another quiz")
)

type ticketEntry struct {
	username  string
	sessionID quizzly.SessionID
	issuedAt  time.Time
}

// ticketStore hands out single-use connection tickets.
type ticketStore struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.Mutex
	tickets map[string]ticketEntry
	issued  int
}

func newTicketStore(ttl time.Duration, clock clockwork.Clock) *ticketStore {
	return &ticketStore{ttl: ttl, clock: clock, tickets: make(map[string]ticketEntry)}
}

func (s *ticketStore) issue(username string, sessionID quizzly.SessionID) quizzly.ConnectionTicket {
	t := quizzly.ConnectionTicket{
		Value:     uuid.NewString(),
		IssuedAt:  s.clock.Now().UTC(),
		SessionID: sessionID,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.Value] = ticketEntry{username: username, sessionID: sessionID, issuedAt: t.IssuedAt}
	s.issued++
	return t
}

// redeem consumes a ticket. A ticket is removed on first presentation, even
// when it turns out to be expired or bound to another session.
func (s *ticketStore) redeem(value string, sessionID quizzly.SessionID) (ticketEntry, error) {
	s.mu.Lock()
	entry, ok := s.tickets[value]
	delete(s.tickets, value)
	s.mu.Unlock()

	switch {
	case !ok:
		return ticketEntry{}, errUnknownTicket
	case s.clock.Since(entry.issuedAt) > s.ttl:
		return ticketEntry{}, errTicketExpired
	case sessionID != 0 && entry.sessionID != sessionID:
		return ticketEntry{}, errTicketSession
	}
	return entry, nil
}

func (s *ticketStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}
