package telegram

import (
	"sync"
	"time"

	"rzd_seat_bot/internal/domain/availability"
)

// State is where a user is in the subscription dialogue.
type State int

const (
	StateIdle State = iota
	StateAwaitingDeparture
	StateAwaitingArrival
	StateAwaitingDate
	StateAwaitingTrain
	StateAwaitingClass
	StateAwaitingBerth
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingDeparture:
		return "awaiting_departure"
	case StateAwaitingArrival:
		return "awaiting_arrival"
	case StateAwaitingDate:
		return "awaiting_date"
	case StateAwaitingTrain:
		return "awaiting_train"
	case StateAwaitingClass:
		return "awaiting_class"
	case StateAwaitingBerth:
		return "awaiting_berth"
	default:
		return "unknown"
	}
}

// Session is one user's dialogue state with the partially filled draft.
type Session struct {
	State            State
	DepartureStation string
	ArrivalStation   string
	DepartureDate    time.Time
	TrainNumber      string
	SeatClass        string
	Trains           []availability.Train // last search result, the valid train picks
	UpdatedAt        time.Time
}

// DefaultSessionTTL is how long an untouched dialogue survives.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore keeps sessions in memory. Expired sessions read as idle.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		sessions: make(map[int64]Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *SessionStore) Get(userID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return Session{State: StateIdle}
	}
	if s.now().Sub(sess.UpdatedAt) > s.ttl {
		delete(s.sessions, userID)
		return Session{State: StateIdle}
	}
	return sess
}

func (s *SessionStore) Put(userID int64, sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.State == StateIdle {
		delete(s.sessions, userID)
		return
	}
	sess.UpdatedAt = s.now()
	s.sessions[userID] = sess
}

func (s *SessionStore) Reset(userID int64) {
	s.Put(userID, Session{State: StateIdle})
}
