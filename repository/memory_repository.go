package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"planning-poker-backend/model"
)

type sessionRecord struct {
	session      model.Session
	participants []model.Participant
	votes        map[uint]model.Vote // 按参与者ID
}

// MemorySessionRepository 进程内会话仓库
type MemorySessionRepository struct {
	mu                sync.RWMutex
	sessions          map[string]*sessionRecord
	nextSessionID     uint
	nextParticipantID uint
	nextVoteID        uint
}

// NewMemorySessionRepository 创建内存仓库
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{
		sessions:          make(map[string]*sessionRecord),
		nextSessionID:     1,
		nextParticipantID: 1,
		nextVoteID:        1,
	}
}

func (r *MemorySessionRepository) CreateSession(_ context.Context, session *model.Session, host *model.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.PIN]; ok {
		return ErrDuplicatePIN
	}
	session.ID = r.nextSessionID
	r.nextSessionID++
	rec := &sessionRecord{
		session: *session,
		votes:   make(map[uint]model.Vote),
	}
	if host != nil {
		host.ID = r.nextParticipantID
		r.nextParticipantID++
		id := host.ID
		rec.session.HostParticipantID = &id
		rec.participants = append(rec.participants, *host)
		session.HostParticipantID = &host.ID
	}
	r.sessions[session.PIN] = rec
	return nil
}

func (r *MemorySessionRepository) PINExists(_ context.Context, pin string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[pin]
	return ok, nil
}

func (r *MemorySessionRepository) GetSession(_ context.Context, pin string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[pin]
	if !ok {
		return nil, ErrSessionNotFound
	}
	s := copySession(rec.session)
	return &s, nil
}

func (r *MemorySessionRepository) GetSnapshot(_ context.Context, pin string) (*model.SessionSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[pin]
	if !ok {
		return nil, ErrSessionNotFound
	}

	participants := make([]model.Participant, len(rec.participants))
	copy(participants, rec.participants)
	votes := make([]model.Vote, 0, len(rec.votes))
	for _, v := range rec.votes {
		votes = append(votes, v)
	}
	sort.Slice(votes, func(i, j int) bool { return votes[i].ID < votes[j].ID })

	return &model.SessionSnapshot{
		Session:      copySession(rec.session),
		Participants: participants,
		Votes:        votes,
	}, nil
}

func (r *MemorySessionRepository) SetStatus(_ context.Context, pin string, status model.SessionStatus) error {
	return r.update(pin, func(rec *sessionRecord) error {
		rec.session.Status = status
		return nil
	})
}

func (r *MemorySessionRepository) SetRevealed(_ context.Context, pin string, revealed bool) error {
	return r.update(pin, func(rec *sessionRecord) error {
		rec.session.Revealed = revealed
		return nil
	})
}

func (r *MemorySessionRepository) DeleteSession(_ context.Context, pin string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[pin]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, pin)
	return nil
}

func (r *MemorySessionRepository) ListExpired(_ context.Context, before time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pins []string
	for pin, rec := range r.sessions {
		if rec.session.CreatedAt.Before(before) {
			pins = append(pins, pin)
		}
	}
	sort.Strings(pins)
	return pins, nil
}

func (r *MemorySessionRepository) AddParticipant(_ context.Context, pin string, participant *model.Participant) error {
	return r.update(pin, func(rec *sessionRecord) error {
		participant.ID = r.nextParticipantID
		r.nextParticipantID++
		rec.participants = append(rec.participants, *participant)
		return nil
	})
}

func (r *MemorySessionRepository) GetParticipant(_ context.Context, pin string, participantID uint) (*model.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[pin]
	if !ok {
		return nil, ErrSessionNotFound
	}
	i := indexOf(rec.participants, participantID)
	if i < 0 {
		return nil, ErrParticipantNotFound
	}
	p := rec.participants[i]
	return &p, nil
}

func (r *MemorySessionRepository) RemoveParticipant(_ context.Context, pin string, participantID uint) (*model.Participant, error) {
	var removed model.Participant
	err := r.update(pin, func(rec *sessionRecord) error {
		i := indexOf(rec.participants, participantID)
		if i < 0 {
			return ErrParticipantNotFound
		}
		removed = rec.participants[i]
		rec.participants = append(rec.participants[:i], rec.participants[i+1:]...)
		delete(rec.votes, participantID)
		if h := rec.session.HostParticipantID; h != nil && *h == participantID {
			rec.session.HostParticipantID = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

// ReplaceVote 在同一临界区内替换参与者的当前投票
func (r *MemorySessionRepository) ReplaceVote(_ context.Context, pin string, vote *model.Vote) error {
	return r.update(pin, func(rec *sessionRecord) error {
		if indexOf(rec.participants, vote.ParticipantID) < 0 {
			return ErrParticipantNotFound
		}
		vote.ID = r.nextVoteID
		r.nextVoteID++
		rec.votes[vote.ParticipantID] = *vote
		return nil
	})
}

func (r *MemorySessionRepository) ResetRound(_ context.Context, pin string) error {
	return r.update(pin, func(rec *sessionRecord) error {
		rec.votes = make(map[uint]model.Vote)
		rec.session.Revealed = false
		return nil
	})
}

func (r *MemorySessionRepository) Ping(_ context.Context) error {
	return nil
}

func (r *MemorySessionRepository) update(pin string, fn func(rec *sessionRecord) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[pin]
	if !ok {
		return ErrSessionNotFound
	}
	return fn(rec)
}

func indexOf(participants []model.Participant, id uint) int {
	for i, p := range participants {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func copySession(s model.Session) model.Session {
	if s.HostParticipantID != nil {
		id := *s.HostParticipantID
		s.HostParticipantID = &id
	}
	return s
}
