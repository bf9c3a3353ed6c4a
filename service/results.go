package service

import (
	"strconv"

	"planning-poker-backend/model"
)

// ComputeResults 每个参与者取最新一票，只对整数牌做统计
func ComputeResults(snapshot *model.SessionSnapshot) *model.Results {
	latest := make(map[uint]model.Vote, len(snapshot.Votes))
	for _, v := range snapshot.Votes {
		cur, ok := latest[v.ParticipantID]
		if !ok || newerVote(v, cur) {
			latest[v.ParticipantID] = v
		}
	}

	results := &model.Results{Votes: make([]model.VoteResult, 0, len(latest))}
	var (
		sum, count int
		lo, hi     int
	)
	for _, p := range snapshot.Participants {
		v, ok := latest[p.ID]
		if !ok {
			continue
		}
		results.Votes = append(results.Votes, model.VoteResult{
			ParticipantID:   p.ID,
			ParticipantName: p.Name,
			CardValue:       v.CardValue,
			VotedAt:         v.VotedAt,
		})

		n, err := strconv.Atoi(v.CardValue)
		if err != nil {
			continue
		}
		if count == 0 || n < lo {
			lo = n
		}
		if count == 0 || n > hi {
			hi = n
		}
		sum += n
		count++
	}

	if count > 0 {
		results.Statistics = &model.Statistics{
			Average: float64(sum) / float64(count),
			Min:     lo,
			Max:     hi,
		}
	}
	return results
}

func newerVote(a, b model.Vote) bool {
	if a.VotedAt.Equal(b.VotedAt) {
		return a.ID > b.ID
	}
	return a.VotedAt.After(b.VotedAt)
}
