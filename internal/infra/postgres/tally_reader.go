package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"quizmaster/internal/standings"
)

// TallyReader sums answer columns per team in one aggregate query, so the
// leaderboard does not load every answer row of a game.
type TallyReader struct {
	pool *pgxpool.Pool
}

func NewTallyReader(pool *pgxpool.Pool) *TallyReader {
	return &TallyReader{pool: pool}
}

const tallyQuery = `
SELECT a.team_id::text, SUM(a.points), SUM(a.bonus), SUM(a.penalty)
FROM answers a
JOIN rounds r ON r.id = a.round_id
WHERE r.game_id = $1
GROUP BY a.team_id`

func (r *TallyReader) Tallies(ctx context.Context, gameID string) (map[string]standings.Tally, error) {
	rows, err := r.pool.Query(ctx, tallyQuery, gameID)
	if err != nil {
		return nil, fmt.Errorf("query tallies: %w", err)
	}
	defer rows.Close()

	out := make(map[string]standings.Tally)
	for rows.Next() {
		var (
			teamID string
			t      standings.Tally
		)
		if err := rows.Scan(&teamID, &t.Points, &t.Bonus, &t.Penalty); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		out[teamID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read tallies: %w", err)
	}
	return out, nil
}
