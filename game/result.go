package game

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/saeki-dev/anifight/model"
	"github.com/saeki-dev/anifight/scoring"
	"github.com/saeki-dev/anifight/state"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func encodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func statsFromCharacters(chars []model.Character) map[int64]scoring.CharacterStats {
	out := make(map[int64]scoring.CharacterStats, len(chars))
	for _, c := range chars {
		stats := scoring.CharacterStats{
			ID:          int64(c.ID),
			Name:        c.Name,
			Power:       c.CharacterPower,
			Specialties: c.Specialties,
		}
		if c.Anime != nil {
			stats.AnimeName = c.Anime.Name
			stats.Scale = c.Anime.AnimePowerScale
		}
		out[int64(c.ID)] = stats
	}
	return out
}

// orderedAssignments turns a placement map into an assignment list that
// mirrors the template's role order, so score breakdowns are deterministic.
func orderedAssignments(roles []string, placements map[string]int64) []scoring.Assignment {
	seen := make(map[string]bool, len(roles))
	out := make([]scoring.Assignment, 0, len(placements))
	for _, role := range roles {
		if seen[role] {
			continue
		}
		seen[role] = true
		if id, ok := placements[role]; ok {
			out = append(out, scoring.Assignment{Role: role, CharacterID: id})
		}
	}
	return out
}

// finishGame is the single path that scores and ends a match. Normal
// completion and the disconnect force-end both land here, so forced results
// are computed exactly like regular ones, against whatever placements exist.
func (r *Room) finishGame(ctx context.Context, roomCode, reason string) error {
	var results *scoring.MatchOutcome

	st, err := r.store.Get(ctx, roomCode)
	if errors.Is(err, state.ErrStateNotFound) {
		st, err = r.rebuildQuiet(ctx, roomCode)
	}
	if err != nil {
		return err
	}
	if st != nil {
		results, err = r.computeResults(ctx, st)
		if err != nil {
			return err
		}
	}

	if _, err := r.rooms.SetStatus(ctx, roomCode, model.StatusCompleted); err != nil {
		return err
	}

	r.broadcast(ctx, roomCode, routeGameEnded, GameEndedEvent{Reason: reason, Results: results})

	winner := ""
	if results != nil {
		winner = string(results.Winner)
	}
	zap.L().Info("game ended",
		zap.String("room", roomCode),
		zap.String("reason", reason),
		zap.String("winner", winner),
	)
	return nil
}

func (r *Room) rebuildQuiet(ctx context.Context, roomCode string) (*state.GameState, error) {
	st, err := r.store.Rebuild(ctx, roomCode)
	if errors.Is(err, state.ErrStateNotFound) {
		// the game never started; there is nothing to score
		return nil, nil
	}
	return st, err
}

// computeResults scores the match from the snapshot. A missing template is
// an explicit error; missing stats on an individual character score as zero
// inside the engine.
func (r *Room) computeResults(ctx context.Context, st *state.GameState) (*scoring.MatchOutcome, error) {
	tmpl, err := r.content.Template(ctx, st.TemplateID)
	if err != nil {
		return nil, err
	}

	idSet := make(map[int64]struct{}, len(st.HostPlacements)+len(st.GuestPlacements))
	for _, id := range st.HostPlacements {
		idSet[id] = struct{}{}
	}
	for _, id := range st.GuestPlacements {
		idSet[id] = struct{}{}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	chars, err := r.content.Characters(ctx, ids)
	if err != nil {
		return nil, err
	}

	roles := tmpl.RoleList()
	outcome := scoring.MatchResult(
		orderedAssignments(roles, st.HostPlacements),
		orderedAssignments(roles, st.GuestPlacements),
		tmpl.Multiplier(),
		statsFromCharacters(chars),
	)
	return &outcome, nil
}

// drawTier rates a freshly drawn character against the room's pool. Rating
// is decoration on the draw event; any lookup failure degrades to no tier
// rather than failing the action.
func (r *Room) drawTier(ctx context.Context, st *state.GameState, characterID int64) (string, string) {
	tmpl, err := r.content.Template(ctx, st.TemplateID)
	if err != nil {
		zap.L().Warn("draw tier skipped, template lookup failed", zap.Error(err))
		return "", ""
	}
	poolChars, err := r.content.CharactersByAnime(ctx, st.AnimePoolIDs)
	if err != nil {
		zap.L().Warn("draw tier skipped, pool lookup failed", zap.Error(err))
		return "", ""
	}

	pool := make([]scoring.CharacterStats, 0, len(poolChars))
	var drawn *scoring.CharacterStats
	for _, stats := range statsFromCharacters(poolChars) {
		stats := stats
		pool = append(pool, stats)
		if stats.ID == characterID {
			drawn = &stats
		}
	}

	var score decimal.Decimal
	if drawn != nil {
		score = scoring.DrawScore(drawn.Power, drawn.Scale)
	}

	bands := make(map[string]scoring.Band, len(tmpl.Bands()))
	for tier, band := range tmpl.Bands() {
		bands[tier] = scoring.Band{Min: band.Min, Label: band.Label}
	}
	return scoring.DrawTier(score, pool, bands)
}
