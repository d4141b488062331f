// Package scoring implements the deterministic AniFight scoring formula.
//
// All arithmetic is exact decimal, rounded half-up to two places:
//
//	roleScore = round(characterPower × animePowerScale × multiplier, 2)
//
// where the multiplier is the template's specialty-match multiplier when the
// character's specialty matches the role (case- and whitespace-insensitive)
// and exactly 1.00 otherwise. Missing power or scale counts as zero.
package scoring

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type CharacterStats struct {
	ID          int64
	Name        string
	AnimeName   string
	Power       decimal.NullDecimal
	Scale       decimal.NullDecimal
	Specialties []string
}

type Assignment struct {
	Role        string `json:"role"`
	CharacterID int64  `json:"character_id"`
}

type RoleBreakdown struct {
	Role                string          `json:"role"`
	CharacterID         int64           `json:"character_id"`
	CharacterName       string          `json:"character_name"`
	AnimeName           string          `json:"anime_name,omitempty"`
	CharacterPower      decimal.Decimal `json:"character_power"`
	AnimePowerScale     decimal.Decimal `json:"anime_power_scale"`
	Specialties         []string        `json:"specialties"`
	SpecialtyMatch      bool            `json:"specialty_match"`
	SpecialtyMultiplier decimal.Decimal `json:"specialty_multiplier"`
	RoleScore           decimal.Decimal `json:"role_score"`
}

type TeamResult struct {
	Breakdown []RoleBreakdown `json:"breakdown"`
	Total     decimal.Decimal `json:"total"`
}

type Winner string

const (
	WinnerLeft  Winner = "left"
	WinnerRight Winner = "right"
	WinnerDraw  Winner = "draw"
)

type MatchOutcome struct {
	LeftTeam  TeamResult `json:"left_team"`
	RightTeam TeamResult `json:"right_team"`
	Winner    Winner     `json:"winner"`
}

var one = decimal.RequireFromString("1.00")

// Normalize lower-cases and trims a specialty or role name for comparison.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SpecialtyMatches reports whether any of the character's specialties equals
// the role name after normalization. An empty list or empty role never
// matches.
func SpecialtyMatches(specialties []string, role string) bool {
	if len(specialties) == 0 || role == "" {
		return false
	}
	want := Normalize(role)
	if want == "" {
		return false
	}
	for _, s := range specialties {
		if Normalize(s) == want {
			return true
		}
	}
	return false
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

func round2(d decimal.Decimal) decimal.Decimal {
	// scores are non-negative, so round half away from zero is half-up
	return d.Round(2)
}

// RoleScore computes one assignment's score. Missing power or scale is
// treated as zero.
func RoleScore(power, scale decimal.NullDecimal, multiplier decimal.Decimal) decimal.Decimal {
	return round2(orZero(power).Mul(orZero(scale)).Mul(multiplier))
}

// DrawScore is the unmultiplied score used for draw-tier rating.
func DrawScore(power, scale decimal.NullDecimal) decimal.Decimal {
	return round2(orZero(power).Mul(orZero(scale)))
}

// TeamScore resolves every assignment against the character data and sums
// the role scores. The breakdown mirrors assignment order.
func TeamScore(assignments []Assignment, multiplier decimal.Decimal, characters map[int64]CharacterStats) TeamResult {
	result := TeamResult{Breakdown: make([]RoleBreakdown, 0, len(assignments)), Total: decimal.Zero}
	for _, a := range assignments {
		char := characters[a.CharacterID]
		matched := SpecialtyMatches(char.Specialties, a.Role)
		m := one
		if matched {
			m = multiplier
		}
		score := RoleScore(char.Power, char.Scale, m)
		result.Breakdown = append(result.Breakdown, RoleBreakdown{
			Role:                a.Role,
			CharacterID:         a.CharacterID,
			CharacterName:       char.Name,
			AnimeName:           char.AnimeName,
			CharacterPower:      orZero(char.Power),
			AnimePowerScale:     orZero(char.Scale),
			Specialties:         char.Specialties,
			SpecialtyMatch:      matched,
			SpecialtyMultiplier: m,
			RoleScore:           score,
		})
		result.Total = result.Total.Add(score)
	}
	result.Total = round2(result.Total)
	return result
}

// MatchResult scores both teams and decides the winner. Equality is exact
// decimal equality, never epsilon-based.
func MatchResult(left, right []Assignment, multiplier decimal.Decimal, characters map[int64]CharacterStats) MatchOutcome {
	outcome := MatchOutcome{
		LeftTeam:  TeamScore(left, multiplier, characters),
		RightTeam: TeamScore(right, multiplier, characters),
	}
	switch outcome.LeftTeam.Total.Cmp(outcome.RightTeam.Total) {
	case 1:
		outcome.Winner = WinnerLeft
	case -1:
		outcome.Winner = WinnerRight
	default:
		outcome.Winner = WinnerDraw
	}
	return outcome
}

// Band is one configured rating band: the minimum percentile that earns the
// tier, and the label shown for it.
type Band struct {
	Min   float64
	Label string
}

// DrawTier rates a draw score against the pool it was drawn from. The
// percentile is the share of pool scores less than or equal to the draw
// score; bands are walked from the highest configured minimum downward and
// the first band at or below the percentile wins. An empty pool yields the
// lowest band.
func DrawTier(drawScore decimal.Decimal, pool []CharacterStats, bands map[string]Band) (string, string) {
	type tierBand struct {
		tier string
		band Band
	}
	ordered := make([]tierBand, 0, len(bands))
	for tier, band := range bands {
		ordered = append(ordered, tierBand{tier, band})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].band.Min != ordered[j].band.Min {
			return ordered[i].band.Min > ordered[j].band.Min
		}
		return ordered[i].tier < ordered[j].tier
	})
	if len(ordered) == 0 {
		return "", ""
	}
	lowest := ordered[len(ordered)-1]

	if len(pool) == 0 {
		return lowest.tier, lowest.band.Label
	}

	atOrBelow := 0
	for _, char := range pool {
		if DrawScore(char.Power, char.Scale).Cmp(drawScore) <= 0 {
			atOrBelow++
		}
	}
	percentile := float64(atOrBelow) / float64(len(pool)) * 100

	for _, tb := range ordered {
		if tb.band.Min <= percentile {
			return tb.tier, tb.band.Label
		}
	}
	return lowest.tier, lowest.band.Label
}
