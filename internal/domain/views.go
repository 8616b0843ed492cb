package domain

type StatsView struct {
	Counters BattleStats `json:"counters"`
	Derived  Ratios      `json:"derived"`
}

func NewStatsView(s *BattleStats) *StatsView {
	if s == nil {
		return nil
	}
	return &StatsView{Counters: *s, Derived: s.Ratios()}
}

type RatingView struct {
	Counters RatingStats `json:"counters"`
	Derived  Ratios      `json:"derived"`
}

func NewRatingView(r *RatingStats) *RatingView {
	if r == nil {
		return nil
	}
	return &RatingView{Counters: *r, Derived: r.BattleStats.Ratios()}
}

type VehicleView struct {
	TankID         int64       `json:"tank_id"`
	Info           VehicleInfo `json:"info"`
	Stats          StatsView   `json:"stats"`
	LastBattleTime int64       `json:"last_battle_time"`
	BattleLifeTime int64       `json:"battle_life_time"`
	MarkOfMastery  int64       `json:"mark_of_mastery"`
}

func NewVehicleViews(vs []VehicleSnapshot, info func(tankID int64) VehicleInfo) []VehicleView {
	if len(vs) == 0 {
		return nil
	}
	out := make([]VehicleView, 0, len(vs))
	for _, v := range vs {
		out = append(out, VehicleView{
			TankID:         v.VehicleID,
			Info:           info(v.VehicleID),
			Stats:          *NewStatsView(&v.All),
			LastBattleTime: v.LastBattleTime,
			BattleLifeTime: v.BattleLifeTime,
			MarkOfMastery:  v.MarkOfMastery,
		})
	}
	return out
}

// PlayerSession is the progress of a player since the stored capture.
// Partial is set when some sub-fetch did not complete in time.
type PlayerSession struct {
	AccountID int64         `json:"account_id"`
	Nickname  string        `json:"nickname"`
	Region    string        `json:"region"`
	Elapsed   int64         `json:"time"`
	Private   *Private      `json:"private,omitempty"`
	General   *StatsView    `json:"general"`
	Rating    *RatingView   `json:"rating"`
	Vehicles  []VehicleView `json:"tanks"`
	Medals    []MedalCount  `json:"medals"`
	Partial   bool          `json:"partial"`
}

type MemberView struct {
	AccountID int64       `json:"account_id"`
	Nickname  string      `json:"nickname"`
	General   *StatsView  `json:"general"`
	Rating    *RatingView `json:"rating"`
}

type ClanSession struct {
	ClanID  int64        `json:"clan_id"`
	Name    string       `json:"name"`
	Tag     string       `json:"tag"`
	Region  string       `json:"region"`
	Elapsed int64        `json:"time"`
	General *StatsView   `json:"general"`
	Members []MemberView `json:"members"`
}

func NewClanSession(d ClanSnapshot) ClanSession {
	members := make([]MemberView, 0, len(d.Members))
	for _, m := range d.Members {
		members = append(members, MemberView{
			AccountID: m.AccountID,
			Nickname:  m.Nickname,
			General:   NewStatsView(m.Statistics.All),
			Rating:    NewRatingView(m.Statistics.Rating),
		})
	}
	return ClanSession{
		ClanID:  d.ClanID,
		Name:    d.Name,
		Tag:     d.Tag,
		Region:  d.Region,
		Elapsed: d.Timestamp,
		General: NewStatsView(d.Statistics),
		Members: members,
	}
}
