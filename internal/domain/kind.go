package domain

import (
	"errors"
	"fmt"
)

var (
	ErrKindMismatch     = errors.New("snapshot kind mismatch")
	ErrIdentityMismatch = errors.New("snapshot identity mismatch")
)

type Kind int

const (
	KindBattleStats Kind = iota + 1
	KindRatingStats
	KindVehicle
	KindAccount
	KindClan
	KindMedals
)

func (k Kind) String() string {
	switch k {
	case KindBattleStats:
		return "battle_stats"
	case KindRatingStats:
		return "rating_stats"
	case KindVehicle:
		return "vehicle"
	case KindAccount:
		return "account"
	case KindClan:
		return "clan"
	case KindMedals:
		return "medals"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Snapshot is implemented by every value the delta algebra understands.
// Both values and pointers of these types satisfy it.
type Snapshot interface {
	Kind() Kind
	snapshot()
}

func (BattleStats) Kind() Kind     { return KindBattleStats }
func (RatingStats) Kind() Kind     { return KindRatingStats }
func (VehicleSnapshot) Kind() Kind { return KindVehicle }
func (AccountSnapshot) Kind() Kind { return KindAccount }
func (ClanSnapshot) Kind() Kind    { return KindClan }
func (MedalSet) Kind() Kind        { return KindMedals }

func (BattleStats) snapshot()     {}
func (RatingStats) snapshot()     {}
func (VehicleSnapshot) snapshot() {}
func (AccountSnapshot) snapshot() {}
func (ClanSnapshot) snapshot()    {}
func (MedalSet) snapshot()        {}

type subtractor func(newer, older Snapshot) (Snapshot, error)

var subtractors = map[Kind]subtractor{
	KindBattleStats: pure(SubtractBattleStats),
	KindRatingStats: pure(SubtractRatingStats),
	KindVehicle:     checked(SubtractVehicle),
	KindAccount:     checked(SubtractAccount),
	KindClan:        checked(SubtractClan),
	KindMedals:      checked(SubtractMedals),
}

// Subtract dispatches to the subtraction rule of the operands' kind. It
// returns a nil Snapshot when nothing progressed.
func Subtract(newer, older Snapshot) (Snapshot, error) {
	if newer == nil || older == nil {
		return nil, fmt.Errorf("%w: nil operand", ErrKindMismatch)
	}
	if newer.Kind() != older.Kind() {
		return nil, fmt.Errorf("%w: %s vs %s", ErrKindMismatch, newer.Kind(), older.Kind())
	}
	fn, ok := subtractors[newer.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: no rule for %s", ErrKindMismatch, newer.Kind())
	}
	return fn(newer, older)
}

func pure[T Snapshot](fn func(newer, older T) *T) subtractor {
	return checked(func(newer, older T) (*T, error) { return fn(newer, older), nil })
}

func checked[T Snapshot](fn func(newer, older T) (*T, error)) subtractor {
	return func(newer, older Snapshot) (Snapshot, error) {
		n, err := as[T](newer)
		if err != nil {
			return nil, err
		}
		o, err := as[T](older)
		if err != nil {
			return nil, err
		}
		d, err := fn(n, o)
		if err != nil || d == nil {
			return nil, err
		}
		return *d, nil
	}
}

func as[T Snapshot](s Snapshot) (T, error) {
	switch v := any(s).(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: unexpected %T", ErrKindMismatch, s)
}
