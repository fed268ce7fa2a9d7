package core

// DerivePhase derives the phase label from order composition: S2 when both
// a buy exit and a sell exit exist, S1a for a buy exit, S1b for a sell
// exit, S0 otherwise.
func DerivePhase(state PairState) Phase {
	hasBuyExit, hasSellExit := false, false
	for _, o := range state.Orders {
		if o.Role != RoleExit {
			continue
		}
		if o.Side == SideBuy {
			hasBuyExit = true
		} else {
			hasSellExit = true
		}
	}

	switch {
	case hasBuyExit && hasSellExit:
		return PhaseS2
	case hasBuyExit:
		return PhaseS1a
	case hasSellExit:
		return PhaseS1b
	default:
		return PhaseS0
	}
}

func clearS2FlagIfNotS2(state PairState) PairState {
	if state.S2EnteredAt == nil {
		return state
	}
	if DerivePhase(state) == PhaseS2 {
		return state
	}
	state.S2EnteredAt = nil
	return state
}

// CheckInvariants is the strict phase-composition checker. It reports
// every violation it finds rather than stopping at the first one.
func CheckInvariants(state PairState) []string {
	var violations []string
	phase := DerivePhase(state)

	var entries, exits, buyEntries, sellEntries, buyExits, sellExits []OrderState
	seen := make(map[int64]bool, len(state.Orders))
	dup := false
	for _, o := range state.Orders {
		if seen[o.LocalID] {
			dup = true
		}
		seen[o.LocalID] = true
		if o.Role == RoleEntry {
			entries = append(entries, o)
			if o.Side == SideBuy {
				buyEntries = append(buyEntries, o)
			} else {
				sellEntries = append(sellEntries, o)
			}
		} else {
			exits = append(exits, o)
			if o.Side == SideBuy {
				buyExits = append(buyExits, o)
			} else {
				sellExits = append(sellExits, o)
			}
		}
	}
	if dup {
		violations = append(violations, "duplicate order local_id")
	}

	switch phase {
	case PhaseS0:
		switch {
		case state.LongOnly:
			if len(buyEntries) != 1 || len(sellEntries) != 0 || len(exits) != 0 {
				violations = append(violations, "S0 long_only must be exactly one buy entry")
			}
		case state.ShortOnly:
			if len(sellEntries) != 1 || len(buyEntries) != 0 || len(exits) != 0 {
				violations = append(violations, "S0 short_only must be exactly one sell entry")
			}
		default:
			if len(buyEntries) != 1 || len(sellEntries) != 1 || len(exits) != 0 {
				violations = append(violations, "S0 must be exactly A sell entry + B buy entry")
			}
		}
	case PhaseS1a:
		if state.ShortOnly {
			if len(buyExits) != 1 {
				violations = append(violations, "S1a short_only must have one buy exit")
			}
		} else {
			if len(buyExits) != 1 || len(buyEntries) != 1 || len(sellEntries) != 0 || len(sellExits) != 0 {
				violations = append(violations, "S1a must be one buy exit + one buy entry")
			}
		}
	case PhaseS1b:
		if state.LongOnly {
			if len(sellExits) != 1 {
				violations = append(violations, "S1b long_only must have one sell exit")
			}
		} else {
			if len(sellExits) != 1 || len(sellEntries) != 1 || len(buyEntries) != 0 || len(buyExits) != 0 {
				violations = append(violations, "S1b must be one sell exit + one sell entry")
			}
		}
	case PhaseS2:
		if len(buyExits) != 1 || len(sellExits) != 1 || len(entries) != 0 {
			violations = append(violations, "S2 must be one buy exit + one sell exit only")
		}
	}

	if phase != PhaseS2 && state.S2EnteredAt != nil {
		violations = append(violations, "s2_entered_at must be null outside S2")
	}

	for _, o := range state.Orders {
		if o.Cycle < 1 {
			violations = append(violations, "order cycle must be >= 1")
		}
		if o.Role == RoleExit && o.EntryPrice.Sign() <= 0 {
			violations = append(violations, "exit must carry entry_price")
		}
		if o.Volume.Sign() <= 0 {
			violations = append(violations, "order volume must be > 0")
		}
	}

	if state.CycleA < 1 || state.CycleB < 1 {
		violations = append(violations, "cycle counters must be >= 1")
	}

	return violations
}

// IsTransientViolation reports whether violations are entirely accounted
// for by the two known-transient patterns: min-size-wait (no entries at
// all in S0 because ComputeOrderVolume returned nil) and bootstrap-pending
// (exactly one of the two S0 entries placed).
func IsTransientViolation(state PairState) bool {
	if len(CheckInvariants(state)) == 0 {
		return false
	}
	if DerivePhase(state) != PhaseS0 {
		return false
	}
	entries := 0
	for _, o := range state.Orders {
		if o.Role == RoleEntry {
			entries++
		}
	}
	return entries <= 1
}
