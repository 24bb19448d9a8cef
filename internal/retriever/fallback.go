package retriever

// fallbackOrder is the fixed degradation order. Hybrid sits in the vector slot.
var fallbackOrder = []Strategy{StrategyVector, StrategyKeyword, StrategyWeb}

// FallbackChain returns the primary strategy followed by every strategy after
// it in the fallback order. The chain never repeats a strategy and is at most
// three entries long.
func FallbackChain(primary Strategy) []Strategy {
	slot := primary
	if slot == StrategyHybrid {
		slot = StrategyVector
	}

	pos := -1
	for i, s := range fallbackOrder {
		if s == slot {
			pos = i
			break
		}
	}
	if pos < 0 {
		return []Strategy{primary}
	}

	chain := make([]Strategy, 0, len(fallbackOrder)-pos)
	chain = append(chain, primary)
	chain = append(chain, fallbackOrder[pos+1:]...)
	return chain
}
