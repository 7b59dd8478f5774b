package privatedata

func TrackedClaimants(g *Gateway) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.limiters)
}
