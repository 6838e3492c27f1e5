package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gaslift/facilitator/internal/chains"
	"github.com/gaslift/facilitator/internal/circuitbreaker"
	"github.com/gaslift/facilitator/pkg/responders"
)

type healthResponse struct {
	Status        string                 `json:"status"` // "ok" or "degraded"
	Version       string                 `json:"version"`
	UptimeSeconds int64                  `json:"uptimeSeconds"`
	Networks      map[string]chainHealth `json:"networks,omitempty"`
	Breakers      map[string]string      `json:"breakers,omitempty"`
}

type chainHealth struct {
	Healthy     bool   `json:"healthy"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Error       string `json:"error,omitempty"`
}

// health handles GET /healthz. Probes every enabled chain's RPC in parallel;
// any unreachable chain or open breaker degrades the report to 503 so load
// balancers rotate traffic away.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       protocolVersion,
		UptimeSeconds: int64(time.Since(serverStartTime).Seconds()),
	}

	if h.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		resp.Networks = h.probeChains(ctx, h.cfg.EnabledChains())
		for _, ch := range resp.Networks {
			if !ch.Healthy {
				resp.Status = "degraded"
			}
		}
	}

	if h.breakers != nil {
		resp.Breakers = map[string]string{
			string(circuitbreaker.ServiceEVMRPC):       h.breakers.State(circuitbreaker.ServiceEVMRPC),
			string(circuitbreaker.ServiceSignerOracle): h.breakers.State(circuitbreaker.ServiceSignerOracle),
		}
		for _, state := range resp.Breakers {
			if state == "open" {
				resp.Status = "degraded"
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	responders.JSON(w, status, resp)
}

func (h *handlers) probeChains(ctx context.Context, enabled []chains.Chain) map[string]chainHealth {
	results := make(map[string]chainHealth, len(enabled))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, chain := range enabled {
		wg.Add(1)
		go func(chain chains.Chain) {
			defer wg.Done()
			var ch chainHealth

			client, err := h.pool.Client(chain)
			if err == nil {
				var block uint64
				block, err = client.BlockNumber(ctx)
				ch.BlockNumber = block
			}
			if err != nil {
				ch.Error = err.Error()
			} else {
				ch.Healthy = true
			}

			mu.Lock()
			results[chain.Name] = ch
			mu.Unlock()
		}(chain)
	}
	wg.Wait()
	return results
}
