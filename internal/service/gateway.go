package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// ChargeResult is the gateway's answer to a charge attempt. Success=false
// with a FailReason is a declared decline; a transport error is returned
// separately by Charge.
type ChargeResult struct {
	Success       bool
	TransactionID string
	FailReason    string
}

// Gateway is the external payment boundary: one synchronous call with
// bounded latency. The caller supplies the timeout through ctx.
type Gateway interface {
	Charge(ctx context.Context, orderID string, amount int64, method string) (*ChargeResult, error)
}

// SimulatedGateway approves a configurable fraction of charges after a
// short random delay. It stands in for the real PG integration.
type SimulatedGateway struct {
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration
}

// NewSimulatedGateway creates a gateway with the given success rate (0.0 - 1.0).
func NewSimulatedGateway(successRate float64) *SimulatedGateway {
	return &SimulatedGateway{
		successRate: successRate,
		minLatency:  50 * time.Millisecond,
		maxLatency:  300 * time.Millisecond,
	}
}

// Charge simulates a charge. It honors ctx cancellation, which the
// orchestrator treats as a communication failure.
func (g *SimulatedGateway) Charge(ctx context.Context, orderID string, amount int64, method string) (*ChargeResult, error) {
	latency := g.minLatency
	if g.maxLatency > g.minLatency {
		latency += time.Duration(rand.Int63n(int64(g.maxLatency - g.minLatency)))
	}

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("gateway call aborted: %w", ctx.Err())
	case <-timer.C:
	}

	if rand.Float64() >= g.successRate {
		return &ChargeResult{Success: false, FailReason: "declined by issuer"}, nil
	}

	return &ChargeResult{
		Success:       true,
		TransactionID: fmt.Sprintf("TXN-%s", uuid.New().String()[:8]),
	}, nil
}
