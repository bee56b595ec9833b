package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	service "github.com/okian/tiara/internal/app"
	"github.com/okian/tiara/internal/domain/model"
	"github.com/okian/tiara/internal/domain/registry"
	"github.com/okian/tiara/internal/domain/results"
	"github.com/okian/tiara/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

var epoch = time.Date(2026, 10, 1, 20, 0, 0, 0, time.UTC)

// tickingClock advances one second per call so submissions are ordered.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := epoch
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func testRegistry() *registry.Registry {
	cands := make([]model.Candidate, 0, 20)
	for i := 1; i <= 20; i++ {
		cands = append(cands, model.Candidate{
			ID:     fmt.Sprintf("c%02d", i),
			Name:   fmt.Sprintf("Candidate %02d", i),
			Region: "Region",
			Number: i,
		})
	}
	reg, err := registry.New(cands)
	if err != nil {
		panic(err)
	}
	return reg
}

func ids(n ...int) []string {
	out := make([]string, len(n))
	for i, v := range n {
		out[i] = fmt.Sprintf("c%02d", v)
	}
	return out
}

// publishFinal walks the result to a complete final ranking of c01..c05
// with c06..c08 as extra semi-finalists.
func publishFinal(ctx context.Context, svc *service.Service) error {
	var cmds []results.Command
	for _, id := range ids(1, 2, 3, 4, 5, 6, 7, 8) {
		cmds = append(cmds, results.Command{Transition: results.PromoteSemiFinalist, CandidateID: id})
	}
	for _, id := range ids(1, 2, 3, 4, 5) {
		cmds = append(cmds, results.Command{Transition: results.PromoteTopFive, CandidateID: id})
	}
	for pos, id := range ids(1, 2, 3, 4, 5) {
		cmds = append(cmds, results.Command{Transition: results.AssignPosition, CandidateID: id, Position: pos})
	}
	for _, cmd := range cmds {
		if _, err := svc.ApplyTransition(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
