package demo

import (
	"github.com/roach88/bpflow/internal/bid"
	"github.com/roach88/bpflow/internal/engine"
	"github.com/roach88/bpflow/internal/event"
)

// Counter events.
var (
	EvCount = event.Named("count")
	EvReset = event.Named("reset")
	EvDone  = event.Named("done")
)

// DefaultCounterLimit is used when the limit prop is missing.
const DefaultCounterLimit = 3

// Counter counts up to the "limit" prop with set bids, then announces done.
// A "reset" dispatch at any time restarts the count; a limit change
// restarts the counter scenario.
func Counter(props engine.Props) engine.StagingFunc {
	limit := int64(DefaultCounterLimit)
	if n, ok := asInt(props["limit"]); ok {
		limit = n
	}
	counter := engine.Scenario{
		Name: "counter",
		Body: func(t *engine.Thread, p engine.Props) error {
			limit, _ := asInt(p["limit"])
			for {
				t.Section("counting")
				r, err := t.Yield(
					bid.Set(EvCount, bid.PayloadFunc(func(cur any) any {
						n, _ := asInt(cur)
						return n + 1
					})),
					bid.AskFor(EvReset, nil),
				)
				if err != nil {
					return err
				}
				if r.Event == EvReset {
					if _, err := t.Set(EvCount, int64(0)); err != nil {
						return err
					}
					continue
				}
				if n, _ := asInt(r.Payload); n >= limit {
					break
				}
			}
			t.Section("done")
			_, err := t.Request(EvDone, limit)
			return err
		},
	}
	guard := engine.Scenario{
		Name: "count guard",
		Body: func(t *engine.Thread, _ engine.Props) error {
			_, err := t.Yield(bid.Block(EvCount, bid.Accept(func(payload any) bool {
				n, ok := asInt(payload)
				return !ok || n < 0
			})))
			return err
		},
	}
	return func(s *engine.Stage) {
		s.Enable(counter, engine.Props{"limit": limit})
		s.Enable(guard, nil)
	}
}
