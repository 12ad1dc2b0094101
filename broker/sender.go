package broker

import (
	"context"
	"encoding/json"

	"github.com/minibot/rpc/message"
)

// runStreamSender is the per-inbound-command task described in §4.6: it
// forwards values from a handler's output sink as response frames, and
// emits exactly one terminal end frame once the sink closes. It reports
// its id back on done so the broker can free the inbound-stream record
// (internal bookkeeping only; never observed on the wire).
func runStreamSender(ctx context.Context, id uint32, in <-chan json.RawMessage, out chan<- message.Message, done chan<- uint32) {
	defer func() {
		select {
		case done <- id:
		case <-ctx.Done():
		}
	}()

loop:
	for {
		select {
		case v, ok := <-in:
			if !ok {
				break loop
			}
			select {
			case out <- message.NewResponse(id, v):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}

	select {
	case out <- message.NewEnd(id):
	case <-ctx.Done():
	}
}
