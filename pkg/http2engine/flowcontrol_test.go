package http2engine

import "testing"

func TestFlowWindowConsume(t *testing.T) {
	w := newFlowWindow(100)

	t.Run("BelowHalf", func(t *testing.T) {
		if inc := w.consume(30); inc != 0 {
			t.Fatalf("expected no update below half window, got %d", inc)
		}
	})

	t.Run("CrossesHalf", func(t *testing.T) {
		inc := w.consume(30) // cumulative 60, >= 50
		if inc != 60 {
			t.Fatalf("expected update of 60, got %d", inc)
		}
	})

	t.Run("ResetsAfterUpdate", func(t *testing.T) {
		if inc := w.consume(10); inc != 0 {
			t.Fatalf("expected counter reset after update, got %d", inc)
		}
	})
}

func TestPeerWindowReserve(t *testing.T) {
	p := newPeerWindow(10)

	t.Run("GrantsWithinBudget", func(t *testing.T) {
		grant := p.reserve(5, nil)
		if grant != 5 {
			t.Fatalf("expected grant of 5, got %d", grant)
		}
	})

	t.Run("CapsAtAvailable", func(t *testing.T) {
		grant := p.reserve(100, nil)
		if grant != 5 {
			t.Fatalf("expected grant capped at remaining 5, got %d", grant)
		}
	})

	t.Run("BlocksThenUnblocksOnAdd", func(t *testing.T) {
		done := make(chan int64, 1)
		go func() {
			done <- p.reserve(20, nil)
		}()
		p.add(20)
		select {
		case grant := <-done:
			if grant != 20 {
				t.Fatalf("expected grant of 20, got %d", grant)
			}
		}
	})

	t.Run("ClosedUnblocksWithZero", func(t *testing.T) {
		q := newPeerWindow(0)
		done := make(chan int64, 1)
		closed := make(chan struct{})
		go func() {
			done <- q.reserve(10, func() bool {
				select {
				case <-closed:
					return true
				default:
					return false
				}
			})
		}()
		close(closed)
		q.release()
		if grant := <-done; grant != 0 {
			t.Fatalf("expected 0 grant once closed, got %d", grant)
		}
	})
}
