//go:build linux || darwin

package s6rc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vawter.tech/stopper"

	"github.com/axondata/go-s6rc/internal/unix"
)

// SubscriptionID identifies a subscription within a Subscriptions set
type SubscriptionID int

// subscription is one FIFO planted in a fifodir. The supervisor writes event
// bytes to every ftrig1@ FIFO it finds there.
type subscription struct {
	id     SubscriptionID
	path   string
	events string
	file   *os.File
	fired  bool
}

// Subscriptions is a set of event subscriptions sharing one absolute deadline.
// It is not safe for concurrent use.
type Subscriptions struct {
	deadline time.Time
	subs     []*subscription
}

// NewSubscriptions creates an empty set bound to deadline
func NewSubscriptions(deadline time.Time) *Subscriptions {
	return &Subscriptions{deadline: deadline}
}

// Deadline returns the deadline shared by every subscription in the set
func (s *Subscriptions) Deadline() time.Time {
	return s.deadline
}

// Len returns the number of live subscriptions
func (s *Subscriptions) Len() int {
	return len(s.subs)
}

// Subscribe plants a FIFO in fifodir. The subscription fires once any byte
// of events is written to it.
func (s *Subscriptions) Subscribe(fifodir, events string) (SubscriptionID, error) {
	if !time.Now().Before(s.deadline) {
		return 0, &OpError{Op: OpSubscribe, Path: fifodir, Err: ErrTimeout}
	}

	var rnd [8]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return 0, &OpError{Op: OpSubscribe, Path: fifodir, Err: err}
	}
	suffix := hex.EncodeToString(rnd[:])
	tmp := filepath.Join(fifodir, FifoPrefix+":"+suffix)
	path := filepath.Join(fifodir, FifoPrefix+"@"+suffix)

	if err := unix.Mkfifo(tmp, FifoMode); err != nil {
		return 0, &OpError{Op: OpSubscribe, Path: tmp, Err: err}
	}
	// mkfifo is subject to the umask
	if err := os.Chmod(tmp, FifoMode); err != nil {
		_ = os.Remove(tmp)
		return 0, &OpError{Op: OpSubscribe, Path: tmp, Err: err}
	}

	// Opening read-write keeps a writer attached, so reads wait instead of
	// returning EOF while the supervisor has not shown up yet.
	file, err := os.OpenFile(tmp, os.O_RDWR|unix.ONonblock, 0)
	if err != nil {
		_ = os.Remove(tmp)
		return 0, &OpError{Op: OpSubscribe, Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return 0, &OpError{Op: OpSubscribe, Path: path, Err: err}
	}

	sub := &subscription{
		id:     SubscriptionID(len(s.subs) + 1),
		path:   path,
		events: events,
		file:   file,
	}
	s.subs = append(s.subs, sub)
	return sub.id, nil
}

func (s *Subscriptions) lookup(id SubscriptionID) *subscription {
	if id < 1 || int(id) > len(s.subs) {
		return nil
	}
	return s.subs[id-1]
}

// wait blocks until an event byte arrives or the deadline passes
func (sub *subscription) wait(deadline time.Time) error {
	if err := sub.file.SetReadDeadline(deadline); err != nil {
		return &OpError{Op: OpWait, Path: sub.path, Err: err}
	}

	buf := make([]byte, 64)
	for {
		n, err := sub.file.Read(buf)
		for _, b := range buf[:n] {
			if strings.IndexByte(sub.events, b) >= 0 {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return &OpError{Op: OpWait, Path: sub.path, Err: ErrTimeout}
			}
			return &OpError{Op: OpWait, Path: sub.path, Err: err}
		}
	}
}

// WaitAll blocks until every subscription in ids has fired, the shared
// deadline passes, or ctx is done. Subscriptions that already fired in an
// earlier call are not waited on again.
func (s *Subscriptions) WaitAll(ctx context.Context, ids []SubscriptionID) error {
	var pending []*subscription
	for _, id := range ids {
		sub := s.lookup(id)
		if sub == nil {
			return &OpError{Op: OpWait, Err: errors.New("unknown subscription")}
		}
		if !sub.fired {
			pending = append(pending, sub)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	sctx := stopper.WithContext(ctx)
	results := make(chan error, len(pending))
	var mu sync.Mutex

	for _, sub := range pending {
		sctx.Go(func(_ *stopper.Context) error {
			err := sub.wait(s.deadline)
			if err == nil {
				mu.Lock()
				sub.fired = true
				mu.Unlock()
			}
			results <- err
			return nil
		})
	}

	var err error
	for remaining := len(pending); remaining > 0 && err == nil; remaining-- {
		select {
		case err = <-results:
		case <-ctx.Done():
			err = &OpError{Op: OpWait, Err: ctxErr(ctx)}
		}
	}

	if err != nil {
		// wake up the readers still blocked
		for _, sub := range pending {
			_ = sub.file.SetReadDeadline(time.Now())
		}
	}
	sctx.Stop(0)
	_ = sctx.Wait()
	return err
}

// Close releases every subscription: the FIFOs are closed and unlinked
func (s *Subscriptions) Close() error {
	merr := &MultiError{}
	for _, sub := range s.subs {
		merr.Add(sub.file.Close())
		if err := os.Remove(sub.path); err != nil && !os.IsNotExist(err) {
			merr.Add(err)
		}
	}
	s.subs = nil
	return merr.Err()
}

// ctxErr maps an expired context onto ErrTimeout
func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
