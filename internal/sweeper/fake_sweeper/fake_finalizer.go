package fake_sweeper

import (
	"context"
	"sync"

	"auction-engine/internal/models"
)

type FakeFinalizer struct {
	lock          *sync.Mutex
	due           []string
	dueErr        error
	finalizeErrs  map[string]error
	finalizeCalls []string
	dueCalls      int
}

func NewFakeFinalizer() *FakeFinalizer {
	return &FakeFinalizer{
		lock:         &sync.Mutex{},
		finalizeErrs: map[string]error{},
	}
}

func (f *FakeFinalizer) DueForFinalization(context.Context) ([]string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.dueCalls++
	return append([]string(nil), f.due...), f.dueErr
}

// Finalize records the call and drops the auction from the due list, as a
// real finalization would.
func (f *FakeFinalizer) Finalize(_ context.Context, auctionID string) (models.FinalizationResult, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.finalizeCalls = append(f.finalizeCalls, auctionID)
	if err := f.finalizeErrs[auctionID]; err != nil {
		return models.FinalizationResult{}, err
	}
	for i, id := range f.due {
		if id == auctionID {
			f.due = append(f.due[:i], f.due[i+1:]...)
			break
		}
	}
	return models.FinalizationResult{AuctionID: auctionID}, nil
}

func (f *FakeFinalizer) SetDue(ids ...string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.due = ids
}

func (f *FakeFinalizer) SetDueError(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.dueErr = err
}

func (f *FakeFinalizer) SetFinalizeError(auctionID string, err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.finalizeErrs[auctionID] = err
}

func (f *FakeFinalizer) FinalizeCalls() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.finalizeCalls...)
}

func (f *FakeFinalizer) DueCallCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.dueCalls
}
