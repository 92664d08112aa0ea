package sweeper_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/tedsuo/ifrit"

	"auction-engine/internal/biddingerrors"
	. "auction-engine/internal/sweeper"
	"auction-engine/internal/sweeper/fake_sweeper"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Sweeper", func() {
	var (
		finalizer *fake_sweeper.FakeFinalizer
		fakeClock *fakeclock.FakeClock
		sweeper   *Sweeper
		interval  time.Duration
	)

	BeforeEach(func() {
		finalizer = fake_sweeper.NewFakeFinalizer()
		fakeClock = fakeclock.NewFakeClock(time.Date(2025, 10, 21, 3, 0, 0, 0, time.UTC))
		interval = 5 * time.Second
		sweeper = New(finalizer, fakeClock, interval, 2)
	})

	Describe("Sweep", func() {
		It("finalizes every due auction", func() {
			finalizer.SetDue("a1", "a2", "a3")

			n, err := sweeper.Sweep(context.Background())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(n).Should(Equal(3))
			Ω(finalizer.FinalizeCalls()).Should(ConsistOf("a1", "a2", "a3"))
		})

		It("does nothing when nothing is due", func() {
			n, err := sweeper.Sweep(context.Background())
			Ω(err).ShouldNot(HaveOccurred())
			Ω(n).Should(BeZero())
			Ω(finalizer.FinalizeCalls()).Should(BeEmpty())
		})

		Context("when listing due auctions fails", func() {
			It("returns the error", func() {
				finalizer.SetDueError(errors.New("store down"))

				_, err := sweeper.Sweep(context.Background())
				Ω(err).Should(MatchError("store down"))
			})
		})

		Context("when one finalization fails", func() {
			It("still attempts the others and reports the failure", func() {
				finalizer.SetDue("a1", "a2", "a3")
				finalizer.SetFinalizeError("a2", errors.New("boom"))

				n, err := sweeper.Sweep(context.Background())
				Ω(err).Should(MatchError("boom"))
				Ω(n).Should(Equal(2))
				Ω(finalizer.FinalizeCalls()).Should(ConsistOf("a1", "a2", "a3"))
			})
		})

		Context("when an auction turns out not to have ended", func() {
			It("skips it quietly", func() {
				finalizer.SetDue("a1")
				finalizer.SetFinalizeError("a1", fmt.Errorf("service: %w", biddingerrors.ErrAuctionNotEnded))

				n, err := sweeper.Sweep(context.Background())
				Ω(err).ShouldNot(HaveOccurred())
				Ω(n).Should(BeZero())
			})
		})
	})

	Describe("Run", func() {
		var process ifrit.Process

		BeforeEach(func() {
			process = ifrit.Invoke(sweeper)
		})

		AfterEach(func() {
			process.Signal(os.Interrupt)
			Eventually(process.Wait()).Should(Receive(BeNil()))
		})

		It("does not sweep before the first tick", func() {
			finalizer.SetDue("a1")
			Consistently(finalizer.DueCallCount, 50*time.Millisecond).Should(BeZero())
		})

		It("sweeps on every tick of the injected clock", func() {
			finalizer.SetDue("a1", "a2")

			fakeClock.WaitForWatcherAndIncrement(interval)
			Eventually(finalizer.FinalizeCalls).Should(ConsistOf("a1", "a2"))

			finalizer.SetDue("a3")
			fakeClock.WaitForWatcherAndIncrement(interval)
			Eventually(finalizer.FinalizeCalls).Should(ConsistOf("a1", "a2", "a3"))
			Ω(finalizer.DueCallCount()).Should(Equal(2))
		})
	})
})
