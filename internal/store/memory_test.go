package store_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/notifyhub/gateway/internal/domain"
	"github.com/notifyhub/gateway/internal/store"
)

var _ = Describe("MemoryStore", func() {
	var (
		ms  *store.MemoryStore
		ctx context.Context
	)

	BeforeEach(func() {
		ms = store.NewMemoryStore()
		ctx = context.Background()
	})

	Describe("AcquireIdempotency", func() {
		It("admits the first caller and rejects the second", func() {
			admitted, err := ms.AcquireIdempotency(ctx, "req-1", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(admitted).To(BeTrue())

			admitted, err = ms.AcquireIdempotency(ctx, "req-1", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(admitted).To(BeFalse())
		})

		It("admits distinct request ids independently", func() {
			admitted, err := ms.AcquireIdempotency(ctx, "req-1", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(admitted).To(BeTrue())

			admitted, err = ms.AcquireIdempotency(ctx, "req-2", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(admitted).To(BeTrue())
		})

		It("re-admits the same request id after the TTL elapses", func() {
			admitted, err := ms.AcquireIdempotency(ctx, "req-1", 20*time.Millisecond)
			Expect(err).NotTo(HaveOccurred())
			Expect(admitted).To(BeTrue())

			time.Sleep(40 * time.Millisecond)

			admitted, err = ms.AcquireIdempotency(ctx, "req-1", time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(admitted).To(BeTrue())
		})

		It("admits exactly one of many concurrent callers", func() {
			const callers = 20
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				admitted int
			)

			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := ms.AcquireIdempotency(ctx, "req-1", time.Minute)
					Expect(err).NotTo(HaveOccurred())
					if ok {
						mu.Lock()
						admitted++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Expect(admitted).To(Equal(1))
		})

		It("fails with StoreUnavailable once closed", func() {
			Expect(ms.Close()).To(Succeed())

			_, err := ms.AcquireIdempotency(ctx, "req-1", time.Minute)
			Expect(errors.Is(err, domain.ErrStoreUnavailable)).To(BeTrue())
		})
	})

	Describe("status records", func() {
		It("round-trips a status record", func() {
			record := domain.StatusRecord{Status: domain.StatusQueued, Detail: "enqueued"}
			Expect(ms.SetStatus(ctx, "req-1", record, time.Minute)).To(Succeed())

			got, err := ms.GetStatus(ctx, "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).NotTo(BeNil())
			Expect(*got).To(Equal(record))
		})

		It("returns nil for an unknown request id", func() {
			got, err := ms.GetStatus(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})

		It("forgets status records after the TTL", func() {
			record := domain.StatusRecord{Status: domain.StatusFailed, Detail: "circuit open"}
			Expect(ms.SetStatus(ctx, "req-1", record, 20*time.Millisecond)).To(Succeed())

			time.Sleep(40 * time.Millisecond)

			got, err := ms.GetStatus(ctx, "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeNil())
		})

		It("overwrites a prior status for the same request id", func() {
			Expect(ms.SetStatus(ctx, "req-1", domain.StatusRecord{Status: domain.StatusQueued, Detail: "enqueued"}, time.Minute)).To(Succeed())
			Expect(ms.SetStatus(ctx, "req-1", domain.StatusRecord{Status: domain.StatusQueued, Detail: "published to email"}, time.Minute)).To(Succeed())

			got, err := ms.GetStatus(ctx, "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Detail).To(Equal("published to email"))
		})
	})
})
