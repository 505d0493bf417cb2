package service_test

import (
	"context"
	"encoding/json"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/notifyhub/gateway/internal/domain"
	"github.com/notifyhub/gateway/internal/rabbit"
	"github.com/notifyhub/gateway/internal/service"
	"github.com/notifyhub/gateway/internal/store"
)

type publishCall struct {
	routingKey string
	msg        rabbit.Message
}

// fakePublisher records publishes and can be scripted to fail
type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

func (fp *fakePublisher) Publish(_ context.Context, routingKey string, msg rabbit.Message) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.err != nil {
		return fp.err
	}
	fp.calls = append(fp.calls, publishCall{routingKey: routingKey, msg: msg})
	return nil
}

func (fp *fakePublisher) publishCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.calls)
}

// fakeBreaker counts outcome reports and can be forced open
type fakeBreaker struct {
	mu        sync.Mutex
	open      bool
	failures  int
	successes int
}

func (fb *fakeBreaker) Allow() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return !fb.open
}

func (fb *fakeBreaker) RecordFailure() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.failures++
}

func (fb *fakeBreaker) RecordSuccess() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.successes++
}

func (fb *fakeBreaker) failureCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.failures
}

var _ = Describe("Dispatcher", func() {
	var (
		ms         *store.MemoryStore
		cb         *fakeBreaker
		publisher  *fakePublisher
		dispatcher *service.Dispatcher
		ctx        context.Context
	)

	request := func(id string, notificationType domain.NotificationType) *domain.NotificationRequest {
		return &domain.NotificationRequest{
			RequestID:        id,
			NotificationType: notificationType,
			UserID:           "user-42",
			TemplateCode:     "welcome_v2",
			Variables:        map[string]interface{}{"name": "Ada"},
			Priority:         1,
		}
	}

	BeforeEach(func() {
		ms = store.NewMemoryStore()
		cb = &fakeBreaker{}
		publisher = &fakePublisher{}
		dispatcher = service.NewDispatcher(ms, cb, publisher)
		ctx = context.Background()
	})

	Describe("the happy path", func() {
		It("publishes and records the routed status", func() {
			result, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Outcome).To(Equal(domain.OutcomePublished))
			Expect(result.RequestID).To(Equal("req-1"))
			Expect(result.RoutingKey).To(Equal("email"))

			status, err := ms.GetStatus(ctx, "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).NotTo(BeNil())
			Expect(status.Status).To(Equal(domain.StatusQueued))
			Expect(status.Detail).To(Equal("published to email"))
		})

		It("routes push notifications by the push key", func() {
			result, err := dispatcher.Dispatch(ctx, request("req-2", domain.TypePush))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RoutingKey).To(Equal("push"))

			Expect(publisher.calls).To(HaveLen(1))
			Expect(publisher.calls[0].routingKey).To(Equal("push"))
		})

		It("publishes a wire envelope carrying the request fields", func() {
			_, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(err).NotTo(HaveOccurred())

			Expect(publisher.calls).To(HaveLen(1))
			call := publisher.calls[0]

			var envelope domain.Envelope
			Expect(json.Unmarshal(call.msg.Body, &envelope)).To(Succeed())
			Expect(envelope.RequestID).To(Equal("req-1"))
			Expect(envelope.UserID).To(Equal("user-42"))
			Expect(envelope.TemplateCode).To(Equal("welcome_v2"))
			Expect(envelope.Priority).To(Equal(1))
			Expect(envelope.CorrelationID).NotTo(BeEmpty())
			Expect(envelope.RequestedAt).NotTo(BeZero())

			Expect(call.msg.CorrelationID).To(Equal(envelope.CorrelationID))
			Expect(call.msg.Headers).To(HaveKeyWithValue("idempotency_key", "req-1"))
		})

		It("reports success to the breaker", func() {
			_, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(err).NotTo(HaveOccurred())
			Expect(cb.successes).To(Equal(1))
			Expect(cb.failureCount()).To(BeZero())
		})
	})

	Describe("duplicate requests", func() {
		It("rejects a repeated request_id and returns the prior status", func() {
			_, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(err).NotTo(HaveOccurred())

			result, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(errors.Is(err, domain.ErrDuplicateRequest)).To(BeTrue())
			Expect(result.Outcome).To(Equal(domain.OutcomeDuplicate))
			Expect(result.PriorStatus).NotTo(BeNil())
			Expect(result.PriorStatus.Status).To(Equal(domain.StatusQueued))
			Expect(result.PriorStatus.Detail).To(Equal("published to email"))

			// the duplicate never touches breaker or publisher
			Expect(publisher.publishCount()).To(Equal(1))
			Expect(cb.successes).To(Equal(1))
		})

		It("surfaces the recorded failure status to a retrying client", func() {
			publisher.err = errors.Wrap(domain.ErrPublish, "broker gone")

			_, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(errors.Is(err, domain.ErrPublish)).To(BeTrue())

			result, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(errors.Is(err, domain.ErrDuplicateRequest)).To(BeTrue())
			Expect(result.PriorStatus).NotTo(BeNil())
			Expect(result.PriorStatus.Status).To(Equal(domain.StatusFailed))
		})

		It("admits exactly one of two concurrent dispatches with the same request_id", func() {
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				results []*domain.DispatchResult
			)

			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					result, _ := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
					mu.Lock()
					results = append(results, result)
					mu.Unlock()
				}()
			}
			wg.Wait()

			Expect(results).To(HaveLen(2))
			duplicates := 0
			for _, r := range results {
				if r.Outcome == domain.OutcomeDuplicate {
					duplicates++
				}
			}
			Expect(duplicates).To(Equal(1))
			Expect(publisher.publishCount()).To(Equal(1))
		})
	})

	Describe("circuit open", func() {
		BeforeEach(func() {
			cb.open = true
		})

		It("short-circuits after consuming the idempotency key", func() {
			result, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(errors.Is(err, domain.ErrCircuitOpen)).To(BeTrue())
			Expect(result.Outcome).To(Equal(domain.OutcomeCircuitOpen))
			Expect(publisher.publishCount()).To(BeZero())

			status, err := ms.GetStatus(ctx, "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Status).To(Equal(domain.StatusFailed))
			Expect(status.Detail).To(Equal("circuit open"))

			// a retry during the open window is a duplicate, not re-admitted
			result, err = dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(errors.Is(err, domain.ErrDuplicateRequest)).To(BeTrue())
			Expect(result.Outcome).To(Equal(domain.OutcomeDuplicate))
		})

		It("does not count the rejection as a breaker failure", func() {
			_, _ = dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(cb.failureCount()).To(BeZero())
		})
	})

	Describe("serialization failure", func() {
		var req *domain.NotificationRequest

		BeforeEach(func() {
			req = request("req-1", domain.TypeEmail)
			req.Variables = map[string]interface{}{"bad": make(chan int)}
		})

		It("terminates without a publish attempt", func() {
			result, err := dispatcher.Dispatch(ctx, req)
			Expect(errors.Is(err, domain.ErrSerialization)).To(BeTrue())
			Expect(result.Outcome).To(Equal(domain.OutcomeSerializationFailed))
			Expect(publisher.publishCount()).To(BeZero())

			status, serr := ms.GetStatus(ctx, "req-1")
			Expect(serr).NotTo(HaveOccurred())
			Expect(status.Status).To(Equal(domain.StatusFailed))
			Expect(status.Detail).To(HavePrefix("serialization_error:"))
		})

		It("leaves the breaker untouched", func() {
			_, _ = dispatcher.Dispatch(ctx, req)
			Expect(cb.failureCount()).To(BeZero())
			Expect(cb.successes).To(BeZero())
		})
	})

	Describe("publish failure", func() {
		BeforeEach(func() {
			publisher.err = errors.Wrap(domain.ErrPublish, "broker gone")
		})

		It("records the failure status and increments the breaker exactly once", func() {
			result, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(errors.Is(err, domain.ErrPublish)).To(BeTrue())
			Expect(result.Outcome).To(Equal(domain.OutcomePublishFailed))

			Expect(cb.failureCount()).To(Equal(1))

			status, serr := ms.GetStatus(ctx, "req-1")
			Expect(serr).NotTo(HaveOccurred())
			Expect(status.Status).To(Equal(domain.StatusFailed))
		})
	})

	Describe("store unavailable", func() {
		It("fails the request hard without assuming duplicate-or-not", func() {
			Expect(ms.Close()).To(Succeed())

			result, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(errors.Is(err, domain.ErrStoreUnavailable)).To(BeTrue())
			Expect(result).To(BeNil())
			Expect(publisher.publishCount()).To(BeZero())
		})
	})

	Describe("Status", func() {
		It("delegates status lookups to the store", func() {
			_, err := dispatcher.Dispatch(ctx, request("req-1", domain.TypeEmail))
			Expect(err).NotTo(HaveOccurred())

			status, err := dispatcher.Status(ctx, "req-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Detail).To(Equal("published to email"))

			status, err = dispatcher.Status(ctx, "missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(BeNil())
		})
	})
})
