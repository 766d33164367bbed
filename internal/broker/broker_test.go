package broker_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/penguinwhisk/controller/internal/broker"
)

var _ = Describe("Stream client", func() {
	var (
		ctx    context.Context
		server *miniredis.Miniredis
		client *broker.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		server, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(server.Close)

		client, err = broker.New(ctx, broker.Options{
			URL:    "redis://" + server.Addr(),
			MaxLen: 100,
			Logger: zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(client.Close)
	})

	It("creates the well-known consumer groups on connect", func() {
		// A second client against the same server must tolerate the
		// groups already existing.
		other, err := broker.New(ctx, broker.Options{
			URL:    "redis://" + server.Addr(),
			MaxLen: 100,
			Logger: zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		other.Close()
	})

	It("publishes and reads back messages in order", func() {
		first, err := client.Publish(ctx, broker.StreamInvocations, map[string]any{"seq": "1"})
		Expect(err).NotTo(HaveOccurred())
		second, err := client.Publish(ctx, broker.StreamInvocations, map[string]any{"seq": "2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(first).NotTo(Equal(second))

		msgs, err := client.ReadBlocking(ctx, broker.StreamInvocations, "0", 10*time.Millisecond, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Fields["seq"]).To(Equal("1"))
		Expect(msgs[1].Fields["seq"]).To(Equal("2"))
	})

	It("resumes reading after a bookmark", func() {
		_, err := client.Publish(ctx, broker.StreamResults, map[string]any{"seq": "1"})
		Expect(err).NotTo(HaveOccurred())

		msgs, err := client.ReadBlocking(ctx, broker.StreamResults, "0", 10*time.Millisecond, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		bookmark := msgs[0].ID

		_, err = client.Publish(ctx, broker.StreamResults, map[string]any{"seq": "2"})
		Expect(err).NotTo(HaveOccurred())

		msgs, err = client.ReadBlocking(ctx, broker.StreamResults, bookmark, 10*time.Millisecond, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Fields["seq"]).To(Equal("2"))
	})

	It("reads recent messages newest first", func() {
		for _, seq := range []string{"1", "2", "3"} {
			_, err := client.Publish(ctx, broker.StreamHeartbeats, map[string]any{"seq": seq})
			Expect(err).NotTo(HaveOccurred())
		}

		msgs, err := client.ReadRecent(ctx, broker.StreamHeartbeats, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(2))
		Expect(msgs[0].Fields["seq"]).To(Equal("3"))
		Expect(msgs[1].Fields["seq"]).To(Equal("2"))
	})

	It("preserves non-string field values published by other producers", func() {
		_, err := client.Publish(ctx, broker.StreamHeartbeats, map[string]any{
			"invoker_id": "invoker-0",
			"timestamp":  1700000000000,
			"memory":     512,
		})
		Expect(err).NotTo(HaveOccurred())

		msgs, err := client.ReadRecent(ctx, broker.StreamHeartbeats, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Fields["timestamp"]).To(Equal("1700000000000"))
		Expect(msgs[0].Fields["memory"]).To(Equal("512"))
	})

	Context("with a stream prefix", func() {
		It("namespaces the stream keys", func() {
			prefixed, err := broker.New(ctx, broker.Options{
				URL:    "redis://" + server.Addr(),
				Prefix: "staging",
				MaxLen: 100,
				Logger: zap.NewNop(),
			})
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(prefixed.Close)

			Expect(prefixed.Stream(broker.StreamInvocations)).To(Equal("staging:invocations"))

			_, err = prefixed.Publish(ctx, broker.StreamInvocations, map[string]any{"seq": "1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Exists("staging:invocations")).To(BeTrue())
		})
	})
})
