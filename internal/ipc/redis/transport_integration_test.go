// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dyno Contributors

//go:build integration

package redis_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/dynohq/dyno/internal/ipc"
	ipcredis "github.com/dynohq/dyno/internal/ipc/redis"
)

func dial() *ipcredis.Transport {
	tr, err := ipcredis.Dial(suiteCtx, redisURI, ipcredis.WithConnectTimeout(10*time.Second))
	Expect(err).NotTo(HaveOccurred())
	return tr
}

func startManager(prefix string) *ipc.Manager {
	m := ipc.NewManager(dial(), ipc.WithPrefix(prefix))
	Expect(m.Start(suiteCtx)).To(Succeed())
	DeferCleanup(m.Close)
	return m
}

var _ = Describe("Redis transport", func() {
	It("delivers published messages to subscribers", func() {
		sub := dial()
		defer sub.Close()
		pub := dial()
		defer pub.Close()

		Expect(sub.Subscribe(suiteCtx, "it:raw")).To(Succeed())

		// SUBSCRIBE is not acknowledged synchronously; publish until it lands.
		var msg ipc.Message
		Eventually(func() bool {
			Expect(pub.Publish(suiteCtx, "it:raw", []byte("hello"))).To(Succeed())
			select {
			case msg = <-sub.Messages():
				return true
			case <-time.After(100 * time.Millisecond):
				return false
			}
		}, 5*time.Second).Should(BeTrue())
		Expect(msg.Channel).To(Equal("it:raw"))
		Expect(string(msg.Data)).To(Equal("hello"))
	})

	It("closes the message stream on Close", func() {
		tr := dial()
		Expect(tr.Subscribe(suiteCtx, "it:close")).To(Succeed())
		Expect(tr.Close()).To(Succeed())
		Eventually(tr.Messages()).Should(BeClosed())
	})

	It("answers requests across processes", func() {
		a := startManager("it:rpc:")
		b := startManager("it:rpc:")

		Expect(b.On(suiteCtx, "ping", func(_ context.Context, payload json.RawMessage, _ ipc.Meta) (any, error) {
			return map[string]json.RawMessage{"pong": payload}, nil
		})).To(Succeed())

		var res json.RawMessage
		Eventually(func() error {
			var err error
			res, err = a.Request(suiteCtx, "ping", map[string]string{"hello": "world"}, 500*time.Millisecond)
			return err
		}, 5*time.Second).Should(Succeed())
		Expect(string(res)).To(MatchJSON(`{"pong":{"hello":"world"}}`))
		Expect(a.Pending()).To(BeZero())
	})

	It("times out when nobody answers", func() {
		a := startManager("it:timeout:")

		start := time.Now()
		_, err := a.Request(suiteCtx, "nobody", nil, 200*time.Millisecond)
		Expect(err).To(MatchError(ipc.ErrRequestTimeout))
		Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
		Expect(a.Pending()).To(BeZero())
	})

	It("fans broadcasts out to every replica", func() {
		a := startManager("it:fanout:")
		b := startManager("it:fanout:")
		c := startManager("it:fanout:")

		var mu sync.Mutex
		seen := map[string]bool{}
		record := func(replica string) ipc.Handler {
			return func(context.Context, json.RawMessage, ipc.Meta) (any, error) {
				mu.Lock()
				defer mu.Unlock()
				seen[replica] = true
				return nil, nil
			}
		}
		Expect(b.On(suiteCtx, "news", record("b"))).To(Succeed())
		Expect(c.On(suiteCtx, "news", record("c"))).To(Succeed())

		Eventually(func() int {
			Expect(a.Publish(suiteCtx, "news", "hi")).To(Succeed())
			mu.Lock()
			defer mu.Unlock()
			return len(seen)
		}, 5*time.Second, 100*time.Millisecond).Should(Equal(2))
	})
})
