package spsock

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/spsock-go/errcode"
)

// inprocAddr returns a per-test inproc address so parallel tests never share
// a name.
func inprocAddr(t *testing.T) string {
	t.Helper()
	return "inproc://" + t.Name()
}

func mustRecvTimeout(t *testing.T, s *Socket, d time.Duration) {
	t.Helper()
	require.NoError(t, SetOption(s, OptionRecvTimeout, d))
}

func TestReqRepRoundTrip(t *testing.T) {
	addr := inprocAddr(t)

	rep, err := NewRep0()
	require.NoError(t, err)
	defer rep.Close()
	_, err = rep.Listen(addr)
	require.NoError(t, err)

	req, err := NewReq0()
	require.NoError(t, err)
	defer req.Close()
	_, err = req.Dial(addr)
	require.NoError(t, err)

	mustRecvTimeout(t, rep, 2*time.Second)
	mustRecvTimeout(t, req, 2*time.Second)

	// Echo server.
	go func() {
		for {
			body, err := rep.Recv()
			if err != nil {
				return
			}
			rep.Send(body)
		}
	}()

	for i := 0; i < 5; i++ {
		msg := fmt.Sprintf("ping-%d", i)
		require.NoError(t, req.Send([]byte(msg)))
		got, err := req.Recv()
		require.NoError(t, err)
		assert.Equal(t, msg, string(got))
	}
}

func TestReqRepResend(t *testing.T) {
	addr := inprocAddr(t)

	rep, err := NewRep0()
	require.NoError(t, err)
	defer rep.Close()
	_, err = rep.Listen(addr)
	require.NoError(t, err)

	req, err := NewReq0()
	require.NoError(t, err)
	defer req.Close()
	require.NoError(t, ReqOptions{
		ResendTime: 50 * time.Millisecond,
		ResendTick: 10 * time.Millisecond,
	}.Apply(req))
	_, err = req.Dial(addr)
	require.NoError(t, err)

	mustRecvTimeout(t, rep, 2*time.Second)
	mustRecvTimeout(t, req, 2*time.Second)

	require.NoError(t, req.Send([]byte("ping")))

	// Swallow the first delivery without answering; the request must come
	// back on its own within roughly one resend interval.
	first, err := rep.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(first))

	second, err := rep.RecvMsg()
	require.NoError(t, err, "request was not retransmitted")
	assert.Equal(t, "ping", string(second.Body()))
	require.NoError(t, rep.SendMsg(second))

	got, err := req.Recv()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
}

func TestReqWithoutRequest(t *testing.T) {
	req, err := NewReq0()
	require.NoError(t, err)
	defer req.Close()

	_, err = req.RecvMsg()
	assert.True(t, errors.Is(err, errcode.ErrProtocol), "recv before send must fail")

	rep, err := NewRep0()
	require.NoError(t, err)
	defer rep.Close()

	err = rep.Send([]byte("unsolicited"))
	assert.True(t, errors.Is(err, errcode.ErrProtocol), "reply without request must fail")
}

func TestPubSub(t *testing.T) {
	t.Run("zero subscriptions receive nothing", func(t *testing.T) {
		addr := inprocAddr(t)

		pub, err := NewPub0()
		require.NoError(t, err)
		defer pub.Close()
		_, err = pub.Listen(addr)
		require.NoError(t, err)

		sub, err := NewSub0()
		require.NoError(t, err)
		defer sub.Close()
		_, err = sub.Dial(addr)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)
		for i := 0; i < 100; i++ {
			require.NoError(t, pub.Send([]byte(fmt.Sprintf("msg-%d", i))))
		}

		mustRecvTimeout(t, sub, 200*time.Millisecond)
		_, err = sub.Recv()
		assert.True(t, errors.Is(err, errcode.ErrTimeout))
	})

	t.Run("topic prefix filtering", func(t *testing.T) {
		addr := inprocAddr(t)

		pub, err := NewPub0()
		require.NoError(t, err)
		defer pub.Close()
		_, err = pub.Listen(addr)
		require.NoError(t, err)

		sub, err := NewSub0()
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, sub.Subscribe([]byte("alerts:")))
		_, err = sub.Dial(addr)
		require.NoError(t, err)

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, pub.Send([]byte("metrics:cpu 80")))
		require.NoError(t, pub.Send([]byte("alerts:disk full")))

		mustRecvTimeout(t, sub, 2*time.Second)
		got, err := sub.Recv()
		require.NoError(t, err)
		assert.Equal(t, "alerts:disk full", string(got), "non-matching topic must be filtered out")
	})

	t.Run("unsubscribe removes the filter", func(t *testing.T) {
		addr := inprocAddr(t)

		pub, err := NewPub0()
		require.NoError(t, err)
		defer pub.Close()
		_, err = pub.Listen(addr)
		require.NoError(t, err)

		sub, err := NewSub0()
		require.NoError(t, err)
		defer sub.Close()
		require.NoError(t, sub.Subscribe([]byte("a")))
		_, err = sub.Dial(addr)
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe([]byte("a")))

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, pub.Send([]byte("abc")))

		mustRecvTimeout(t, sub, 200*time.Millisecond)
		_, err = sub.Recv()
		assert.True(t, errors.Is(err, errcode.ErrTimeout))
	})
}

func TestPushPull(t *testing.T) {
	addr := inprocAddr(t)

	pull, err := NewPull0()
	require.NoError(t, err)
	defer pull.Close()
	_, err = pull.Listen(addr)
	require.NoError(t, err)

	push, err := NewPush0()
	require.NoError(t, err)
	defer push.Close()
	_, err = push.Dial(addr)
	require.NoError(t, err)

	mustRecvTimeout(t, pull, 2*time.Second)
	for i := 0; i < 10; i++ {
		require.NoError(t, push.Send([]byte(fmt.Sprintf("job-%d", i))))
	}
	for i := 0; i < 10; i++ {
		got, err := pull.Recv()
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), string(got), "pipeline must preserve order on one pipe")
	}

	t.Run("wrong direction is rejected", func(t *testing.T) {
		assert.True(t, errors.Is(pull.Send([]byte("x")), errcode.ErrNotSupported))
		mustRecvTimeout(t, push, 10*time.Millisecond)
		_, err := push.Recv()
		assert.True(t, errors.Is(err, errcode.ErrNotSupported))
	})
}

func TestBus(t *testing.T) {
	addr := inprocAddr(t)

	hub, err := NewBus0()
	require.NoError(t, err)
	defer hub.Close()
	_, err = hub.Listen(addr)
	require.NoError(t, err)

	leaf1, err := NewBus0()
	require.NoError(t, err)
	defer leaf1.Close()
	_, err = leaf1.Dial(addr)
	require.NoError(t, err)

	leaf2, err := NewBus0()
	require.NoError(t, err)
	defer leaf2.Close()
	_, err = leaf2.Dial(addr)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	mustRecvTimeout(t, hub, 2*time.Second)
	mustRecvTimeout(t, leaf1, 2*time.Second)
	mustRecvTimeout(t, leaf2, 200*time.Millisecond)

	t.Run("hub broadcast reaches every peer", func(t *testing.T) {
		require.NoError(t, hub.Send([]byte("announce")))
		for _, s := range []*Socket{leaf1, leaf2} {
			got, err := s.Recv()
			require.NoError(t, err)
			assert.Equal(t, "announce", string(got))
		}
	})

	t.Run("messages travel one hop only", func(t *testing.T) {
		require.NoError(t, leaf1.Send([]byte("from-leaf")))
		got, err := hub.Recv()
		require.NoError(t, err)
		assert.Equal(t, "from-leaf", string(got))

		_, err = leaf2.Recv()
		assert.True(t, errors.Is(err, errcode.ErrTimeout), "bus must not relay between peers")
	})
}

func TestPair(t *testing.T) {
	t.Run("pair0 talks both ways", func(t *testing.T) {
		addr := inprocAddr(t)

		a, err := NewPair0()
		require.NoError(t, err)
		defer a.Close()
		_, err = a.Listen(addr)
		require.NoError(t, err)

		b, err := NewPair0()
		require.NoError(t, err)
		defer b.Close()
		_, err = b.Dial(addr)
		require.NoError(t, err)

		mustRecvTimeout(t, a, 2*time.Second)
		mustRecvTimeout(t, b, 2*time.Second)
		time.Sleep(50 * time.Millisecond)

		require.NoError(t, a.Send([]byte("to-b")))
		got, err := b.Recv()
		require.NoError(t, err)
		assert.Equal(t, "to-b", string(got))

		require.NoError(t, b.Send([]byte("to-a")))
		got, err = a.Recv()
		require.NoError(t, err)
		assert.Equal(t, "to-a", string(got))
	})

	t.Run("pair is monogamous", func(t *testing.T) {
		addr := inprocAddr(t)

		a, err := NewPair0()
		require.NoError(t, err)
		defer a.Close()
		_, err = a.Listen(addr)
		require.NoError(t, err)

		b, err := NewPair0()
		require.NoError(t, err)
		defer b.Close()
		_, err = b.Dial(addr)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)

		c, err := NewPair0()
		require.NoError(t, err)
		defer c.Close()
		mustRecvTimeout(t, c, 200*time.Millisecond)
		_, err = c.Dial(addr)
		if err == nil {
			// The dial itself cannot see the remote rejection; traffic can.
			_, err = c.Recv()
		}
		assert.Error(t, err, "second peer must not join a pair")
	})

	t.Run("pair1 carries the hop header transparently", func(t *testing.T) {
		addr := inprocAddr(t)

		a, err := NewPair1()
		require.NoError(t, err)
		defer a.Close()
		_, err = a.Listen(addr)
		require.NoError(t, err)

		b, err := NewPair1()
		require.NoError(t, err)
		defer b.Close()
		_, err = b.Dial(addr)
		require.NoError(t, err)

		mustRecvTimeout(t, a, 2*time.Second)
		time.Sleep(50 * time.Millisecond)

		require.NoError(t, b.Send([]byte("v1")))
		got, err := a.Recv()
		require.NoError(t, err)
		assert.Equal(t, "v1", string(got), "hop header must not leak into the body")
	})
}

func TestSurvey(t *testing.T) {
	addr := inprocAddr(t)

	sv, err := NewSurveyor0()
	require.NoError(t, err)
	defer sv.Close()
	require.NoError(t, SurveyorOptions{SurveyTime: 500 * time.Millisecond}.Apply(sv))
	_, err = sv.Listen(addr)
	require.NoError(t, err)

	var resps []*Socket
	for i := 0; i < 2; i++ {
		r, err := NewRespondent0()
		require.NoError(t, err)
		defer r.Close()
		mustRecvTimeout(t, r, 2*time.Second)
		_, err = r.Dial(addr)
		require.NoError(t, err)
		resps = append(resps, r)
	}
	time.Sleep(50 * time.Millisecond)

	// Each respondent answers one survey.
	for i, r := range resps {
		go func(i int, r *Socket) {
			body, err := r.Recv()
			if err != nil {
				return
			}
			r.Send([]byte(fmt.Sprintf("%s-ack-%d", body, i)))
		}(i, r)
	}

	require.NoError(t, sv.Send([]byte("vote")))

	answers := map[string]bool{}
	for i := 0; i < 2; i++ {
		got, err := sv.Recv()
		require.NoError(t, err)
		answers[string(got)] = true
	}
	assert.Len(t, answers, 2)
	assert.True(t, answers["vote-ack-0"])
	assert.True(t, answers["vote-ack-1"])

	// The round is bounded: once every answer is in and the survey time
	// elapses, the next receive reports Timeout.
	_, err = sv.Recv()
	assert.True(t, errors.Is(err, errcode.ErrTimeout))
}

func TestSendOwnership(t *testing.T) {
	t.Run("successful send consumes the message", func(t *testing.T) {
		addr := inprocAddr(t)

		pull, err := NewPull0()
		require.NoError(t, err)
		defer pull.Close()
		_, err = pull.Listen(addr)
		require.NoError(t, err)

		push, err := NewPush0()
		require.NoError(t, err)
		defer push.Close()
		_, err = push.Dial(addr)
		require.NoError(t, err)

		m := NewMessage()
		require.NoError(t, m.Append([]byte("payload")))
		require.NoError(t, push.SendMsg(m))

		assert.True(t, errors.Is(m.Append([]byte("late")), errcode.ErrInvalidArgument))
		assert.Nil(t, m.Body())

		mustRecvTimeout(t, pull, 2*time.Second)
		got, err := pull.Recv()
		require.NoError(t, err)
		assert.Equal(t, "payload", string(got))
	})

	t.Run("failed send leaves the message intact", func(t *testing.T) {
		sub, err := NewSub0()
		require.NoError(t, err)
		defer sub.Close()

		m := NewMessage()
		require.NoError(t, m.Append([]byte("keep me")))
		err = sub.SendMsg(m)
		assert.True(t, errors.Is(err, errcode.ErrNotSupported))

		assert.Equal(t, []byte("keep me"), m.Body())
		require.NoError(t, m.Append([]byte(", please")))
	})
}

func TestRecvTimeout(t *testing.T) {
	pull, err := NewPull0()
	require.NoError(t, err)
	defer pull.Close()

	mustRecvTimeout(t, pull, 50*time.Millisecond)
	start := time.Now()
	_, err = pull.Recv()
	assert.True(t, errors.Is(err, errcode.ErrTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestTryRecv(t *testing.T) {
	addr := inprocAddr(t)

	pull, err := NewPull0()
	require.NoError(t, err)
	defer pull.Close()
	_, err = pull.Listen(addr)
	require.NoError(t, err)

	_, err = pull.TryRecvMsg()
	assert.True(t, errors.Is(err, errcode.ErrTryAgain))

	push, err := NewPush0()
	require.NoError(t, err)
	defer push.Close()
	_, err = push.Dial(addr)
	require.NoError(t, err)
	require.NoError(t, push.Send([]byte("queued")))

	require.Eventually(t, func() bool {
		m, err := pull.TryRecvMsg()
		if err != nil {
			return false
		}
		return string(m.Body()) == "queued"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCloseUnblocksRecv(t *testing.T) {
	pull, err := NewPull0()
	require.NoError(t, err)

	result := make(chan error, 1)
	go func() {
		_, err := pull.Recv()
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, pull.Close())

	select {
	case err := <-result:
		assert.True(t, errors.Is(err, errcode.ErrClosed))
	case <-time.After(2 * time.Second):
		t.Fatal("pending recv did not observe the close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, err := NewPush0()
	require.NoError(t, err)

	require.NoError(t, s.Close())
	err = s.Close()
	assert.True(t, errors.Is(err, errcode.ErrClosed))
}

func TestEndpoints(t *testing.T) {
	t.Run("closing a listener keeps the socket alive", func(t *testing.T) {
		addr := inprocAddr(t)

		pull, err := NewPull0()
		require.NoError(t, err)
		defer pull.Close()

		l, err := pull.Listen(addr)
		require.NoError(t, err)
		assert.Equal(t, addr, l.URL())
		require.NoError(t, l.Close())

		// The address is free again.
		l2, err := pull.Listen(addr)
		require.NoError(t, err)
		defer l2.Close()
	})

	t.Run("listening twice on one address fails", func(t *testing.T) {
		addr := inprocAddr(t)

		a, err := NewPull0()
		require.NoError(t, err)
		defer a.Close()
		_, err = a.Listen(addr)
		require.NoError(t, err)

		b, err := NewPull0()
		require.NoError(t, err)
		defer b.Close()
		_, err = b.Listen(addr)
		assert.True(t, errors.Is(err, errcode.ErrAddressInUse))
	})

	t.Run("dialing an absent name is refused", func(t *testing.T) {
		push, err := NewPush0()
		require.NoError(t, err)
		defer push.Close()

		_, err = push.Dial(inprocAddr(t))
		assert.True(t, errors.Is(err, errcode.ErrConnectionRefused))
	})

	t.Run("unregistered transport scheme", func(t *testing.T) {
		push, err := NewPush0()
		require.NoError(t, err)
		defer push.Close()

		_, err = push.Dial("carrier-pigeon://coop")
		assert.True(t, errors.Is(err, errcode.ErrNotSupported))

		_, err = push.Listen("carrier-pigeon://coop")
		assert.True(t, errors.Is(err, errcode.ErrNotSupported))
	})

	t.Run("malformed address", func(t *testing.T) {
		push, err := NewPush0()
		require.NoError(t, err)
		defer push.Close()

		_, err = push.Dial("not-a-url")
		assert.True(t, errors.Is(err, errcode.ErrInvalidArgument))
	})

	t.Run("nonblocking dial connects in the background", func(t *testing.T) {
		addr := inprocAddr(t)

		push, err := NewPush0()
		require.NoError(t, err)
		defer push.Close()

		// Dial before anything listens; the dialer must keep trying.
		_, err = push.DialWith(addr, DialOptions{NonBlocking: true})
		require.NoError(t, err)

		pull, err := NewPull0()
		require.NoError(t, err)
		defer pull.Close()
		_, err = pull.Listen(addr)
		require.NoError(t, err)

		require.NoError(t, push.Send([]byte("late bind")))
		mustRecvTimeout(t, pull, 5*time.Second)
		got, err := pull.Recv()
		require.NoError(t, err)
		assert.Equal(t, "late bind", string(got))
	})
}

func TestMismatchedProtocols(t *testing.T) {
	addr := inprocAddr(t)

	pub, err := NewPub0()
	require.NoError(t, err)
	defer pub.Close()
	_, err = pub.Listen(addr)
	require.NoError(t, err)

	// A pull socket speaks push on the wire; the pub listener must reject it
	// during the handshake.
	pull, err := NewPull0()
	require.NoError(t, err)
	defer pull.Close()
	_, err = pull.Dial(addr)
	assert.True(t, errors.Is(err, errcode.ErrProtocol))
}

func TestConcurrentSenders(t *testing.T) {
	addr := inprocAddr(t)

	pull, err := NewPull0()
	require.NoError(t, err)
	defer pull.Close()
	_, err = pull.Listen(addr)
	require.NoError(t, err)

	push, err := NewPush0()
	require.NoError(t, err)
	defer push.Close()
	_, err = push.Dial(addr)
	require.NoError(t, err)

	const senders = 8
	const perSender = 25
	var sent atomic.Int32
	for i := 0; i < senders; i++ {
		go func(i int) {
			for j := 0; j < perSender; j++ {
				if push.Send([]byte(fmt.Sprintf("%d-%d", i, j))) == nil {
					sent.Add(1)
				}
			}
		}(i)
	}

	mustRecvTimeout(t, pull, 5*time.Second)
	for i := 0; i < senders*perSender; i++ {
		_, err := pull.Recv()
		require.NoError(t, err)
	}
	assert.Equal(t, int32(senders*perSender), sent.Load())
}
