package tcp_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/spsock-go"
	_ "github.com/glimte/spsock-go/transports/tcp"
)

func TestTCPRoundTrip(t *testing.T) {
	rep, err := spsock.NewRep0()
	require.NoError(t, err)
	defer rep.Close()

	l, err := rep.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr()
	assert.True(t, strings.HasPrefix(addr, "tcp://"))
	assert.NotContains(t, addr, ":0", "ephemeral port must be resolved")

	go func() {
		for {
			body, err := rep.Recv()
			if err != nil {
				return
			}
			rep.Send(body)
		}
	}()

	req, err := spsock.NewReq0()
	require.NoError(t, err)
	defer req.Close()
	require.NoError(t, spsock.SetOption(req, spsock.OptionRecvTimeout, 5*time.Second))
	_, err = req.Dial(addr)
	require.NoError(t, err)

	require.NoError(t, req.Send([]byte("over tcp")))
	got, err := req.Recv()
	require.NoError(t, err)
	assert.Equal(t, "over tcp", string(got))
}

func TestTCPLargeMessage(t *testing.T) {
	pull, err := spsock.NewPull0()
	require.NoError(t, err)
	defer pull.Close()

	l, err := pull.Listen("tcp://127.0.0.1:0")
	require.NoError(t, err)

	push, err := spsock.NewPush0()
	require.NoError(t, err)
	defer push.Close()
	_, err = push.Dial(l.Addr())
	require.NoError(t, err)

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, push.Send(payload))

	require.NoError(t, spsock.SetOption(pull, spsock.OptionRecvTimeout, 5*time.Second))
	got, err := pull.Recv()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestTCPRecvSizeLimit(t *testing.T) {
	pull, err := spsock.NewPull0()
	require.NoError(t, err)
	defer pull.Close()

	l, err := pull.ListenWith("tcp://127.0.0.1:0", spsock.ListenOptions{MaxRecvSize: 1024})
	require.NoError(t, err)

	push, err := spsock.NewPush0()
	require.NoError(t, err)
	defer push.Close()
	_, err = push.Dial(l.Addr())
	require.NoError(t, err)

	require.NoError(t, push.Send(make([]byte, 4096)))

	// The oversized frame kills the pipe instead of reaching the socket.
	require.NoError(t, spsock.SetOption(pull, spsock.OptionRecvTimeout, 200*time.Millisecond))
	_, err = pull.Recv()
	assert.Error(t, err)
}
