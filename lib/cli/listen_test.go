package cli

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/go-gnutella/go-gnutella/lib/config"
	"github.com/go-gnutella/go-gnutella/lib/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, s *messages.Settings) (*Server, net.Addr, chan messages.Message, func() error) {
	t.Helper()
	srv := NewServer(s, 100)
	srv.SetIdle(50 * time.Millisecond)
	got := make(chan messages.Message, 16)
	srv.OnMessage = func(m messages.Message, _ netip.AddrPort) { got <- m }

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
			return nil
		}
	}
	return srv, ln.Addr(), got, stop
}

func marshal(t *testing.T, m messages.Message) []byte {
	t.Helper()
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	return b
}

func TestServerDecodesStream(t *testing.T) {
	s := messages.DefaultSettings()
	srv, addr, got, stop := startServer(t, s)

	ping, err := messages.NewPing(s, 1)
	require.NoError(t, err)
	q, err := messages.NewQuery(s, messages.QueryParams{
		GUID:  messages.NewQueryGUID(false),
		TTL:   2,
		Query: "jazz",
	})
	require.NoError(t, err)
	unknown := make([]byte, messages.HEADER_SIZE)
	unknown[16] = 0x99

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	var stream []byte
	stream = append(stream, marshal(t, ping)...)
	stream = append(stream, unknown...)
	stream = append(stream, marshal(t, q)...)
	_, err = conn.Write(stream)
	require.NoError(t, err)

	first := <-got
	second := <-got
	assert.Equal(t, messages.FUNC_PING, first.Function())
	require.IsType(t, &messages.Query{}, second)
	assert.Equal(t, "jazz", second.(*messages.Query).Query())

	assert.Eventually(t, func() bool { return srv.BadPackets() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), srv.Decoded())
	assert.NoError(t, stop())
}

// A bad length breaks the stream, so the server hangs up.
func TestServerDropsBrokenConnection(t *testing.T) {
	_, addr, _, stop := startServer(t, messages.DefaultSettings())
	defer stop()

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	header := make([]byte, messages.HEADER_SIZE)
	header[22] = 0x7F
	_, err = conn.Write(header)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "server kept the connection open")
	}
}

func TestServerReloadAppliesSoftMax(t *testing.T) {
	s := messages.DefaultSettings()
	srv, addr, got, stop := startServer(t, s)
	defer stop()

	cfg := config.Defaults()
	cfg.Message.SoftMax = 1
	srv.Reload(messages.NewSettings(cfg))

	q, err := messages.NewQuery(s, messages.QueryParams{
		GUID:  messages.NewQueryGUID(false),
		TTL:   3,
		Query: "jazz",
	})
	require.NoError(t, err)
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(marshal(t, q))
	require.NoError(t, err)

	m := <-got
	assert.Equal(t, 1, m.TTL())
}

func TestBadPacketLoggingIsRateLimited(t *testing.T) {
	srv := NewServer(messages.DefaultSettings(), 0)
	for i := 0; i < 5; i++ {
		srv.badPacket(netip.AddrPort{}, assert.AnError)
	}
	assert.Equal(t, int64(5), srv.BadPackets())
	assert.Equal(t, int64(5), srv.suppressed.Load())
}
