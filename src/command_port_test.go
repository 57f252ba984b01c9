package ecubridge

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommandPort(t *testing.T) *CommandPort {
	t.Helper()

	var cp, err = ListenCommandPort(context.Background(), 0, time.Second, newTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { cp.Close() })

	return cp
}

func dialCommandPort(t *testing.T, cp *CommandPort) net.Conn {
	t.Helper()

	var conn, err = net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", cp.Port()), time.Second)
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return conn
}

func acceptClient(t *testing.T, cp *CommandPort) *CommandClient {
	t.Helper()

	select {
	case conn := <-cp.Conns():
		return cp.Client(conn)
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
	}

	return nil
}

func TestCommandPortRoundTrip(t *testing.T) {
	var cp = newTestCommandPort(t)
	var conn = dialCommandPort(t, cp)

	_, err := conn.Write([]byte("echo,a\x01b,\xffc\r\n"))
	require.NoError(t, err)

	var client = acceptClient(t, cp)

	var line, recvErr = client.Receive()
	require.NoError(t, recvErr)
	assert.Equal(t, "echo,a b, c", line)

	require.NoError(t, client.Send("one\n"))
	require.NoError(t, client.Send("two"))
	require.NoError(t, client.Drop())

	var reader = bufio.NewReader(conn)
	var all []string

	for {
		var l, readErr = reader.ReadString('\n')
		if readErr != nil {
			break
		}

		all = append(all, l)
	}

	assert.Equal(t, []string{"one\n", "two\n", "END\n"}, all)
}

func TestCommandPortLineWithoutNewline(t *testing.T) {
	var cp = newTestCommandPort(t)
	var conn = dialCommandPort(t, cp)

	_, err := conn.Write([]byte("status"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	var client = acceptClient(t, cp)

	var line, recvErr = client.Receive()
	require.NoError(t, recvErr)
	assert.Equal(t, "status", line)
}

func TestCommandPortLongLine(t *testing.T) {
	var cp = newTestCommandPort(t)
	var conn = dialCommandPort(t, cp)

	go func() {
		conn.Write([]byte(strings.Repeat("x", 5000) + "\n"))
	}()

	var client = acceptClient(t, cp)

	var line, err = client.Receive()
	require.NoError(t, err)
	assert.Len(t, line, MAX_COMMAND_LINE)
}

func TestCommandPortSilentClientTimesOut(t *testing.T) {
	var cp, err = ListenCommandPort(context.Background(), 0, 20*time.Millisecond, newTestLogger())
	require.NoError(t, err)

	defer cp.Close()

	dialCommandPort(t, cp)

	var client = acceptClient(t, cp)

	var start = time.Now()
	_, err = client.Receive()

	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCommandPortOneAtATime(t *testing.T) {
	var cp = newTestCommandPort(t)

	dialCommandPort(t, cp)
	dialCommandPort(t, cp)

	var first = acceptClient(t, cp)
	require.NotNil(t, first)

	var second = acceptClient(t, cp)
	require.NotNil(t, second)

	assert.NotEqual(t, first.RemoteAddr(), second.RemoteAddr())
}

func TestCommandPortCloseTwice(t *testing.T) {
	var cp, err = ListenCommandPort(context.Background(), 0, time.Second, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, cp.Close())
	assert.NoError(t, cp.Close())
}
