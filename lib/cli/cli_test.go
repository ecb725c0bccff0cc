package cli

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gnutella/go-gnutella/lib/ggep"
	"github.com/go-gnutella/go-gnutella/lib/util/signals"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSHA1 = "urn:sha1:PLSTHIPQGSSZTS5FJUPAKUZWUGYQYPFB"

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("message:\n  soft_max: 7\n"), 0o644))
	return path
}

// run executes the command tree with a private config file.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", writeConfig(t)}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func build(t *testing.T, args ...string) string {
	t.Helper()
	out, _, err := run(t, "", append([]string{"build"}, args...)...)
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))
	return out
}

func decode(t *testing.T, hexText string) string {
	t.Helper()
	out, _, err := run(t, hexText, "decode", "--hex")
	require.NoError(t, err)
	return out
}

func TestOneShotCommandsLeaveSignalsAlone(t *testing.T) {
	require.False(t, signals.Capturing())

	decode(t, build(t, "query", "--query", "signals"))

	assert.False(t, signals.Capturing())
}

func TestBuildAndDecodePing(t *testing.T) {
	out := decode(t, build(t, "ping", "--ttl", "2", "--locale", "ja", "--query-key"))

	assert.Contains(t, out, "function: ping")
	assert.Contains(t, out, "ttl: 2")
	assert.Contains(t, out, "locale: ja")
	assert.Contains(t, out, "requests_query_key: true")
}

func TestBuildAndDecodePong(t *testing.T) {
	out := decode(t, build(t, "pong", "--address", "18.239.0.1:6346", "--files", "10", "--kb", "100", "--tls"))

	assert.Contains(t, out, "function: pong")
	assert.Contains(t, out, "files: 10")
	assert.Contains(t, out, "kb: 100")
	assert.Contains(t, out, "tls: true")
}

func TestBuildAndDecodePush(t *testing.T) {
	client := strings.Repeat("ab", 16)
	out := decode(t, build(t, "push", "--client-guid", client, "--address", "18.239.0.1:6346", "--index", "5", "--tls"))

	assert.Contains(t, out, "function: push")
	assert.Contains(t, out, "client_guid: "+strings.ToUpper(client))
	assert.Contains(t, out, "index: 5")
	assert.Contains(t, out, "tls: true")
}

func TestBuildAndDecodeQuery(t *testing.T) {
	out := decode(t, build(t, "query", "--query", "Free Music", "--ttl", "2", "--urn", testSHA1))

	assert.Contains(t, out, "function: query")
	assert.Contains(t, out, "query: free music")
	assert.Contains(t, out, testSHA1)
	assert.Contains(t, out, "ttl: 2")
}

func TestBuildQueryDefaultsTTLToSoftMax(t *testing.T) {
	out := decode(t, build(t, "query", "--query", "jazz"))
	assert.Contains(t, out, "ttl: 7")
}

func TestBuildAndDecodeReply(t *testing.T) {
	hexText := build(t, "reply",
		"--address", "18.239.0.1:6346",
		"--speed", "300",
		"--busy",
		"--result", "song.mp3,4096,"+testSHA1,
		"--result", "notes, draft.txt,12",
	)
	out := decode(t, hexText)

	assert.Contains(t, out, "function: query_reply")
	assert.Contains(t, out, "speed: 300")
	assert.Contains(t, out, "busy: \"true\"")
	assert.Contains(t, out, "name: song.mp3")
	assert.Contains(t, out, "size: 4096")
	assert.Contains(t, out, testSHA1)
	assert.Contains(t, out, "name: notes, draft.txt")
}

func TestBuildReplySplits(t *testing.T) {
	out := build(t, "reply",
		"--address", "18.239.0.1:6346",
		"--per-reply", "1",
		"--result", "a.mp3,1",
		"--result", "b.mp3,2",
		"--result", "c.mp3,3",
	)
	assert.Len(t, strings.Fields(out), 3)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"pong without address", []string{"build", "pong"}},
		{"pong invalid address", []string{"build", "pong", "--address", "0.1.2.3:6346"}},
		{"push bad guid", []string{"build", "push", "--client-guid", "zz", "--address", "18.239.0.1:6346"}},
		{"empty query", []string{"build", "query"}},
		{"bad urn", []string{"build", "query", "--urn", "urn:sha1:short"}},
		{"reply without results", []string{"build", "reply", "--address", "18.239.0.1:6346"}},
		{"reply bad result", []string{"build", "reply", "--address", "18.239.0.1:6346", "--result", "nosize"}},
		{"ping ttl too large", []string{"build", "ping", "--ttl", "200"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, "", tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestDecodeSkipsBadPackets(t *testing.T) {
	unknown := make([]byte, 23)
	unknown[16] = 0x99
	unknown[17] = 1
	input := hex.EncodeToString(unknown) + "\n" + build(t, "ping")

	out, errOut, err := run(t, input, "decode", "--hex")
	require.NoError(t, err)
	assert.Contains(t, errOut, "bad packet")
	assert.Equal(t, 1, strings.Count(out, "function: ping"))
}

func TestDecodeTruncatedInputFails(t *testing.T) {
	ping := strings.TrimSpace(build(t, "ping"))
	_, _, err := run(t, ping[:20], "decode", "--hex")
	assert.Error(t, err)
}

func TestDecodeFile(t *testing.T) {
	raw, err := hex.DecodeString(strings.TrimSpace(build(t, "ping")))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ping.bin")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	out, _, err := run(t, "", "decode", path)
	require.NoError(t, err)
	assert.Contains(t, out, "function: ping")

	_, _, err = run(t, "", "decode", filepath.Join(t.TempDir(), "missing.bin"))
	assert.Error(t, err)
}

func TestDecodeDatagram(t *testing.T) {
	ping := strings.TrimSpace(build(t, "ping"))
	out, _, err := run(t, ping+"ffff", "decode", "--hex", "--datagram")
	require.NoError(t, err)
	assert.Contains(t, out, "function: ping")
}

func TestDecodeDump(t *testing.T) {
	out, _, err := run(t, build(t, "ping"), "--dump", "decode", "--hex")
	require.NoError(t, err)
	assert.Contains(t, out, "messages.Ping")
}

func TestInspectGGEP(t *testing.T) {
	g := ggep.New()
	require.NoError(t, g.PutFlag(ggep.KEY_TLS_SUPPORT))
	require.NoError(t, g.PutString(ggep.KEY_CLIENT_LOCALE, "en"))
	b, err := g.MarshalBinary()
	require.NoError(t, err)

	out, _, err := run(t, "", "inspect", "ggep", "0000"+hex.EncodeToString(b))
	require.NoError(t, err)
	assert.Contains(t, out, "GGEP [2, ")
	assert.Contains(t, out, ggep.KEY_TLS_SUPPORT+": (flag)")
	assert.Contains(t, out, "656e")

	_, _, err = run(t, "", "inspect", "ggep", "000102")
	assert.Error(t, err)
}

func TestParseResult(t *testing.T) {
	r, err := parseResult(3, "a,b.txt,42,"+testSHA1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r.Index)
	assert.Equal(t, "a,b.txt", r.Name)
	assert.Equal(t, int64(42), r.Size)
	assert.Equal(t, 1, r.URNs.Len())

	_, err = parseResult(0, "file.txt,big")
	assert.Error(t, err)
	_, err = parseResult(0, "file.txt")
	assert.Error(t, err)
}
