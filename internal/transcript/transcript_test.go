package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/dropcopy/internal/fixmsg/fixmsgtest"
)

func newTestFactory(t *testing.T) (*Factory, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Enabled:   true,
		RawPath:   filepath.Join(dir, "logs", "raw.log"),
		HumanPath: filepath.Join(dir, "logs", "human_readable.log"),
	}
	f, err := NewFactory(cfg, nil)
	require.NoError(t, err)
	return f, cfg
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSessionLogWritesBothTranscripts(t *testing.T) {
	f, cfg := newTestFactory(t)

	l, err := f.CreateSessionLog(fixmsgtest.SessionID)
	require.NoError(t, err)

	in := "8=FIX.4.4\x019=5\x0135=0\x0110=000\x01"
	out := "8=FIX.4.4\x019=5\x0135=1\x0110=001\x01"
	l.OnIncoming([]byte(in))
	l.OnOutgoing([]byte(out))
	l.OnEventf("Sending %s", "logon")
	require.NoError(t, f.Close())

	assert.Equal(t, in+"\n"+out+"\n", readFile(t, cfg.RawPath))

	lines := strings.Split(strings.TrimSpace(readFile(t, cfg.HumanPath)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], fixmsgtest.SessionID.String()+" Incoming: 8=FIX.4.4|9=5|35=0|10=000|")
	assert.Contains(t, lines[1], "Outgoing: 8=FIX.4.4|9=5|35=1|10=001|")
	assert.Contains(t, lines[2], "Event: Sending logon")
	for _, line := range lines {
		assert.NotContains(t, line, "\x01")
	}
}

func TestTranscriptAppendsAcrossFactories(t *testing.T) {
	f, cfg := newTestFactory(t)
	l, err := f.Create()
	require.NoError(t, err)
	l.OnIncoming([]byte("first"))
	require.NoError(t, f.Close())

	f2, err := NewFactory(cfg, nil)
	require.NoError(t, err)
	l2, err := f2.Create()
	require.NoError(t, err)
	l2.OnIncoming([]byte("second"))
	require.NoError(t, f2.Close())

	assert.Equal(t, "first\nsecond\n", readFile(t, cfg.RawPath))
}

func TestNewFactoryRequiresPaths(t *testing.T) {
	_, err := NewFactory(Config{Enabled: true, RawPath: filepath.Join(t.TempDir(), "raw.log")}, nil)
	assert.Error(t, err)
}
