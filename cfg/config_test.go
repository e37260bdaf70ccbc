package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maxpert/termlog/logbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Configuration {
	return &Configuration{
		ClientName: "test-client",
		Term: TermConfiguration{
			TermLength: logbuffer.TermMinLength,
			MTU:        logbuffer.DefaultMTULength,
		},
		Publication: PublicationConfiguration{
			ConnectionTimeoutMS: 1000,
		},
		Streams: []StreamConfiguration{
			{Channel: "ipc:local", StreamID: 1, MessageLength: 256, Messages: 10},
			{Channel: "ipc:local", StreamID: 2, MessageLength: 64, UseClaim: true},
		},
		Drainer: DrainerConfiguration{
			ReceiverWindow: 32 * 1024,
			IntervalMS:     1,
		},
		Logging: LoggingConfiguration{
			Format: "console",
		},
		Admin: AdminConfiguration{
			Enabled: true,
			Port:    9090,
		},
	}
}

func withConfig(t *testing.T, c *Configuration) {
	t.Helper()
	original := Config
	Config = c
	t.Cleanup(func() { Config = original })
}

func TestValidate_ValidConfig(t *testing.T) {
	withConfig(t, validConfig())
	require.NoError(t, Validate())
}

func TestValidate_DefaultConfig(t *testing.T) {
	require.NoError(t, Validate())
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"term length not power of two", func(c *Configuration) { c.Term.TermLength = 100000 }},
		{"term length too small", func(c *Configuration) { c.Term.TermLength = 1024 }},
		{"mtu unaligned", func(c *Configuration) { c.Term.MTU = 1400 }},
		{"connection timeout", func(c *Configuration) { c.Publication.ConnectionTimeoutMS = 0 }},
		{"empty channel", func(c *Configuration) { c.Streams[0].Channel = "" }},
		{"duplicate stream", func(c *Configuration) { c.Streams[1].StreamID = 1 }},
		{"message too long", func(c *Configuration) { c.Streams[0].MessageLength = int(logbuffer.TermMinLength) }},
		{"negative message length", func(c *Configuration) { c.Streams[0].MessageLength = -1 }},
		{"claim larger than frame", func(c *Configuration) { c.Streams[1].MessageLength = 2000 }},
		{"negative messages", func(c *Configuration) { c.Streams[0].Messages = -5 }},
		{"receiver window", func(c *Configuration) { c.Drainer.ReceiverWindow = 0 }},
		{"drainer interval", func(c *Configuration) { c.Drainer.IntervalMS = 0 }},
		{"logging format", func(c *Configuration) { c.Logging.Format = "xml" }},
		{"admin port", func(c *Configuration) { c.Admin.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			withConfig(t, c)
			assert.Error(t, Validate())
		})
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	withConfig(t, validConfig())

	require.NoError(t, Load("non-existent-file.toml"))
	assert.Equal(t, "test-client", Config.ClientName)
}

func TestLoad_DecodesFile(t *testing.T) {
	withConfig(t, validConfig())
	Config.Streams = nil

	dir := t.TempDir()
	path := filepath.Join(dir, "termlog.toml")
	logDir := filepath.Join(dir, "logs")

	content := `
client_name = "from-file"
log_dir = "` + logDir + `"

[term]
term_length = 131072
mtu = 4096

[[streams]]
channel = "ipc:orders"
stream_id = 42
message_length = 100
messages = 1000

[drainer]
receiver_window = 65536
interval_ms = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Load(path))

	assert.Equal(t, "from-file", Config.ClientName)
	assert.Equal(t, int32(131072), Config.Term.TermLength)
	assert.Equal(t, int32(4096), Config.Term.MTU)
	require.Len(t, Config.Streams, 1)
	assert.Equal(t, StreamConfiguration{Channel: "ipc:orders", StreamID: 42, MessageLength: 100, Messages: 1000}, Config.Streams[0])
	assert.Equal(t, int32(65536), Config.Drainer.ReceiverWindow)
	assert.DirExists(t, logDir)
	require.NoError(t, Validate())
}

func TestLoad_BadFile(t *testing.T) {
	withConfig(t, validConfig())

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[term\n"), 0644))
	assert.Error(t, Load(path))
}

func TestLoad_CLIOverrides(t *testing.T) {
	withConfig(t, validConfig())

	logDir := filepath.Join(t.TempDir(), "override")
	*LogDirFlag = logDir
	*TermLengthFlag = 1 << 20
	*ClientNameFlag = "cli-client"
	defer func() {
		*LogDirFlag = ""
		*TermLengthFlag = 0
		*ClientNameFlag = ""
	}()

	require.NoError(t, Load(""))
	assert.Equal(t, logDir, Config.LogDir)
	assert.Equal(t, int32(1<<20), Config.Term.TermLength)
	assert.Equal(t, "cli-client", Config.ClientName)
	assert.DirExists(t, logDir)
}

func TestGenerateClientName(t *testing.T) {
	name1, err := generateClientName()
	if err != nil {
		t.Skipf("machine id unavailable: %v", err)
	}
	assert.NotEmpty(t, name1)

	name2, err := generateClientName()
	require.NoError(t, err)
	assert.Equal(t, name1, name2, "client name should be deterministic for same machine")
}

func TestDurations(t *testing.T) {
	withConfig(t, validConfig())
	assert.Equal(t, int64(1000), ConnectionTimeout().Milliseconds())
	assert.Equal(t, int64(1), DrainerInterval().Milliseconds())
}
