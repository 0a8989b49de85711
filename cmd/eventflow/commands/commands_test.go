package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/internal/runtime/envelope"
)

const cardActivated = `{
  "type": "card.activated",
  "aggregateName": "card",
  "aggregateId": "card-42",
  "version": "1.0.0",
  "payload": {"cardId": "card-42", "userId": "user-7"}
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newGlobal() (*Global, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Global{Out: out}, out
}

func parse(t *testing.T, global *Global, args ...string) *kong.Context {
	t.Helper()
	cli := &CLI{}
	parser, err := kong.New(cli, kong.Name("eventflow"), kong.Vars{"version": "test"}, kong.Bind(global, cli), kong.Exit(func(int) {}))
	require.NoError(t, err)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)
	return ctx
}

func TestPublishCommand(t *testing.T) {
	t.Setenv("EVENTFLOW_TRANSPORT", "channel")
	file := writeFile(t, "envelope.json", cardActivated)
	global, out := newGlobal()

	ctx := parse(t, global, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "publish", "--file", file, "--priority", "high", "--ttl", "1m")
	require.NoError(t, ctx.Run())

	assert.Contains(t, out.String(), "published")
	assert.Contains(t, out.String(), "channel=eventflow.card.v1")
	assert.NotNil(t, global.Logger)
}

func TestPublishCommandRejectsInvalidEnvelope(t *testing.T) {
	file := writeFile(t, "envelope.json", `{
  "type": "card.activated",
  "aggregateName": "card",
  "aggregateId": "card-42",
  "version": "1.0.0",
  "payload": {"cardId": "card-42"}
}`)
	global, _ := newGlobal()

	cmd := &PublishCmd{File: file, Priority: "MEDIUM", Retries: -1}
	err := cmd.Run(global, &CLI{})
	assert.ErrorIs(t, err, envelope.ErrValidation)
}

func TestPublishOptions(t *testing.T) {
	cmd := &PublishCmd{Priority: "low", Retries: 0, DedupKey: "k", PartitionKey: "p", Delay: time.Second, TTL: time.Minute}
	opts, err := cmd.options()
	require.NoError(t, err)
	assert.Equal(t, envelope.PriorityLow, opts.Priority)
	require.NotNil(t, opts.Retries)
	assert.Equal(t, 0, *opts.Retries)
	assert.Equal(t, "k", opts.DeduplicationKey)
	assert.Equal(t, "p", opts.PartitionKey)
	assert.Equal(t, time.Second, opts.Delay)
	assert.Equal(t, time.Minute, opts.TTL)

	cmd.Retries = -1
	opts, err = cmd.options()
	require.NoError(t, err)
	assert.Nil(t, opts.Retries)
}

func TestValidateCommand(t *testing.T) {
	global, out := newGlobal()
	cmd := &ValidateCmd{File: writeFile(t, "envelope.json", cardActivated)}

	require.NoError(t, cmd.Run(global, &CLI{}))
	assert.Equal(t, "valid card.activated v1.0.0 channel=eventflow.card.v1\n", out.String())

	unknown := &ValidateCmd{File: writeFile(t, "unknown.json", `{"type":"card.melted","aggregateName":"card","aggregateId":"c","version":"1.0.0","payload":{}}`)}
	assert.ErrorIs(t, unknown.Run(global, &CLI{}), envelope.ErrUnknownEventType)
}

func TestValidateCommandUsesConfiguredNamespace(t *testing.T) {
	cfg := writeFile(t, "eventflow.yaml", "channels:\n  namespace: bank\n")
	global, out := newGlobal()

	cmd := &ValidateCmd{File: writeFile(t, "envelope.json", cardActivated)}
	require.NoError(t, cmd.Run(global, &CLI{Config: cfg}))
	assert.Contains(t, out.String(), "channel=bank.card.v1")
}

func TestSchemasCommand(t *testing.T) {
	global, out := newGlobal()
	require.NoError(t, (&SchemasCmd{}).Run(global, &CLI{}))

	listing := out.String()
	assert.Contains(t, listing, "TYPE")
	assert.Contains(t, listing, "card.activated")
	assert.Contains(t, listing, "eventflow.deadletter.v1")
	assert.Regexp(t, `transaction\.settled\s+1,2\s+eventflow\.transaction\.v1`, listing)
}

func TestEnvFileLoadedBeforeConfig(t *testing.T) {
	t.Setenv("EVENTFLOW_CHANNEL_NAMESPACE", "")
	require.NoError(t, os.Unsetenv("EVENTFLOW_CHANNEL_NAMESPACE"))
	envFile := writeFile(t, "test.env", "EVENTFLOW_CHANNEL_NAMESPACE=ops\n")
	global, out := newGlobal()

	ctx := parse(t, global, "--env-file", envFile, "validate", "--file", writeFile(t, "envelope.json", cardActivated))
	require.NoError(t, ctx.Run())
	assert.Contains(t, out.String(), "channel=ops.card.v1")
}

func TestReadEnvelopeFillsIdentity(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := readEnvelope(writeFile(t, "envelope.json", cardActivated), now)
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, now, env.Timestamp)

	_, err = readEnvelope(filepath.Join(t.TempDir(), "missing.json"), now)
	assert.Error(t, err)

	_, err = readEnvelope(writeFile(t, "broken.json", "{"), now)
	assert.Error(t, err)
}
