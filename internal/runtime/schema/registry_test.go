package schema

import (
	"encoding/json"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/internal/runtime/channels"
	"github.com/drblury/eventflow/internal/runtime/envelope"
)

func mustEnvelope(t *testing.T, eventType, version string, payload string) envelope.Envelope {
	t.Helper()
	family, _, _ := strings.Cut(eventType, ".")
	env, err := envelope.New(eventType, family, "agg-1", version, json.RawMessage(payload))
	require.NoError(t, err)
	return env
}

func TestDefaultVocabulary(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"card.activated",
		"card.blocked",
		"card.issued",
		"notification.queued",
		"notification.sent",
		"system.maintenance_scheduled",
		"transaction.authorized",
		"transaction.refunded",
		"transaction.settled",
		"user.registered",
		"user.updated",
	}, r.Types())
	assert.Equal(t, []int{1, 2}, r.Versions("transaction.settled"))
}

func TestValidateRoutesToFamilyChannel(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	env := mustEnvelope(t, "card.activated", "1.4.2", `{"cardId":"c1","userId":"u1"}`)
	validated, err := r.Validate(env, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "eventflow.card.v1", validated.Channel)
	assert.Equal(t, channels.Card, validated.Family)
	assert.Equal(t, env.ID, validated.Envelope.ID)
}

func TestValidateUnknownType(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	env := mustEnvelope(t, "card.melted", "1.0.0", `{}`)
	_, err = r.Validate(env, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, envelope.ErrUnknownEventType)

	var unknown *envelope.UnknownEventTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "card.melted", unknown.Type)
}

func TestValidateUnsupportedMajor(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	env := mustEnvelope(t, "card.activated", "3.0.0", `{"cardId":"c1","userId":"u1"}`)
	_, err = r.Validate(env, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, envelope.ErrValidation)
	assert.Contains(t, err.Error(), "major version 3")
}

func TestValidatePayloadAgainstVersion(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	v1 := `{"transactionId":"t1","amount":12.5,"currency":"EUR"}`
	_, err = r.Validate(mustEnvelope(t, "transaction.settled", "1.0.0", v1), time.Now())
	require.NoError(t, err)

	_, err = r.Validate(mustEnvelope(t, "transaction.settled", "2.0.0", v1), time.Now())
	require.Error(t, err)
	var verr *envelope.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Fields)
	for _, f := range verr.Fields {
		assert.Contains(t, f.Field, "payload")
	}
}

func TestValidatePayloadFieldErrors(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	env := mustEnvelope(t, "card.issued", "1.0.0", `{"cardId":"c1","userId":"u1","last4":"42","issuedAt":"2026-01-01T00:00:00Z"}`)
	_, err = r.Validate(env, time.Now())
	var verr *envelope.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "payload.last4", verr.Fields[0].Field)
}

func TestValidateStructuralFirst(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	env := mustEnvelope(t, "card.activated", "1.0.0", `{"cardId":"c1","userId":"u1"}`)
	env.ID = "not-a-uuid"
	_, err = r.Validate(env, time.Now())
	assert.ErrorIs(t, err, envelope.ErrValidation)
}

func TestValidateAggregateMatchesFamily(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	env := mustEnvelope(t, "card.activated", "1.0.0", `{"cardId":"c1","userId":"u1"}`)
	env.AggregateName = "user"
	_, err = r.Validate(env, time.Now())
	require.ErrorIs(t, err, envelope.ErrValidation)

	var verr *envelope.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "aggregateName", verr.Fields[0].Field)
}

func TestRegisterRejectsUnknownFamily(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Definition{Type: "invoice.paid", Major: 1, Schema: []byte(`{"type":"object"}`)})
	assert.Error(t, err)

	err = r.Register(Definition{Type: "card.issued", Major: 1, Schema: []byte(`{"type":`)})
	assert.Error(t, err)
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"custom/user.deleted.v1.json": {Data: []byte(`{"type":"object","required":["userId"]}`)},
		"custom/README.md":            {Data: []byte("ignored")},
	}
	r := NewRegistry(WithNaming(channels.NewNaming("staging")))
	require.NoError(t, r.LoadFS(fsys, "custom"))

	env := mustEnvelope(t, "user.deleted", "1.0.0", `{"userId":"u1"}`)
	validated, err := r.Validate(env, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "staging.user.v1", validated.Channel)
	assert.Equal(t, "staging.deadletter.v1", r.DeadLetterChannel())

	bad := fstest.MapFS{"s/user.deleted.json": {Data: []byte(`{}`)}}
	assert.Error(t, NewRegistry().LoadFS(bad, "s"))
}

func TestClockSkewOption(t *testing.T) {
	r, err := Default(WithClockSkew(time.Minute))
	require.NoError(t, err)

	env := mustEnvelope(t, "card.activated", "1.0.0", `{"cardId":"c1","userId":"u1"}`)
	_, err = r.Validate(env, env.Timestamp.Add(-30*time.Second))
	assert.NoError(t, err)
}

func TestChannelFor(t *testing.T) {
	r := NewRegistry()
	ch, err := r.ChannelFor("notification.sent")
	require.NoError(t, err)
	assert.Equal(t, "eventflow.notification.v1", ch)
}
