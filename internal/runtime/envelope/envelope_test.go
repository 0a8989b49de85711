package envelope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/eventflow/internal/runtime/metadata"
)

func newCardActivated(t *testing.T) Envelope {
	t.Helper()
	env, err := New("card.activated", "card", "c1", "1.0.0", map[string]any{
		"cardId":      "c1",
		"userId":      "u1",
		"activatedAt": "2026-01-02T03:04:05Z",
	})
	require.NoError(t, err)
	return env
}

func TestNewPopulatesIdentity(t *testing.T) {
	env := newCardActivated(t)

	assert.Len(t, env.ID, 36)
	assert.Equal(t, time.UTC, env.Timestamp.Location())
	assert.JSONEq(t, `{"cardId":"c1","userId":"u1","activatedAt":"2026-01-02T03:04:05Z"}`, string(env.Payload))
	assert.NoError(t, CheckStructure(env, time.Now(), DefaultClockSkew))
}

func TestNewPayloadForms(t *testing.T) {
	raw, err := New("user.updated", "user", "u1", "1.0.0", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw.Payload))

	_, err = New("user.updated", "user", "u1", "1.0.0", []byte(`{"a":`))
	assert.Error(t, err)

	empty, err := New("user.updated", "user", "u1", "1.0.0", nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty.Payload))
}

func TestNewFromProto(t *testing.T) {
	payload, err := structpb.NewStruct(map[string]any{"userId": "u7", "email": "a@b.c"})
	require.NoError(t, err)

	env, err := NewFromProto("user.registered", "user", "u7", "1.0.0", payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u7","email":"a@b.c"}`, string(env.Payload))

	_, err = NewFromProto("user.registered", "user", "u7", "1.0.0", nil)
	assert.Error(t, err)
}

func TestWithHelpersDoNotMutate(t *testing.T) {
	env := newCardActivated(t)
	correlated := env.WithCorrelation("req-1").WithCausation("cmd-9").WithMetadata("source", "api")

	assert.Empty(t, env.CorrelationID)
	assert.Empty(t, env.CausationID)
	assert.Empty(t, env.Metadata.Get("source"))
	assert.Equal(t, "req-1", correlated.CorrelationID)
	assert.Equal(t, "cmd-9", correlated.CausationID)
	assert.Equal(t, "api", correlated.Metadata.Get("source"))
}

func TestCloneIsDeep(t *testing.T) {
	env := newCardActivated(t).WithMetadata("k", "v")
	clone := env.Clone()
	clone.Metadata["k"] = "changed"
	clone.Payload[0] = '['

	assert.Equal(t, "v", env.Metadata["k"])
	assert.Equal(t, byte('{'), env.Payload[0])
}

func TestMarshalRoundTrip(t *testing.T) {
	env := newCardActivated(t).WithCorrelation("corr")
	data, err := env.Marshal()
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.Equal(t, "card", generic["aggregateName"])
	assert.Equal(t, "c1", generic["aggregateId"])
	assert.Equal(t, "corr", generic["correlationId"])

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, back.ID)
	assert.True(t, env.Timestamp.Equal(back.Timestamp))
	assert.JSONEq(t, string(env.Payload), string(back.Payload))

	_, err = Unmarshal([]byte("nope"))
	assert.Error(t, err)
}

func TestFamilyAndMajorVersion(t *testing.T) {
	env := Envelope{Type: "transaction.settled", Version: "2.1.0"}
	assert.Equal(t, "transaction", env.Family())
	major, ok := env.MajorVersion()
	assert.True(t, ok)
	assert.Equal(t, 2, major)

	for _, v := range []string{"1", "1.0", "1.0.0.0", "a.b.c", "01.0.0", "1..0", "-1.0.0", "+1.-0.+2", "1.0.-0", "1. 0.0", "1.0.0x"} {
		_, ok := Envelope{Version: v}.MajorVersion()
		assert.False(t, ok, v)
	}
}

func TestCheckStructure(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	valid := newCardActivated(t)
	valid.Timestamp = now

	tests := []struct {
		name   string
		mutate func(*Envelope)
		field  string
	}{
		{"missing id", func(e *Envelope) { e.ID = "" }, "id"},
		{"non uuid id", func(e *Envelope) { e.ID = "123" }, "id"},
		{"missing type", func(e *Envelope) { e.Type = "" }, "type"},
		{"missing aggregate name", func(e *Envelope) { e.AggregateName = "" }, "aggregateName"},
		{"missing aggregate id", func(e *Envelope) { e.AggregateID = "" }, "aggregateId"},
		{"bad version", func(e *Envelope) { e.Version = "v1" }, "version"},
		{"signed version", func(e *Envelope) { e.Version = "+1.-0.+2" }, "version"},
		{"future timestamp", func(e *Envelope) { e.Timestamp = now.Add(time.Minute) }, "timestamp"},
		{"zero timestamp", func(e *Envelope) { e.Timestamp = time.Time{} }, "timestamp"},
		{"self causation", func(e *Envelope) { e.CausationID = e.ID }, "causationId"},
		{"empty payload", func(e *Envelope) { e.Payload = nil }, "payload"},
		{"invalid payload", func(e *Envelope) { e.Payload = json.RawMessage(`{`) }, "payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid.Clone()
			tt.mutate(&env)
			err := CheckStructure(env, now, DefaultClockSkew)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	t.Run("any uuid version", func(t *testing.T) {
		for _, id := range []string{
			"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			"01890a5d-ac96-774b-bcce-b302099a8057",
		} {
			env := valid.Clone()
			env.ID = id
			assert.NoError(t, CheckStructure(env, now, DefaultClockSkew), id)
		}
	})

	t.Run("within skew", func(t *testing.T) {
		env := valid.Clone()
		env.Timestamp = now.Add(2 * time.Second)
		assert.NoError(t, CheckStructure(env, now, DefaultClockSkew))
	})
}

func TestEffectiveKeys(t *testing.T) {
	env := newCardActivated(t).WithCausation("cmd-1")

	assert.Equal(t, "card.activated:c1:cmd-1", EffectiveDeduplicationKey(env, PublishOptions{}))
	assert.Equal(t, "tx-42", EffectiveDeduplicationKey(env, PublishOptions{DeduplicationKey: "tx-42"}))
	assert.Equal(t, "c1", EffectivePartitionKey(env, PublishOptions{}))
	assert.Equal(t, "p", EffectivePartitionKey(env, PublishOptions{PartitionKey: "p"}))
}

func TestDeadline(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	env := Envelope{Timestamp: now.Add(-time.Second)}

	assert.Equal(t, now.Add(30*time.Second), Deadline(env, PublishOptions{}, now, 30*time.Second))
	assert.Equal(t, now.Add(4*time.Second), Deadline(env, PublishOptions{TTL: 5 * time.Second}, now, 30*time.Second))
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{"": PriorityMedium, "low": PriorityLow, "HIGH": PriorityHigh, " medium ": PriorityMedium} {
		got, err := ParsePriority(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePriority("urgent")
	assert.Error(t, err)
	assert.Equal(t, "MEDIUM", PublishOptions{}.Priority.String())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{nil, ClassNone},
		{&ValidationError{Fields: []FieldError{{"id", "x"}}}, ClassCaller},
		{fmt.Errorf("wrapped: %w", &UnknownEventTypeError{Type: "x.y"}), ClassCaller},
		{NonRetryable(errors.New("too big")), ClassPermanent},
		{context.DeadlineExceeded, ClassExpired},
		{errors.New("connection reset"), ClassTransient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "%v", tt.err)
	}

	assert.True(t, IsRetryable(errors.New("broker unavailable")))
	assert.False(t, IsRetryable(NonRetryable(errors.New("x"))))
	assert.Nil(t, NonRetryable(nil))
	assert.Equal(t, "permanent", ClassPermanent.String())
}

func TestErrorMessages(t *testing.T) {
	verr := &ValidationError{EventType: "card.issued", Fields: []FieldError{{"id", "is required"}, {"version", "bad"}}}
	assert.Equal(t, "eventflow: invalid card.issued envelope: id: is required; version: bad", verr.Error())
	assert.Equal(t, `eventflow: unknown event type "foo.bar"`, (&UnknownEventTypeError{Type: "foo.bar"}).Error())
}

func TestDeadLetterHeaderMetadataRoundTrip(t *testing.T) {
	last := time.Date(2026, 5, 1, 12, 0, 0, 123, time.UTC)
	h := DeadLetterHeader{OriginalChannel: "eventflow.card.v1", FailureReason: "broker down", AttemptCount: 4, LastAttemptAt: last}

	md := h.Metadata()
	assert.Equal(t, "4", md.Get(metadata.KeyAttemptCount))

	back := DeadLetterHeaderFromMetadata(md)
	assert.Equal(t, h.OriginalChannel, back.OriginalChannel)
	assert.Equal(t, h.FailureReason, back.FailureReason)
	assert.Equal(t, 4, back.AttemptCount)
	assert.True(t, last.Equal(back.LastAttemptAt))
}
