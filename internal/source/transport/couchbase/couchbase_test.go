package couchbase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	cb "mqsource/internal/couchbase"
	"mqsource/internal/source"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		reason       source.Reason
		connectivity bool
	}{
		{"timeout", gocb.ErrUnambiguousTimeout, source.ReasonHostNotAvailable, true},
		{"wrapped timeout", fmt.Errorf("failed to get cursor: %w", gocb.ErrTimeout), source.ReasonHostNotAvailable, true},
		{"deadline", context.DeadlineExceeded, source.ReasonHostNotAvailable, true},
		{"service", gocb.ErrServiceNotAvailable, source.ReasonQueueManagerNotAvailable, true},
		{"canceled", gocb.ErrRequestCanceled, source.ReasonConnectionBroken, true},
		{"auth", gocb.ErrAuthenticationFailure, source.ReasonNotAuthorized, false},
		{"bucket", gocb.ErrBucketNotFound, source.ReasonUnknownObjectName, false},
		{"collection", gocb.ErrCollectionNotFound, source.ReasonUnknownObjectName, false},
		{"other", errors.New("boom"), source.ReasonUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("receive", tt.err)
			assert.Equal(t, tt.reason, source.ReasonOf(err))
			assert.Equal(t, tt.connectivity, source.IsConnectivity(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		msg  source.Message
		kind string
		want source.Message
	}{
		{
			name: "map",
			msg:  &source.MapMessage{ID: "ignored", Fields: map[string]any{"sku": "A-1"}},
			kind: KindMap,
			want: &source.MapMessage{ID: "message::orders::3", Fields: map[string]any{"sku": "A-1"}},
		},
		{
			name: "text",
			msg:  &source.TextMessage{Text: "hello"},
			kind: KindText,
			want: &source.TextMessage{ID: "message::orders::3", Text: "hello"},
		},
		{
			name: "bytes",
			msg:  &source.BytesMessage{ContentType: "application/pdf", Body: []byte{1, 2}},
			kind: KindBytes,
			want: &source.BytesMessage{ID: "message::orders::3", ContentType: "application/pdf", Body: []byte{1, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := encode("orders", 3, tt.msg, now)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, doc.Kind)
			assert.Equal(t, uint64(3), doc.Offset)
			assert.Equal(t, "orders", doc.Queue)
			assert.Equal(t, now, *doc.PublishTime)

			got, err := decode(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_RejectsNil(t *testing.T) {
	_, err := encode("orders", 0, nil, time.Now())
	assert.ErrorIs(t, err, source.ErrNilMessage)

	var text *source.TextMessage
	_, err = encode("orders", 0, text, time.Now())
	assert.ErrorIs(t, err, source.ErrNilMessage)
}

func TestDecode_UnknownKind(t *testing.T) {
	_, err := decode(Message{ID: "message::orders::0", Kind: "xml"})
	require.Error(t, err)
	assert.False(t, source.IsConnectivity(err))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "message::orders::7", MessageKey("orders", 7))
	assert.Equal(t, "offset::orders", OffsetKey("orders"))
	assert.Equal(t, "cursor::orders", CursorKey("orders"))
	assert.Equal(t, "lease::orders::7", LeaseKey("orders", 7))
}

func validConfig() Config {
	return Config{
		Cluster: cb.Config{
			ConnectionString: "couchbase://localhost",
			Bucket:           "mqsource",
			Scope:            "_default",
		},
		PollInterval: 200 * time.Millisecond,
		BatchSize:    50,
		LeaseTimeout: time.Minute,
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"connection string": func(c *Config) { c.Cluster.ConnectionString = "" },
		"bucket":            func(c *Config) { c.Cluster.Bucket = "" },
		"poll interval":     func(c *Config) { c.PollInterval = 0 },
		"batch size":        func(c *Config) { c.BatchSize = 0 },
		"lease timeout":     func(c *Config) { c.LeaseTimeout = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory(Config{}, zaptest.NewLogger(t))
	require.Error(t, err)

	_, err = NewFactory(validConfig(), nil)
	require.Error(t, err)

	f, err := NewFactory(validConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, f)
}
