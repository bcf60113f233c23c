package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/auth"
	"github.com/JakeFAU/contact-form/internal/contact"
	"github.com/JakeFAU/contact-form/internal/geo"
	"github.com/JakeFAU/contact-form/internal/notify"
	pubmemory "github.com/JakeFAU/contact-form/internal/publisher/memory"
	"github.com/JakeFAU/contact-form/internal/storage"
	"github.com/JakeFAU/contact-form/internal/storage/memory"
	"github.com/JakeFAU/contact-form/internal/store"
)

const secret = "pipeline-secret"

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

type recordingNotifier struct {
	calls [][]contact.Field
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, fields []contact.Field) error {
	n.calls = append(n.calls, fields)
	return n.err
}

// panickingStore fails the test if any persistence happens.
type panickingStore struct{ t *testing.T }

func (s panickingStore) FetchOrCreate(context.Context) (*store.Snapshot, error) {
	s.t.Fatal("store must not be touched")
	return nil, nil
}

func (s panickingStore) Append(context.Context, *store.Snapshot, contact.Submission) (store.Record, error) {
	s.t.Fatal("store must not be touched")
	return store.Record{}, nil
}

func (s panickingStore) Persist(context.Context, *store.Snapshot) error {
	s.t.Fatal("store must not be touched")
	return nil
}

type harness struct {
	pipeline  *Pipeline
	store     *store.Store
	blobs     storage.BlobStore
	notifier  *recordingNotifier
	publisher *pubmemory.Publisher
	issuer    *auth.Issuer
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	blobs := memory.NewBlobStore()
	st, err := store.New(blobs, "contacts/contacts.sqlite", zap.NewNop(), store.WithTempDir(t.TempDir()))
	require.NoError(t, err)

	h := &harness{
		store:     st,
		blobs:     blobs,
		notifier:  &recordingNotifier{},
		publisher: pubmemory.New(),
		issuer:    auth.NewIssuer(secret, 0, fixedClock{}),
	}
	h.pipeline = New(Deps{
		Validator: auth.NewValidator(secret, fixedClock{}),
		Enricher:  geo.New(geo.Config{}, nil, nil),
		Store:     st,
		Notifier:  h.notifier,
		Publisher: h.publisher,
	}, cfg, zap.NewNop())
	return h
}

func (h *harness) records(t *testing.T) []store.Record {
	t.Helper()
	snap, err := h.store.FetchOrCreate(context.Background())
	require.NoError(t, err)
	defer snap.Close() //nolint:errcheck
	recs, err := snap.Records(context.Background(), 0)
	require.NoError(t, err)
	return recs
}

func TestHandleStoresAnonymousSubmission(t *testing.T) {
	h := newHarness(t, Config{Topic: "contacts"})

	out := h.pipeline.Handle(context.Background(), Request{
		Method:     http.MethodPost,
		RemoteAddr: "1.2.3.4:5678",
		Origin:     "https://example.com",
		Body:       []byte(`{"email_address":"a@example.com","inquiry":"pricing"}`),
	})
	require.Nil(t, out.Err)
	assert.Equal(t, Complete, out.State)
	assert.Equal(t, Notified, out.Reached)

	recs := h.records(t)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "a@example.com", rec.EmailAddress)
	assert.Equal(t, "pricing", rec.Inquiry.String)
	assert.Equal(t, "https://example.com", rec.Host.String)
	assert.Equal(t, "1.2.3.4", rec.IPAddress.String)
	assert.False(t, rec.SubmissionToken.Valid)
	assert.False(t, rec.Continent.Valid)
	assert.False(t, rec.Country.Valid)
	assert.False(t, rec.CountryCode.Valid)
	assert.False(t, rec.RegionName.Valid)
	assert.False(t, rec.City.Valid)

	require.Len(t, h.notifier.calls, 1)
	body := notify.Render(h.notifier.calls[0])
	assert.Contains(t, body, "email_address:a@example.com")
	assert.Contains(t, body, "created_at:")

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "contacts", msgs[0].Topic)
	assert.Equal(t, rec.ID, msgs[0].Event.ContactID)
}

func TestHandleStoresToken(t *testing.T) {
	h := newHarness(t, Config{})
	token, err := h.issuer.Issue("1.2.3.4")
	require.NoError(t, err)

	out := h.pipeline.Handle(context.Background(), Request{
		Method:        http.MethodPut,
		Authorization: "Bearer " + token,
		ForwardedFor:  "1.2.3.4, 10.0.0.1",
		RemoteAddr:    "10.0.0.1:443",
		Body:          []byte(`{"email_address":"a@example.com"}`),
	})
	require.Nil(t, out.Err)
	assert.Equal(t, token, out.Record.SubmissionToken.String)
	assert.Equal(t, "1.2.3.4", out.Record.IPAddress.String)
}

func TestHandleFailures(t *testing.T) {
	h := newHarness(t, Config{})
	token, err := h.issuer.Issue("9.9.9.9")
	require.NoError(t, err)
	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + flipFirst(parts[2])

	tests := []struct {
		name  string
		req   Request
		kind  Kind
		state State
	}{
		{
			name:  "ip mismatch",
			req:   Request{Method: http.MethodPut, Authorization: "Bearer " + token, RemoteAddr: "1.2.3.4:1", Body: []byte(`{"email_address":"a@example.com"}`)},
			kind:  KindBadRequest,
			state: Received,
		},
		{
			name:  "tampered signature",
			req:   Request{Method: http.MethodPut, Authorization: "Bearer " + tampered, RemoteAddr: "9.9.9.9:1", Body: []byte(`{"email_address":"a@example.com"}`)},
			kind:  KindUnauthorized,
			state: Received,
		},
		{
			name:  "wrong scheme",
			req:   Request{Method: http.MethodPut, Authorization: "Token abc", RemoteAddr: "9.9.9.9:1", Body: []byte(`{"email_address":"a@example.com"}`)},
			kind:  KindBadRequest,
			state: Received,
		},
		{
			name:  "missing email",
			req:   Request{Method: http.MethodPut, RemoteAddr: "9.9.9.9:1", Body: []byte(`{"name":"Ada"}`)},
			kind:  KindBadRequest,
			state: Validated,
		},
		{
			name:  "malformed json",
			req:   Request{Method: http.MethodPut, RemoteAddr: "9.9.9.9:1", Body: []byte(`{"email_address":`)},
			kind:  KindInternal,
			state: Validated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.pipeline.Handle(context.Background(), tt.req)
			require.NotNil(t, out.Err)
			assert.Equal(t, Failed, out.State)
			assert.Equal(t, tt.kind, out.Err.Kind)
			assert.Equal(t, tt.state, out.Err.State)
		})
	}
	assert.Empty(t, h.records(t))
	assert.Empty(t, h.notifier.calls)
}

func TestHandlePreflightShortCircuits(t *testing.T) {
	notifier := &recordingNotifier{}
	p := New(Deps{
		Validator: auth.NewValidator(secret, fixedClock{}),
		Enricher:  geo.New(geo.Config{}, nil, nil),
		Store:     panickingStore{t: t},
		Notifier:  notifier,
	}, Config{}, nil)

	out := p.Handle(context.Background(), Request{
		Method:        http.MethodOptions,
		Authorization: "Bearer garbage",
		Body:          []byte("not json"),
	})
	assert.Equal(t, Complete, out.State)
	assert.Nil(t, out.Err)
	assert.Empty(t, notifier.calls)
}

func TestHandleNotificationFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.notifier.err = notify.ErrNotConfigured

	out := h.pipeline.Handle(context.Background(), Request{
		Method:     http.MethodPut,
		RemoteAddr: "1.2.3.4:1",
		Body:       []byte(`{"email_address":"a@example.com"}`),
	})
	require.NotNil(t, out.Err)
	assert.Equal(t, KindBadRequest, out.Err.Kind)
	assert.Equal(t, Persisted, out.Err.State)
	assert.Equal(t, Persisted, out.Reached)
	assert.Len(t, h.records(t), 1, "row stays persisted")
}

func TestHandleBestEffortNotification(t *testing.T) {
	h := newHarness(t, Config{BestEffortNotify: true})
	h.notifier.err = errors.New("relay down")

	out := h.pipeline.Handle(context.Background(), Request{
		Method:     http.MethodPut,
		RemoteAddr: "1.2.3.4:1",
		Body:       []byte(`{"email_address":"a@example.com"}`),
	})
	assert.Nil(t, out.Err)
	assert.Equal(t, Complete, out.State)
	assert.Equal(t, Persisted, out.Reached)
}

// racingStore lets another writer persist between fetch and persist.
type racingStore struct {
	*store.Store
	blobs storage.BlobStore
	path  string
}

func (r racingStore) Persist(ctx context.Context, snap *store.Snapshot) error {
	if _, err := r.blobs.PutObject(ctx, r.path, "", []byte("other writer"), snap.Version()); err != nil {
		return err
	}
	return r.Store.Persist(ctx, snap)
}

func TestHandleSnapshotConflict(t *testing.T) {
	h := newHarness(t, Config{})
	seed := h.pipeline.Handle(context.Background(), Request{
		Method: http.MethodPut, RemoteAddr: "1.2.3.4:1", Body: []byte(`{"email_address":"a@example.com"}`),
	})
	require.Nil(t, seed.Err)

	p := New(Deps{
		Validator: auth.NewValidator(secret, fixedClock{}),
		Enricher:  geo.New(geo.Config{}, nil, nil),
		Store:     racingStore{Store: h.store, blobs: h.blobs, path: h.store.Path()},
		Notifier:  h.notifier,
	}, Config{}, nil)

	out := p.Handle(context.Background(), Request{
		Method: http.MethodPut, RemoteAddr: "1.2.3.4:1", Body: []byte(`{"email_address":"b@example.com"}`),
	})
	require.NotNil(t, out.Err)
	assert.Equal(t, KindConflict, out.Err.Kind)
	assert.Equal(t, http.StatusConflict, out.Err.Kind.HTTPStatus())
	assert.ErrorIs(t, out.Err, store.ErrConflict)
}

func TestKindStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, KindUnauthorized.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, KindBadRequest.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, KindInternal.HTTPStatus())
	assert.Equal(t, "bad_request", KindBadRequest.String())
	assert.Equal(t, "persisted", Persisted.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func flipFirst(s string) string {
	if s[0] == 'A' {
		return "B" + s[1:]
	}
	return "A" + s[1:]
}
