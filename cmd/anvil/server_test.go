package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-anvil/internal/catalog"
	"github.com/23skdu/longbow-anvil/internal/lowering"
	"github.com/23skdu/longbow-anvil/internal/modelerr"
	"github.com/23skdu/longbow-anvil/internal/transform"
)

type mockLowerer struct {
	mock.Mock
}

func (m *mockLowerer) LowerContext(ctx context.Context, op lowering.Operation) (*lowering.Layer, error) {
	args := m.Called(ctx, op.Kind)
	l, _ := args.Get(0).(*lowering.Layer)
	return l, args.Error(1)
}

func post(t *testing.T, srv *Server, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/lower", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	return rr
}

func TestServer_Lower(t *testing.T) {
	engine, err := lowering.NewEngine(lowering.Config{Generation: catalog.Gen3_0})
	require.NoError(t, err)
	srv := NewServer(engine, 4)

	body, err := lowering.EncodeOperation(copyOp(1))
	require.NoError(t, err)
	rr := post(t, srv, body)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/vnd.apache.arrow.stream", rr.Header().Get("Content-Type"))

	reader, err := ipc.NewReader(rr.Body)
	require.NoError(t, err)
	defer reader.Release()
	require.True(t, reader.Next())
	rec := reader.Record()
	require.EqualValues(t, 1, rec.NumRows())
	assert.Equal(t, "copy", rec.Column(0).(*array.String).Value(0))
}

func TestServer_Rejections(t *testing.T) {
	engine, err := lowering.NewEngine(lowering.Config{Generation: catalog.Gen3_0})
	require.NoError(t, err)
	srv := NewServer(engine, 4)

	t.Run("Bad CBOR", func(t *testing.T) {
		rr := post(t, srv, []byte{0xff})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/lower", nil)
		rr := httptest.NewRecorder()
		srv.handleLower(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("Invalid Operation", func(t *testing.T) {
		body, err := lowering.EncodeOperation(copyOp(3))
		require.NoError(t, err)
		rr := post(t, srv, body)
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "application/cbor", rr.Header().Get("Content-Type"))

		var rej rejection
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &rej))
		assert.Equal(t, modelerr.StatusCopyShape.String(), rej.Status)
		assert.NotEmpty(t, rej.Message)
	})
}

func TestServer_UsesLowerer(t *testing.T) {
	ml := &mockLowerer{}
	ml.On("LowerContext", mock.Anything, transform.OpCopy).
		Return(nil, modelerr.NewStatus(modelerr.StatusLayerConfig, "refused")).Once()
	srv := NewServer(ml, 1)

	body, err := lowering.EncodeOperation(copyOp(1))
	require.NoError(t, err)
	rr := post(t, srv, body)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	ml.AssertExpectations(t)
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(&mockLowerer{}, 1)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.routes().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
